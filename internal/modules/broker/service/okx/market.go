package okx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"
)

type instrumentMeta struct {
	InstID   string `json:"instId"`
	TickSz   string `json:"tickSz"`
	LotSz    string `json:"lotSz"`
	MinSz    string `json:"minSz"`
	CtVal    string `json:"ctVal"`
	CtMult   string `json:"ctMult"`
	State    string `json:"state"`
	MaxMktSz string `json:"maxMktSz"`
}

func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var r struct {
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	path := "/api/v5/market/ticker?instId=" + url.QueryEscape(symbol)
	if err := c.do(ctx, http.MethodGet, path, nil, false, &r); err != nil {
		return 0, err
	}
	if len(r.Data) == 0 {
		return 0, fmt.Errorf("ticker %s: %w", symbol, broker.ErrUnknownSymbol)
	}
	px := parseFloat(r.Data[0].Last)
	if px <= 0 {
		return 0, fmt.Errorf("ticker %s: lastPx <= 0: %w", symbol, broker.ErrTransient)
	}
	return px, nil
}

// SymbolInfo: пип = tickSz, стоимость пипа на 1 контракт = ctVal*ctMult*tickSz (линейные USDT-SWAP).
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	c.mu.RLock()
	meta, ok := c.metas[symbol]
	c.mu.RUnlock()

	if !ok {
		var r struct {
			Data []instrumentMeta `json:"data"`
		}
		path := "/api/v5/public/instruments?instType=SWAP&instId=" + url.QueryEscape(symbol)
		if err := c.do(ctx, http.MethodGet, path, nil, false, &r); err != nil {
			return models.SymbolInfo{}, err
		}
		if len(r.Data) == 0 {
			return models.SymbolInfo{}, fmt.Errorf("instrument %s: %w", symbol, broker.ErrUnknownSymbol)
		}
		meta = r.Data[0]
		if meta.State != "" && meta.State != "live" {
			return models.SymbolInfo{}, fmt.Errorf("instrument %s not live: state=%s: %w", symbol, meta.State, broker.ErrUnknownSymbol)
		}
		c.mu.Lock()
		c.metas[symbol] = meta
		c.mu.Unlock()
	}

	tick := parseFloat(meta.TickSz)
	lot := parseFloat(meta.LotSz)
	minSz := parseFloat(meta.MinSz)
	ctVal := parseFloat(meta.CtVal)
	if mult := parseFloat(meta.CtMult); mult > 0 {
		ctVal *= mult
	}
	if tick <= 0 || lot <= 0 || ctVal <= 0 {
		return models.SymbolInfo{}, fmt.Errorf("instrument %s: bad meta tick=%s lot=%s ctVal=%s", symbol, meta.TickSz, meta.LotSz, meta.CtVal)
	}
	if minSz <= 0 {
		minSz = lot
	}
	return models.SymbolInfo{
		Symbol:          symbol,
		PipSize:         tick,
		PipValuePerLot:  ctVal * tick,
		MinLot:          minSz,
		LotStep:         lot,
		MaxLot:          parseFloat(meta.MaxMktSz),
		MinStopDistance: tick * 10,
	}, nil
}

func (c *Client) Account(ctx context.Context) (models.Account, error) {
	var r struct {
		Data []struct {
			TotalEq  string `json:"totalEq"`
			Imr      string `json:"imr"`
			MgnRatio string `json:"mgnRatio"`
			Details  []struct {
				Ccy     string `json:"ccy"`
				CashBal string `json:"cashBal"`
				AvailEq string `json:"availEq"`
			} `json:"details"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/balance?ccy=USDT", nil, true, &r); err != nil {
		return models.Account{}, err
	}
	if len(r.Data) == 0 {
		return models.Account{}, fmt.Errorf("balance: empty data: %w", broker.ErrTransient)
	}
	d := r.Data[0]
	acc := models.Account{
		Equity: parseFloat(d.TotalEq),
		Margin: parseFloat(d.Imr),
	}
	for _, det := range d.Details {
		if det.Ccy == "USDT" {
			acc.Balance = parseFloat(det.CashBal)
			acc.FreeMargin = parseFloat(det.AvailEq)
		}
	}
	// mgnRatio у OKX: отношение, переводим в проценты как у MarginLevel
	acc.MarginLevel = parseFloat(d.MgnRatio) * 100
	return acc, nil
}

// CandleRows: последние limit свечей бара, публичный эндпоинт; OKX отдаёт новые первыми.
func (c *Client) CandleRows(ctx context.Context, instID, bar string, limit int) ([][]string, error) {
	if limit <= 0 || limit > 300 {
		limit = 300
	}
	var r struct {
		Data [][]string `json:"data"`
	}
	path := fmt.Sprintf("/api/v5/market/candles?instId=%s&bar=%s&limit=%d", url.QueryEscape(instID), url.QueryEscape(bar), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, false, &r); err != nil {
		return nil, err
	}
	return r.Data, nil
}
