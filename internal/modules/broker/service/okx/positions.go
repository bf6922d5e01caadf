package okx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"lifecycle_bot/internal/helper"
	"lifecycle_bot/internal/models"
)

type positionsResp struct {
	Data []struct {
		InstID         string `json:"instId"`
		PosSide        string `json:"posSide"`
		Pos            string `json:"pos"`
		AvgPx          string `json:"avgPx"`
		Upl            string `json:"upl"`
		CloseOrderAlgo []struct {
			SlTriggerPx string `json:"slTriggerPx"`
			TpTriggerPx string `json:"tpTriggerPx"`
		} `json:"closeOrderAlgo"`
	} `json:"data"`
}

func (c *Client) GetAllPositions(ctx context.Context, symbol string) ([]models.BrokerPosition, error) {
	path := "/api/v5/account/positions?instType=SWAP"
	if symbol != "" {
		path += "&instId=" + url.QueryEscape(symbol)
	}
	var r positionsResp
	if err := c.do(ctx, http.MethodGet, path, nil, true, &r); err != nil {
		return nil, err
	}

	out := make([]models.BrokerPosition, 0, len(r.Data))
	for _, p := range r.Data {
		size := parseFloat(p.Pos)
		if size < 0 {
			size = -size
		}
		if size == 0 {
			continue
		}
		side := models.SideBuy
		if strings.EqualFold(p.PosSide, "short") {
			side = models.SideSell
		}
		bp := models.BrokerPosition{
			Ticket: helper.PositionKey(p.InstID, p.PosSide),
			Symbol: p.InstID,
			Side:   side,
			Lot:    size,
			Entry:  parseFloat(p.AvgPx),
			Profit: parseFloat(p.Upl),
		}
		if len(p.CloseOrderAlgo) > 0 {
			bp.SL = parseFloat(p.CloseOrderAlgo[0].SlTriggerPx)
			bp.TP = parseFloat(p.CloseOrderAlgo[0].TpTriggerPx)
		}
		out = append(out, bp)
	}
	return out, nil
}

func (c *Client) GetPosition(ctx context.Context, ticket string) (*models.BrokerPosition, error) {
	inst, _, ok := helper.SplitPositionKey(ticket)
	if !ok {
		return nil, fmt.Errorf("GetPosition: bad ticket %q", ticket)
	}
	all, err := c.GetAllPositions(ctx, inst)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Ticket == ticket {
			return &all[i], nil
		}
	}
	return nil, nil
}

// GetClosedTradeProfit: realizedPnl последней закрытой позиции по instId+posSide.
func (c *Client) GetClosedTradeProfit(ctx context.Context, ticket string) (*float64, error) {
	inst, ps, ok := helper.SplitPositionKey(ticket)
	if !ok {
		return nil, fmt.Errorf("GetClosedTradeProfit: bad ticket %q", ticket)
	}
	var r struct {
		Data []struct {
			PosSide     string `json:"posSide"`
			RealizedPnl string `json:"realizedPnl"`
		} `json:"data"`
	}
	path := "/api/v5/account/positions-history?instType=SWAP&limit=20&instId=" + url.QueryEscape(inst)
	if err := c.do(ctx, http.MethodGet, path, nil, true, &r); err != nil {
		return nil, err
	}
	for _, h := range r.Data {
		if strings.EqualFold(h.PosSide, ps) {
			v := parseFloat(h.RealizedPnl)
			return &v, nil
		}
	}
	return nil, nil
}
