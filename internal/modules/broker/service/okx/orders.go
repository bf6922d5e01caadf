package okx

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"lifecycle_bot/internal/helper"
	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"
)

type ordResp struct {
	Data []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	} `json:"data"`
}

// PlaceOrder: рыночный вход с приложенными SL/TP (attachAlgoOrds).
func (c *Client) PlaceOrder(ctx context.Context, req broker.PlaceRequest) (string, error) {
	if req.Lot <= 0 {
		return "", fmt.Errorf("PlaceOrder: lot <= 0: %w", broker.ErrRejected)
	}
	side := "buy"
	if req.Side == models.SideSell {
		side = "sell"
	}
	ps := posSide(req.Side)

	body := map[string]any{
		"instId":  req.Symbol,
		"tdMode":  "cross",
		"side":    side,
		"posSide": ps,
		"ordType": "market",
		"sz":      formatSize(req.Lot),
	}
	if req.ClientID != "" {
		id := strings.ReplaceAll(req.ClientID, "-", "")
		if len(id) > 32 {
			id = id[:32]
		}
		body["clOrdId"] = id
	}
	algo := map[string]string{}
	if req.SL > 0 {
		algo["slTriggerPx"] = formatPrice(req.SL)
		algo["slOrdPx"] = "-1"
		algo["slTriggerPxType"] = "last"
	}
	if req.TP > 0 {
		algo["tpTriggerPx"] = formatPrice(req.TP)
		algo["tpOrdPx"] = "-1"
		algo["tpTriggerPxType"] = "last"
	}
	if len(algo) > 0 {
		body["attachAlgoOrds"] = []map[string]string{algo}
	}

	var r ordResp
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", body, true, &r); err != nil {
		return "", err
	}
	if len(r.Data) == 0 || r.Data[0].SCode != "0" {
		msg := "empty data"
		if len(r.Data) > 0 {
			msg = r.Data[0].SCode + " " + r.Data[0].SMsg
		}
		return "", fmt.Errorf("PlaceOrder %s: %s: %w", req.Symbol, msg, broker.ErrRejected)
	}
	return helper.PositionKey(req.Symbol, ps), nil
}

// ClosePosition закрывает позицию целиком. false => позиции уже нет.
func (c *Client) ClosePosition(ctx context.Context, ticket string) (bool, error) {
	inst, ps, ok := helper.SplitPositionKey(ticket)
	if !ok {
		return false, fmt.Errorf("ClosePosition: bad ticket %q: %w", ticket, broker.ErrPositionNotFound)
	}
	pos, err := c.GetPosition(ctx, ticket)
	if err != nil {
		return false, err
	}
	if pos == nil {
		return false, nil
	}
	body := map[string]any{
		"instId":  inst,
		"posSide": ps,
		"mgnMode": "cross",
		"autoCxl": true,
	}
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/close-position", body, true, nil); err != nil {
		return false, err
	}
	return true, nil
}

// ClosePartial: reduceOnly маркет на часть объёма.
func (c *Client) ClosePartial(ctx context.Context, ticket string, lot float64) (bool, error) {
	inst, ps, ok := helper.SplitPositionKey(ticket)
	if !ok {
		return false, fmt.Errorf("ClosePartial: bad ticket %q: %w", ticket, broker.ErrPositionNotFound)
	}
	if lot <= 0 {
		return false, fmt.Errorf("ClosePartial: size <= 0: %w", broker.ErrRejected)
	}
	side := "sell" // закрываем long
	if ps == "short" {
		side = "buy" // закрываем short
	}
	body := map[string]any{
		"instId":     inst,
		"tdMode":     "cross",
		"side":       side,
		"posSide":    ps,
		"ordType":    "market",
		"sz":         formatSize(lot),
		"reduceOnly": true,
	}
	var r ordResp
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", body, true, &r); err != nil {
		return false, err
	}
	if len(r.Data) == 0 || r.Data[0].SCode != "0" {
		return false, fmt.Errorf("ClosePartial %s: rejected: %w", ticket, broker.ErrRejected)
	}
	return true, nil
}
