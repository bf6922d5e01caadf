package service

import (
	"context"
	"errors"

	"lifecycle_bot/internal/models"
)

var (
	ErrUnknownSymbol      = errors.New("broker: unknown symbol")
	ErrRejected           = errors.New("broker: order rejected")
	ErrInsufficientMargin = errors.New("broker: insufficient margin")
	ErrPositionNotFound   = errors.New("broker: position not found")
	ErrTransient          = errors.New("broker: transient failure")
)

// PlaceRequest: рыночный ордер с приложенными SL/TP.
// ClientID переиспользуется при ретраях, чтобы брокер не открыл дубль.
type PlaceRequest struct {
	ClientID string
	Symbol   string
	Side     models.Side
	Lot      float64
	Price    float64
	SL       float64
	TP       float64
	Comment  string
}

// Gateway: всё, что ядру нужно от брокера. Живой и симуляционный
// брокер реализуют один и тот же интерфейс.
type Gateway interface {
	PlaceOrder(ctx context.Context, req PlaceRequest) (ticket string, err error)
	ClosePosition(ctx context.Context, ticket string) (bool, error)
	ClosePartial(ctx context.Context, ticket string, lot float64) (bool, error)
	GetPosition(ctx context.Context, ticket string) (*models.BrokerPosition, error)
	GetAllPositions(ctx context.Context, symbol string) ([]models.BrokerPosition, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	// GetClosedTradeProfit: nil без ошибки => брокер ещё не отдал историю.
	GetClosedTradeProfit(ctx context.Context, ticket string) (*float64, error)
	Account(ctx context.Context) (models.Account, error)
	SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error)
}

// IsPermanent: ошибки, которые ретраить бессмысленно.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnknownSymbol) ||
		errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrInsufficientMargin) ||
		errors.Is(err, ErrPositionNotFound) ||
		errors.Is(err, context.Canceled)
}
