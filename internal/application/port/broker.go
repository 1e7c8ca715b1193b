package port

import (
	"context"
	"encoding/json"

	"ltpbot/internal/domain/model"
)

// Broker the trading venue.
type Broker interface {
	Name() string
	Connect(ctx context.Context) error
	GetPrice(ctx context.Context, code, exchangeCode string) (float64, error)
	// PlaceMarketOrder returns an error wrapping domain.ErrOrderExecution when
	// the venue rejects the order or cannot be reached.
	PlaceMarketOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error)
	GetOrderStatus(ctx context.Context, orderID string) (json.RawMessage, error)
}

// PriceObserver optional Broker capability: told each routed quote so a
// simulated venue can fill at it.
type PriceObserver interface {
	ObservePrice(code string, price float64)
}
