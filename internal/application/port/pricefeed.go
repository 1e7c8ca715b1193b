package port

import (
	"context"

	"ltpbot/internal/domain/model"
)

// PriceFeed a read-only quote source. GetPrice returns
// domain.ErrPriceUnavailable (possibly wrapped) when it has no usable price.
type PriceFeed interface {
	Name() string
	GetPrice(ctx context.Context, symbol, exchangeCode string) (float64, error)
}

// SymbolResolver optional PriceFeed capability: the symbol spellings to try,
// in order. Feeds without it are asked for the display symbol only.
type SymbolResolver interface {
	CandidateSymbols(inst model.Instrument, exchangeCode string) []string
}
