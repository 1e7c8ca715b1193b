package feed

import (
	"context"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain/model"
)

const NameBroker = "broker"

// BrokerFeed serves the broker's own quotes, addressed by venue code.
type BrokerFeed struct {
	broker port.Broker
}

func NewBrokerFeed(b port.Broker) *BrokerFeed {
	return &BrokerFeed{broker: b}
}

func (f *BrokerFeed) Name() string { return NameBroker }

func (f *BrokerFeed) CandidateSymbols(inst model.Instrument, exchangeCode string) []string {
	return []string{inst.VenueCode}
}

func (f *BrokerFeed) GetPrice(ctx context.Context, symbol, exchangeCode string) (float64, error) {
	return f.broker.GetPrice(ctx, symbol, exchangeCode)
}

var (
	_ port.PriceFeed      = (*BrokerFeed)(nil)
	_ port.SymbolResolver = (*BrokerFeed)(nil)
)
