package container

import (
	"ltpbot/internal/application/port"
	"ltpbot/internal/application/service"
)

// Container lazily builds the application services over one state store and
// one trade journal. The journal is owned and closed by the caller.
type Container struct {
	store    port.StateStore
	repo     port.Repository
	quantity int

	priceService    *service.PriceService
	positionService *service.PositionService
	signalService   *service.SignalService
	tradeService    *service.TradeService
}

func New(store port.StateStore, repo port.Repository, quantity int) *Container {
	return &Container{
		store:    store,
		repo:     repo,
		quantity: quantity,
	}
}

func (c *Container) Store() port.StateStore {
	return c.store
}

func (c *Container) Repository() port.Repository {
	return c.repo
}

func (c *Container) PriceService() *service.PriceService {
	if c.priceService == nil {
		c.priceService = service.NewPriceService(c.repo)
	}
	return c.priceService
}

func (c *Container) PositionService() *service.PositionService {
	if c.positionService == nil {
		c.positionService = service.NewPositionService(c.store, c.quantity)
	}
	return c.positionService
}

func (c *Container) SignalService() *service.SignalService {
	if c.signalService == nil {
		c.signalService = service.NewSignalService(c.repo)
	}
	return c.signalService
}

func (c *Container) TradeService() *service.TradeService {
	if c.tradeService == nil {
		c.tradeService = service.NewTradeService(c.repo)
	}
	return c.tradeService
}
