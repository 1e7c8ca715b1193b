package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain"
	"ltpbot/internal/domain/model"
)

const NamePaper = "paper"

// PaperBroker simulates fills at the last observed price per venue code.
// Orders never leave the process.
type PaperBroker struct {
	mu     sync.Mutex
	prices map[string]float64
	orders map[string]paperOrder
}

type paperOrder struct {
	OrderID   string    `json:"order_id"`
	Code      string    `json:"stock_code"`
	Exchange  string    `json:"exchange_code"`
	Action    string    `json:"action"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"average_price"`
	Remark    string    `json:"user_remark,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"order_datetime"`
}

func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		prices: make(map[string]float64),
		orders: make(map[string]paperOrder),
	}
}

func (p *PaperBroker) Name() string                      { return NamePaper }
func (p *PaperBroker) Connect(ctx context.Context) error { return nil }

func (p *PaperBroker) ObservePrice(code string, price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	p.prices[strings.ToUpper(code)] = price
	p.mu.Unlock()
}

func (p *PaperBroker) GetPrice(ctx context.Context, code, exchangeCode string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	px, ok := p.prices[strings.ToUpper(code)]
	if !ok {
		return 0, fmt.Errorf("paper %s: nothing observed: %w", code, domain.ErrPriceUnavailable)
	}
	return px, nil
}

// PlaceMarketOrder fills in full. With no observed price AvgPrice is 0 and
// the caller prices the fill.
func (p *PaperBroker) PlaceMarketOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error) {
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return nil, fmt.Errorf("invalid side %q: %w", req.Side, domain.ErrOrderExecution)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d: %w", req.Quantity, domain.ErrOrderExecution)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	o := paperOrder{
		OrderID:   uuid.New().String(),
		Code:      req.Code,
		Exchange:  req.ExchangeCode,
		Action:    string(req.Side),
		Quantity:  req.Quantity,
		Price:     p.prices[strings.ToUpper(req.Code)],
		Remark:    req.Tag,
		Status:    "Executed",
		CreatedAt: time.Now().UTC(),
	}
	p.orders[o.OrderID] = o

	raw, err := json.Marshal(map[string]any{"Success": o, "Status": 200, "Error": nil})
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrOrderExecution)
	}
	return &model.OrderResult{OrderID: o.OrderID, Filled: true, AvgPrice: o.Price, Raw: raw}, nil
}

func (p *PaperBroker) GetOrderStatus(ctx context.Context, orderID string) (json.RawMessage, error) {
	p.mu.Lock()
	o, ok := p.orders[orderID]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("paper order %s not found", orderID)
	}
	raw, err := json.Marshal(map[string]any{"Success": []paperOrder{o}, "Status": 200, "Error": nil})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

var (
	_ port.Broker        = (*PaperBroker)(nil)
	_ port.PriceObserver = (*PaperBroker)(nil)
)
