package port

import "ltpbot/internal/domain/model"

// Metrics decision-loop instrumentation.
type Metrics interface {
	ObserveTick(outcome string)
	ObserveOrder(side model.Side, result string)
	ObserveExit(reason string)
	ObserveQuote(source string)
	SetRealizedPnL(total float64)
	SetPositionOpen(open bool)
}
