package domain

import "errors"

// Per-tick conditions. None of these stop the trading loop.
var (
	// ErrNoQuoteAvailable every feed was exhausted for a tick
	ErrNoQuoteAvailable = errors.New("no quote available")
	// ErrPriceUnavailable a single feed had no usable price for a symbol
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrOrderExecution the broker rejected the order or could not be reached
	ErrOrderExecution = errors.New("order execution failed")
	// ErrLockTimeout the state lock was not acquired within its bound
	ErrLockTimeout = errors.New("state lock timeout")
	// ErrMarketClosed order placement is suppressed outside trading hours
	ErrMarketClosed = errors.New("market closed")
)

// State store invariants.
var (
	ErrPositionExists = errors.New("position already open")
	ErrNoPosition     = errors.New("no open position")
)

// ErrConfig malformed or missing configuration; fatal at startup.
var ErrConfig = errors.New("invalid configuration")
