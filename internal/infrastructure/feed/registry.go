package feed

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"ltpbot/internal/application/port"
)

// Options what a feed factory may use; each feed reads its own fields.
type Options struct {
	BaseURL    string
	WsURL      string
	Timeout    time.Duration
	Retries    int
	StaleAfter time.Duration
}

// Factory builds a feed from its options.
type Factory func(opts Options) (port.PriceFeed, error)

// registry maps feed names to their factories
var registry = make(map[string]Factory)

// Register is called from each feed's init().
func Register(name string, factory Factory) {
	if factory == nil {
		log.Warn().Str("feed", name).Msg("invalid price feed factory")
		return
	}
	if _, exists := registry[name]; exists {
		log.Warn().Str("feed", name).Msg("price feed factory already registered, overwriting")
	}
	registry[name] = factory
}

func Get(name string) (Factory, bool) {
	factory, ok := registry[name]
	return factory, ok
}

// Names registered feed names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
