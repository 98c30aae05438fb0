// Package exchanges wires the concrete exchange connectors behind an
// explicit name-to-instance registry. Consumers select a connector by its
// lowercase name; unknown names fail with ErrUnsupportedExchange rather
// than falling back to anything.
package exchanges

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/veiloq/candlestream/pkg/exchanges/binance"
	"github.com/veiloq/candlestream/pkg/exchanges/bybit"
	"github.com/veiloq/candlestream/pkg/exchanges/interfaces"
	"github.com/veiloq/candlestream/pkg/exchanges/mexc"
	"github.com/veiloq/candlestream/pkg/exchanges/okx"
)

// Registry maps exchange names to connector instances.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]interfaces.ExchangeConnector
}

// NewRegistry creates a registry with the four production connectors
// registered under their canonical names. The synthetic mock exchange is
// deliberately not included; callers that want it register it explicitly.
func NewRegistry(options *interfaces.ExchangeOptions) *Registry {
	if options == nil {
		options = interfaces.NewExchangeOptions()
	}

	r := &Registry{connectors: make(map[string]interfaces.ExchangeConnector)}
	r.Register(binance.NewConnector(options))
	r.Register(okx.NewConnector(options))
	r.Register(bybit.NewConnector(options))
	r.Register(mexc.NewConnector(options))
	return r
}

// NewEmptyRegistry creates a registry with no connectors, for tests that
// register fakes.
func NewEmptyRegistry() *Registry {
	return &Registry{connectors: make(map[string]interfaces.ExchangeConnector)}
}

// Register adds or replaces a connector under its Name().
func (r *Registry) Register(c interfaces.ExchangeConnector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[strings.ToLower(c.Name())] = c
}

// Get returns the connector registered under name.
func (r *Registry) Get(name string) (interfaces.ExchangeConnector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrUnsupportedExchange, name)
	}
	return c, nil
}

// Names returns the registered exchange names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
