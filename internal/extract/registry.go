// Package extract turns rendered search-result pages into listing records.
package extract

import (
	"strings"

	"casawatch/internal/monitor"
)

// Registry maps a target domain to its extractor. Unmapped domains fall
// back to the generic heuristic extractor, so resolution never fails.
type Registry struct {
	byDomain map[string]monitor.Extractor
	fallback monitor.Extractor
}

// NewRegistry builds a Registry around the given fallback extractor.
func NewRegistry(fallback monitor.Extractor) *Registry {
	return &Registry{
		byDomain: make(map[string]monitor.Extractor),
		fallback: fallback,
	}
}

// Register binds an extractor to a domain key. Adding a portal means
// registering a new extractor here, never touching dispatch control flow.
func (r *Registry) Register(domain string, extractor monitor.Extractor) {
	r.byDomain[strings.ToLower(domain)] = extractor
}

// Resolve returns the extractor for a domain. Exact match wins; a
// registered key that suffixes the domain matches subdomain'd hosts
// (casa.sapo.pt registered, www.casa.sapo.pt resolved); otherwise the
// fallback is returned.
func (r *Registry) Resolve(domain string) monitor.Extractor {
	key := strings.ToLower(strings.TrimPrefix(domain, "www."))
	if extractor, ok := r.byDomain[key]; ok {
		return extractor
	}
	for registered, extractor := range r.byDomain {
		if strings.HasSuffix(key, "."+registered) || strings.HasSuffix(key, registered) {
			return extractor
		}
	}
	return r.fallback
}

// Default returns a Registry preloaded with the portal extractors this
// repository ships.
func Default() *Registry {
	registry := NewRegistry(NewGeneric())
	registry.Register("imovirtual.com", NewImovirtual())
	registry.Register("casa.sapo.pt", NewCasaSapo())
	return registry
}
