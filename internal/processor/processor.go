// Package processor holds the enrichment steps applied to every new listing
// between provider filtering and dedup.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"jobmate/listing-service/internal/model"
)

// ErrUnknownProcessor is returned when a processor id is not registered.
var ErrUnknownProcessor = errors.New("unknown processor")

// Context is what a processor sees besides the listing itself.
type Context struct {
	Job        model.Job
	ProviderID string
}

// Processor enriches or drops a listing.
type Processor interface {
	ID() string
	// ShouldFilter returns true to drop the listing.
	ShouldFilter(ctx context.Context, l model.Listing, pctx Context) (bool, error)
	Process(ctx context.Context, l model.Listing, pctx Context) (model.Listing, error)
	// NotificationText returns a line appended to the notification, or "".
	NotificationText(l model.Listing, pctx Context) string
}

// Chain applies processors in order.
type Chain []Processor

// Outcome is the result of running one listing through a Chain.
type Outcome struct {
	Listing model.Listing
	Text    string
	Keep    bool
}

// Apply runs the chain. The first processor that filters the listing stops
// the chain and Keep is false. An error also stops the chain; the caller
// decides what to do with the listing.
func (c Chain) Apply(ctx context.Context, l model.Listing, pctx Context) (Outcome, error) {
	var lines []string
	for _, p := range c {
		drop, err := p.ShouldFilter(ctx, l, pctx)
		if err != nil {
			return Outcome{Listing: l}, fmt.Errorf("%s filter: %w", p.ID(), err)
		}
		if drop {
			return Outcome{Listing: l}, nil
		}

		l, err = p.Process(ctx, l, pctx)
		if err != nil {
			return Outcome{Listing: l}, fmt.Errorf("%s process: %w", p.ID(), err)
		}

		if text := p.NotificationText(l, pctx); text != "" {
			lines = append(lines, text)
		}
	}
	return Outcome{Listing: l, Text: strings.Join(lines, "\n"), Keep: true}, nil
}

// Registry maps processor ids to instances, in registration order.
type Registry struct {
	order []string
	byID  map[string]Processor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Processor)}
}

// Register adds p. Registering an id twice replaces the earlier processor
// but keeps its position.
func (r *Registry) Register(p Processor) {
	if _, ok := r.byID[p.ID()]; !ok {
		r.order = append(r.order, p.ID())
	}
	r.byID[p.ID()] = p
}

// Chain builds a chain from ids; an empty list means every registered
// processor in registration order.
func (r *Registry) Chain(ids ...string) (Chain, error) {
	if len(ids) == 0 {
		ids = r.order
	}
	chain := make(Chain, 0, len(ids))
	for _, id := range ids {
		p, ok := r.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, id)
		}
		chain = append(chain, p)
	}
	return chain, nil
}
