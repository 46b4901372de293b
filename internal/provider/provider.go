// Package provider defines the listing-source plugin contract, the startup
// registry of providers, and the shared helpers providers are built from.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"jobmate/listing-service/internal/model"
)

// ErrUnknownProvider is returned when a job references an unregistered provider id.
var ErrUnknownProvider = errors.New("unknown provider")

// Meta is the stable identity of a provider.
type Meta struct {
	ID      string
	Name    string
	BaseURL string
}

// Provider is one external listing source.
//
// Init binds the per-job parameters before each fan-out, so a Provider
// instance must not be shared between concurrent runs; the Registry hands
// out a fresh instance per run.
type Provider interface {
	Meta() Meta
	Init(source model.ProviderSelection, blacklist []string)
	Fetch(ctx context.Context) ([]model.RawItem, error)
	Normalize(raw model.RawItem) (model.Listing, error)
	// Filter returns true when the listing should be kept.
	Filter(l model.Listing) bool
}

// Signal is the tri-state outcome of a liveness probe.
type Signal int

const (
	SignalInconclusive Signal = -1
	SignalGone         Signal = 0
	SignalActive       Signal = 1
)

func (s Signal) String() string {
	switch s {
	case SignalActive:
		return "active"
	case SignalGone:
		return "gone"
	default:
		return "inconclusive"
	}
}

// LivenessProber is implemented by providers that can re-validate a stored link.
type LivenessProber interface {
	ProbeLiveness(ctx context.Context, link string) Signal
}

// Factory builds a fresh, uninitialised Provider.
type Factory func() Provider

// Registry maps provider ids to factories. Populated at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the id of the provider it builds.
func (r *Registry) Register(f Factory) {
	id := f().Meta().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// New returns a fresh instance of the provider registered under id.
func (r *Registry) New(id string) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return f(), nil
}

// IDs returns the registered provider ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HashID derives a listing id from the provider id and the provider-chosen
// identifying fields. Re-scraping the same item yields the same id.
func HashID(providerID string, fields ...string) string {
	h := sha256.New()
	h.Write([]byte(providerID))
	for _, f := range fields {
		h.Write([]byte{0})
		h.Write([]byte(strings.TrimSpace(f)))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
