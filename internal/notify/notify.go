// Package notify delivers batches of new listings through pluggable adapters.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"jobmate/listing-service/internal/model"
)

// ErrUnknownAdapter is returned when a job selects an unregistered adapter.
var ErrUnknownAdapter = errors.New("unknown notification adapter")

// FieldSpec describes one per-job setting an adapter needs.
type FieldSpec struct {
	Name        string
	Description string
	Required    bool
}

// AdapterConfig is the static description of an adapter.
type AdapterConfig struct {
	ID     string
	Name   string
	Fields []FieldSpec
}

// Message is one delivery: every new listing a provider found for a job.
type Message struct {
	ServiceName        string
	NewListings        []model.Listing
	NotificationConfig map[string]string
	JobKey             string
	// Text carries the lines accumulated by processors.
	Text string
}

// Adapter delivers a Message to one channel (chat, mail, webhook, ...).
type Adapter interface {
	Config() AdapterConfig
	Send(ctx context.Context, msg Message) error
}

// Registry maps adapter ids to adapters. Populated at startup.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds a under its config id.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Config().ID] = a
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, id)
	}
	return a, nil
}

// IDs returns the registered adapter ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Failure records one adapter that could not deliver.
type Failure struct {
	AdapterID string
	Err       error
}

// Dispatch sends msg through every selected adapter concurrently and waits
// for all of them. Each adapter gets its own per-job fields. A failing or
// panicking adapter never affects the others; failures are returned for
// logging.
func Dispatch(ctx context.Context, reg *Registry, selections []model.AdapterSelection, msg Message) []Failure {
	var (
		mu       sync.Mutex
		failures []Failure
		wg       sync.WaitGroup
	)
	fail := func(id string, err error) {
		mu.Lock()
		failures = append(failures, Failure{AdapterID: id, Err: err})
		mu.Unlock()
	}

	for _, sel := range selections {
		a, err := reg.Get(sel.ID)
		if err != nil {
			fail(sel.ID, err)
			continue
		}
		if err := validateFields(a.Config(), sel.Fields); err != nil {
			fail(sel.ID, err)
			continue
		}

		m := msg
		m.NotificationConfig = sel.Fields
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					fail(id, fmt.Errorf("adapter panic: %v", r))
				}
			}()
			if err := a.Send(ctx, m); err != nil {
				fail(id, err)
			}
		}(sel.ID)
	}
	wg.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].AdapterID < failures[j].AdapterID })
	return failures
}

func validateFields(cfg AdapterConfig, fields map[string]string) error {
	for _, f := range cfg.Fields {
		if f.Required && fields[f.Name] == "" {
			return fmt.Errorf("%s: missing required field %q", cfg.ID, f.Name)
		}
	}
	return nil
}
