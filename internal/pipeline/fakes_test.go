package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"jobmate/listing-service/internal/model"
	"jobmate/listing-service/internal/notify"
	"jobmate/listing-service/internal/provider"
)

// --- provider ---

type fakeProvider struct {
	id        string
	items     []model.RawItem
	fetchErr  error
	panicsIn  string // stage name: fetch, normalize or filter
	blacklist []string
	onFetch   func()
}

func (p *fakeProvider) Meta() provider.Meta {
	return provider.Meta{ID: p.id, Name: "Fake " + p.id}
}

func (p *fakeProvider) Init(_ model.ProviderSelection, blacklist []string) { p.blacklist = blacklist }

func (p *fakeProvider) Fetch(context.Context) ([]model.RawItem, error) {
	if p.onFetch != nil {
		p.onFetch()
	}
	if p.panicsIn == "fetch" {
		panic("selector exploded")
	}
	return p.items, p.fetchErr
}

func (p *fakeProvider) Normalize(raw model.RawItem) (model.Listing, error) {
	if p.panicsIn == "normalize" {
		panic("bad price format")
	}
	if raw["id"] == "" {
		return model.Listing{}, errors.New("no id")
	}
	return model.Listing{
		ID:      provider.HashID(p.id, raw["id"]),
		Title:   raw["title"],
		Price:   raw["price"],
		Address: raw["address"],
		Link:    "https://" + p.id + ".example/" + raw["id"],
	}, nil
}

func (p *fakeProvider) Filter(l model.Listing) bool {
	if p.panicsIn == "filter" {
		panic("nil blacklist entry")
	}
	return provider.KeepListing(l.Title, l.Description, p.blacklist)
}

func registryWith(providers ...*fakeProvider) *provider.Registry {
	reg := provider.NewRegistry()
	for _, p := range providers {
		proto := p
		reg.Register(func() provider.Provider {
			clone := *proto
			return &clone
		})
	}
	return reg
}

// --- store ---

type memStore struct {
	mu       sync.Mutex
	known    map[string]map[string]struct{} // job|provider -> ids
	listings map[string]model.Listing
	runs     map[string]int
	saveErr  error
	knownErr error
}

func newMemStore() *memStore {
	return &memStore{
		known:    make(map[string]map[string]struct{}),
		listings: make(map[string]model.Listing),
		runs:     make(map[string]int),
	}
}

func (s *memStore) seed(jobID, providerID string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := jobID + "|" + providerID
	if s.known[k] == nil {
		s.known[k] = make(map[string]struct{})
	}
	for _, id := range ids {
		s.known[k][id] = struct{}{}
	}
}

func (s *memStore) KnownIDs(_ context.Context, jobID, providerID string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.knownErr != nil {
		return nil, s.knownErr
	}
	out := make(map[string]struct{})
	for id := range s.known[jobID+"|"+providerID] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *memStore) SaveListings(_ context.Context, jobID, providerID string, listings []model.Listing) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	ids := make([]string, 0, len(listings))
	s.mu.Lock()
	for _, l := range listings {
		s.listings[l.ID] = l
		ids = append(ids, l.ID)
	}
	s.mu.Unlock()
	s.seed(jobID, providerID, ids...)
	return nil
}

func (s *memStore) RecordRun(_ context.Context, jobID, providerID string, _ time.Time, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[jobID+"|"+providerID] += n
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listings)
}

// --- adapter ---

type recordingAdapter struct {
	id  string
	err error

	mu      sync.Mutex
	batches [][]model.Listing
	texts   []string
}

func (a *recordingAdapter) Config() notify.AdapterConfig { return notify.AdapterConfig{ID: a.id} }

func (a *recordingAdapter) Send(_ context.Context, msg notify.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, msg.NewListings)
	a.texts = append(a.texts, msg.Text)
	return a.err
}

func (a *recordingAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.batches)
}

// --- similarity ---

type neverSimilar struct{}

func (neverSimilar) CheckAndAdd(string, string) bool { return false }
