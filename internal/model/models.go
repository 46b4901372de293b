// Package model defines shared data structures for the listing service.
package model

import "time"

// Job mirrors the jobs table row relevant to scraping. Jobs are owned and
// mutated elsewhere; this service only reads them.
type Job struct {
	ID                   string
	OwnerUserID          string
	Enabled              bool
	Name                 string
	BlacklistTerms       []string // any word-boundary match discards the listing
	Providers            []ProviderSelection
	NotificationAdapters []AdapterSelection
	SharedWithUserIDs    []string
	// MaxPrice is read by the max-price processor; zero disables it.
	MaxPrice float64
}

// ProviderSelection binds a registered provider to a job-specific search URL.
type ProviderSelection struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// AdapterSelection binds a registered notification adapter to its per-job fields
// (webhook URLs, chat ids, ...).
type AdapterSelection struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Liveness is the reachability state of a stored listing at its source.
type Liveness string

const (
	LivenessUnknown  Liveness = "unknown"
	LivenessActive   Liveness = "active"
	LivenessInactive Liveness = "inactive"
)

// RawItem is one extracted record before normalisation: field name → raw text.
type RawItem map[string]string

// Listing is a normalised item discovered by a provider.
// ID is a deterministic hash of provider-chosen identifying fields.
type Listing struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Price       string    `json:"price"`
	Size        string    `json:"size,omitempty"`
	Address     string    `json:"address,omitempty"`
	Description string    `json:"description,omitempty"`
	Image       string    `json:"image,omitempty"`
	Link        string    `json:"link"`
	ProviderID  string    `json:"providerId"`
	JobID       string    `json:"jobId"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	Liveness    Liveness  `json:"liveness"`
}

// User is the minimal caller identity needed to scope manual runs.
type User struct {
	ID    string
	Admin bool
}

// StatusEvent is pushed to real-time subscribers when a job starts or stops.
type StatusEvent struct {
	JobID   string `json:"jobId"`
	Running bool   `json:"running"`
}
