// Package events pushes job status changes to the real-time gateway over
// Redis Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/redis/go-redis/v9"

	"jobmate/listing-service/internal/logger"
	"jobmate/listing-service/internal/model"
)

// ChannelPrefix is followed by the recipient user id.
const ChannelPrefix = "job-status:"

// Publisher is the subset of *redis.Client used here.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// StatusPublisher fans a StatusEvent out to every interested user.
type StatusPublisher struct {
	rdb Publisher
	log logger.Logger
}

// NewStatusPublisher returns a publisher writing through rdb.
func NewStatusPublisher(rdb Publisher, log logger.Logger) *StatusPublisher {
	return &StatusPublisher{rdb: rdb, log: log.With(logger.String("component", "events"))}
}

// Publish sends ev to each recipient. Delivery failures are logged and
// never returned: status events are best-effort.
func (p *StatusPublisher) Publish(ctx context.Context, ev model.StatusEvent, recipients []string) {
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		model.StatusEvent
	}{Type: "EVENT_JOB_STATUS", StatusEvent: ev})
	if err != nil {
		p.log.Warn("Failed to encode status event", logger.Error(err), logger.String("job_id", ev.JobID))
		return
	}

	for _, userID := range recipients {
		if err := p.rdb.Publish(ctx, ChannelPrefix+userID, payload).Err(); err != nil {
			p.log.Warn("Failed to publish job status event",
				logger.Error(err),
				logger.String("job_id", ev.JobID),
				logger.String("user_id", userID),
				logger.Bool("running", ev.Running),
			)
		}
	}
}

// Recipients returns the job owner, every user the job is shared with and
// every administrator, without duplicates.
func Recipients(job model.Job, adminIDs []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	add(job.OwnerUserID)
	for _, id := range job.SharedWithUserIDs {
		add(id)
	}
	for _, id := range adminIDs {
		add(id)
	}
	sort.Strings(out[min(1, len(out)):])
	return out
}
