package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"jobmate/listing-service/internal/logger"
	"jobmate/listing-service/internal/model"
)

// RedisAdapterID is the registry id of RedisAdapter.
const RedisAdapterID = "redis"

// Publisher is the subset of *redis.Client the adapters and events need.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisAdapter publishes the batch as JSON so the gateway can forward it to
// chat bots or browsers. The channel defaults to "listings:<jobKey>" and can
// be overridden per job with the "channel" field.
type RedisAdapter struct {
	rdb Publisher
}

// NewRedisAdapter returns an adapter publishing through rdb.
func NewRedisAdapter(rdb Publisher) *RedisAdapter {
	return &RedisAdapter{rdb: rdb}
}

func (a *RedisAdapter) Config() AdapterConfig {
	return AdapterConfig{
		ID:   RedisAdapterID,
		Name: "Redis Pub/Sub",
		Fields: []FieldSpec{
			{Name: "channel", Description: "Pub/Sub channel, defaults to listings:<job>"},
		},
	}
}

type redisPayload struct {
	Type        string          `json:"type"`
	Service     string          `json:"service"`
	JobKey      string          `json:"jobKey"`
	NewListings []model.Listing `json:"newListings"`
	Text        string          `json:"text,omitempty"`
}

func (a *RedisAdapter) Send(ctx context.Context, msg Message) error {
	channel := msg.NotificationConfig["channel"]
	if channel == "" {
		channel = "listings:" + msg.JobKey
	}

	payload, err := json.Marshal(redisPayload{
		Type:        "EVENT_NEW_LISTINGS",
		Service:     msg.ServiceName,
		JobKey:      msg.JobKey,
		NewListings: msg.NewListings,
		Text:        msg.Text,
	})
	if err != nil {
		return fmt.Errorf("marshal listings: %w", err)
	}
	if err := a.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// LogAdapterID is the registry id of LogAdapter.
const LogAdapterID = "log"

// LogAdapter writes a one-line summary per listing. Useful as a default and
// when running a single job from the command line.
type LogAdapter struct {
	log logger.Logger
}

// NewLogAdapter returns an adapter writing to log.
func NewLogAdapter(log logger.Logger) *LogAdapter {
	return &LogAdapter{log: log.With(logger.String("adapter", LogAdapterID))}
}

func (a *LogAdapter) Config() AdapterConfig {
	return AdapterConfig{ID: LogAdapterID, Name: "Log"}
}

func (a *LogAdapter) Send(_ context.Context, msg Message) error {
	for _, l := range msg.NewListings {
		a.log.Info("New listing",
			logger.String("job", msg.JobKey),
			logger.String("service", msg.ServiceName),
			logger.String("title", l.Title),
			logger.String("price", l.Price),
			logger.String("link", l.Link),
		)
	}
	return nil
}
