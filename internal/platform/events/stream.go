package events

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamPublisher appends events to a Redis stream for downstream consumers.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher trims the stream to roughly maxLen entries; zero keeps
// everything.
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (s *StreamPublisher) Publish(ctx context.Context, e Event) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"type":          e.Type,
			"topic":         e.Topic,
			"tenant":        e.Tenant,
			"resource_type": e.ResourceType,
			"resource_id":   e.ResourceID,
			"actor":         e.Actor,
			"timestamp":     e.Timestamp.Format(time.RFC3339Nano),
			"data":          string(e.Data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return s.client.XAdd(ctx, args).Err()
}
