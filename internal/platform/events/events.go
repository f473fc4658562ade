// Package events carries domain change notifications from services to the
// realtime hub, the Redis event stream and cache invalidation.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/ipc/ipc/internal/platform/auth"
	"github.com/ipc/ipc/internal/platform/db"
)

// Topics clients may subscribe to.
const (
	TopicCensus     = "census"
	TopicHAI        = "hai"
	TopicRegistry   = "registry"
	TopicAudit      = "audit"
	TopicActionPlan = "action_plan"
	TopicRates      = "rates"
)

// Topics lists every known topic.
var Topics = []string{TopicCensus, TopicHAI, TopicRegistry, TopicAudit, TopicActionPlan, TopicRates}

// IsTopic reports whether t is a known topic.
func IsTopic(t string) bool {
	for _, k := range Topics {
		if k == t {
			return true
		}
	}
	return false
}

type Event struct {
	Type         string          `json:"type"`
	Topic        string          `json:"topic"`
	Tenant       string          `json:"tenant"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Actor        string          `json:"actor,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// New builds an event stamped with the tenant and user found on ctx. A data
// value that fails to marshal is dropped.
func New(ctx context.Context, topic, typ, resourceType, resourceID string, data interface{}) Event {
	e := Event{
		Type:         typ,
		Topic:        topic,
		Tenant:       db.TenantFromContext(ctx),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Actor:        auth.UserIDFromContext(ctx),
		Timestamp:    time.Now().UTC(),
	}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			e.Data = b
		}
	}
	return e
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Nop discards events.
var Nop Publisher = PublisherFunc(func(context.Context, Event) error { return nil })

// Fanout delivers each event to every publisher. Delivery failures are logged
// and never returned, so a broken sink cannot fail a write.
type Fanout struct {
	pubs   []Publisher
	logger zerolog.Logger
}

func NewFanout(logger zerolog.Logger, pubs ...Publisher) *Fanout {
	return &Fanout{pubs: pubs, logger: logger}
}

// Add appends a publisher. Not safe for use once events are flowing.
func (f *Fanout) Add(p Publisher) {
	f.pubs = append(f.pubs, p)
}

func (f *Fanout) Publish(ctx context.Context, e Event) error {
	for _, p := range f.pubs {
		if err := p.Publish(ctx, e); err != nil {
			f.logger.Warn().Err(err).
				Str("type", e.Type).
				Str("tenant", e.Tenant).
				Str("resource_id", e.ResourceID).
				Msg("event delivery failed")
		}
	}
	return nil
}
