package events

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipc/ipc/internal/platform/auth"
	"github.com/ipc/ipc/internal/platform/db"
)

func TestNew_StampsContext(t *testing.T) {
	ctx := db.WithTenant(context.Background(), "general", nil)
	ctx = auth.WithUser(ctx, "nurse-1", "", nil)

	e := New(ctx, TopicHAI, "hai.created", "hai_case", "abc", map[string]string{"area": "ICU"})
	assert.Equal(t, "general", e.Tenant)
	assert.Equal(t, "nurse-1", e.Actor)
	assert.Equal(t, TopicHAI, e.Topic)
	assert.JSONEq(t, `{"area":"ICU"}`, string(e.Data))
	assert.False(t, e.Timestamp.IsZero())
}

func TestNew_UnmarshalableDataDropped(t *testing.T) {
	e := New(context.Background(), TopicRates, "x", "y", "", make(chan int))
	assert.Nil(t, e.Data)
}

func TestIsTopic(t *testing.T) {
	assert.True(t, IsTopic(TopicActionPlan))
	assert.False(t, IsTopic("patients"))
}

func TestFanout_DeliversAndSwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	var got []string
	ok := PublisherFunc(func(_ context.Context, e Event) error {
		got = append(got, e.Type)
		return nil
	})
	broken := PublisherFunc(func(context.Context, Event) error { return errors.New("sink down") })

	f := NewFanout(zerolog.New(&buf), broken, ok)
	f.Add(ok)

	err := f.Publish(context.Background(), Event{Type: "census.upserted"})
	require.NoError(t, err)
	assert.Equal(t, []string{"census.upserted", "census.upserted"}, got)
	assert.Contains(t, buf.String(), "sink down")
}

func TestStreamPublisher_XAdd(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewStreamPublisher(client, "ipc:events", 100)
	ctx := db.WithTenant(context.Background(), "general", nil)
	require.NoError(t, p.Publish(ctx, New(ctx, TopicCensus, "census.upserted", "census_log", "2024-01-01", nil)))

	msgs, err := client.XRange(context.Background(), "ipc:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "census.upserted", msgs[0].Values["type"])
	assert.Equal(t, "general", msgs[0].Values["tenant"])
	assert.Equal(t, "2024-01-01", msgs[0].Values["resource_id"])
}
