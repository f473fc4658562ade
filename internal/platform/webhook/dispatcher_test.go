package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipc/ipc/internal/platform/events"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern, typ string
		want         bool
	}{
		{"notifiable.validated", "notifiable.validated", true},
		{"notifiable.*", "notifiable.rejected", true},
		{"notifiable.*", "hai.validated", false},
		{"*.deleted", "culture.deleted", true},
		{"*.deleted", "culture.created", false},
		{"*", "rates.threshold_exceeded", true},
		{"rates", "rates.threshold_exceeded", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Matches(tt.pattern, tt.typ), "Matches(%q, %q)", tt.pattern, tt.typ)
	}
}

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"type":"notifiable.validated"}`)
	sig := SignPayload(payload, "s3cret")
	assert.True(t, VerifySignature(payload, "s3cret", sig))
	assert.True(t, VerifySignature(payload, "s3cret", "sha256="+sig))
	assert.False(t, VerifySignature(payload, "other", sig))
	assert.False(t, VerifySignature([]byte("tampered"), "s3cret", sig))
}

func TestNewDispatcher_Validates(t *testing.T) {
	_, err := NewDispatcher([]Endpoint{{URL: "ftp://example.org", Events: []string{"*"}}}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewDispatcher([]Endpoint{{URL: "https://example.org/hook"}}, zerolog.Nop())
	assert.Error(t, err)
}

func TestDispatcher_DeliversSignedMatchingEvents(t *testing.T) {
	type received struct {
		body      []byte
		signature string
		event     string
	}
	got := make(chan received, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- received{body: b, signature: r.Header.Get(HeaderSignature), event: r.Header.Get(HeaderEvent)}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	deliveries := make(chan Delivery, 4)
	d, err := NewDispatcher(
		[]Endpoint{{URL: srv.URL, Secret: "s3cret", Events: []string{"notifiable.validated"}}},
		zerolog.Nop(),
		OnDelivery(func(r Delivery) { deliveries <- r }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Publish(ctx, events.Event{Type: "notifiable.created", Topic: events.TopicRegistry}))
	require.NoError(t, d.Publish(ctx, events.Event{Type: "notifiable.validated", Topic: events.TopicRegistry, ResourceID: "r-1"}))

	select {
	case r := <-got:
		assert.Equal(t, "notifiable.validated", r.event)
		assert.True(t, VerifySignature(r.body, "s3cret", r.signature))
		assert.Contains(t, string(r.body), `"resource_id":"r-1"`)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}

	select {
	case res := <-deliveries:
		assert.NoError(t, res.Err)
		assert.Equal(t, http.StatusNoContent, res.StatusCode)
	case <-time.After(5 * time.Second):
		t.Fatal("delivery callback not invoked")
	}

	select {
	case r := <-got:
		t.Fatalf("unexpected delivery of %s", r.event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcher_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, err := NewDispatcher(
		[]Endpoint{{URL: srv.URL, Events: []string{"*"}}},
		zerolog.Nop(),
		WithRetries(3, 10*time.Millisecond),
	)
	require.NoError(t, err)

	res := d.deliver(context.Background(), d.endpoints[0], events.Event{Type: "rates.threshold_exceeded"})
	require.NoError(t, res.Err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDispatcher_ReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d, err := NewDispatcher([]Endpoint{{URL: srv.URL, Events: []string{"*"}}}, zerolog.Nop())
	require.NoError(t, err)

	res := d.deliver(context.Background(), d.endpoints[0], events.Event{Type: "sharps.created"})
	require.Error(t, res.Err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, 1, res.Attempts, "client errors are not retried")
}

func TestDispatcher_QueueFull(t *testing.T) {
	d, err := NewDispatcher(
		[]Endpoint{{URL: "http://127.0.0.1:1/hook", Events: []string{"*"}}},
		zerolog.Nop(),
		WithQueueSize(1),
	)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.Publish(ctx, events.Event{Type: "a.b"}))
	assert.ErrorIs(t, d.Publish(ctx, events.Event{Type: "a.b"}), ErrQueueFull)
}
