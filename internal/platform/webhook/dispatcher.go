// Package webhook forwards selected domain events to external HTTP endpoints,
// such as a public health reporting gateway or an on-call pager, signing each
// payload with HMAC-SHA256.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/ipc/ipc/internal/platform/events"
)

const (
	HeaderSignature = "X-IPC-Signature"
	HeaderEvent     = "X-IPC-Event"
	HeaderTimestamp = "X-IPC-Timestamp"
)

// ErrQueueFull is returned by Publish when deliveries are backing up.
var ErrQueueFull = errors.New("webhook queue full")

// Endpoint receives events whose type matches one of Events.
type Endpoint struct {
	URL    string
	Secret string
	Events []string
}

// Delivery is the outcome of one POST.
type Delivery struct {
	URL        string
	EventType  string
	StatusCode int
	Attempts   int
	Duration   time.Duration
	Err        error
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by SignPayload. A "sha256="
// prefix is accepted.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

// Matches reports whether eventType matches pattern. Patterns are exact
// ("notifiable.validated") or wildcards ("notifiable.*", "*.deleted", "*").
func Matches(pattern, eventType string) bool {
	switch {
	case pattern == "*" || pattern == eventType:
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(eventType, pattern[1:])
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func (ep Endpoint) wants(eventType string) bool {
	for _, p := range ep.Events {
		if Matches(p, eventType) {
			return true
		}
	}
	return false
}

type Option func(*Dispatcher)

func WithQueueSize(n int) Option { return func(d *Dispatcher) { d.queue = make(chan events.Event, n) } }

// WithRetries sets how many times a failed delivery is retried and the wait
// before the first retry; the wait doubles after each attempt.
func WithRetries(n int, wait time.Duration) Option {
	return func(d *Dispatcher) { d.retries, d.retryWait = n, wait }
}

func WithTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.client.SetTimeout(t) } }

// OnDelivery registers a callback invoked after every delivery.
func OnDelivery(fn func(Delivery)) Option { return func(d *Dispatcher) { d.onDelivery = fn } }

// Dispatcher queues matching events and delivers them from Run. It
// implements events.Publisher so it can join the event fanout.
type Dispatcher struct {
	endpoints  []Endpoint
	client     *resty.Client
	queue      chan events.Event
	logger     zerolog.Logger
	onDelivery func(Delivery)
	retries    int
	retryWait  time.Duration
	now        func() time.Time
}

func NewDispatcher(endpoints []Endpoint, logger zerolog.Logger, opts ...Option) (*Dispatcher, error) {
	for _, ep := range endpoints {
		if err := validateURL(ep.URL); err != nil {
			return nil, err
		}
		if len(ep.Events) == 0 {
			return nil, fmt.Errorf("webhook %s: no events selected", ep.URL)
		}
	}
	d := &Dispatcher{
		endpoints: endpoints,
		client:    resty.New().SetTimeout(10 * time.Second),
		queue:     make(chan events.Event, 256),
		logger:    logger.With().Str("component", "webhook").Logger(),
		retries:   2,
		retryWait: time.Second,
		now:       time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("webhook url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("webhook url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Publish enqueues e if any endpoint wants it. It never blocks.
func (d *Dispatcher) Publish(_ context.Context, e events.Event) error {
	wanted := false
	for _, ep := range d.endpoints {
		if ep.wants(e.Type) {
			wanted = true
			break
		}
	}
	if !wanted {
		return nil
	}
	select {
	case d.queue <- e:
		return nil
	default:
		d.logger.Warn().Str("event", e.Type).Msg("webhook queue full, dropping event")
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.queue:
			for _, ep := range d.endpoints {
				if !ep.wants(e.Type) {
					continue
				}
				res := d.deliver(ctx, ep, e)
				if res.Err != nil {
					d.logger.Error().Err(res.Err).
						Str("url", ep.URL).
						Str("event", e.Type).
						Int("attempts", res.Attempts).
						Msg("webhook delivery failed")
				}
				if d.onDelivery != nil {
					d.onDelivery(res)
				}
			}
		}
	}
}

// retryable reports whether a failed attempt may succeed later.
func retryable(status int, err error) bool {
	return err != nil || status >= 500 || status == 429
}

func (d *Dispatcher) deliver(ctx context.Context, ep Endpoint, e events.Event) Delivery {
	res := Delivery{URL: ep.URL, EventType: e.Type}
	payload, err := json.Marshal(e)
	if err != nil {
		res.Err = fmt.Errorf("marshal event: %w", err)
		return res
	}
	var signature string
	if ep.Secret != "" {
		signature = "sha256=" + SignPayload(payload, ep.Secret)
	}

	start := time.Now()
	wait := d.retryWait
	for {
		res.Attempts++
		res.StatusCode, res.Err = d.post(ctx, ep.URL, e.Type, signature, payload)
		if res.Err == nil || res.Attempts > d.retries || !retryable(res.StatusCode, res.Err) {
			break
		}
		select {
		case <-ctx.Done():
			res.Duration = time.Since(start)
			return res
		case <-time.After(wait):
		}
		wait *= 2
	}
	res.Duration = time.Since(start)
	return res
}

func (d *Dispatcher) post(ctx context.Context, target, eventType, signature string, payload []byte) (int, error) {
	req := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderEvent, eventType).
		SetHeader(HeaderTimestamp, d.now().UTC().Format(time.RFC3339)).
		SetBody(payload)
	if signature != "" {
		req.SetHeader(HeaderSignature, signature)
	}
	resp, err := req.Post(target)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return resp.StatusCode(), fmt.Errorf("non-2xx response: %d", resp.StatusCode())
	}
	return resp.StatusCode(), nil
}
