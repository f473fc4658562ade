package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ipc/ipc/internal/platform/events"
)

func newClient(id, tenant string, topics ...string) *Client {
	return &Client{ID: id, Tenant: tenant, Topics: topics, Send: make(chan []byte, 8)}
}

func TestHub_RegisterClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Register(newClient("c1", "general", events.TopicHAI))

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("general", events.TopicHAI) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.TopicCount("general", events.TopicHAI))
	}
}

func TestHub_RegisterDropsUnknownTopics(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c1", "general", "Patient/123", events.TopicRates, events.TopicRates)
	hub.Register(c)

	if len(c.Topics) != 1 || c.Topics[0] != events.TopicRates {
		t.Errorf("expected only rates topic, got %v", c.Topics)
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c1", "general", events.TopicCensus)
	hub.Register(c)
	hub.Unregister(c)
	hub.Unregister(c) // second call is a no-op

	if _, ok := <-c.Send; ok {
		t.Error("expected Send to be closed")
	}
	if hub.ClientCount() != 0 || hub.TopicCount("general", events.TopicCensus) != 0 {
		t.Error("expected hub to be empty")
	}
}

func TestHub_BroadcastIsTenantScoped(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := newClient("a", "general", events.TopicHAI)
	b := newClient("b", "children", events.TopicHAI)
	other := newClient("o", "general", events.TopicAudit)
	hub.Register(a)
	hub.Register(b)
	hub.Register(other)

	err := hub.Publish(context.Background(), events.Event{Type: "hai.validated", Topic: events.TopicHAI, Tenant: "general", ResourceID: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case msg := <-a.Send:
		var e events.Event
		if err := json.Unmarshal(msg, &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if e.Type != "hai.validated" || e.ResourceID != "x" {
			t.Errorf("unexpected event %+v", e)
		}
	default:
		t.Fatal("expected subscriber in tenant to receive event")
	}
	if len(b.Send) != 0 {
		t.Error("other tenant must not receive event")
	}
	if len(other.Send) != 0 {
		t.Error("other topic must not receive event")
	}
}

func TestHub_BroadcastSkipsFullBuffer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &Client{ID: "slow", Tenant: "t", Topics: []string{events.TopicRates}, Send: make(chan []byte, 1)}
	hub.Register(c)

	e := events.Event{Topic: events.TopicRates, Tenant: "t"}
	hub.Broadcast(e)
	hub.Broadcast(e) // must not block

	if len(c.Send) != 1 {
		t.Errorf("expected 1 buffered message, got %d", len(c.Send))
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c", "general")
	hub.Register(c)

	hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{events.TopicHAI, events.TopicAudit}})
	if hub.TopicCount("general", events.TopicAudit) != 1 {
		t.Fatal("expected audit subscription")
	}
	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{events.TopicAudit}})
	if hub.TopicCount("general", events.TopicAudit) != 0 {
		t.Error("expected audit subscription to be removed")
	}
	if len(c.Topics) != 1 || c.Topics[0] != events.TopicHAI {
		t.Errorf("expected remaining topic hai, got %v", c.Topics)
	}
	hub.ProcessMessage(c, ClientMessage{Action: "dance"})
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient("c", "general", events.TopicHAI)
			hub.Register(c)
			hub.Broadcast(events.Event{Topic: events.TopicHAI, Tenant: "general"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	e := echo.New()
	NewHandler(NewHub(zerolog.Nop()), nil).RegisterRoutes(e.Group(""))

	found := false
	for _, r := range e.Routes() {
		if r.Path == "/ws" && r.Method == http.MethodGet {
			found = true
		}
	}
	if !found {
		t.Fatal("expected GET /ws route to be registered")
	}
}

func TestHandler_RequiresTenant(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), httptest.NewRecorder())

	err := NewHandler(NewHub(zerolog.Nop()), nil).HandleConnect(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), []string{"https://ipc.example"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	if h.upgrader.CheckOrigin(req) {
		t.Error("expected foreign origin to be rejected")
	}
	req.Header.Set("Origin", "https://ipc.example")
	if !h.upgrader.CheckOrigin(req) {
		t.Error("expected configured origin to be accepted")
	}
}

func TestHandler_FullUpgrade(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	g := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("tenant_id", "general")
			return next(c)
		}
	})
	NewHandler(hub, nil).RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?topics=hai"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount("general", events.TopicHAI) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client was not subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{events.TopicRates}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}
	for hub.TopicCount("general", events.TopicRates) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscribe message not processed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(events.Event{Type: "rates.threshold_exceeded", Topic: events.TopicRates, Tenant: "general"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received events.Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "rates.threshold_exceeded" {
		t.Fatalf("expected rates.threshold_exceeded, got %s", received.Type)
	}
}
