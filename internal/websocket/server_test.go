package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fabianr-su/ApproachMDPproject/pkg/logger"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := NewServer(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	ts := httptest.NewServer(http.HandlerFunc(s.HandleConnection))
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return m
}

func TestBroadcast(t *testing.T) {
	s, url := startServer(t)
	a, b := dial(t, url), dial(t, url)
	waitFor(t, "clients to register", func() bool { return s.ClientCount() == 2 })

	s.Broadcast(&Message{Type: MessageTypeRolloutCompleted, Data: map[string]any{"policy": "b737", "fuel_used_kg": 812.5}})

	for _, conn := range []*websocket.Conn{a, b} {
		m := readMessage(t, conn)
		if m.Type != MessageTypeRolloutCompleted || m.Data["policy"] != "b737" || m.Data["fuel_used_kg"] != 812.5 {
			t.Errorf("unexpected message %+v", m)
		}
	}

	a.Close()
	waitFor(t, "client to unregister", func() bool { return s.ClientCount() == 1 })
}

func TestSubscribe(t *testing.T) {
	s, url := startServer(t)
	conn := dial(t, url)
	waitFor(t, "client to register", func() bool { return s.ClientCount() == 1 })

	if err := conn.WriteJSON(Message{Type: MessageTypeSubscribe, Data: map[string]any{"policies": []string{"mine"}}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "subscription", func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for c := range s.clients {
			c.mu.Lock()
			n := len(c.policies)
			c.mu.Unlock()
			if n == 1 {
				return true
			}
		}
		return false
	})

	s.Broadcast(&Message{Type: MessageTypeRolloutCompleted, Data: map[string]any{"policy": "other"}})
	s.Broadcast(&Message{Type: MessageTypeRolloutCompleted, Data: map[string]any{"policy": "mine"}})
	s.Broadcast(&Message{Type: MessageTypePolicyUpdated, Data: map[string]any{}})

	if m := readMessage(t, conn); m.Data["policy"] != "mine" {
		t.Errorf("expected the subscribed policy first, got %+v", m)
	}
	if m := readMessage(t, conn); m.Type != MessageTypePolicyUpdated {
		t.Errorf("messages without a policy should always be delivered, got %+v", m)
	}
}

func TestStop(t *testing.T) {
	s := NewServer(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// must not block once stopped
	for range 100 {
		s.Broadcast(&Message{Type: MessageTypeBatchCompleted})
	}
}
