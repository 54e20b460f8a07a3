package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeNode is a minimal logsSubscribe server. Subscription IDs start at 0.
type fakeNode struct {
	t *testing.T

	mu           sync.Mutex
	conn         *websocket.Conn
	nextID       int64
	unsubscribed []int64
}

func (n *fakeNode) handler(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close()

	n.mu.Lock()
	n.conn = c
	n.mu.Unlock()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}

		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			n.t.Errorf("unmarshal request: %v", err)
			return
		}

		n.mu.Lock()
		switch req.Method {
		case "logsSubscribe":
			id := n.nextID
			n.nextID++
			c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": id})
		case "logsUnsubscribe":
			n.unsubscribed = append(n.unsubscribed, int64(req.Params[0].(float64)))
			c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": true})
		}
		n.mu.Unlock()
	}
}

func (n *fakeNode) notify(subID int64, signature string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.conn.WriteJSON(wsNotification{
		JSONRPC: "2.0",
		Method:  "logsNotification",
		Params: &wsNotificationParams{
			Subscription: subID,
			Result: wsNotificationResult{
				Context: &wsContext{Slot: 100},
				Value:   wsLogsValue{Signature: signature, Logs: []string{"Program log: Test"}},
			},
		},
	})
}

func startFakeNode(t *testing.T) (*fakeNode, string, func()) {
	t.Helper()
	node := &fakeNode{t: t}
	server := httptest.NewServer(http.HandlerFunc(node.handler))
	return node, "ws" + strings.TrimPrefix(server.URL, "http"), server.Close
}

func TestWSClient_SubscribeLogs(t *testing.T) {
	node, url, stop := startFakeNode(t)
	defer stop()

	ctx := context.Background()
	client, err := NewWSClient(ctx, url, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	sub, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"wallet"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	// Server-side ID 0 must still be routed.
	node.notify(0, "testsig")

	select {
	case notif := <-sub.C:
		if notif.Signature != "testsig" {
			t.Errorf("expected testsig, got %s", notif.Signature)
		}
		if notif.Slot != 100 {
			t.Errorf("expected slot 100, got %d", notif.Slot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestWSClient_HandlesAreDistinct(t *testing.T) {
	_, url, stop := startFakeNode(t)
	defer stop()

	ctx := context.Background()
	client, err := NewWSClient(ctx, url, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	a, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"a"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}
	b, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"b"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}
	if a.Handle == b.Handle {
		t.Errorf("handles should differ, both %d", a.Handle)
	}
}

func TestWSClient_UnsubscribeLogs(t *testing.T) {
	node, url, stop := startFakeNode(t)
	defer stop()

	ctx := context.Background()
	client, err := NewWSClient(ctx, url, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	sub, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"wallet"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	if err := client.UnsubscribeLogs(ctx, sub.Handle); err != nil {
		t.Fatalf("UnsubscribeLogs: %v", err)
	}

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Unknown handles are ignored.
	if err := client.UnsubscribeLogs(ctx, 999); err != nil {
		t.Errorf("UnsubscribeLogs unknown handle: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		node.mu.Lock()
		n := len(node.unsubscribed)
		node.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("server did not receive logsUnsubscribe")
}

func TestWSClient_Close(t *testing.T) {
	_, url, stop := startFakeNode(t)
	defer stop()

	ctx := context.Background()
	client, err := NewWSClient(ctx, url, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	sub, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"wallet"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !client.closed.Load() {
		t.Error("client should be closed")
	}
	if _, ok := <-sub.C; ok {
		t.Error("subscription channel should be closed")
	}

	// Double close should be safe
	if err := client.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}

	if _, err := client.SubscribeLogs(ctx, LogsFilter{}); err == nil {
		t.Error("expected error subscribing after close")
	}
}

func TestWSClient_CustomConfig(t *testing.T) {
	_, url, stop := startFakeNode(t)
	defer stop()

	config := &WSClientConfig{
		ReconnectDelay:    100 * time.Millisecond,
		MaxReconnectDelay: 1 * time.Second,
		PingInterval:      5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
	}

	client, err := NewWSClient(context.Background(), url, config)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.config.PingInterval != 5*time.Second {
		t.Errorf("expected PingInterval 5s, got %v", client.config.PingInterval)
	}
	if client.config.SubscribeTimeout != 30*time.Second {
		t.Errorf("expected default SubscribeTimeout, got %v", client.config.SubscribeTimeout)
	}
}
