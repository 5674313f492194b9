package transport

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

// wsTestServer is a minimal frame-speaking server: it records subscriptions,
// acks publishes that carry a cid, and can push publishes to the client.
type wsTestServer struct {
	*httptest.Server

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]bool
	published  []publishPayload
	ready      chan struct{}
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	s := &wsTestServer{
		subscribed: make(map[string]bool),
		ready:      make(chan struct{}),
	}
	upgrader := websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		close(s.ready)

		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			var p publishPayload
			json.Unmarshal(f.Data, &p)

			s.mu.Lock()
			switch f.Event {
			case "#subscribe":
				s.subscribed[p.Channel] = true
			case "#unsubscribe":
				delete(s.subscribed, p.Channel)
			case "#publish":
				s.published = append(s.published, p)
				if f.CID != 0 {
					conn.WriteJSON(&frame{RID: f.CID, Data: json.RawMessage(`{"status":"ok"}`)})
				}
			}
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsTestServer) push(t *testing.T, channel string, data string) {
	t.Helper()
	payload, _ := json.Marshal(publishPayload{Channel: channel, Data: json.RawMessage(data)})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(&frame{Event: "#publish", Data: payload}); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func (s *wsTestServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func dialWS(t *testing.T, s *wsTestServer) Client {
	t.Helper()
	client, err := WSDialer{}.Dial(context.Background(), Options{Target: s.wsURL(), Namespace: "/chat"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Disconnect() })

	select {
	case <-client.Listener(EventConnect):
	case ev := <-client.Listener(EventError):
		t.Fatalf("connect failed: %v", ev.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("connect timed out")
	}
	return client
}

func TestWSDialer_RejectsNonWSTarget(t *testing.T) {
	if _, err := (WSDialer{}).Dial(context.Background(), Options{Target: "http://x"}); err == nil {
		t.Fatal("Dial should reject non-ws targets")
	}
}

func TestWSClient_ConnectError(t *testing.T) {
	client, err := WSDialer{}.Dial(context.Background(), Options{
		Target:         "ws://127.0.0.1:1", // nothing listens here
		ConnectTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Disconnect()

	select {
	case ev := <-client.Listener(EventError):
		if ev.Err == nil {
			t.Error("error event without error")
		}
	case <-client.Listener(EventConnect):
		t.Fatal("connect should not succeed")
	case <-time.After(5 * time.Second):
		t.Fatal("no error event")
	}
}

func TestWSClient_SubscribeAndReceive(t *testing.T) {
	server := newWSTestServer(t)
	client := dialWS(t, server)

	stream, err := client.Receiver("room/lobby")
	if err != nil {
		t.Fatal(err)
	}

	// Wait for the server to register the subscription before pushing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		server.mu.Lock()
		ok := server.subscribed["room/lobby"]
		server.mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never saw the subscription")
		}
		time.Sleep(5 * time.Millisecond)
	}

	server.push(t, "room/lobby", `{"text":"hi"}`)

	select {
	case msg := <-stream:
		if msg.Channel != "room/lobby" || string(msg.Data) != `{"text":"hi"}` {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}
}

func TestWSClient_TransmitWithAck(t *testing.T) {
	server := newWSTestServer(t)
	client := dialWS(t, server)

	acked := make(chan AckArgs, 1)
	err := client.Transmit(context.Background(), "room/lobby", json.RawMessage(`{"text":"hi"}`),
		func(args AckArgs, err error) { acked <- args })
	if err != nil {
		t.Fatal(err)
	}

	select {
	case args := <-acked:
		if len(args) != 1 || string(args[0]) != `{"status":"ok"}` {
			t.Errorf("ack args = %v", args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ack never fired")
	}
}

func TestSplitAckArgs(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{"empty", "", 0},
		{"object", `{"a":1}`, 1},
		{"array", `[{"a":1},{"b":2}]`, 2},
		{"scalar", `"ok"`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitAckArgs(json.RawMessage(tt.data))
			if len(got) != tt.want {
				t.Errorf("splitAckArgs(%q) returned %d args, want %d", tt.data, len(got), tt.want)
			}
		})
	}
}
