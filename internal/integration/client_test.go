package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// message is one inbound envelope as a browser would receive it.
type message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (m *message) decode(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}

// testClient is a websocket client that buffers everything the server sends.
type testClient struct {
	name string

	conn     *websocket.Conn
	messages chan *message
	done     chan struct{}

	mu      sync.Mutex
	closed  bool
	readErr error
}

func connectClient(ctx context.Context, serverURL, name string) (*testClient, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	tc := &testClient{
		name:     name,
		conn:     conn,
		messages: make(chan *message, 256),
		done:     make(chan struct{}),
	}
	go tc.readLoop()
	return tc, nil
}

func (tc *testClient) readLoop() {
	defer close(tc.done)
	for {
		var msg message
		if err := tc.conn.ReadJSON(&msg); err != nil {
			tc.mu.Lock()
			tc.readErr = err
			tc.mu.Unlock()
			return
		}
		select {
		case tc.messages <- &msg:
		default:
			// a test that lets 256 messages pile up has already failed
		}
	}
}

func (tc *testClient) send(event string, data interface{}) error {
	envelope := map[string]interface{}{"event": event}
	if data != nil {
		envelope["data"] = data
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.closed {
		return fmt.Errorf("%s: client closed", tc.name)
	}
	_ = tc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return tc.conn.WriteJSON(envelope)
}

// receive waits for the next message carrying event, discarding others.
func (tc *testClient) receive(event string, timeout time.Duration) (*message, error) {
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-tc.messages:
			if msg.Event == event {
				return msg, nil
			}
		case <-tc.done:
			// drain what arrived before the close
			for {
				select {
				case msg := <-tc.messages:
					if msg.Event == event {
						return msg, nil
					}
				default:
					return nil, fmt.Errorf("%s: disconnected waiting for %s: %v", tc.name, event, tc.err())
				}
			}
		case <-deadline:
			return nil, fmt.Errorf("%s: timeout waiting for %s", tc.name, event)
		}
	}
}

// waitClosed reports whether the server closed the connection within timeout.
func (tc *testClient) waitClosed(timeout time.Duration) bool {
	select {
	case <-tc.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (tc *testClient) err() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.readErr
}

func (tc *testClient) close() {
	tc.mu.Lock()
	if tc.closed {
		tc.mu.Unlock()
		return
	}
	tc.closed = true
	_ = tc.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = tc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	tc.mu.Unlock()

	select {
	case <-tc.done:
	case <-time.After(time.Second):
	}
	_ = tc.conn.Close()
}
