package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livepoll/pkg/types"
)

// Settings tune a connection's buffers and timeouts.
type Settings struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultSettings matches the classroom defaults: 100 queued messages, 5s
// writes, 60s read deadline refreshed by pongs sent every 30s.
func DefaultSettings() Settings {
	return Settings{
		SendBuffer:     100,
		WriteTimeout:   5 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Connection wraps a websocket with a single writer goroutine. Send never
// blocks: a full queue drops the message for this connection only.
type Connection struct {
	id       string
	conn     *websocket.Conn
	writeCh  chan []byte
	settings Settings

	ctx       context.Context
	cancel    context.CancelFunc
	closing   chan struct{}
	closeOnce sync.Once
	shutOnce  sync.Once
	done      chan struct{}
}

// NewConnection starts the writer for conn under id.
func NewConnection(id string, conn *websocket.Conn, settings Settings) *Connection {
	if settings.SendBuffer <= 0 {
		settings.SendBuffer = DefaultSettings().SendBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:       id,
		conn:     conn,
		writeCh:  make(chan []byte, settings.SendBuffer),
		settings: settings,
		ctx:      ctx,
		cancel:   cancel,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	go c.writeLoop()

	return c
}

// ID returns the server-assigned connection id.
func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) writeLoop() {
	defer close(c.done)

	var ping <-chan time.Time
	if c.settings.PingInterval > 0 {
		ticker := time.NewTicker(c.settings.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}

		case <-c.closing:
			// deliver what was queued before the shutdown request
			if err := c.flush(); err != nil {
				_ = c.Close()
				return
			}
			_ = c.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.Close()
			return

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) flush() error {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	if c.settings.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(messageType, data)
}

// Send queues an {"event","data"} envelope for delivery.
func (c *Connection) Send(event string, payload interface{}) error {
	data, err := json.Marshal(types.Envelope{Event: event, Data: payload})
	if err != nil {
		return ErrInvalidJSON
	}
	return c.enqueue(data)
}

func (c *Connection) enqueue(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case <-c.closing:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Shutdown flushes queued messages, sends a close frame and closes the
// connection. It returns immediately; the writer finishes in the background.
func (c *Connection) Shutdown() {
	c.shutOnce.Do(func() { close(c.closing) })
}

// Close tears the connection down at once, dropping anything queued.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed when the writer goroutine has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}
