package eventwire

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orbit-chat/orbit-client/internal/logger"
)

const (
	defaultWriteTimeout   = 10 * time.Second
	defaultPongTimeout    = 60 * time.Second
	defaultMaxMessageSize = 65536
	defaultSendBufSize    = 256
)

// Tuning carries the wire-level knobs from config. Zero values fall back to
// the defaults above.
type Tuning struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
	SendBufferSize int
}

func (t Tuning) withDefaults() Tuning {
	if t.WriteTimeout <= 0 {
		t.WriteTimeout = defaultWriteTimeout
	}
	if t.PongTimeout <= 0 {
		t.PongTimeout = defaultPongTimeout
	}
	if t.MaxMessageSize <= 0 {
		t.MaxMessageSize = defaultMaxMessageSize
	}
	if t.SendBufferSize <= 0 {
		t.SendBufferSize = defaultSendBufSize
	}
	return t
}

// pingPeriod must stay below PongTimeout so pongs arrive before the deadline.
func (t Tuning) pingPeriod() time.Duration {
	return t.PongTimeout * 9 / 10
}

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Handler receives every decoded inbound event. It is invoked from the read
// pump goroutine; implementations dispatch, they do not block.
type Handler func(Event)

// conn is one live WebSocket connection to the event channel.
// Lifecycle: newConn -> start(ctx, cancel) -> [readPump, writePump] -> close -> wait.
type conn struct {
	ws      *websocket.Conn
	tuning  Tuning
	send    chan OutgoingMessage
	handler Handler
	// onClose fires exactly once when either pump exits.
	onClose func(err error)

	// done is used as a non-blocking guard in enqueue.
	done chan struct{}
	// cancel cancels the context passed to start, triggering pump shutdown.
	cancel    context.CancelFunc
	once      sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newConn(ws *websocket.Conn, tuning Tuning, handler Handler, onClose func(err error)) *conn {
	return &conn{
		ws:      ws,
		tuning:  tuning,
		send:    make(chan OutgoingMessage, tuning.SendBufferSize),
		handler: handler,
		onClose: onClose,
		done:    make(chan struct{}),
	}
}

// start launches readPump and writePump goroutines with controlled lifecycle.
func (c *conn) start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// wait blocks until both pump goroutines have exited.
func (c *conn) wait() {
	c.wg.Wait()
}

// close signals the connection to stop. Safe to call multiple times from any goroutine.
func (c *conn) close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		c.ws.Close()
	})
}

func (c *conn) finish(err error) {
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose(err)
		}
	})
}

// enqueue queues an outbound message without blocking the caller.
func (c *conn) enqueue(msg OutgoingMessage) error {
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		// Backpressure: the server stopped draining; treat as a dead link.
		logger.Errorf("eventwire send buffer full, closing connection")
		c.close()
		return ErrClosed
	}
}

// readPump reads events from the WebSocket connection.
// Exits on read error (triggered by ws.Close from close() or writePump exit).
func (c *conn) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.ws.Close()
		c.finish(nil)
	}()

	c.ws.SetReadLimit(c.tuning.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.tuning.PongTimeout)); err != nil {
		logger.Errorf("eventwire set read deadline: %v", err)
		return
	}
	c.ws.SetPingHandler(func(appData string) error {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.tuning.PongTimeout)); err != nil {
			return err
		}
		return c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.tuning.WriteTimeout))
	})
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.tuning.PongTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("eventwire read error: %v", err)
			}
			c.finish(err)
			return
		}
		if err := c.ws.SetReadDeadline(time.Now().Add(c.tuning.PongTimeout)); err != nil {
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Errorf("eventwire unmarshal error: %v", err)
			continue
		}
		c.handler(ev)
	}
}

// writePump writes messages to the WebSocket connection.
// Exits on ctx cancellation, write error, or connection close.
func (c *conn) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.tuning.pingPeriod())
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.ws.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Debugf("eventwire close message: %v", err)
			}
			return
		case msg := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.tuning.WriteTimeout)); err != nil {
				logger.Errorf("eventwire set write deadline: %v", err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("eventwire marshal error: %v", err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.ws.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.tuning.WriteTimeout)); err != nil {
				logger.Errorf("eventwire set write deadline: %v", err)
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
