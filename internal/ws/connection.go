package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errSendBufferFull = errors.New("send buffer full")

type connectionOptions struct {
	heartbeatInterval  time.Duration
	heartbeatTolerance int
	sendBufferSize     int
	writeTimeout       time.Duration
}

// Connection is an upgraded websocket session watching one or more
// collections.
type Connection struct {
	conn      *websocket.Conn
	identity  Identity
	topics    []string
	logger    zerolog.Logger
	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	opts    connectionOptions
	onClose func()
}

func newConnection(conn *websocket.Conn, id Identity, topics []string, logger zerolog.Logger, opts connectionOptions, onClose func()) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		conn:     conn,
		identity: id,
		topics:   topics,
		logger:   logger,
		send:     make(chan []byte, opts.sendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		opts:     opts,
		onClose:  onClose,
	}
}

// UserID returns the authenticated user.
func (c *Connection) UserID() string { return c.identity.UserID }

// Topics returns the collections the connection watches.
func (c *Connection) Topics() []string { return c.topics }

// SendBinary enqueues a frame for the writer goroutine. A connection whose
// buffer is full is closed rather than allowed to stall the broadcaster.
func (c *Connection) SendBinary(payload []byte) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}

	select {
	case c.send <- payload:
		gatewaySendQueueDepth.Observe(float64(len(c.send)))
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn().Msg("send buffer full; closing connection")
		c.closeWithCode(websocket.CloseTryAgainLater, "backpressure")
		return errSendBufferFull
	}
}

// Run pumps frames until the peer goes away or the connection is closed.
func (c *Connection) Run() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	if err := c.readLoop(); err != nil {
		c.logger.Debug().Err(err).Msg("read loop exited")
	}
	c.Close()
	wg.Wait()
}

// Close tears the connection down. It is safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *Connection) deadline() time.Time {
	if c.opts.heartbeatInterval <= 0 || c.opts.heartbeatTolerance <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.opts.heartbeatInterval * time.Duration(c.opts.heartbeatTolerance))
}

// readLoop only services control frames; watchers never send data.
func (c *Connection) readLoop() error {
	_ = c.conn.SetReadDeadline(c.deadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(c.deadline())
	})
	c.conn.SetReadLimit(512)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
	}
}

func (c *Connection) writeLoop() {
	var tick <-chan time.Time
	if c.opts.heartbeatInterval > 0 {
		ticker := time.NewTicker(c.opts.heartbeatInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				c.logger.Debug().Err(err).Msg("write loop error")
				c.Close()
				return
			}
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.writeTimeout)); err != nil {
				c.logger.Debug().Err(err).Msg("heartbeat ping failed")
				c.Close()
				return
			}
		}
	}
}

func (c *Connection) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.writeTimeout))
	c.Close()
}
