package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

// Conn is one authenticated websocket. The read loop runs on the HTTP
// handler goroutine and processes commands strictly in order; the write loop
// owns every write to the socket.
type Conn struct {
	id        string
	identity  domain.Identity
	namespace Namespace
	ws        *websocket.Conn
	opts      Options
	logger    *zap.Logger

	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newConn(id string, identity domain.Identity, ns Namespace, ws *websocket.Conn, opts Options, logger *zap.Logger) *Conn {
	return &Conn{
		id:         id,
		identity:   identity,
		namespace:  ns,
		ws:         ws,
		opts:       opts,
		logger:     logger,
		send:       make(chan []byte, opts.SendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (c *Conn) ID() string                { return c.id }
func (c *Conn) Identity() domain.Identity { return c.identity }
func (c *Conn) Namespace() Namespace      { return c.namespace }

// Send queues a frame. It never blocks: a full buffer means the client is
// not keeping up, and the connection is closed.
func (c *Conn) Send(event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.shutdown(websocket.CloseTryAgainLater, "send buffer full")
		return ErrSlowConsumer
	}
}

func (c *Conn) sendError(msg string) {
	if err := c.Send(EventError, errorPayload{Message: msg}); err != nil {
		c.logger.Debug("failed to queue error frame", zap.Error(err))
	}
}

// shutdown asks the write loop to send a close frame and drop the socket.
// Only the first call's code is used.
func (c *Conn) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)) //nolint:errcheck
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			if c.closeCode != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
				_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait)) //nolint:errcheck
			}
			return
		}
	}
}

// readLoop blocks until the peer goes away, a read deadline passes or the
// write loop drops the socket.
func (c *Conn) readLoop(handle func(raw []byte)) {
	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait)) //nolint:errcheck
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		messageType, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("connection read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		handle(raw)
	}
}
