package realtime

import (
	"log/slog"
	"sync"
	"time"

	"crm-voice/internal/auth"
	"crm-voice/internal/observability"
	"crm-voice/pkg/protocol"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// client is one websocket. The reader goroutine parses and submits events;
// the writer goroutine is the only one that writes to the socket.
type client struct {
	id       string
	identity auth.Identity
	ip       string
	conn     *websocket.Conn
	opts     WSOptions
	metrics  *observability.Metrics
	log      *slog.Logger
	limiter  *rate.Limiter

	send      chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once

	// hub-owned
	registered bool
}

func newClient(id string, identity auth.Identity, ip string, conn *websocket.Conn, opts WSOptions, m *observability.Metrics, log *slog.Logger) *client {
	return &client{
		id:       id,
		identity: identity,
		ip:       ip,
		conn:     conn,
		opts:     opts,
		metrics:  m,
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RateBurst),
		send:     make(chan protocol.Message, opts.SendQueue),
		done:     make(chan struct{}),
	}
}

// Send queues msg without blocking. A full queue drops the message.
func (c *client) Send(msg protocol.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.metrics.ObserveMessage("outbound", string(msg.Type), "drop_full")
		c.log.Warn("outbound queue full, message dropped", "type", msg.Type)
		return false
	}
}

// shutdown asks the writer to flush and close the socket.
func (c *client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) readPump(h *Hub) {
	defer func() {
		c.shutdown()
		h.disconnect(c)
	}()

	pongWait := 2 * c.opts.PingInterval
	c.conn.SetReadLimit(c.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read failed", "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		if !c.limiter.Allow() {
			c.metrics.ObserveMessage("inbound", "", "rate_limited")
			h.Submit(func() { h.reply(c, protocol.NewError(protocol.CodeRateLimited, "slow down"), "") })
			continue
		}

		in, err := protocol.DecodeClient(data)
		if err != nil {
			c.metrics.ObserveMessage("inbound", "", "invalid")
			h.Submit(func() { h.reply(c, protocol.NewError(protocol.CodeValidation, err.Error()), "") })
			continue
		}
		c.metrics.ObserveMessage("inbound", string(in.Type), "ok")
		h.dispatch(c, in)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued and says goodbye.
func (c *client) flush() {
	for {
		select {
		case msg := <-c.send:
			if c.write(msg) != nil {
				return
			}
		default:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteTimeout))
			return
		}
	}
}

func (c *client) write(msg protocol.Message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.metrics.ObserveMessage("outbound", string(msg.Type), "write_error")
		return err
	}
	c.metrics.ObserveMessage("outbound", string(msg.Type), "ok")
	return nil
}
