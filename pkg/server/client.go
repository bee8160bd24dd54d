package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/huddlechat/huddle/pkg/protocol"
)

const (
	// writeWait is how long a single frame write may take.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before declaring the peer dead.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// defaultSendBuffer bounds the outbound queue when the config does not
	// set one. A client that cannot drain its queue is dropped rather than
	// allowed to stall the hub.
	defaultSendBuffer = 256
)

// Client owns one websocket connection: a read pump feeding the router and
// a write pump draining the outbound queue. It is the sink registered for
// its session.
type Client struct {
	server *Server
	conn   *websocket.Conn
	connID string

	send      chan *protocol.ServerEvent
	done      chan struct{}
	closeOnce sync.Once

	limiter *rate.Limiter
}

func newClient(s *Server, conn *websocket.Conn, connID string) *Client {
	buffer := s.cfg.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Client{
		server:  s,
		conn:    conn,
		connID:  connID,
		send:    make(chan *protocol.ServerEvent, buffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.EventRate), s.cfg.EventBurst),
	}
}

// TrySend queues an event without blocking.
func (c *Client) TrySend(ev *protocol.ServerEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		c.server.metrics.SlowClientsDropped.Add(1)
		return false
	}
}

// Kill force-closes the connection. The read pump's exit then runs the
// normal disconnect teardown, so cleanup happens exactly once either way.
func (c *Client) Kill() {
	c.close()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump reads frames, decodes them, and hands them to the router. It
// runs on its own goroutine and owns connection teardown on exit.
func (c *Client) readPump() {
	defer func() {
		c.close()
		c.server.router.Disconnect(c.connID)
	}()

	c.conn.SetReadLimit(protocol.MaxEventSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("read error", "conn", c.connID, "err", err)
			}
			return
		}
		c.server.metrics.EventsIn.Add(1)

		if !c.limiter.Allow() {
			c.server.metrics.RateLimited.Add(1)
			c.TrySend(&protocol.ServerEvent{
				Error: &protocol.ErrorEvent{Code: protocol.CodeRateLimited, Message: "slow down"},
			})
			continue
		}

		ev, err := protocol.DecodeClientEvent(data)
		if err != nil {
			c.server.metrics.EventsRejected.Add(1)
			c.TrySend(&protocol.ServerEvent{
				Error: &protocol.ErrorEvent{Code: protocol.CodeMalformed, Message: "malformed event"},
			})
			continue
		}

		c.server.registry.Touch(c.connID)
		c.server.router.HandleEvent(c.connID, c, ev)
	}
}

// writePump serializes outbound events onto the wire and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := protocol.EncodeServerEvent(ev)
			if err != nil {
				slog.Error("encode event", "conn", c.connID, "err", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
