package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/huddle/internal/metrics"
	"github.com/manpreetbhatti/huddle/internal/ratelimit"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// rate limit violations tolerated before the connection is dropped
	maxRateViolations = 1000
)

var (
	ErrPeerClosed     = errors.New("peer closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client is a websocket connection attached to the hub.
type Client struct {
	id          string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	rateLimiter *ratelimit.Limiter
	logger      *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newClient(id string, hub *Hub, conn *websocket.Conn, opts Options, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:          id,
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, opts.SendBuffer),
		rateLimiter: ratelimit.NewLimiter(opts.MessagesPerSecond, opts.MessageBurst),
		logger:      logger.With("conn", id),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (c *Client) ID() string { return c.id }

// Send queues a frame for the write pump. It never blocks: a full buffer
// is reported so the hub can drop the connection.
func (c *Client) Send(frame []byte) error {
	if c.ctx.Err() != nil {
		return ErrPeerClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops both pumps. Frames still queued are discarded.
func (c *Client) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}

func (c *Client) readPump(maxMessageSize int64) {
	defer func() {
		c.hub.Disconnect(c.id)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "err", err)
			}
			return
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			metrics.DroppedEvents.WithLabelValues("rate_limited").Inc()
			if rateLimitWarnings%100 == 1 {
				c.logger.Warn("rate limit exceeded", "warnings", rateLimitWarnings)
			}
			if rateLimitWarnings > maxRateViolations {
				c.logger.Warn("disconnecting for excessive rate limit violations")
				return
			}
			continue
		}

		if err := c.handle(message); err != nil {
			return
		}
	}
}

// handle decodes one frame and hands it to the hub. Only hub shutdown or
// closing this client ends the read loop; bad frames are dropped.
func (c *Client) handle(message []byte) error {
	req, err := Decode(message)
	if err != nil {
		c.logger.Debug("invalid frame", "event", req.Event, "err", err)
		if !NeedsAck(req.Event) {
			metrics.DroppedEvents.WithLabelValues("invalid").Inc()
			return nil
		}
		// the hub answers with an invalid request ack
		req.Command = nil
	}

	_, err = c.hub.Do(c.ctx, c.id, req)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrHubClosed), errors.Is(err, ErrNotConnected), c.ctx.Err() != nil:
		return err
	default:
		c.logger.Debug("request failed", "event", req.Event, "err", err)
		return nil
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
