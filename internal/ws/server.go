package ws

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/huddle/internal/ratelimit"
)

type Options struct {
	MaxMessageSize    int64
	SendBuffer        int
	MessagesPerSecond float64
	MessageBurst      int
	// Browser origins allowed to open a socket. Empty or "*" allows any.
	AllowedOrigins []string
	// Limits upgrades per remote IP when set.
	Upgrades *ratelimit.ClientLimiters
}

func DefaultOptions() Options {
	return Options{
		MaxMessageSize:    64 * 1024,
		SendBuffer:        256,
		MessagesPerSecond: 50,
		MessageBurst:      100,
	}
}

// Handler upgrades HTTP requests to websocket connections on the hub.
type Handler struct {
	hub      *Hub
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(hub *Hub, opts Options, logger *slog.Logger) *Handler {
	def := DefaultOptions()
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = def.MessagesPerSecond
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = def.MessageBurst
	}

	h := &Handler{
		hub:    hub,
		opts:   opts,
		logger: logger.With("component", "ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.opts.Upgrades != nil && !h.opts.Upgrades.Allow(remoteIP(r)) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	client := newClient(uuid.NewString(), h.hub, conn, h.opts, h.logger)
	if err := h.hub.Connect(r.Context(), client); err != nil {
		h.logger.Warn("hub refused connection", "err", err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"))
		conn.Close()
		return
	}
	client.logger.Debug("connected", "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump(h.opts.MaxMessageSize)
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// not a browser
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
