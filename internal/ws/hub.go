package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/manpreetbhatti/huddle/internal/codeshare"
	"github.com/manpreetbhatti/huddle/internal/db"
	"github.com/manpreetbhatti/huddle/internal/metrics"
	"github.com/manpreetbhatti/huddle/internal/room"
	"github.com/manpreetbhatti/huddle/internal/whiteboard"
)

var (
	ErrHubClosed    = errors.New("hub closed")
	ErrNotConnected = errors.New("connection not registered")
)

const defaultInboxSize = 256

// Journal receives room activity. Record must not block.
type Journal interface {
	Record(ev db.Event)
}

type nopJournal struct{}

func (nopJournal) Record(db.Event) {}

// Hub owns every room, whiteboard, shared file map and session. All of it
// is touched only from the Run goroutine: callers hand it closures through
// the inbox and each one runs to completion before the next starts, which
// is what gives a room its delivery order.
type Hub struct {
	logger   *slog.Logger
	inbox    chan func()
	stopped  chan struct{}
	journal  Journal
	newCode  room.CodeFunc
	rooms    *room.Registry
	boards   *whiteboard.Boards
	docs     *codeshare.Store
	sessions map[string]*session

	// connections whose Send failed during the current step
	evicted []string
}

type Option func(*Hub)

func WithJournal(j Journal) Option {
	return func(h *Hub) { h.journal = j }
}

// WithCodeFunc replaces the generator used for room and whiteboard codes.
func WithCodeFunc(fn room.CodeFunc) Option {
	return func(h *Hub) { h.newCode = fn }
}

func WithInboxSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.inbox = make(chan func(), n)
		}
	}
}

func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger:   logger.With("component", "hub"),
		inbox:    make(chan func(), defaultInboxSize),
		stopped:  make(chan struct{}),
		journal:  nopJournal{},
		newCode:  room.NewCode,
		docs:     codeshare.NewStore(),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.rooms = room.NewRegistry(room.WithCodeFunc(h.newCode))
	h.boards = whiteboard.New(h.newCode)
	return h
}

// Run processes the inbox until ctx is cancelled, then closes every peer.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("hub started")
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-h.inbox:
			h.exec(op)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.stopped }

func (h *Hub) exec(op func()) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("hub step panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		op()
	}()

	// evicting can fail more sends, so loop until nothing is left
	for len(h.evicted) > 0 {
		id := h.evicted[0]
		h.evicted = h.evicted[1:]
		h.disconnect(id, "send buffer full")
	}

	metrics.ActiveRooms.Set(float64(h.rooms.Len()))
	metrics.ActiveWhiteboards.Set(float64(h.boards.Len()))
	metrics.ActiveConnections.Set(float64(len(h.sessions)))
}

func (h *Hub) shutdown() {
	for id, s := range h.sessions {
		s.peer.Close()
		delete(h.sessions, id)
	}
	metrics.ActiveRooms.Set(0)
	metrics.ActiveWhiteboards.Set(0)
	metrics.ActiveConnections.Set(0)
	close(h.stopped)
	h.logger.Info("hub stopped")
}

func (h *Hub) submit(ctx context.Context, op func()) error {
	select {
	case h.inbox <- op:
		return nil
	case <-h.stopped:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the hub goroutine and waits for it to finish.
func (h *Hub) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := h.submit(ctx, func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-h.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrHubClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect registers a peer. It must be called before Do for that peer.
func (h *Hub) Connect(ctx context.Context, p Peer) error {
	return h.call(ctx, func() {
		if _, dup := h.sessions[p.ID()]; dup {
			h.logger.Warn("duplicate connection id", "conn", p.ID())
			return
		}
		h.sessions[p.ID()] = newSession(p)
		h.logger.Debug("connection registered", "conn", p.ID(), "connections", len(h.sessions))
	})
}

// Disconnect queues the connection's teardown. Requests from the same
// connection submitted earlier are handled first; nothing after it is.
func (h *Hub) Disconnect(connID string) {
	err := h.submit(context.Background(), func() {
		h.disconnect(connID, "closed")
	})
	if err != nil {
		h.logger.Debug("disconnect after hub stop", "conn", connID)
	}
}

// Result is what an ack-style request resolves to.
type Result struct {
	RoomCode       string
	WhiteboardCode string
	History        []room.Message
	MemberNames    []string

	// frames sent to the requester right after its ack
	followUps []Frame
}

// Do handles one request from connID and returns once the hub has applied
// it. For ack events the ack frame has already been queued to the peer by
// the time Do returns. Do resolves exactly once.
func (h *Hub) Do(ctx context.Context, connID string, req Request) (Result, error) {
	var (
		res    Result
		reqErr error
	)
	if err := h.call(ctx, func() {
		res, reqErr = h.dispatch(connID, req)
	}); err != nil {
		return Result{}, err
	}
	return res, reqErr
}

type Stats struct {
	Rooms       int `json:"rooms"`
	Whiteboards int `json:"whiteboards"`
	Connections int `json:"connections"`
}

func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.call(ctx, func() {
		s = Stats{
			Rooms:       h.rooms.Len(),
			Whiteboards: h.boards.Len(),
			Connections: len(h.sessions),
		}
	})
	return s, err
}

// Rooms summarizes every active room.
func (h *Hub) Rooms(ctx context.Context) ([]room.Summary, error) {
	var out []room.Summary
	err := h.call(ctx, func() { out = h.rooms.Snapshot() })
	return out, err
}

// Room summarizes one active room. ok is false when the code is unknown.
func (h *Hub) Room(ctx context.Context, code string) (sum room.Summary, ok bool, err error) {
	err = h.call(ctx, func() {
		rm, exists := h.rooms.Get(code)
		if !exists {
			return
		}
		sum, ok = rm.Summary(), true
	})
	return sum, ok, err
}

// dispatch runs on the hub goroutine. A panicking handler is reported as
// an internal error, and ack events are always answered.
func (h *Hub) dispatch(connID string, req Request) (res Result, err error) {
	s, ok := h.sessions[connID]
	if !ok {
		return Result{}, ErrNotConnected
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("handler panicked",
				"event", req.Event, "conn", connID, "panic", r, "stack", string(debug.Stack()))
			res, err = Result{}, fmt.Errorf("%s: %v: %w", req.Event, r, room.ErrInternal)
		}
		if NeedsAck(req.Event) {
			h.ack(s, req, res, err)
		}
	}()

	if req.Command == nil {
		metrics.InboundEvents.WithLabelValues("invalid").Inc()
		return Result{}, ErrInvalidRequest
	}
	metrics.InboundEvents.WithLabelValues(req.Command.Event()).Inc()

	switch cmd := req.Command.(type) {
	case CreateRoom:
		return h.createRoom(s, cmd)
	case JoinRoom:
		return h.joinRoom(s, cmd)
	case SendMessage:
		h.sendMessage(s, cmd)
	case CreateWhiteboard:
		return h.createWhiteboard(s)
	case JoinWhiteboard:
		h.joinWhiteboard(s, cmd)
	case Draw:
		h.draw(s, cmd)
	case Clear:
		h.clearBoard(s, cmd)
	case CodeUpdate:
		h.codeUpdate(s, cmd)
	default:
		return Result{}, fmt.Errorf("unhandled command %T: %w", cmd, ErrInvalidRequest)
	}
	return Result{}, nil
}

func (h *Hub) ack(s *session, req Request, res Result, err error) {
	p := AckPayload{Success: err == nil}
	if err != nil {
		p.Error = errorText(err)
	} else {
		p.RoomCode = res.RoomCode
		p.WhiteboardCode = res.WhiteboardCode
		if res.History != nil {
			p.History = viewsOf(res.History)
		}
		p.MemberNames = res.MemberNames
	}
	h.send(s.id(), Frame{Event: EventAck, ID: req.ID, Request: req.Event, Payload: p})

	if err == nil {
		for _, f := range res.followUps {
			h.send(s.id(), f)
		}
	}
}

// send queues f for one connection.
func (h *Hub) send(connID string, f Frame) {
	h.deliver(connID, encode(f))
}

func (h *Hub) deliver(connID string, frame []byte) {
	s, ok := h.sessions[connID]
	if !ok {
		return
	}
	if err := s.peer.Send(frame); err != nil {
		metrics.DroppedEvents.WithLabelValues("slow_consumer").Inc()
		h.logger.Warn("dropping connection", "conn", connID, "err", err)
		h.evicted = append(h.evicted, connID)
	}
}

// fanout delivers f to every id in recipients except skip. The frame is
// encoded once so every recipient gets identical bytes.
func (h *Hub) fanout(recipients []string, skip string, f Frame) {
	frame := encode(f)
	for _, id := range recipients {
		if id != skip {
			h.deliver(id, frame)
		}
	}
}

func memberIDs(rm *room.Room) []string {
	members := rm.Members()
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ConnID
	}
	return ids
}

func (h *Hub) record(kind, code, actor string) {
	h.journal.Record(db.Event{Kind: kind, RoomCode: code, Actor: actor})
}

// disconnect tears down a connection: it leaves its room and whiteboard
// and its peer is closed. Unknown ids are ignored.
func (h *Hub) disconnect(connID, reason string) {
	s, ok := h.sessions[connID]
	if !ok {
		return
	}
	h.leaveRoom(s)
	h.leaveWhiteboard(s)
	delete(h.sessions, connID)
	s.peer.Close()
	h.logger.Debug("connection removed", "conn", connID, "reason", reason, "connections", len(h.sessions))
}
