package room

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrInternal     = errors.New("internal error")
)

// Attempts at finding a free code before Create gives up.
const maxCodeAttempts = 8

// Registry maps room codes to rooms and connections to the room they are in.
//
// A Registry is not safe for concurrent use. The hub goroutine owns it and
// serializes every call, which is what keeps a room's membership change and
// its deletion indivisible.
type Registry struct {
	rooms   map[string]*Room
	byConn  map[string]string
	newCode CodeFunc
}

type Option func(*Registry)

// WithCodeFunc replaces the code generator.
func WithCodeFunc(fn CodeFunc) Option {
	return func(r *Registry) { r.newCode = fn }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:   make(map[string]*Room),
		byConn:  make(map[string]string),
		newCode: NewCode,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create opens a room whose only member is connID and seeds its history
// with a welcome message. The connection must not be in a room.
func (r *Registry) Create(connID, displayName string) (*Room, error) {
	code, err := r.Allocate()
	if err != nil {
		return nil, err
	}
	return r.Open(code, connID, displayName)
}

// Open creates the room for a code returned by Allocate.
func (r *Registry) Open(code, connID, displayName string) (*Room, error) {
	if current, bound := r.byConn[connID]; bound {
		return nil, fmt.Errorf("connection still in room %s: %w", current, ErrInternal)
	}
	code = NormalizeCode(code)
	if _, taken := r.rooms[code]; taken || code == "" {
		return nil, fmt.Errorf("room code %q unavailable: %w", code, ErrInternal)
	}

	rm := newRoom(code)
	rm.upsert(connID, CleanName(displayName))
	rm.append(NewMessage(SystemSender, fmt.Sprintf("Welcome to room %s! Share this code to invite others.", code)))

	r.rooms[code] = rm
	r.byConn[connID] = code
	return rm, nil
}

// Allocate picks a code no active room uses. It changes nothing, so a
// caller can leave its current room only once a code is secured.
func (r *Registry) Allocate() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := NormalizeCode(r.newCode())
		if code == "" {
			continue
		}
		if _, taken := r.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free room code after %d attempts: %w", maxCodeAttempts, ErrInternal)
}

// Join adds connID to the room with the given code in any letter case.
// Joining a room the connection is already in only updates its name; a
// connection bound to a different room must Leave it first.
func (r *Registry) Join(code, connID, displayName string) (*Room, error) {
	rm, ok := r.rooms[NormalizeCode(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if current, bound := r.byConn[connID]; bound && current != rm.Code {
		return nil, fmt.Errorf("connection still in room %s: %w", current, ErrInternal)
	}
	rm.upsert(connID, CleanName(displayName))
	r.byConn[connID] = rm.Code
	return rm, nil
}

type LeaveResult struct {
	Code        string
	Name        string
	MemberNames []string
	Closed      bool
}

// Leave removes connID from its room, deleting the room when it empties.
// ok is false when the connection was not in a room.
func (r *Registry) Leave(connID string) (res LeaveResult, ok bool) {
	code, bound := r.byConn[connID]
	if !bound {
		return LeaveResult{}, false
	}
	delete(r.byConn, connID)

	rm, exists := r.rooms[code]
	if !exists {
		return LeaveResult{}, false
	}
	m, removed := rm.remove(connID)
	if !removed {
		return LeaveResult{}, false
	}

	res = LeaveResult{Code: code, Name: m.Name, MemberNames: rm.MemberNames()}
	if rm.Len() == 0 {
		delete(r.rooms, code)
		res.Closed = true
	}
	return res, true
}

// Append adds msg to the room's history. It reports false, and does
// nothing, when the room no longer exists.
func (r *Registry) Append(code string, msg Message) bool {
	rm, ok := r.rooms[NormalizeCode(code)]
	if !ok {
		return false
	}
	rm.append(msg)
	return true
}

func (r *Registry) Get(code string) (*Room, bool) {
	rm, ok := r.rooms[NormalizeCode(code)]
	return rm, ok
}

// RoomOf returns the room connID is currently a member of.
func (r *Registry) RoomOf(connID string) (*Room, bool) {
	code, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	return r.Get(code)
}

func (r *Registry) Len() int { return len(r.rooms) }

type Summary struct {
	Code      string    `json:"code"`
	Members   int       `json:"members"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Room) Summary() Summary {
	return Summary{
		Code:      r.Code,
		Members:   r.Len(),
		Messages:  len(r.history),
		CreatedAt: r.CreatedAt,
	}
}

// Snapshot summarizes every active room, sorted by code.
func (r *Registry) Snapshot() []Summary {
	out := make([]Summary, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
