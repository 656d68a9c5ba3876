package room

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/segmentio/ksuid"
)

const (
	// SystemSender is the sender name on messages produced by the server.
	SystemSender = "system"

	// DefaultName replaces an empty display name.
	DefaultName = "Anonymous"

	MaxNameLength = 64
)

// A chat message. Immutable once appended to a room.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage stamps text with a fresh id and the current UTC time.
func NewMessage(sender, text string) Message {
	return Message{
		ID:        ksuid.New().String(),
		Text:      text,
		Sender:    sender,
		Timestamp: time.Now().UTC(),
	}
}

type Member struct {
	ConnID string
	Name   string
}

// A chat room: members in join order plus the message history.
type Room struct {
	Code      string
	CreatedAt time.Time

	members []Member
	history []Message
}

func newRoom(code string) *Room {
	return &Room{
		Code:      code,
		CreatedAt: time.Now().UTC(),
		members:   make([]Member, 0, 4),
		history:   make([]Message, 0, 16),
	}
}

// MemberNames is the presence view: display names ordered by join order.
func (r *Room) MemberNames() []string {
	names := make([]string, len(r.members))
	for i, m := range r.members {
		names[i] = m.Name
	}
	return names
}

// Members returns a copy of the member list.
func (r *Room) Members() []Member {
	members := make([]Member, len(r.members))
	copy(members, r.members)
	return members
}

// History returns a copy of the message history, oldest first.
func (r *Room) History() []Message {
	history := make([]Message, len(r.history))
	copy(history, r.history)
	return history
}

func (r *Room) Len() int { return len(r.members) }

func (r *Room) HasMember(connID string) bool {
	return r.indexOf(connID) >= 0
}

// NameOf returns the display name connID joined with.
func (r *Room) NameOf(connID string) (string, bool) {
	if i := r.indexOf(connID); i >= 0 {
		return r.members[i].Name, true
	}
	return "", false
}

func (r *Room) indexOf(connID string) int {
	for i, m := range r.members {
		if m.ConnID == connID {
			return i
		}
	}
	return -1
}

// upsert adds connID or renames it in place.
func (r *Room) upsert(connID, name string) {
	if i := r.indexOf(connID); i >= 0 {
		r.members[i].Name = name
		return
	}
	r.members = append(r.members, Member{ConnID: connID, Name: name})
}

func (r *Room) remove(connID string) (Member, bool) {
	i := r.indexOf(connID)
	if i < 0 {
		return Member{}, false
	}
	m := r.members[i]
	r.members = append(r.members[:i], r.members[i+1:]...)
	return m, true
}

// append keeps every message for the lifetime of the room.
func (r *Room) append(msg Message) {
	r.history = append(r.history, msg)
}

// CleanName trims a display name, applies the default and caps its length.
func CleanName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		runes := []rune(name)
		name = string(runes[:MaxNameLength])
	}
	return name
}
