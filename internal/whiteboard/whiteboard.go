// Package whiteboard tracks whiteboard sessions: a code and the set of
// connections drawing on it. Strokes themselves are never stored.
package whiteboard

import (
	"fmt"
	"sort"

	"github.com/manpreetbhatti/huddle/internal/room"
)

const maxCodeAttempts = 8

type board struct {
	code         string
	participants map[string]struct{}
}

// Boards is owned by the hub goroutine and is not safe for concurrent use.
type Boards struct {
	boards  map[string]*board
	byConn  map[string]string
	newCode room.CodeFunc
}

func New(newCode room.CodeFunc) *Boards {
	if newCode == nil {
		newCode = room.NewCode
	}
	return &Boards{
		boards:  make(map[string]*board),
		byConn:  make(map[string]string),
		newCode: newCode,
	}
}

// Create opens a whiteboard with connID as its only participant. A
// connection already on another whiteboard is moved off it first.
func (b *Boards) Create(connID string) (string, error) {
	var code string
	for i := 0; i < maxCodeAttempts; i++ {
		c := room.NormalizeCode(b.newCode())
		if _, taken := b.boards[c]; c != "" && !taken {
			code = c
			break
		}
	}
	if code == "" {
		return "", fmt.Errorf("no free whiteboard code after %d attempts: %w", maxCodeAttempts, room.ErrInternal)
	}

	b.Leave(connID)
	b.boards[code] = &board{code: code, participants: map[string]struct{}{connID: {}}}
	b.byConn[connID] = code
	return code, nil
}

// Join adds connID to an existing whiteboard. Unknown codes are ignored
// and reported as false.
func (b *Boards) Join(code, connID string) bool {
	bd, ok := b.boards[room.NormalizeCode(code)]
	if !ok {
		return false
	}
	if current, bound := b.byConn[connID]; bound && current != bd.code {
		b.Leave(connID)
	}
	bd.participants[connID] = struct{}{}
	b.byConn[connID] = bd.code
	return true
}

// Leave takes connID off its whiteboard and deletes the board once nobody
// is left on it. It returns the code left, if any.
func (b *Boards) Leave(connID string) (string, bool) {
	code, ok := b.byConn[connID]
	if !ok {
		return "", false
	}
	delete(b.byConn, connID)
	if bd, exists := b.boards[code]; exists {
		delete(bd.participants, connID)
		if len(bd.participants) == 0 {
			delete(b.boards, code)
		}
	}
	return code, true
}

// Participants lists connection ids on the board, sorted for stable fan-out.
func (b *Boards) Participants(code string) []string {
	bd, ok := b.boards[room.NormalizeCode(code)]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(bd.participants))
	for id := range bd.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b *Boards) Exists(code string) bool {
	_, ok := b.boards[room.NormalizeCode(code)]
	return ok
}

func (b *Boards) BoardOf(connID string) (string, bool) {
	code, ok := b.byConn[connID]
	return code, ok
}

func (b *Boards) Len() int { return len(b.boards) }
