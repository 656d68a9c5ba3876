// Package codeshare keeps the last known file map of each room's shared
// code. Updates overwrite; there is no merging of concurrent edits.
package codeshare

import (
	"maps"

	"github.com/manpreetbhatti/huddle/internal/room"
)

// Update replaces either one file or, when Files is non-nil, the whole map.
type Update struct {
	Path    string            `json:"path,omitempty"`
	Content string            `json:"content,omitempty"`
	Files   map[string]string `json:"files,omitempty"`
}

// IsReplace reports whether u replaces the full file map.
func (u Update) IsReplace() bool { return u.Files != nil }

// Store is owned by the hub goroutine and is not safe for concurrent use.
type Store struct {
	docs map[string]map[string]string
}

func NewStore() *Store {
	return &Store{docs: make(map[string]map[string]string)}
}

// Apply records u for the room. Last write wins.
func (s *Store) Apply(code string, u Update) {
	code = room.NormalizeCode(code)
	if u.IsReplace() {
		s.docs[code] = maps.Clone(u.Files)
		return
	}
	if u.Path == "" {
		return
	}
	files, ok := s.docs[code]
	if !ok {
		files = make(map[string]string)
		s.docs[code] = files
	}
	files[u.Path] = u.Content
}

// Files returns a copy of the room's file map, or nil if nothing was shared.
func (s *Store) Files(code string) map[string]string {
	files, ok := s.docs[room.NormalizeCode(code)]
	if !ok || len(files) == 0 {
		return nil
	}
	return maps.Clone(files)
}

// Drop forgets a room's files; called when the room closes.
func (s *Store) Drop(code string) {
	delete(s.docs, room.NormalizeCode(code))
}

func (s *Store) Len() int { return len(s.docs) }
