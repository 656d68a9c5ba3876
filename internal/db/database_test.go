package db

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "huddle-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := New(dbPath, testLogger())
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func TestDatabaseCreation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if db == nil {
		t.Fatal("Database should not be nil")
	}
}

func TestInMemoryDatabase(t *testing.T) {
	db, err := New(MemoryPath, testLogger())
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	defer db.Close()

	if err := db.RecordEvents([]Event{{Kind: KindRoomOpened, RoomCode: "AB12CD"}}); err != nil {
		t.Fatalf("Failed to record events: %v", err)
	}

	// a second query must see the same database, not a fresh one
	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.RoomsOpened != 1 {
		t.Errorf("Expected 1 room opened, got %d", stats.RoomsOpened)
	}
}

func TestRoomSessionLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	events := []Event{
		{Kind: KindRoomOpened, RoomCode: "AB12CD", Actor: "Alice", At: now},
		{Kind: KindMessage, RoomCode: "AB12CD", Actor: "Alice", At: now},
		{Kind: KindMessage, RoomCode: "AB12CD", Actor: "Bob", At: now},
		{Kind: KindRoomClosed, RoomCode: "AB12CD", At: now.Add(time.Minute)},
	}
	if err := db.RecordEvents(events); err != nil {
		t.Fatalf("Failed to record events: %v", err)
	}

	sessions, err := db.ListRoomSessions(10, 0)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}

	s := sessions[0]
	if s.Code != "AB12CD" {
		t.Errorf("Expected code 'AB12CD', got '%s'", s.Code)
	}
	if s.Messages != 2 {
		t.Errorf("Expected 2 messages, got %d", s.Messages)
	}
	if s.ClosedAt == nil {
		t.Fatal("Session should be closed")
	}
	if !s.ClosedAt.After(s.OpenedAt) {
		t.Error("Session should close after it opened")
	}
}

func TestReopenedCodeIsNewSession(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	base := time.Now()
	err := db.RecordEvents([]Event{
		{Kind: KindRoomOpened, RoomCode: "AAAAAA", At: base},
		{Kind: KindRoomClosed, RoomCode: "AAAAAA", At: base.Add(time.Second)},
		{Kind: KindRoomOpened, RoomCode: "AAAAAA", At: base.Add(2 * time.Second)},
		{Kind: KindMessage, RoomCode: "AAAAAA", At: base.Add(3 * time.Second)},
	})
	if err != nil {
		t.Fatalf("Failed to record events: %v", err)
	}

	sessions, err := db.ListRoomSessions(10, 0)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ClosedAt != nil || sessions[0].Messages != 1 {
		t.Errorf("Newest session should be open with 1 message, got %+v", sessions[0])
	}
	if sessions[1].ClosedAt == nil || sessions[1].Messages != 0 {
		t.Errorf("Oldest session should be closed with 0 messages, got %+v", sessions[1])
	}
}

func TestGetStats(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats != (Stats{}) {
		t.Errorf("Expected empty stats, got %+v", stats)
	}

	db.RecordEvents([]Event{
		{Kind: KindRoomOpened, RoomCode: "AAAAAA"},
		{Kind: KindRoomOpened, RoomCode: "BBBBBB"},
		{Kind: KindMessage, RoomCode: "AAAAAA"},
		{Kind: KindWhiteboardOpened, RoomCode: "CCCCCC"},
		{Kind: KindRoomClosed, RoomCode: "BBBBBB"},
	})

	stats, err = db.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	want := Stats{RoomsOpened: 2, RoomsClosed: 1, Messages: 1, WhiteboardsOpened: 1}
	if stats != want {
		t.Errorf("Expected %+v, got %+v", want, stats)
	}
}

func TestPruneBefore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()
	db.RecordEvents([]Event{
		{Kind: KindRoomOpened, RoomCode: "OLD000", At: old},
		{Kind: KindRoomClosed, RoomCode: "OLD000", At: old.Add(time.Minute)},
		{Kind: KindRoomOpened, RoomCode: "NEW000", At: recent},
	})

	pruned, err := db.PruneBefore(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	// two activity rows plus one closed session
	if pruned != 3 {
		t.Errorf("Expected 3 rows pruned, got %d", pruned)
	}

	sessions, _ := db.ListRoomSessions(10, 0)
	if len(sessions) != 1 || sessions[0].Code != "NEW000" {
		t.Errorf("Expected only NEW000 to remain, got %+v", sessions)
	}
}

func TestRecordEventsEmptyBatch(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.RecordEvents(nil); err != nil {
		t.Errorf("Empty batch should be a no-op, got %v", err)
	}
}
