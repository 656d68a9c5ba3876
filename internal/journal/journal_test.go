package journal

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/huddle/internal/db"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(db.MemoryPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_StopFlushesQueue(t *testing.T) {
	database := newTestDB(t)
	s := New(database, Config{QueueSize: 16, BatchSize: 4, PruneInterval: time.Hour}, quietLogger())

	// queued before the writer runs; Stop must still persist all of it
	s.Record(db.Event{Kind: db.KindRoomOpened, RoomCode: "AB12CD"})
	s.Record(db.Event{Kind: db.KindMessage, RoomCode: "AB12CD", Actor: "Alice"})
	s.Record(db.Event{Kind: db.KindMessage, RoomCode: "AB12CD", Actor: "Bob"})

	s.Start()
	s.Stop()

	stats, err := database.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RoomsOpened)
	assert.Equal(t, 2, stats.Messages)
}

func TestService_WritesWhileRunning(t *testing.T) {
	database := newTestDB(t)
	s := New(database, Config{PruneInterval: time.Hour}, quietLogger())
	s.Start()
	defer s.Stop()

	s.Record(db.Event{Kind: db.KindWhiteboardOpened, RoomCode: "WB0001"})

	assert.Eventually(t, func() bool {
		stats, err := database.GetStats()
		return err == nil && stats.WhiteboardsOpened == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_DropsWhenFull(t *testing.T) {
	database := newTestDB(t)
	s := New(database, Config{QueueSize: 2, PruneInterval: time.Hour}, quietLogger())

	for i := 0; i < 5; i++ {
		s.Record(db.Event{Kind: db.KindMessage, RoomCode: "AB12CD"})
	}
	assert.Len(t, s.queue, 2)

	s.Start()
	s.Stop()

	stats, err := database.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Messages)
}

func TestService_PruneNow(t *testing.T) {
	database := newTestDB(t)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, database.RecordEvents([]db.Event{
		{Kind: db.KindRoomOpened, RoomCode: "OLD000", At: old},
		{Kind: db.KindRoomOpened, RoomCode: "NEW000"},
	}))

	s := New(database, Config{Retention: time.Hour, PruneInterval: time.Hour}, quietLogger())
	s.PruneNow()

	stats, err := database.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RoomsOpened)
}

func TestService_ZeroRetentionKeepsEverything(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, database.RecordEvents([]db.Event{
		{Kind: db.KindRoomOpened, RoomCode: "OLD000", At: time.Now().Add(-24 * 365 * time.Hour)},
	}))

	s := New(database, Config{PruneInterval: time.Hour}, quietLogger())
	s.PruneNow()

	stats, err := database.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RoomsOpened)
}

func TestNew_AppliesDefaults(t *testing.T) {
	s := New(newTestDB(t), Config{}, quietLogger())
	def := DefaultConfig()
	assert.Equal(t, def.QueueSize, cap(s.queue))
	assert.Equal(t, def.BatchSize, s.config.BatchSize)
	assert.Equal(t, def.PruneInterval, s.config.PruneInterval)
	assert.Zero(t, s.config.Retention)
}
