package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath keeps the journal inside the process; nothing survives a restart.
const MemoryPath = ":memory:"

// Activity kinds
const (
	KindRoomOpened       = "room_opened"
	KindRoomClosed       = "room_closed"
	KindMessage          = "message"
	KindWhiteboardOpened = "whiteboard_opened"
)

type Database struct {
	db     *sql.DB
	logger *slog.Logger
}

// Event is one line of room activity.
type Event struct {
	Kind     string
	RoomCode string
	Actor    string
	At       time.Time
}

// RoomSession is one lifetime of a room code, from open to close.
type RoomSession struct {
	ID       int64      `json:"id"`
	Code     string     `json:"code"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	Messages int        `json:"messages"`
}

type Stats struct {
	RoomsOpened       int `json:"rooms_opened"`
	RoomsClosed       int `json:"rooms_closed"`
	Messages          int `json:"messages"`
	WhiteboardsOpened int `json:"whiteboards_opened"`
}

func New(dbPath string, logger *slog.Logger) (*Database, error) {
	memory := dbPath == "" || dbPath == MemoryPath
	if memory {
		dbPath = MemoryPath
	} else if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if memory {
		// every pooled connection would otherwise open its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("activity journal opened", "path", dbPath)
	return &Database{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS room_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		opened_at INTEGER NOT NULL,
		closed_at INTEGER,
		messages INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_room_sessions_open ON room_sessions(code, closed_at);

	CREATE TABLE IF NOT EXISTS activity (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		room_code TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_created_at ON activity(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// RecordEvents writes a batch of events in one transaction and keeps the
// per-room session rows in step with them.
func (d *Database) RecordEvents(events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ev := range events {
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		ms := at.UnixMilli()

		if _, err := tx.Exec(
			"INSERT INTO activity (kind, room_code, actor, created_at) VALUES (?, ?, ?, ?)",
			ev.Kind, ev.RoomCode, ev.Actor, ms,
		); err != nil {
			return fmt.Errorf("insert %s: %w", ev.Kind, err)
		}

		var (
			q    string
			args []any
		)
		switch ev.Kind {
		case KindRoomOpened:
			q, args = "INSERT INTO room_sessions (code, opened_at) VALUES (?, ?)", []any{ev.RoomCode, ms}
		case KindRoomClosed:
			q, args = "UPDATE room_sessions SET closed_at = ? WHERE code = ? AND closed_at IS NULL", []any{ms, ev.RoomCode}
		case KindMessage:
			q, args = "UPDATE room_sessions SET messages = messages + 1 WHERE code = ? AND closed_at IS NULL", []any{ev.RoomCode}
		default:
			continue
		}
		if _, err := tx.Exec(q, args...); err != nil {
			return fmt.Errorf("update session for %s: %w", ev.Kind, err)
		}
	}

	return tx.Commit()
}

// ListRoomSessions returns room lifetimes, most recently opened first.
func (d *Database) ListRoomSessions(limit, offset int) ([]RoomSession, error) {
	rows, err := d.db.Query(`
		SELECT id, code, opened_at, closed_at, messages
		FROM room_sessions
		ORDER BY opened_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []RoomSession
	for rows.Next() {
		var (
			s        RoomSession
			openedAt int64
			closedAt sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.Code, &openedAt, &closedAt, &s.Messages); err != nil {
			return nil, err
		}
		s.OpenedAt = time.UnixMilli(openedAt).UTC()
		if closedAt.Valid {
			t := time.UnixMilli(closedAt.Int64).UTC()
			s.ClosedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// PruneBefore deletes activity older than cutoff together with room
// sessions that closed before it.
func (d *Database) PruneBefore(cutoff time.Time) (int64, error) {
	ms := cutoff.UnixMilli()

	res, err := d.db.Exec("DELETE FROM activity WHERE created_at < ?", ms)
	if err != nil {
		return 0, err
	}
	pruned, _ := res.RowsAffected()

	res, err = d.db.Exec("DELETE FROM room_sessions WHERE closed_at IS NOT NULL AND closed_at < ?", ms)
	if err != nil {
		return pruned, err
	}
	n, _ := res.RowsAffected()
	return pruned + n, nil
}

func (d *Database) GetStats() (Stats, error) {
	var s Stats
	err := d.db.QueryRow(`
		SELECT
			COALESCE(SUM(kind = ?), 0),
			COALESCE(SUM(kind = ?), 0),
			COALESCE(SUM(kind = ?), 0),
			COALESCE(SUM(kind = ?), 0)
		FROM activity
	`, KindRoomOpened, KindRoomClosed, KindMessage, KindWhiteboardOpened).
		Scan(&s.RoomsOpened, &s.RoomsClosed, &s.Messages, &s.WhiteboardsOpened)
	return s, err
}
