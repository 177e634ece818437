// Package history persists rooms, messages, and edit logs to SQLite so a
// relay restart does not lose what rooms existed or what was said in them.
//
// SQLite allows concurrent readers but only one writer, so all writes are
// funneled through a single goroutine; reads go straight to the pool.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"roomsync/pkg/types"
)

const (
	writeQueueSize = 100
	writeTimeout   = 30 * time.Second
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		member_ids  TEXT NOT NULL DEFAULT '[]',
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id        TEXT PRIMARY KEY,
		room_id   TEXT NOT NULL,
		kind      TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		content   TEXT NOT NULL,
		sent_at   DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS edits (
		id         TEXT PRIMARY KEY,
		room_id    TEXT NOT NULL,
		log_index  INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		position   INTEGER NOT NULL,
		length     INTEGER NOT NULL,
		content    TEXT NOT NULL,
		author_id  TEXT NOT NULL,
		based_on   INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room_time ON messages (room_id, sent_at)`,
	`CREATE INDEX IF NOT EXISTS idx_edits_room_index ON edits (room_id, log_index)`,
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA busy_timeout = 5000",
}

// Archive is the relay's durable record of rooms and their traffic.
type Archive struct {
	db     *sql.DB
	writes chan writeOp

	shutdown chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOp struct {
	fn     func(*sql.DB) error
	result chan error
}

// Open opens or creates the archive at path and brings the schema up to
// date.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	a := &Archive{
		db:       db,
		writes:   make(chan writeOp, writeQueueSize),
		shutdown: make(chan struct{}),
	}
	a.wg.Add(1)
	go a.writeLoop()
	return a, nil
}

// writeLoop serializes all writes. A failed write is retried once before
// the error is reported back to the caller.
func (a *Archive) writeLoop() {
	defer a.wg.Done()
	for {
		select {
		case op := <-a.writes:
			err := op.fn(a.db)
			if err != nil {
				log.Printf("Archive write failed, retrying: %v", err)
				err = op.fn(a.db)
			}
			op.result <- err
		case <-a.shutdown:
			return
		}
	}
}

func (a *Archive) executeWrite(fn func(*sql.DB) error) error {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return ErrArchiveClosed
	}
	a.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case a.writes <- writeOp{fn: fn, result: result}:
		return <-result
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-a.shutdown:
		return ErrArchiveClosed
	}
}

// SaveRoom inserts or replaces the room row.
func (a *Archive) SaveRoom(ctx context.Context, room types.Room) error {
	return a.executeWrite(func(db *sql.DB) error {
		memberIDs, err := json.Marshal(room.MemberIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal member IDs: %w", err)
		}
		_, err = db.ExecContext(ctx, `
			INSERT OR REPLACE INTO rooms (id, name, description, member_ids, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, room.ID, room.Name, room.Description, string(memberIDs), room.CreatedAt, room.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to save room: %w", err)
		}
		return nil
	})
}

// GetRoom loads one room.
func (a *Archive) GetRoom(ctx context.Context, roomID string) (*types.Room, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, name, description, member_ids, created_at, updated_at
		FROM rooms WHERE id = ?
	`, roomID)

	var room types.Room
	var memberIDs string
	err := row.Scan(&room.ID, &room.Name, &room.Description, &memberIDs, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	if err := json.Unmarshal([]byte(memberIDs), &room.MemberIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal member IDs: %w", err)
	}
	return &room, nil
}

// ListRooms returns all archived rooms, most recently updated first.
func (a *Archive) ListRooms(ctx context.Context) ([]*types.Room, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, name, description, member_ids, created_at, updated_at
		FROM rooms ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []*types.Room
	for rows.Next() {
		var room types.Room
		var memberIDs string
		if err := rows.Scan(&room.ID, &room.Name, &room.Description, &memberIDs, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		if err := json.Unmarshal([]byte(memberIDs), &room.MemberIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal member IDs: %w", err)
		}
		rooms = append(rooms, &room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}
	return rooms, nil
}

// DeleteRoom removes a room and everything archived under it.
func (a *Archive) DeleteRoom(ctx context.Context, roomID string) error {
	return a.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, stmt := range []string{
			`DELETE FROM messages WHERE room_id = ?`,
			`DELETE FROM edits WHERE room_id = ?`,
			`DELETE FROM rooms WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, roomID); err != nil {
				return fmt.Errorf("failed to delete room data: %w", err)
			}
		}
		return tx.Commit()
	})
}

// SaveMessage archives one chat message.
func (a *Archive) SaveMessage(ctx context.Context, msg types.Message) error {
	return a.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT OR REPLACE INTO messages (id, room_id, kind, sender_id, content, sent_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.RoomID, msg.Kind, msg.SenderID, msg.Content, msg.SentAt)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		return nil
	})
}

// RoomMessages returns a room's messages in chronological order. A limit
// of zero means no limit.
func (a *Archive) RoomMessages(ctx context.Context, roomID string, limit int) ([]*types.Message, error) {
	query := `
		SELECT id, room_id, kind, sender_id, content, sent_at
		FROM messages WHERE room_id = ? ORDER BY sent_at ASC
	`
	args := []interface{}{roomID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		var msg types.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Kind, &msg.SenderID, &msg.Content, &msg.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// SaveEdit archives an edit at its position in the room's log.
func (a *Archive) SaveEdit(ctx context.Context, roomID string, logIndex int, edit types.Edit) error {
	return a.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT OR REPLACE INTO edits
				(id, room_id, log_index, kind, position, length, content, author_id, based_on, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, edit.ID, roomID, logIndex, edit.Kind, edit.Position, edit.Length,
			edit.Content, edit.AuthorID, edit.BasedOn, edit.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to save edit: %w", err)
		}
		return nil
	})
}

// RoomEdits returns a room's edit log in log order, suitable for replay.
func (a *Archive) RoomEdits(ctx context.Context, roomID string) ([]types.Edit, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, kind, position, length, content, author_id, based_on, created_at
		FROM edits WHERE room_id = ? ORDER BY log_index ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edits []types.Edit
	for rows.Next() {
		var edit types.Edit
		if err := rows.Scan(&edit.ID, &edit.Kind, &edit.Position, &edit.Length,
			&edit.Content, &edit.AuthorID, &edit.BasedOn, &edit.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan edit row: %w", err)
		}
		edits = append(edits, edit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edit rows: %w", err)
	}
	return edits, nil
}

// HealthCheck validates connectivity and a basic read.
func (a *Archive) HealthCheck(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("archive ping failed: %w", err)
	}
	var n int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&n); err != nil {
		return fmt.Errorf("archive read test failed: %w", err)
	}
	return nil
}

// Close drains the write loop and closes the database.
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.shutdown)
	a.wg.Wait()

	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	return nil
}
