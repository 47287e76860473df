package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Bharath-Thiravium/athens-sub000/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the primary durable store backed by an embedded sqlite
// database
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLite opens the database at dbPath and initializes the schema
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{conn: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the queue schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue_items (
		client_event_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		last_attempt_at TIMESTAMP,
		error TEXT NOT NULL DEFAULT '',
		event TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_items_status ON queue_items(status);
	CREATE INDEX IF NOT EXISTS idx_queue_items_created_at ON queue_items(created_at);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Put upserts an item by client event id. The upsert is a single statement,
// so a concurrent reader sees either the old row or the new one, never a
// partial write.
func (s *SQLiteStore) Put(item *models.QueueItem) error {
	eventJSON, err := json.Marshal(item.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var lastAttempt any
	if item.LastAttemptAt != nil {
		lastAttempt = item.LastAttemptAt.UTC()
	}

	_, err = s.conn.Exec(`
		INSERT INTO queue_items (client_event_id, status, attempts, created_at, last_attempt_at, error, event)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_event_id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			created_at = excluded.created_at,
			last_attempt_at = excluded.last_attempt_at,
			error = excluded.error,
			event = excluded.event`,
		item.Event.ClientEventID, string(item.Status), item.Attempts,
		item.CreatedAt.UTC(), lastAttempt, item.Error, string(eventJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to put queue item: %w", err)
	}

	return nil
}

// Get retrieves an item by client event id, nil if not found
func (s *SQLiteStore) Get(clientEventID string) (*models.QueueItem, error) {
	row := s.conn.QueryRow(`
		SELECT status, attempts, created_at, last_attempt_at, error, event
		FROM queue_items WHERE client_event_id = ?`, clientEventID)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}

	return item, nil
}

// ListByStatus retrieves all items with the given status, oldest first
func (s *SQLiteStore) ListByStatus(status models.Status) ([]models.QueueItem, error) {
	rows, err := s.conn.Query(`
		SELECT status, attempts, created_at, last_attempt_at, error, event
		FROM queue_items WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}

	return items, nil
}

// Delete removes an item by client event id. Deleting a missing id is not an
// error.
func (s *SQLiteStore) Delete(clientEventID string) error {
	_, err := s.conn.Exec("DELETE FROM queue_items WHERE client_event_id = ?", clientEventID)
	if err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.QueueItem, error) {
	var (
		item        models.QueueItem
		status      string
		createdAt   time.Time
		lastAttempt sql.NullTime
		eventJSON   string
	)

	err := row.Scan(&status, &item.Attempts, &createdAt, &lastAttempt, &item.Error, &eventJSON)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(eventJSON), &item.Event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	item.Status = models.Status(status)
	item.CreatedAt = createdAt
	if lastAttempt.Valid {
		t := lastAttempt.Time
		item.LastAttemptAt = &t
	}

	return &item, nil
}
