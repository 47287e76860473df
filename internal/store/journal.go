package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/Bharath-Thiravium/athens-sub000/internal/models"
)

// journalRecord is one line in the append-only journal file
type journalRecord struct {
	Op            string            `json:"op"` // put, delete
	ClientEventID string            `json:"client_event_id"`
	Item          *models.QueueItem `json:"item,omitempty"`
}

// JournalStore is the degraded fallback store: an in-memory map backed by an
// append-only JSON-lines log. Durability is best-effort — every write is
// appended and flushed, but there is no fsync and no atomic rename. It exists
// so the queue keeps working when the sqlite engine cannot initialize.
type JournalStore struct {
	mu    sync.Mutex
	items map[string]models.QueueItem
	file  *os.File
}

// OpenJournal opens the journal at path, replaying any existing log into
// memory and compacting it back out.
func OpenJournal(path string) (*JournalStore, error) {
	items, err := replayJournal(path)
	if err != nil {
		return nil, err
	}

	// Compact: rewrite the log as one put per live item
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	j := &JournalStore{items: items, file: file}
	for id := range items {
		item := items[id]
		if err := j.appendRecord(journalRecord{Op: "put", ClientEventID: id, Item: &item}); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to compact journal: %w", err)
		}
	}

	return j, nil
}

// newMemoryJournal returns a journal store with no backing file at all, the
// last resort when no local path is writable
func newMemoryJournal() *JournalStore {
	return &JournalStore{items: make(map[string]models.QueueItem)}
}

func replayJournal(path string) (map[string]models.QueueItem, error) {
	items := make(map[string]models.QueueItem)

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec journalRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// Torn tail write from a crash; ignore and keep replaying
			continue
		}

		switch rec.Op {
		case "put":
			if rec.Item != nil {
				items[rec.ClientEventID] = *rec.Item
			}
		case "delete":
			delete(items, rec.ClientEventID)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to replay journal: %w", err)
	}

	return items, nil
}

func (j *JournalStore) appendRecord(rec journalRecord) error {
	if j.file == nil {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal journal record: %w", err)
	}
	data = append(data, '\n')

	if _, err := j.file.Write(data); err != nil {
		return fmt.Errorf("failed to append journal record: %w", err)
	}
	return nil
}

// Put upserts an item by client event id
func (j *JournalStore) Put(item *models.QueueItem) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.items[item.Event.ClientEventID] = *item
	return j.appendRecord(journalRecord{
		Op:            "put",
		ClientEventID: item.Event.ClientEventID,
		Item:          item,
	})
}

// Get retrieves an item by client event id, nil if not found
func (j *JournalStore) Get(clientEventID string) (*models.QueueItem, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	item, ok := j.items[clientEventID]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

// ListByStatus retrieves all items with the given status, oldest first
func (j *JournalStore) ListByStatus(status models.Status) ([]models.QueueItem, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var items []models.QueueItem
	for _, item := range j.items {
		if item.Status == status {
			items = append(items, item)
		}
	}

	sort.Slice(items, func(a, b int) bool {
		return items[a].CreatedAt.Before(items[b].CreatedAt)
	})

	return items, nil
}

// Delete removes an item by client event id
func (j *JournalStore) Delete(clientEventID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	delete(j.items, clientEventID)
	return j.appendRecord(journalRecord{Op: "delete", ClientEventID: clientEventID})
}

// Close closes the journal file
func (j *JournalStore) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
