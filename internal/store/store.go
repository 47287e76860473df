package store

import (
	"log/slog"

	"github.com/Bharath-Thiravium/athens-sub000/internal/models"
)

// Store persists queue items across restarts, keyed by client event id and
// indexed by status. Put upserts atomically; a partially written item must
// never be observable.
type Store interface {
	Put(item *models.QueueItem) error
	Get(clientEventID string) (*models.QueueItem, error)
	ListByStatus(status models.Status) ([]models.QueueItem, error)
	Delete(clientEventID string) error
	Close() error
}

// Open opens the primary sqlite store at path. If the engine fails to
// initialize it falls back to a flat journal store beside it, trading
// durability guarantees for a queue that keeps functioning.
func Open(path string, logger *slog.Logger) Store {
	s, err := OpenSQLite(path)
	if err == nil {
		return s
	}

	logger.Warn("primary store unavailable, falling back to journal store",
		"path", path, "error", err)

	j, jerr := OpenJournal(path + ".journal")
	if jerr != nil {
		logger.Error("journal store unavailable, queue is memory-only",
			"path", path+".journal", "error", jerr)
		return newMemoryJournal()
	}

	return j
}
