package core

import (
	"errors"
	"sync"

	"fetchbridge/logger"
	"fetchbridge/models"
)

var (
	ErrLogEntryNotFound = errors.New("log entry not found")
	ErrLogEntryFinal    = errors.New("log entry already final")
)

// BroadcastFunc is told about every audit log mutation. It must not block.
type BroadcastFunc func(models.LogEvent)

// LogPersister mirrors the in-memory audit log to durable storage.
type LogPersister interface {
	InsertLogEntry(entry models.LogEntry) error
	UpdateLogEntry(entry models.LogEntry) error
	TrimLogEntries(keep int) error
	ClearLogEntries() error
}

// LogStore keeps audit entries newest-first, bounded by the maxEntries passed
// to each Append.
type LogStore struct {
	mu      sync.Mutex
	entries []models.LogEntry
	persist LogPersister
}

func NewLogStore(persist LogPersister) *LogStore {
	return &LogStore{persist: persist}
}

// Load replaces the contents with entries, which must be newest-first.
func (s *LogStore) Load(entries []models.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make([]models.LogEntry, 0, len(entries))
	for _, e := range entries {
		s.entries = append(s.entries, e.Clone())
	}
}

func (s *LogStore) Append(entry models.LogEntry, maxEntries int, broadcast BroadcastFunc) {
	s.mu.Lock()
	s.entries = append([]models.LogEntry{entry.Clone()}, s.entries...)
	trimmed := false
	if maxEntries > 0 && len(s.entries) > maxEntries {
		s.entries = s.entries[:maxEntries]
		trimmed = true
	}
	snapshot := entry.Clone()
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.InsertLogEntry(snapshot); err != nil {
			logger.BridgeError("AuditLog: persisting entry %s: %v", snapshot.ID, err)
		}
		if trimmed {
			if err := s.persist.TrimLogEntries(maxEntries); err != nil {
				logger.BridgeError("AuditLog: trimming persisted entries to %d: %v", maxEntries, err)
			}
		}
	}
	notify(broadcast, models.LogEvent{Type: models.LogEventAppended, Entry: &snapshot})
}

// Update applies patch to the pending entry with the given id. Entries that
// already reached a terminal state are never modified.
func (s *LogStore) Update(id string, patch func(*models.LogEntry), broadcast BroadcastFunc) error {
	s.mu.Lock()
	idx := -1
	for i := range s.entries {
		if s.entries[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrLogEntryNotFound
	}
	if !s.entries[idx].Pending {
		s.mu.Unlock()
		return ErrLogEntryFinal
	}
	patch(&s.entries[idx])
	s.entries[idx].ID = id
	s.entries[idx] = s.entries[idx].Clone()
	snapshot := s.entries[idx].Clone()
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.UpdateLogEntry(snapshot); err != nil {
			logger.BridgeError("AuditLog: persisting update of %s: %v", id, err)
		}
	}
	notify(broadcast, models.LogEvent{Type: models.LogEventUpdated, Entry: &snapshot})
	return nil
}

func (s *LogStore) Clear(broadcast BroadcastFunc) {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.ClearLogEntries(); err != nil {
			logger.BridgeError("AuditLog: clearing persisted entries: %v", err)
		}
	}
	notify(broadcast, models.LogEvent{Type: models.LogEventCleared})
}

// List returns copies, newest first.
func (s *LogStore) List() []models.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LogEntry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Clone()
	}
	return out
}

func (s *LogStore) Get(id string) (models.LogEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e.Clone(), true
		}
	}
	return models.LogEntry{}, false
}

func (s *LogStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func notify(broadcast BroadcastFunc, ev models.LogEvent) {
	if broadcast != nil {
		broadcast(ev)
	}
}
