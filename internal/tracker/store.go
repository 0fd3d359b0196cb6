package tracker

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"omc/internal/logging"
	"omc/internal/state"
)

const (
	docFileName  = "subagent-tracking.json"
	lockFileName = "subagent-tracker.lock"
)

// DocPath returns the tracking document path for a working directory.
func DocPath(cwd string) string {
	return filepath.Join(state.Dir(cwd), docFileName)
}

func lockPath(cwd string) string {
	return filepath.Join(state.Dir(cwd), lockFileName)
}

// LoadDocument reads the tracking document. Any read failure yields an empty
// document; the tracker never refuses to record because of a bad file.
func LoadDocument(cwd string) *Document {
	doc := NewDocument()
	if err := state.ReadJSON(DocPath(cwd), doc); err != nil {
		return NewDocument()
	}
	if doc.Agents == nil {
		doc.Agents = map[string]*AgentRecord{}
	}
	return doc
}

// merge combines the pending in-memory document with the current disk state.
// For duplicate agent ids the copy with the larger (completed_at, started_at)
// wins, counters take the element-wise maximum, and last_updated takes the
// lexicographic maximum. merge never loses a record present on either side.
func merge(disk, pending *Document) *Document {
	out := NewDocument()
	out.SessionID = pending.SessionID
	if out.SessionID == "" {
		out.SessionID = disk.SessionID
	}
	out.TotalSpawned = max(disk.TotalSpawned, pending.TotalSpawned)
	out.TotalCompleted = max(disk.TotalCompleted, pending.TotalCompleted)
	out.TotalFailed = max(disk.TotalFailed, pending.TotalFailed)
	out.LastUpdated = disk.LastUpdated
	if pending.LastUpdated > out.LastUpdated {
		out.LastUpdated = pending.LastUpdated
	}

	for id, rec := range disk.Agents {
		out.Agents[id] = rec
	}
	for id, rec := range pending.Agents {
		existing, ok := out.Agents[id]
		if !ok || rec.freshness() >= existing.freshness() {
			out.Agents[id] = rec
		}
	}
	return out
}

// Store owns the tracking document for one process. Updates within an
// invocation are coalesced with a short debounce timer; Flush pushes the
// pending state to disk through the file lock, merging with whatever other
// processes wrote meanwhile. There is no unlocked write path.
type Store struct {
	cwd    string
	logger logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending *Document
	timer   *time.Timer
}

// NewStore creates a store for a working directory.
func NewStore(cwd string, logger logging.Logger) *Store {
	return &Store{
		cwd:    cwd,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// Update applies fn to the pending document, seeding it from disk on the
// first update of this invocation, and schedules a debounced flush.
func (s *Store) Update(fn func(*Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = LoadDocument(s.cwd)
	}
	fn(s.pending)
	s.pending.LastUpdated = s.now().UTC().Format(time.RFC3339)
	s.scheduleFlushLocked()
}

// scheduleFlushLocked arms the debounce timer. Callers hold s.mu.
func (s *Store) scheduleFlushLocked() {
	if s.timer != nil {
		s.timer.Reset(debounceInterval)
		return
	}
	s.timer = time.AfterFunc(debounceInterval, func() {
		if err := s.Flush(); err != nil {
			s.logger.Warn("tracker flush failed: %v", err)
		}
	})
}

// Flush writes the pending document now, merged with current disk state under
// the file lock. Hook commands call this before exiting; the debounce timer
// only matters when one invocation performs several updates.
func (s *Store) Flush() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if pending == nil {
		return nil
	}
	if _, err := state.EnsureDir(s.cwd); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < lockRetries; attempt++ {
		lastErr = state.WithFileLock(lockPath(s.cwd), func() error {
			merged := merge(LoadDocument(s.cwd), pending)
			return state.WriteJSON(DocPath(s.cwd), merged)
		})
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("tracker write: %w", lastErr)
}
