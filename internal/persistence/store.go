package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/taskforge/engine/internal/events"
)

const (
	stateFileName = "queue-state.json"
	backupsDir    = "backups"

	// maxConsecutiveFailures is how many SaveWithRetry calls in a row must
	// fail before the engine is considered degraded (spec §4.8: "after N
	// consecutive failures enters degraded-no-persistence mode").
	maxConsecutiveFailures = 5
)

// PersistenceError wraps a save/load failure with the classification the
// rest of the engine branches on (spec §7 KindPersistenceError).
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Store owns the on-disk snapshot file and its rolling backups under
// storageDir (spec §4.8).
type Store struct {
	dir        string
	maxBackups int
	sessionID  string
	bus        *events.Bus
	log        zerolog.Logger

	mu                  sync.Mutex
	consecutiveFailures int
	degraded            bool
}

// New creates a Store rooted at storageDir. sessionID labels this
// process's backups (spec §4.8 backup naming: "backup-{sessionId}-{ISO
// timestamp}.json"); bus may be nil to disable degraded-mode alerting.
func New(storageDir string, maxBackups int, sessionID string, bus *events.Bus, log zerolog.Logger) *Store {
	if maxBackups <= 0 {
		maxBackups = 10
	}
	return &Store{
		dir:        storageDir,
		maxBackups: maxBackups,
		sessionID:  sessionID,
		bus:        bus,
		log:        log.With().Str("component", "persistence").Logger(),
	}
}

func (s *Store) statePath() string   { return filepath.Join(s.dir, stateFileName) }
func (s *Store) backupDir() string   { return filepath.Join(s.dir, backupsDir) }

// Save atomically writes snap to storageDir/queue-state.json: it writes
// a temp file, fsyncs it, then renames it over the target so a crash
// mid-write never leaves a corrupt state file (spec §4.8 "atomic write:
// temp file + fsync + rename"). It then appends a rolling backup copy
// and prunes to maxBackups.
func (s *Store) Save(snap Snapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &PersistenceError{Op: "mkdir", Err: err}
	}
	snap.SchemaVersion = CurrentSchemaVersion
	if snap.SessionID == "" {
		snap.SessionID = s.sessionID
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "marshal", Err: err}
	}

	target := s.statePath()
	tmp := target + ".tmp"
	if err := writeAndSync(tmp, data); err != nil {
		return &PersistenceError{Op: "write-temp", Err: err}
	}
	if err := os.Rename(tmp, target); err != nil {
		return &PersistenceError{Op: "rename", Err: err}
	}

	if err := s.writeBackup(snap.Timestamp, data); err != nil {
		s.log.Warn().Err(err).Msg("state saved but rolling backup failed")
	}
	return nil
}

func writeAndSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *Store) writeBackup(ts time.Time, data []byte) error {
	if ts.IsZero() {
		ts = time.Now()
	}
	if err := os.MkdirAll(s.backupDir(), 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("backup-%s-%s.json", s.sessionID, ts.UTC().Format("20060102T150405.000000000Z"))
	path := filepath.Join(s.backupDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	return s.pruneBackups()
}

func (s *Store) pruneBackups() error {
	entries, err := os.ReadDir(s.backupDir())
	if err != nil {
		return err
	}
	type backupFile struct {
		name    string
		modTime time.Time
	}
	files := make([]backupFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, backupFile{name: e.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	excess := len(files) - s.maxBackups
	for i := 0; i < excess; i++ {
		_ = os.Remove(filepath.Join(s.backupDir(), files[i].name))
	}
	return nil
}

// SaveWithRetry wraps Save in a bounded exponential backoff (spec §4.8
// "PersistenceError retried with exponential backoff") and tracks
// consecutive failures across calls, raising/clearing a critical alert
// when the engine crosses into or out of degraded-no-persistence mode.
func (s *Store) SaveWithRetry(ctx context.Context, snap Snapshot) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 20 * time.Millisecond
	exp.MaxInterval = 200 * time.Millisecond
	exp.Reset()
	bo := backoff.WithContext(backoff.WithMaxRetries(exp, 3), ctx)
	err := backoff.Retry(func() error { return s.Save(snap) }, bo)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.consecutiveFailures++
		if s.consecutiveFailures >= maxConsecutiveFailures && !s.degraded {
			s.degraded = true
			s.publishAlert(events.AlertRaisedEvent{
				Condition: "degraded-no-persistence", Severity: "critical", Timestamp: time.Now(),
			})
		}
		return &PersistenceError{Op: "save-with-retry", Err: err}
	}
	s.consecutiveFailures = 0
	if s.degraded {
		s.degraded = false
		s.publishAlert(events.AlertResolvedEvent{Condition: "degraded-no-persistence", Timestamp: time.Now()})
	}
	return nil
}

func (s *Store) publishAlert(ev events.Event) {
	if s.bus == nil {
		return
	}
	topic := events.TopicAlert
	s.bus.Publish(topic, ev)
}

// Degraded reports whether the Store has crossed into
// degraded-no-persistence mode (spec §4.8).
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Load reads storageDir/queue-state.json. A missing file is not an
// error: it returns a zero-value Snapshot so a first run starts empty.
func (s *Store) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.statePath())
	if os.IsNotExist(err) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, &PersistenceError{Op: "read", Err: err}
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, &PersistenceError{Op: "unmarshal", Err: err}
	}
	return snap, nil
}
