package task

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Mutator is applied by Store.Update under the store's write lock; it
// receives a private clone and returns the task to persist. Returning a
// non-nil error aborts the update (no mutation is committed).
type Mutator func(t *Task) (*Task, error)

// Filter narrows Store.List results. A zero-value Filter matches every
// task; each populated field narrows the result set further (fields are
// ANDed together).
type Filter struct {
	Statuses     []Status
	Category     Category
	Tag          string
	ParentTaskID string
	BatchGroup   string
	IDs          []string
}

func (f Filter) matches(t *Task) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, tag := range t.Tags {
			if tag == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ParentTaskID != "" && t.ParentTaskID != f.ParentTaskID {
		return false
	}
	if f.BatchGroup != "" && t.BatchGroup != f.BatchGroup {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if t.ID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Store is the authoritative in-memory map of tasks, indexed by id and by
// status (spec §4.1, C1). It holds no scheduling policy: internal/graph
// and internal/scheduler consult it but never mutate it directly except
// through Update.
type Store struct {
	mu sync.RWMutex

	tasks       map[string]*Task
	statusIndex map[Status]map[string]struct{}
	parentIndex map[string][]string // parent id -> ordered child ids
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		tasks:       make(map[string]*Task),
		statusIndex: make(map[Status]map[string]struct{}),
		parentIndex: make(map[string][]string),
	}
}

// Put inserts a new task. If upsert is false and the id already exists,
// it returns a KindDuplicateID error without mutating the store.
func (s *Store) Put(t *Task, upsert bool) error {
	if t == nil || t.ID == "" {
		return Errorf(KindInvalidInput, "task must have a non-empty id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists && !upsert {
		return Errorf(KindDuplicateID, "task %q already exists", t.ID)
	}

	now := time.Now()
	cp := t.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if cp.Status == "" {
		cp.Status = StatusQueued
	}

	s.indexRemove(s.tasks[t.ID])
	s.tasks[cp.ID] = cp
	s.indexAdd(cp)
	return nil
}

// Get returns a cloned copy of the task with the given id.
func (s *Store) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, Errorf(KindNotFound, "task %q not found", id)
	}
	return t.Clone(), nil
}

// Update performs an atomic read-modify-write on task id. The mutator
// receives a clone; its return value is validated against invariants I4
// (retryCount<=maxRetries) and I5 (startedAt/completedAt presence) before
// being committed. A violation returns KindInvariantViolation and leaves
// the store unchanged.
func (s *Store) Update(id string, mutate Mutator) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[id]
	if !ok {
		return nil, Errorf(KindNotFound, "task %q not found", id)
	}

	updated, err := mutate(existing.Clone())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, Errorf(KindInvalidInput, "mutator returned nil task for %q", id)
	}
	updated.ID = id

	if err := validateInvariants(updated); err != nil {
		return nil, err
	}

	updated.UpdatedAt = time.Now()
	s.indexRemove(existing)
	s.tasks[id] = updated
	s.indexAdd(updated)
	return updated.Clone(), nil
}

func validateInvariants(t *Task) error {
	if t.RetryCount > t.MaxRetries {
		return Errorf(KindInvariantViolation, "task %q retryCount %d exceeds maxRetries %d", t.ID, t.RetryCount, t.MaxRetries)
	}
	if t.Status == StatusInProgress && t.StartedAt == nil {
		return Errorf(KindInvariantViolation, "task %q is in_progress without startedAt", t.ID)
	}
	if (t.Status == StatusCompleted || t.Status == StatusFailed) && t.CompletedAt == nil {
		return Errorf(KindInvariantViolation, "task %q is %s without completedAt", t.ID, t.Status)
	}
	return nil
}

// Remove deletes a task from the active store (spec §3 lifecycle:
// terminal + past retention, or kept in an archive index by the caller
// before removal here).
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return Errorf(KindNotFound, "task %q not found", id)
	}
	s.indexRemove(t)
	delete(s.tasks, id)
	return nil
}

// List returns clones of every task matching filter, sorted by id for
// deterministic iteration.
func (s *Store) List(filter Filter) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.matches(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByStatus returns clones of every task with the given status.
func (s *Store) ByStatus(status Status) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.statusIndex[status]
	out := make([]*Task, 0, len(ids))
	for id := range ids {
		out = append(out, s.tasks[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Children returns the ordered child ids of a parent task (breakdown
// sub-tasks, spec §3 subtaskIds / §4.6).
func (s *Store) Children(parentID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneStrings(s.parentIndex[parentID])
}

// Len returns the number of tasks currently in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Snapshot is a serialisable view of the store's contents (used by
// internal/persistence, spec §4.8/§6).
type Snapshot struct {
	Tasks []*Task `json:"tasks"`
}

// Snapshot returns a deep copy of all tasks for persistence.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t.Clone())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return Snapshot{Tasks: tasks}
}

// Restore replaces the store's contents with snap and rebuilds indices in
// O(N) (spec §4.1). Callers are responsible for invariant re-checking and
// any "running -> queued" reset policy (spec §6, §8 L1) before calling
// Restore; Restore itself only re-establishes indices.
func (s *Store) Restore(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make(map[string]*Task, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if t == nil || t.ID == "" {
			return Errorf(KindInvalidInput, "snapshot contains a task with empty id")
		}
		tasks[t.ID] = t.Clone()
	}

	s.tasks = tasks
	s.statusIndex = make(map[Status]map[string]struct{})
	s.parentIndex = make(map[string][]string)
	for _, t := range s.tasks {
		s.indexAdd(t)
	}
	return nil
}

func (s *Store) indexAdd(t *Task) {
	if t == nil {
		return
	}
	if s.statusIndex[t.Status] == nil {
		s.statusIndex[t.Status] = make(map[string]struct{})
	}
	s.statusIndex[t.Status][t.ID] = struct{}{}

	if t.ParentTaskID != "" {
		s.parentIndex[t.ParentTaskID] = appendUnique(s.parentIndex[t.ParentTaskID], t.ID)
	}
}

func (s *Store) indexRemove(t *Task) {
	if t == nil {
		return
	}
	if set, ok := s.statusIndex[t.Status]; ok {
		delete(set, t.ID)
		if len(set) == 0 {
			delete(s.statusIndex, t.Status)
		}
	}
	if t.ParentTaskID != "" {
		s.parentIndex[t.ParentTaskID] = removeString(s.parentIndex[t.ParentTaskID], t.ID)
	}
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

func removeString(list []string, id string) []string {
	out := list[:0]
	for _, existing := range list {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// CheckIndexInvariant verifies P5: the union of status->set index sizes
// equals the number of tasks in the store. Exposed for tests and for the
// Monitor's periodic self-check.
func (s *Store) CheckIndexInvariant() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, set := range s.statusIndex {
		total += len(set)
	}
	if total != len(s.tasks) {
		return fmt.Errorf("status index total %d does not match store size %d", total, len(s.tasks))
	}
	return nil
}
