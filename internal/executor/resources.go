package executor

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// resourcePools is the runtime capacity gate for shared resource pools
// (spec §5), generalizing the teacher's per-file sync.Mutex-keyed
// ResourceLockManager into a weighted semaphore per named pool. A pool
// absent from the configured map defaults to weight 1 (exclusive use),
// matching scheduler.conflictsWithSelected's own default.
//
// This is the runtime half of the capacity story: Select avoids
// *choosing* a conflicting batch in the common case, and this gate
// still enforces the limit when two separate waves would otherwise
// overlap on the same pool.
type resourcePools struct {
	mu   sync.Mutex
	caps map[string]int
	sems map[string]*semaphore.Weighted
}

func newResourcePools(caps map[string]int) *resourcePools {
	return &resourcePools{caps: caps, sems: make(map[string]*semaphore.Weighted)}
}

func (r *resourcePools) get(name string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sem, ok := r.sems[name]; ok {
		return sem
	}
	capacity := int64(1)
	if c, ok := r.caps[name]; ok && c > 0 {
		capacity = int64(c)
	}
	sem := semaphore.NewWeighted(capacity)
	r.sems[name] = sem
	return sem
}
