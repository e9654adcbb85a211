package jobs

import (
	"sort"
	"sync"
)

// Table is the guarded job map. Reads return snapshot copies so callers
// never hold job state across the lock.
type Table struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewTable() *Table {
	return &Table{jobs: make(map[string]*Job)}
}

func (t *Table) add(j *Job) {
	t.mu.Lock()
	t.jobs[j.id] = j
	t.mu.Unlock()
}

func (t *Table) get(id string) (*Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	return j, ok
}

// Status returns the snapshot of one job.
func (t *Table) Status(id string) (Snapshot, bool) {
	j, ok := t.get(id)
	if !ok {
		return Snapshot{}, false
	}
	return j.Snapshot(), true
}

// ListFilter narrows List results; zero value lists everything.
type ListFilter struct {
	Kind   JobKind
	Status string
}

// List returns snapshots of matching jobs, newest first.
func (t *Table) List(filter ListFilter) []Snapshot {
	t.mu.RLock()
	snaps := make([]Snapshot, 0, len(t.jobs))
	for _, j := range t.jobs {
		snaps = append(snaps, j.Snapshot())
	}
	t.mu.RUnlock()

	out := snaps[:0]
	for _, s := range snaps {
		if filter.Kind != "" && s.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}
