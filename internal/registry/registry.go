package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrDuplicateID = errors.New("duplicate registry id")

type record[T any] struct {
	id     string
	parent string
	seq    uint64
	value  T
}

// Registry maps child ids to values grouped under a parent id. Every method is
// a single critical section, so a caller computing an aggregate over a parent
// never observes a half-applied insert, update or removal. Values are returned
// by copy; callers never hold references into the map.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries map[string]*record[T]
	seq     uint64
}

func New[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[string]*record[T])}
}

func (r *Registry[T]) Insert(id, parent string, value T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.seq++
	r.entries[id] = &record[T]{id: id, parent: parent, seq: r.seq, value: value}
	return nil
}

func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entries[id]
	if !ok {
		var zero T
		return zero, false
	}
	return rec.value, true
}

// Update applies fn to the entry in place and returns the updated copy.
func (r *Registry[T]) Update(id string, fn func(*T)) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.entries[id]
	if !ok {
		var zero T
		return zero, false
	}
	fn(&rec.value)
	return rec.value, true
}

func (r *Registry[T]) Remove(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.entries[id]
	if !ok {
		var zero T
		return zero, false
	}
	delete(r.entries, id)
	return rec.value, true
}

// Siblings returns every entry registered under parent in insertion order.
func (r *Registry[T]) Siblings(parent string) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return values(r.groupLocked(parent))
}

// SiblingsOf is Siblings for the parent of id, resolved in the same critical
// section. It returns false when id is not registered.
func (r *Registry[T]) SiblingsOf(id string) (string, []T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entries[id]
	if !ok {
		return "", nil, false
	}
	return rec.parent, values(r.groupLocked(rec.parent)), true
}

// Finish applies mark to id and then, if every sibling (id included)
// satisfies done, removes the whole group and returns it. The group is
// returned to exactly one caller; later calls for the same ids see ok=false.
func (r *Registry[T]) Finish(id string, mark func(*T), done func(T) bool) (parent string, group []T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.entries[id]
	if !ok {
		return "", nil, false
	}
	mark(&rec.value)
	siblings := r.groupLocked(rec.parent)
	for _, s := range siblings {
		if !done(s.value) {
			return rec.parent, nil, true
		}
	}
	for _, s := range siblings {
		delete(r.entries, s.id)
	}
	return rec.parent, values(siblings), true
}

// Detach removes id and every sibling sharing its parent in one step. The
// first value is id's own entry. Calling Detach for an id that is already
// gone is a no-op that returns ok=false.
func (r *Registry[T]) Detach(id string) (parent string, self T, siblings []T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.entries[id]
	if !ok {
		return "", self, nil, false
	}
	delete(r.entries, id)
	rest := r.groupLocked(rec.parent)
	for _, s := range rest {
		delete(r.entries, s.id)
	}
	return rec.parent, rec.value, values(rest), true
}

// RemoveGroup drops every entry registered under parent.
func (r *Registry[T]) RemoveGroup(parent string) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	group := r.groupLocked(parent)
	for _, s := range group {
		delete(r.entries, s.id)
	}
	return values(group)
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry[T]) CountParent(parent string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, rec := range r.entries {
		if rec.parent == parent {
			count++
		}
	}
	return count
}

// IDs returns every registered id in insertion order.
func (r *Registry[T]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*record[T], 0, len(r.entries))
	for _, rec := range r.entries {
		all = append(all, rec)
	}
	sortBySeq(all)
	ids := make([]string, len(all))
	for i, rec := range all {
		ids[i] = rec.id
	}
	return ids
}

// Parents returns the distinct parent ids in order of first insertion.
func (r *Registry[T]) Parents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	first := make(map[string]uint64)
	for _, rec := range r.entries {
		if seq, seen := first[rec.parent]; !seen || rec.seq < seq {
			first[rec.parent] = rec.seq
		}
	}
	parents := make([]string, 0, len(first))
	for p := range first {
		parents = append(parents, p)
	}
	sort.Slice(parents, func(i, j int) bool {
		return first[parents[i]] < first[parents[j]]
	})
	return parents
}

func (r *Registry[T]) groupLocked(parent string) []*record[T] {
	var group []*record[T]
	for _, rec := range r.entries {
		if rec.parent == parent {
			group = append(group, rec)
		}
	}
	sortBySeq(group)
	return group
}

func sortBySeq[T any](recs []*record[T]) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].seq < recs[j].seq
	})
}

func values[T any](recs []*record[T]) []T {
	out := make([]T, len(recs))
	for i, rec := range recs {
		out[i] = rec.value
	}
	return out
}
