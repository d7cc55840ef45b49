// Package engine picks executives for visitors. It holds the rotation
// counters and nothing else; loading candidates and persisting the result
// is the assignment service's job.
package engine

import (
	"errors"
	"sort"
	"sync"

	"leadflow_backend/internal/executives"
	"leadflow_backend/internal/taxonomy"

	"github.com/google/uuid"
)

var (
	// ErrNoCategoryExecutive means the directory has no active executive for
	// the visitor's category. Callers fall back to the global pool.
	ErrNoCategoryExecutive = errors.New("no executive serves this category")
	// ErrNoExecutiveAvailable means neither the category nor the global pool
	// has an active executive. The visitor stays unassigned.
	ErrNoExecutiveAvailable = errors.New("no executive available")
	// ErrNoRegion is returned by the region variant for visitors without a
	// declared region.
	ErrNoRegion = errors.New("visitor has no region")
	// ErrNoRegionExecutive means no active executive serves the region.
	ErrNoRegionExecutive = errors.New("no executive serves this region")
	// ErrAlreadyAssigned means the field was filled, possibly by a
	// concurrent writer, before this assignment could be stored.
	ErrAlreadyAssigned = errors.New("visitor already assigned")
)

// Engine owns the category and fallback rotation counters.
// The zero value is not usable; call New.
type Engine struct {
	mu       sync.Mutex
	category map[taxonomy.Category]uint64
	fallback uint64
}

// Counters is a point-in-time copy of the rotation counters.
type Counters struct {
	Category map[taxonomy.Category]uint64
	Fallback uint64
}

// Slot records one counter advance so a pick that could not be stored can
// be handed back with Release.
type Slot struct {
	category taxonomy.Category
	fallback bool
	after    uint64
}

// New returns an engine with all counters at zero.
func New() *Engine {
	return &Engine{category: make(map[taxonomy.Category]uint64)}
}

// SelectByCategory returns candidates[counter % n] and advances the
// category counter. Candidates must be in a stable order.
func (e *Engine) SelectByCategory(category taxonomy.Category, candidates []executives.Executive) (executives.Executive, Slot, error) {
	if len(candidates) == 0 {
		return executives.Executive{}, Slot{}, ErrNoCategoryExecutive
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.category[category] % uint64(len(candidates))
	e.category[category]++
	return candidates[idx], Slot{category: category, after: e.category[category]}, nil
}

// SelectFallback rotates through the global pool with its own counter.
func (e *Engine) SelectFallback(pool []executives.Executive) (executives.Executive, Slot, error) {
	if len(pool) == 0 {
		return executives.Executive{}, Slot{}, ErrNoExecutiveAvailable
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.fallback % uint64(len(pool))
	e.fallback++
	return pool[idx], Slot{fallback: true, after: e.fallback}, nil
}

// Release moves the counter of slot back by one when no selection on that
// counter happened since. Otherwise the slot stays consumed so later picks
// keep their positions. It reports whether the counter moved.
func (e *Engine) Release(slot Slot) bool {
	if slot.after == 0 {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if slot.fallback {
		if e.fallback != slot.after {
			return false
		}
		e.fallback--
		return true
	}
	if e.category[slot.category] != slot.after {
		return false
	}
	e.category[slot.category]--
	return true
}

// SelectByRegion picks candidates[ordinal % n]. The ordinal is the
// visitor's position among visitors of the same region, so the result
// depends only on stored data and repeats for the same inputs.
func (e *Engine) SelectByRegion(ordinal int, candidates []executives.Executive) (executives.Executive, error) {
	if len(candidates) == 0 {
		return executives.Executive{}, ErrNoRegionExecutive
	}
	if ordinal < 0 {
		ordinal = 0
	}
	return candidates[ordinal%len(candidates)], nil
}

// Snapshot copies the counters.
func (e *Engine) Snapshot() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := Counters{
		Category: make(map[taxonomy.Category]uint64, len(e.category)),
		Fallback: e.fallback,
	}
	for k, v := range e.category {
		out.Category[k] = v
	}
	return out
}

// FilterActive keeps the executives named in ids that are present in
// active, in the order of ids. Duplicated ids are kept once.
func FilterActive(ids []uuid.UUID, active []executives.Executive) []executives.Executive {
	byID := make(map[uuid.UUID]executives.Executive, len(active))
	for _, exec := range active {
		if exec.IsActive {
			byID[exec.ID] = exec
		}
	}

	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]executives.Executive, 0, len(ids))
	for _, id := range ids {
		exec, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, exec)
	}
	return out
}

// InRegion keeps the active executives serving region, ordered by creation
// time and then id.
func InRegion(region string, active []executives.Executive) []executives.Executive {
	out := make([]executives.Executive, 0)
	for _, exec := range active {
		if exec.IsActive && exec.InRegion(region) {
			out = append(out, exec)
		}
	}
	sortStable(out)
	return out
}

// Pool returns the active executives in creation order, then id.
func Pool(active []executives.Executive) []executives.Executive {
	out := make([]executives.Executive, 0, len(active))
	for _, exec := range active {
		if exec.IsActive {
			out = append(out, exec)
		}
	}
	sortStable(out)
	return out
}

func sortStable(list []executives.Executive) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
}
