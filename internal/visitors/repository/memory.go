package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"leadflow_backend/internal/visitors/domain"

	"github.com/google/uuid"
)

// MemoryStore keeps visitors in process. Every read and write copies, so
// callers never share state with the store. Used for STORE_DRIVER=memory
// and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	visitors map[uuid.UUID]*domain.Visitor
	nextSeq  int64
}

// NewMemoryStore returns an empty in-memory visitor store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{visitors: make(map[uuid.UUID]*domain.Visitor)}
}

func (s *MemoryStore) Create(ctx context.Context, v *domain.Visitor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.visitors[v.ID]; exists {
		return ErrDuplicateContact
	}
	if s.contactTaken(v, uuid.Nil) {
		return ErrDuplicateContact
	}
	s.nextSeq++
	v.Seq = s.nextSeq
	s.visitors[v.ID] = v.Clone()
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Visitor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.visitors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, v *domain.Visitor, expectedVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.visitors[v.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrStaleWrite
	}
	if s.contactTaken(v, v.ID) {
		return ErrDuplicateContact
	}
	next := v.Clone()
	next.Seq = stored.Seq
	next.CreatedAt = stored.CreatedAt
	s.visitors[v.ID] = next
	return nil
}

func (s *MemoryStore) List(ctx context.Context, params ListParams) ([]*domain.Visitor, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[domain.Stage]bool, len(params.Statuses))
	for _, st := range params.Statuses {
		statuses[st] = true
	}
	region := normalizeRegion(params.Region)
	search := strings.ToLower(strings.TrimSpace(params.Search))

	matched := make([]*domain.Visitor, 0)
	for _, v := range s.sortedLocked() {
		if len(statuses) > 0 && !statuses[v.Status] {
			continue
		}
		if region != "" && normalizeRegion(v.Region) != region {
			continue
		}
		if params.AssignedAgentID != nil && (v.AssignedAgentID == nil || *v.AssignedAgentID != *params.AssignedAgentID) {
			continue
		}
		if params.SalesExecutiveID != nil && (v.SalesExecutiveID == nil || *v.SalesExecutiveID != *params.SalesExecutiveID) {
			continue
		}
		if params.OnlyUnassigned && !v.NeedsServiceAssignment() {
			continue
		}
		if search != "" && !matchesSearch(v, search) {
			continue
		}
		matched = append(matched, v)
	}

	// Newest first, matching the Postgres listing.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	total := len(matched)
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	start := params.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := make([]*domain.Visitor, 0, end-start)
	for _, v := range matched[start:end] {
		out = append(out, v.Clone())
	}
	return out, total, nil
}

func (s *MemoryStore) ListNeedingAssignment(ctx context.Context, afterSeq int64, limit int) ([]*domain.Visitor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Visitor, 0)
	for _, v := range s.sortedLocked() {
		if limit > 0 && len(out) >= limit {
			break
		}
		if v.Seq <= afterSeq {
			continue
		}
		if v.NeedsServiceAssignment() || v.NeedsRegionAssignment() {
			out = append(out, v.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) RegionOrdinal(ctx context.Context, v *domain.Visitor) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	region := normalizeRegion(v.Region)
	ordinal := 0
	for _, other := range s.visitors {
		if other.Seq < v.Seq && normalizeRegion(other.Region) == region {
			ordinal++
		}
	}
	return ordinal, nil
}

func (s *MemoryStore) sortedLocked() []*domain.Visitor {
	all := make([]*domain.Visitor, 0, len(s.visitors))
	for _, v := range s.visitors {
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })
	return all
}

func (s *MemoryStore) contactTaken(v *domain.Visitor, self uuid.UUID) bool {
	for id, other := range s.visitors {
		if id == self {
			continue
		}
		if v.Email != nil && other.Email != nil && strings.EqualFold(*v.Email, *other.Email) {
			return true
		}
		if v.Phone != nil && other.Phone != nil && *v.Phone == *other.Phone {
			return true
		}
	}
	return false
}

func normalizeRegion(region string) string {
	return strings.ToLower(strings.TrimSpace(region))
}

func matchesSearch(v *domain.Visitor, needle string) bool {
	fields := []string{v.Name, v.Service, v.Subservice}
	if v.Email != nil {
		fields = append(fields, *v.Email)
	}
	if v.Phone != nil {
		fields = append(fields, *v.Phone)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}
