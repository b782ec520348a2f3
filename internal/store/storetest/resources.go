package storetest

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/store"
)

type resourceKey struct {
	resourceType model.ResourceType
	upstreamID   string
}

// ResourceStore is an in-memory store.ResourceStore.
type ResourceStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[resourceKey]*model.MaterializedResource

	// Missing answers CountMissing.
	Missing func(spec store.RootSpec) int64
	Err     error
}

var _ store.ResourceStore = (*ResourceStore)(nil)

func NewResourceStore() *ResourceStore {
	return &ResourceStore{rows: make(map[resourceKey]*model.MaterializedResource)}
}

func (s *ResourceStore) Upsert(_ context.Context, resourceType model.ResourceType, upstreamID string, data json.RawMessage, resolved bool) (*model.MaterializedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	key := resourceKey{resourceType, upstreamID}
	row, ok := s.rows[key]
	if !ok {
		s.nextID++
		row = &model.MaterializedResource{ID: s.nextID, ResourceType: resourceType, UpstreamID: upstreamID}
		s.rows[key] = row
	}
	row.VersionID++
	row.Data = slices.Clone(data)
	row.Resolved = resolved
	row.IsLive = true
	row.LastUpdated = time.Now()
	out := *row
	return &out, nil
}

func (s *ResourceStore) Tombstone(_ context.Context, resourceType model.ResourceType, upstreamID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	row, ok := s.rows[resourceKey{resourceType, upstreamID}]
	if !ok || !row.IsLive {
		return false, nil
	}
	row.IsLive = false
	row.VersionID++
	return true, nil
}

func (s *ResourceStore) Get(_ context.Context, resourceType model.ResourceType, upstreamID string) (*model.MaterializedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	row, ok := s.rows[resourceKey{resourceType, upstreamID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *row
	return &out, nil
}

func (s *ResourceStore) ListUnresolved(_ context.Context, afterID int64, limit int) ([]model.MaterializedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []model.MaterializedResource
	for _, row := range s.rows {
		if !row.Resolved && row.IsLive && row.ID > afterID {
			out = append(out, *row)
		}
	}
	slices.SortFunc(out, func(a, b model.MaterializedResource) int { return cmp.Compare(a.ID, b.ID) })
	return out[:min(limit, len(out))], nil
}

func (s *ResourceStore) LookupIDs(_ context.Context, resourceType model.ResourceType, upstreamIDs []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	ids := make(map[string]int64)
	for _, upstreamID := range upstreamIDs {
		if row, ok := s.rows[resourceKey{resourceType, upstreamID}]; ok && row.IsLive {
			ids[upstreamID] = row.ID
		}
	}
	return ids, nil
}

func (s *ResourceStore) PatchData(_ context.Context, id, version int64, data json.RawMessage, resolved bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	row := s.byIDLocked(id)
	if row == nil || row.VersionID != version {
		return false, nil
	}
	row.Data = slices.Clone(data)
	row.Resolved = resolved
	row.VersionID++
	return true, nil
}

func (s *ResourceStore) MarkResolved(_ context.Context, id, version int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	row := s.byIDLocked(id)
	if row == nil || row.VersionID != version {
		return false, nil
	}
	row.Resolved = true
	return true, nil
}

func (s *ResourceStore) CountMissing(_ context.Context, spec store.RootSpec) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	if s.Missing == nil {
		return 0, nil
	}
	return s.Missing(spec), nil
}

func (s *ResourceStore) byIDLocked(id int64) *model.MaterializedResource {
	for _, row := range s.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}
