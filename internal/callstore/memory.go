package callstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu sync.Mutex

	docs        map[string]map[string]Document // tenant_id -> id -> doc
	unavailable bool

	watchers map[int]*memWatcher
	nextID   int
}

type memWatcher struct {
	tenantID string
	notify   chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     map[string]map[string]Document{},
		watchers: map[int]*memWatcher{},
	}
}

// Put inserts or replaces documents and wakes watchers of the affected tenants.
// created_at keeps microsecond precision, as a Postgres timestamptz does.
func (s *MemoryStore) Put(docs ...Document) {
	s.mu.Lock()
	touched := map[string]struct{}{}
	for _, d := range docs {
		byID, ok := s.docs[d.TenantID]
		if !ok {
			byID = map[string]Document{}
			s.docs[d.TenantID] = byID
		}
		d.CreatedAt = d.CreatedAt.UTC().Truncate(time.Microsecond)
		d.Data = maps.Clone(d.Data)
		byID[d.ID] = d
		touched[d.TenantID] = struct{}{}
	}
	var wake []*memWatcher
	for _, w := range s.watchers {
		if _, ok := touched[w.tenantID]; ok {
			wake = append(wake, w)
		}
	}
	s.mu.Unlock()

	for _, w := range wake {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

// SetUnavailable makes every subsequent read fail with ErrUnavailable.
func (s *MemoryStore) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if q.TenantID == "" {
		return nil, ErrTenantRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, ErrUnavailable
	}

	out := make([]Document, 0)
	for _, d := range s.docs[q.TenantID] {
		if q.AgentID != "" && agentOf(d) != q.AgentID {
			continue
		}
		if q.After != nil && !after(d, *q.After) {
			continue
		}
		d.Data = maps.Clone(d.Data)
		out = append(out, d)
	}
	slices.SortFunc(out, newerFirst)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, id string) (Document, error) {
	if tenantID == "" {
		return Document{}, ErrTenantRequired
	}
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return Document{}, ErrUnavailable
	}
	d, ok := s.docs[tenantID][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	d.Data = maps.Clone(d.Data)
	return d, nil
}

func (s *MemoryStore) Watch(ctx context.Context, q Query) (<-chan Snapshot, error) {
	if q.TenantID == "" {
		return nil, ErrTenantRequired
	}

	w := &memWatcher{tenantID: q.TenantID, notify: make(chan struct{}, 1)}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = w
	s.mu.Unlock()

	out := make(chan Snapshot)
	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		}()

		for {
			docs, err := s.Query(ctx, q)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- Snapshot{Documents: docs, Err: err}:
			case <-ctx.Done():
				return
			}
			select {
			case <-w.notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
