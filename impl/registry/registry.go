// Package registry keeps a fast in-memory view of all active bindings so the
// delivery path never pays a store round-trip per content event. It is a
// read-mostly copy, never the source of truth: the binding state machine
// pushes targeted updates after every transition, and a periodic Refresh from
// the store recovers from cold starts and drift.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"mediafetch/entity"
	"mediafetch/lib/sl"
)

// Database defines the storage operations the registry depends on.
type Database interface {
	GetActiveBindings() ([]*entity.Binding, error)
}

type Registry struct {
	db  Database
	log *slog.Logger

	mu       sync.RWMutex
	byHome   map[int64]*entity.Binding
	bySource map[string][]*entity.Binding

	stopCh chan struct{}
	done   chan struct{}
}

func New(db Database, log *slog.Logger) *Registry {
	return &Registry{
		db:       db,
		log:      log.With(sl.Module("registry")),
		byHome:   make(map[int64]*entity.Binding),
		bySource: make(map[string][]*entity.Binding),
	}
}

// Refresh replaces the cached view with every active binding in the store.
// Called on process start and on the backstop ticker.
func (r *Registry) Refresh() error {
	bindings, err := r.db.GetActiveBindings()
	if err != nil {
		return err
	}

	byHome := make(map[int64]*entity.Binding, len(bindings))
	bySource := make(map[string][]*entity.Binding)
	for _, b := range bindings {
		byHome[b.HomeAccountId] = b
		bySource[b.SourceAccountId] = append(bySource[b.SourceAccountId], b)
	}

	r.mu.Lock()
	r.byHome = byHome
	r.bySource = bySource
	r.mu.Unlock()

	r.log.With(slog.Int("count", len(bindings))).Debug("refreshed bindings")
	return nil
}

// Upsert records a newly activated binding.
func (r *Registry) Upsert(b *entity.Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHome[b.HomeAccountId] = b
	list := r.bySource[b.SourceAccountId]
	for i, existing := range list {
		if existing.Id == b.Id {
			list[i] = b
			return
		}
	}
	r.bySource[b.SourceAccountId] = append(list, b)
}

// Remove drops a revoked binding from both maps.
func (r *Registry) Remove(b *entity.Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byHome[b.HomeAccountId]; ok && cur.Id == b.Id {
		delete(r.byHome, b.HomeAccountId)
	}
	list := r.bySource[b.SourceAccountId]
	filtered := list[:0]
	for _, existing := range list {
		if existing.Id != b.Id {
			filtered = append(filtered, existing)
		}
	}
	if len(filtered) == 0 {
		delete(r.bySource, b.SourceAccountId)
	} else {
		r.bySource[b.SourceAccountId] = filtered
	}
}

func (r *Registry) ActiveBindingForHome(homeAccountId int64) *entity.Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byHome[homeAccountId]
}

// ActiveBindingsForSource returns a snapshot; callers may iterate without
// holding any registry lock. Source uniqueness makes a single-element result
// the norm, the list form tolerates transient inconsistency during backfill.
func (r *Registry) ActiveBindingsForSource(sourceAccountId string) []*entity.Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.bySource[sourceAccountId]
	out := make([]*entity.Binding, len(list))
	copy(out, list)
	return out
}

// ActiveSources lists every source account with at least one active binding.
// Used by the feed monitor to decide which accounts to poll.
func (r *Registry) ActiveSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bySource))
	for source := range r.bySource {
		out = append(out, source)
	}
	return out
}

// StartRefresh runs Refresh on an interval as a drift-recovery backstop.
func (r *Registry) StartRefresh(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.Refresh(); err != nil {
					r.log.Error("refreshing bindings", sl.Err(err))
				}
			case <-r.stopCh:
				return
			}
		}
	}()
}

func (r *Registry) StopRefresh() {
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	<-r.done
}
