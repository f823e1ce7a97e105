// Package monitor polls the source-platform feed for accounts that currently
// have at least one active binding and turns new items into content events.
// The seen-set here is only a latency optimization: a restart or a second
// orchestrator instance re-observes items, and the store's idempotent task
// creation absorbs the duplicates. Correctness never depends on this cache.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mediafetch/entity"
	"mediafetch/lib/sl"
)

// Feed lists recently published content for one source account.
type Feed interface {
	RecentContent(ctx context.Context, sourceAccountId string, since time.Time) ([]*entity.ContentEvent, error)
}

// Registry tells the monitor which source accounts are worth polling.
type Registry interface {
	ActiveSources() []string
}

// Orchestrator receives the content events the monitor observes.
type Orchestrator interface {
	OnContentEvent(ctx context.Context, evt *entity.ContentEvent) (*entity.DeliveryResult, error)
}

type Monitor struct {
	feed     Feed
	registry Registry
	orch     Orchestrator
	interval time.Duration
	log      *slog.Logger

	mu        sync.Mutex
	seen      map[string]map[string]time.Time // source -> content ref -> first observed
	lastCheck map[string]time.Time

	stopCh chan struct{}
	done   chan struct{}
}

func New(feed Feed, registry Registry, orch Orchestrator, interval time.Duration, log *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{
		feed:      feed,
		registry:  registry,
		orch:      orch,
		interval:  interval,
		log:       log.With(sl.Module("monitor")),
		seen:      make(map[string]map[string]time.Time),
		lastCheck: make(map[string]time.Time),
	}
}

func (m *Monitor) Start() {
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.checkAll()
			case <-m.stopCh:
				return
			}
		}
	}()
	m.log.With(slog.Duration("interval", m.interval)).Info("feed monitor started")
}

func (m *Monitor) Stop() {
	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	<-m.done
}

// checkAll polls every bound source account once. A failing account is
// logged and skipped; the others are still checked this round.
func (m *Monitor) checkAll() {
	for _, source := range m.registry.ActiveSources() {
		m.checkSource(source)
	}
	m.prune()
}

func (m *Monitor) checkSource(source string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	m.mu.Lock()
	since, ok := m.lastCheck[source]
	m.mu.Unlock()
	if !ok {
		since = time.Now().Add(-m.interval)
	}

	events, err := m.feed.RecentContent(ctx, source, since)
	if err != nil {
		m.log.Error("polling feed", slog.String("source", source), sl.Err(err))
		return
	}

	m.mu.Lock()
	m.lastCheck[source] = time.Now()
	m.mu.Unlock()

	for _, evt := range events {
		if !m.markSeen(source, evt.ContentRef) {
			continue
		}
		if _, err = m.orch.OnContentEvent(ctx, evt); err != nil {
			m.log.Error("handing off content event",
				slog.String("source", source),
				slog.String("content", evt.ContentRef),
				sl.Err(err),
			)
		}
	}
}

// seenTTL bounds the seen-set for long-lived bindings. The feed is only
// queried for items newer than the last check, so an entry this old can
// never be observed again.
const seenTTL = 24 * time.Hour

// markSeen reports true the first time this process observes the item.
func (m *Monitor) markSeen(source, contentRef string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs, ok := m.seen[source]
	if !ok {
		refs = make(map[string]time.Time)
		m.seen[source] = refs
	}
	if _, dup := refs[contentRef]; dup {
		return false
	}
	refs[contentRef] = time.Now()
	return true
}

// prune forgets sources that no longer have active bindings and drops
// seen entries past their TTL.
func (m *Monitor) prune() {
	active := make(map[string]struct{})
	for _, source := range m.registry.ActiveSources() {
		active[source] = struct{}{}
	}
	cutoff := time.Now().Add(-seenTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	for source, refs := range m.seen {
		if _, ok := active[source]; !ok {
			delete(m.seen, source)
			delete(m.lastCheck, source)
			continue
		}
		for ref, observed := range refs {
			if observed.Before(cutoff) {
				delete(refs, ref)
			}
		}
	}
}
