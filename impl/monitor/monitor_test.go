package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mediafetch/entity"
)

type fakeFeed struct {
	mu     sync.Mutex
	events map[string][]*entity.ContentEvent
}

func (f *fakeFeed) RecentContent(_ context.Context, source string, _ time.Time) ([]*entity.ContentEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[source], nil
}

type fakeRegistry struct{ sources []string }

func (f *fakeRegistry) ActiveSources() []string { return f.sources }

type fakeOrch struct {
	mu     sync.Mutex
	events []*entity.ContentEvent
}

func (f *fakeOrch) OnContentEvent(_ context.Context, evt *entity.ContentEvent) (*entity.DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return &entity.DeliveryResult{}, nil
}

func newMonitor(feed *fakeFeed, reg *fakeRegistry, orch *fakeOrch) *Monitor {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(feed, reg, orch, time.Minute, log)
}

func evt(source, ref string) *entity.ContentEvent {
	return &entity.ContentEvent{SourceAccountId: source, ContentRef: ref, ContentType: entity.ContentVideo}
}

func TestCheckAllForwardsNewContent(t *testing.T) {
	feed := &fakeFeed{events: map[string][]*entity.ContentEvent{
		"natgeo": {evt("natgeo", "reel-1"), evt("natgeo", "reel-2")},
	}}
	orch := &fakeOrch{}
	m := newMonitor(feed, &fakeRegistry{sources: []string{"natgeo"}}, orch)

	m.checkAll()
	assert.Len(t, orch.events, 2)
}

func TestRepeatedObservationIsSuppressed(t *testing.T) {
	feed := &fakeFeed{events: map[string][]*entity.ContentEvent{
		"natgeo": {evt("natgeo", "reel-1")},
	}}
	orch := &fakeOrch{}
	m := newMonitor(feed, &fakeRegistry{sources: []string{"natgeo"}}, orch)

	m.checkAll()
	m.checkAll()
	assert.Len(t, orch.events, 1)
}

func TestOnlyBoundSourcesArePolled(t *testing.T) {
	feed := &fakeFeed{events: map[string][]*entity.ContentEvent{
		"natgeo": {evt("natgeo", "reel-1")},
		"nasa":   {evt("nasa", "post-1")},
	}}
	orch := &fakeOrch{}
	m := newMonitor(feed, &fakeRegistry{sources: []string{"nasa"}}, orch)

	m.checkAll()
	assert.Len(t, orch.events, 1)
	assert.Equal(t, "nasa", orch.events[0].SourceAccountId)
}

func TestPruneExpiresOldSeenEntries(t *testing.T) {
	feed := &fakeFeed{events: map[string][]*entity.ContentEvent{
		"natgeo": {evt("natgeo", "reel-1"), evt("natgeo", "reel-2")},
	}}
	orch := &fakeOrch{}
	m := newMonitor(feed, &fakeRegistry{sources: []string{"natgeo"}}, orch)

	m.checkAll()

	// Age one entry past the TTL; the fresh one must survive the prune.
	m.mu.Lock()
	m.seen["natgeo"]["reel-1"] = time.Now().Add(-seenTTL - time.Minute)
	m.mu.Unlock()

	m.checkAll()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.NotContains(t, m.seen["natgeo"], "reel-1")
	assert.Contains(t, m.seen["natgeo"], "reel-2")
}

func TestPruneForgetsUnboundSources(t *testing.T) {
	feed := &fakeFeed{events: map[string][]*entity.ContentEvent{
		"natgeo": {evt("natgeo", "reel-1")},
	}}
	orch := &fakeOrch{}
	reg := &fakeRegistry{sources: []string{"natgeo"}}
	m := newMonitor(feed, reg, orch)

	m.checkAll()
	reg.sources = nil
	m.checkAll()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.seen)
	assert.Empty(t, m.lastCheck)
}
