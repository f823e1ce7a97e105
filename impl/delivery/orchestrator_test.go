package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediafetch/entity"
	"mediafetch/lib/retry"
)

var errSendRejected = errors.New("chat not found")
var errFlaky = errors.New("gateway timeout")

type fakeDB struct {
	mu      sync.Mutex
	tasks   map[string]*entity.DeliveryTask // keyed by bindingId+contentRef
	updates map[string]entity.DeliveryStatus
	details map[string]string
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		tasks:   make(map[string]*entity.DeliveryTask),
		updates: make(map[string]entity.DeliveryStatus),
		details: make(map[string]string),
	}
}

func (f *fakeDB) CreateDeliveryTask(task *entity.DeliveryTask) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := task.BindingId + "|" + task.ContentRef
	if _, ok := f.tasks[key]; ok {
		return false, nil
	}
	f.tasks[key] = task
	return true, nil
}

func (f *fakeDB) GetDeliveryTask(bindingId, contentRef string) (*entity.DeliveryTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[bindingId+"|"+contentRef]
	if !ok {
		return nil, nil
	}
	clone := *task
	if status, recorded := f.updates[task.Id]; recorded {
		clone.Status = status
	}
	return &clone, nil
}

func (f *fakeDB) UpdateDeliveryTask(id string, status entity.DeliveryStatus, errorDetail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[id] = status
	f.details[id] = errorDetail
	return nil
}

func (f *fakeDB) statusByHome(home int64) entity.DeliveryStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.tasks {
		if task.HomeAccountId == home {
			return f.updates[task.Id]
		}
	}
	return ""
}

type fakeRegistry struct {
	bindings map[string][]*entity.Binding
}

func (f *fakeRegistry) ActiveBindingsForSource(source string) []*entity.Binding {
	return f.bindings[source]
}

type fakeSender struct {
	mu        sync.Mutex
	sent      []int64
	failFor   map[int64]error
	failTimes map[int64]int // fail only the first N attempts
	attempts  map[int64]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		failFor:   make(map[int64]error),
		failTimes: make(map[int64]int),
		attempts:  make(map[int64]int),
	}
}

func (f *fakeSender) SendText(home int64, _ string) error {
	return f.send(home)
}

func (f *fakeSender) SendMedia(home int64, _ *entity.MediaArtifact, _ string) error {
	return f.send(home)
}

func (f *fakeSender) send(home int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[home]++
	if err := f.failFor[home]; err != nil {
		if n, limited := f.failTimes[home]; !limited || f.attempts[home] <= n {
			return err
		}
	}
	f.sent = append(f.sent, home)
	return nil
}

type fakePipeline struct{}

func (fakePipeline) Fetch(_ context.Context, contentRef string, _ entity.ContentType) (*entity.MediaArtifact, error) {
	return &entity.MediaArtifact{Path: "/tmp/" + contentRef, MimeType: "video/mp4"}, nil
}

func (fakePipeline) Cleanup(_ *entity.MediaArtifact) {}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		Transient:   func(err error) bool { return errors.Is(err, errFlaky) },
	}
}

func testOrchestrator(db *fakeDB, reg *fakeRegistry, sender *fakeSender) *Orchestrator {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(db, reg, sender, fakePipeline{}, testPolicy(), 4, log)
}

func binding(id string, home int64, source string) *entity.Binding {
	return &entity.Binding{Id: id, HomeAccountId: home, SourceAccountId: source, Active: true}
}

func event(source, ref string) *entity.ContentEvent {
	return &entity.ContentEvent{SourceAccountId: source, ContentRef: ref, ContentType: entity.ContentVideo}
}

func TestNoSubscribers(t *testing.T) {
	o := testOrchestrator(newFakeDB(), &fakeRegistry{bindings: map[string][]*entity.Binding{}}, newFakeSender())

	result, err := o.OnContentEvent(context.Background(), event("natgeo", "reel-1"))
	require.NoError(t, err)
	assert.True(t, result.NoSubscribers)
	assert.Zero(t, result.Created)
}

func TestSingleBindingDelivery(t *testing.T) {
	db := newFakeDB()
	reg := &fakeRegistry{bindings: map[string][]*entity.Binding{
		"natgeo": {binding("b1", 42, "natgeo")},
	}}
	sender := newFakeSender()
	o := testOrchestrator(db, reg, sender)

	result, err := o.OnContentEvent(context.Background(), event("natgeo", "reel-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Delivered)
	assert.Zero(t, result.Failed)
	assert.Equal(t, entity.DeliveryDelivered, db.statusByHome(42))
}

func TestDuplicateEventCreatesNoSecondTask(t *testing.T) {
	db := newFakeDB()
	reg := &fakeRegistry{bindings: map[string][]*entity.Binding{
		"natgeo": {binding("b1", 42, "natgeo")},
	}}
	sender := newFakeSender()
	o := testOrchestrator(db, reg, sender)

	_, err := o.OnContentEvent(context.Background(), event("natgeo", "reel-1"))
	require.NoError(t, err)
	result, err := o.OnContentEvent(context.Background(), event("natgeo", "reel-1"))
	require.NoError(t, err)

	assert.Zero(t, result.Created)
	assert.Equal(t, 1, result.Duplicates)
	assert.Len(t, db.tasks, 1)
	// The completed task is not re-sent on redelivery.
	assert.Equal(t, 1, sender.attempts[42])
}

func TestPendingTaskFromInterruptedRunIsResumed(t *testing.T) {
	db := newFakeDB()
	// A task created by an earlier run that never reached the sender.
	stale := &entity.DeliveryTask{
		Id:              "stale-1",
		BindingId:       "b1",
		SourceAccountId: "natgeo",
		HomeAccountId:   42,
		ContentRef:      "reel-1",
		ContentType:     entity.ContentVideo,
		Status:          entity.DeliveryPending,
		CreatedAt:       time.Now().Add(-time.Hour),
	}
	db.tasks["b1|reel-1"] = stale
	reg := &fakeRegistry{bindings: map[string][]*entity.Binding{
		"natgeo": {binding("b1", 42, "natgeo")},
	}}
	sender := newFakeSender()
	o := testOrchestrator(db, reg, sender)

	result, err := o.OnContentEvent(context.Background(), event("natgeo", "reel-1"))
	require.NoError(t, err)
	assert.Zero(t, result.Created)
	assert.Zero(t, result.Duplicates)
	assert.Equal(t, 1, result.Resumed)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, sender.attempts[42])
	assert.Equal(t, entity.DeliveryDelivered, db.updates["stale-1"])
}

func TestFailureIsolation(t *testing.T) {
	db := newFakeDB()
	reg := &fakeRegistry{bindings: map[string][]*entity.Binding{
		"natgeo": {binding("b1", 42, "natgeo"), binding("b2", 43, "natgeo")},
	}}
	sender := newFakeSender()
	sender.failFor[42] = errSendRejected
	o := testOrchestrator(db, reg, sender)

	result, err := o.OnContentEvent(context.Background(), event("natgeo", "reel-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, entity.DeliveryFailed, db.statusByHome(42))
	assert.Equal(t, entity.DeliveryDelivered, db.statusByHome(43))
}

func TestFailedTaskRecordsErrorDetail(t *testing.T) {
	db := newFakeDB()
	reg := &fakeRegistry{bindings: map[string][]*entity.Binding{
		"natgeo": {binding("b1", 42, "natgeo")},
	}}
	sender := newFakeSender()
	sender.failFor[42] = errSendRejected
	o := testOrchestrator(db, reg, sender)

	_, err := o.OnContentEvent(context.Background(), event("natgeo", "reel-1"))
	require.NoError(t, err)

	for id, status := range db.updates {
		assert.Equal(t, entity.DeliveryFailed, status)
		assert.Contains(t, db.details[id], "chat not found")
	}
	// Permanent failure: no retry attempts beyond the first.
	assert.Equal(t, 1, sender.attempts[42])
}

func TestTransientFailureIsRetried(t *testing.T) {
	db := newFakeDB()
	reg := &fakeRegistry{bindings: map[string][]*entity.Binding{
		"natgeo": {binding("b1", 42, "natgeo")},
	}}
	sender := newFakeSender()
	sender.failFor[42] = errFlaky
	sender.failTimes[42] = 1
	o := testOrchestrator(db, reg, sender)

	result, err := o.OnContentEvent(context.Background(), event("natgeo", "reel-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 2, sender.attempts[42])
	assert.Equal(t, entity.DeliveryDelivered, db.statusByHome(42))
}

func TestTransientFailureBudgetIsBounded(t *testing.T) {
	db := newFakeDB()
	reg := &fakeRegistry{bindings: map[string][]*entity.Binding{
		"natgeo": {binding("b1", 42, "natgeo")},
	}}
	sender := newFakeSender()
	sender.failFor[42] = errFlaky
	o := testOrchestrator(db, reg, sender)

	result, err := o.OnContentEvent(context.Background(), event("natgeo", "reel-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, sender.attempts[42]) // initial attempt plus two retries
	assert.Equal(t, entity.DeliveryFailed, db.statusByHome(42))
}

func TestTextContentSkipsPipeline(t *testing.T) {
	db := newFakeDB()
	reg := &fakeRegistry{bindings: map[string][]*entity.Binding{
		"natgeo": {binding("b1", 42, "natgeo")},
	}}
	sender := newFakeSender()
	o := testOrchestrator(db, reg, sender)

	evt := &entity.ContentEvent{
		SourceAccountId: "natgeo",
		ContentRef:      "post-9",
		ContentType:     entity.ContentText,
		Caption:         "hello",
	}
	result, err := o.OnContentEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, []int64{42}, sender.sent)
}
