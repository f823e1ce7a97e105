// Package delivery fans newly observed content out to every bound home
// account. The contract is best-effort fan-out with per-task status, never
// all-or-nothing: one subscriber's failure is recorded on their task and does
// not touch sibling deliveries.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mediafetch/entity"
	"mediafetch/lib/retry"
	"mediafetch/lib/sl"
)

// Database defines the storage operations the orchestrator depends on.
// CreateDeliveryTask reports false when a task for the same
// (binding, content item) pair already exists; GetDeliveryTask then loads
// that task so an interrupted run can be finished on event redelivery.
type Database interface {
	CreateDeliveryTask(task *entity.DeliveryTask) (bool, error)
	GetDeliveryTask(bindingId, contentRef string) (*entity.DeliveryTask, error)
	UpdateDeliveryTask(id string, status entity.DeliveryStatus, errorDetail string) error
}

// Registry resolves active bindings without a store round-trip.
type Registry interface {
	ActiveBindingsForSource(sourceAccountId string) []*entity.Binding
}

// Sender is the home-platform send capability, implemented by the bot.
type Sender interface {
	SendText(homeAccountId int64, text string) error
	SendMedia(homeAccountId int64, artifact *entity.MediaArtifact, caption string) error
}

// Pipeline turns a content reference into a locally deliverable artifact.
// Cleanup removes the artifact once the send attempt is over, success or not.
type Pipeline interface {
	Fetch(ctx context.Context, contentRef string, contentType entity.ContentType) (*entity.MediaArtifact, error)
	Cleanup(artifact *entity.MediaArtifact)
}

type Orchestrator struct {
	db       Database
	registry Registry
	sender   Sender
	pipeline Pipeline
	policy   retry.Policy
	workers  int
	log      *slog.Logger
}

func New(db Database, registry Registry, sender Sender, pipeline Pipeline, policy retry.Policy, workers int, log *slog.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 4
	}
	return &Orchestrator{
		db:       db,
		registry: registry,
		sender:   sender,
		pipeline: pipeline,
		policy:   policy,
		workers:  workers,
		log:      log.With(sl.Module("delivery")),
	}
}

// OnContentEvent resolves active bindings for the event's source account,
// creates one task per binding and executes the tasks independently.
// Zero bindings is a normal outcome. A re-delivered event creates no new
// tasks: creation is keyed by (binding, content item) in the store. A task
// still pending from an interrupted earlier run is picked up and executed
// instead of being counted as a plain duplicate.
func (o *Orchestrator) OnContentEvent(ctx context.Context, evt *entity.ContentEvent) (*entity.DeliveryResult, error) {
	result := &entity.DeliveryResult{
		SourceAccountId: evt.SourceAccountId,
		ContentRef:      evt.ContentRef,
	}

	bindings := o.registry.ActiveBindingsForSource(evt.SourceAccountId)
	if len(bindings) == 0 {
		result.NoSubscribers = true
		o.log.With(slog.String("source", evt.SourceAccountId)).Debug("no subscribers")
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, b := range bindings {
		binding := b
		g.Go(func() error {
			task := &entity.DeliveryTask{
				Id:              uuid.NewString(),
				BindingId:       binding.Id,
				SourceAccountId: evt.SourceAccountId,
				HomeAccountId:   binding.HomeAccountId,
				ContentRef:      evt.ContentRef,
				ContentType:     evt.ContentType,
				Status:          entity.DeliveryPending,
				CreatedAt:       time.Now(),
			}
			created, err := o.db.CreateDeliveryTask(task)
			if err != nil {
				o.log.Error("creating delivery task",
					slog.String("binding", binding.Id), sl.Err(err))
				mu.Lock()
				result.Failed++
				mu.Unlock()
				return nil
			}
			if !created {
				existing, getErr := o.db.GetDeliveryTask(binding.Id, evt.ContentRef)
				if getErr != nil {
					o.log.Error("loading existing delivery task",
						slog.String("binding", binding.Id), sl.Err(getErr))
				}
				if existing == nil || existing.Status != entity.DeliveryPending {
					mu.Lock()
					result.Duplicates++
					mu.Unlock()
					return nil
				}
				// Pending task left behind by a crash or a cancelled
				// request: finish it now instead of dropping it.
				mu.Lock()
				result.Resumed++
				mu.Unlock()
				if execErr := o.execute(gctx, existing, evt.Caption); execErr != nil {
					mu.Lock()
					result.Failed++
					mu.Unlock()
				} else {
					mu.Lock()
					result.Delivered++
					mu.Unlock()
				}
				return nil
			}
			mu.Lock()
			result.Created++
			mu.Unlock()

			if execErr := o.execute(gctx, task, evt.Caption); execErr != nil {
				mu.Lock()
				result.Failed++
				mu.Unlock()
			} else {
				mu.Lock()
				result.Delivered++
				mu.Unlock()
			}
			// Task outcome is recorded on the task row; never propagated
			// as a function-level error.
			return nil
		})
	}
	_ = g.Wait()

	o.log.With(
		slog.String("source", evt.SourceAccountId),
		slog.String("content", evt.ContentRef),
		slog.Int("delivered", result.Delivered),
		slog.Int("failed", result.Failed),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("resumed", result.Resumed),
	).Info("content event processed")
	return result, nil
}

// execute runs one task: fetch the artifact, hand it to the sender, record
// the outcome. Transient failures are retried with the shared policy;
// permanent ones (content gone, rejected send) are recorded immediately.
func (o *Orchestrator) execute(ctx context.Context, task *entity.DeliveryTask, caption string) error {
	err := o.policy.Do(ctx, func() error {
		return o.deliver(ctx, task, caption)
	})
	if err != nil {
		o.log.Warn("delivery failed",
			slog.String("task", task.Id),
			slog.Int64("home", task.HomeAccountId),
			sl.Err(err),
		)
		if updErr := o.db.UpdateDeliveryTask(task.Id, entity.DeliveryFailed, err.Error()); updErr != nil {
			o.log.Error("recording failed task", slog.String("task", task.Id), sl.Err(updErr))
		}
		return err
	}
	if updErr := o.db.UpdateDeliveryTask(task.Id, entity.DeliveryDelivered, ""); updErr != nil {
		o.log.Error("recording delivered task", slog.String("task", task.Id), sl.Err(updErr))
	}
	return nil
}

func (o *Orchestrator) deliver(ctx context.Context, task *entity.DeliveryTask, caption string) error {
	switch task.ContentType {
	case entity.ContentText:
		text := caption
		if text == "" {
			text = task.ContentRef
		}
		return o.sender.SendText(task.HomeAccountId, text)
	case entity.ContentImage, entity.ContentVideo, entity.ContentStory:
		artifact, err := o.pipeline.Fetch(ctx, task.ContentRef, task.ContentType)
		if err != nil {
			return fmt.Errorf("fetch content: %w", err)
		}
		defer o.pipeline.Cleanup(artifact)
		return o.sender.SendMedia(task.HomeAccountId, artifact, caption)
	default:
		return fmt.Errorf("unknown content type: %s", task.ContentType)
	}
}
