// Package binding owns the lifecycle of a single binding:
// issuance of a one-time code, redemption from the source-account side,
// revocation, and passive expiry. All state transitions go through the
// store's conditional writes; the in-process registry is updated
// synchronously after every transition but is never the source of truth.
package binding

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mediafetch/entity"
	"mediafetch/lib/sl"
)

// Database defines the storage operations the state machine depends on.
// Implemented by internal/database/mongo.go. Lookup methods return (nil, nil)
// when nothing matches. MarkCodeUsedAndCreateBinding is a single conditional
// operation: it marks the code used only if it is still unused and unexpired,
// and maps races on the binding uniqueness indexes to the entity error kinds.
type Database interface {
	GetCode(code string) (*entity.BindingCode, error)
	PutCodeIfAbsent(code *entity.BindingCode) error
	GetPendingCodeByHome(homeAccountId int64) (*entity.BindingCode, error)
	MarkCodeUsedAndCreateBinding(code string, binding *entity.Binding) error
	GetActiveBindingByHome(homeAccountId int64) (*entity.Binding, error)
	GetActiveBindingsBySource(sourceAccountId string) ([]*entity.Binding, error)
	DeactivateBinding(id string) error
	ListBindingsByHome(homeAccountId int64) ([]*entity.Binding, error)
	DeleteExpiredCodes(before time.Time) (int64, error)
}

// Limiter admits or denies code issuance per home account.
type Limiter interface {
	Admit(homeAccountId int64) bool
}

// Registry receives targeted updates after every state transition.
type Registry interface {
	Upsert(b *entity.Binding)
	Remove(b *entity.Binding)
}

type Service struct {
	db       Database
	gen      *CodeGenerator
	limiter  Limiter
	registry Registry
	codeTTL  time.Duration
	log      *slog.Logger

	stopSweep chan struct{}
	sweepDone chan struct{}

	now func() time.Time // overridable in tests
}

func New(db Database, limiter Limiter, registry Registry, codeLength int, codeTTL time.Duration, log *slog.Logger) *Service {
	if codeTTL <= 0 {
		codeTTL = 24 * time.Hour
	}
	return &Service{
		db:       db,
		gen:      NewCodeGenerator(codeLength, db),
		limiter:  limiter,
		registry: registry,
		codeTTL:  codeTTL,
		log:      log.With(sl.Module("binding")),
		now:      time.Now,
	}
}

// RequestCode issues a new binding code for a home account.
// Guards, in order: rate limit, no existing active binding, no outstanding
// unexpired unused code. Each failed guard maps to its own error kind.
func (s *Service) RequestCode(homeAccountId int64) (*entity.BindingCode, error) {
	if !s.limiter.Admit(homeAccountId) {
		return nil, entity.ErrRateLimited
	}

	existing, err := s.db.GetActiveBindingByHome(homeAccountId)
	if err != nil {
		return nil, fmt.Errorf("binding lookup: %w", err)
	}
	if existing != nil {
		return nil, entity.ErrAlreadyBound
	}

	pending, err := s.db.GetPendingCodeByHome(homeAccountId)
	if err != nil {
		return nil, fmt.Errorf("pending code lookup: %w", err)
	}
	if pending != nil && pending.IsRedeemable(s.now()) {
		return nil, entity.ErrPendingExists
	}

	bc, err := s.issueCode(homeAccountId)
	if err != nil {
		return nil, err
	}

	s.log.With(
		slog.Int64("home", homeAccountId),
		slog.Time("expires_at", bc.ExpiresAt),
	).Info("binding code issued")
	return bc, nil
}

// issueCode generates and persists a code, regenerating on the rare insert
// collision. PutCodeIfAbsent is the authoritative uniqueness check; the
// generator's own store lookup only shortens the window.
func (s *Service) issueCode(homeAccountId int64) (*entity.BindingCode, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := s.gen.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		now := s.now()
		bc := &entity.BindingCode{
			Code:          code,
			HomeAccountId: homeAccountId,
			IssuedAt:      now,
			ExpiresAt:     now.Add(s.codeTTL),
		}
		err = s.db.PutCodeIfAbsent(bc)
		if err == nil {
			return bc, nil
		}
		if !errors.Is(err, entity.ErrCodeCollision) {
			return nil, fmt.Errorf("persist code: %w", err)
		}
	}
	return nil, fmt.Errorf("no unique code after %d attempts", maxGenerateAttempts)
}

// Redeem confirms a binding: the source account presented a code. Validation
// order is fixed and the first failing check wins. The final step is a single
// conditional store operation, so two concurrent redemptions of the same code
// produce exactly one active binding and one ErrCodeAlreadyUsed.
func (s *Service) Redeem(code string, sourceAccountId string) (*entity.Binding, error) {
	bc, err := s.db.GetCode(code)
	if err != nil {
		return nil, fmt.Errorf("code lookup: %w", err)
	}
	if bc == nil {
		return nil, entity.ErrInvalidCode
	}
	if bc.Used {
		return nil, entity.ErrCodeAlreadyUsed
	}
	if bc.IsExpired(s.now()) {
		return nil, entity.ErrCodeExpired
	}

	sourceBindings, err := s.db.GetActiveBindingsBySource(sourceAccountId)
	if err != nil {
		return nil, fmt.Errorf("source binding lookup: %w", err)
	}
	for _, b := range sourceBindings {
		if b.HomeAccountId != bc.HomeAccountId {
			return nil, entity.ErrSourceAlreadyBound
		}
	}

	// Re-checked here to close the race between issuance and redemption.
	homeBinding, err := s.db.GetActiveBindingByHome(bc.HomeAccountId)
	if err != nil {
		return nil, fmt.Errorf("home binding lookup: %w", err)
	}
	if homeBinding != nil {
		return nil, entity.ErrHomeAlreadyBound
	}

	binding := &entity.Binding{
		Id:              uuid.NewString(),
		HomeAccountId:   bc.HomeAccountId,
		SourceAccountId: sourceAccountId,
		OriginatingCode: code,
		BoundAt:         s.now(),
		Active:          true,
	}
	if err = s.db.MarkCodeUsedAndCreateBinding(code, binding); err != nil {
		return nil, err
	}

	s.registry.Upsert(binding)
	s.log.With(
		slog.Int64("home", binding.HomeAccountId),
		slog.String("source", binding.SourceAccountId),
	).Info("binding activated")
	return binding, nil
}

// Revoke deactivates the home account's active binding if one exists.
// The binding row and its originating code are kept for audit.
func (s *Service) Revoke(homeAccountId int64) (bool, error) {
	b, err := s.db.GetActiveBindingByHome(homeAccountId)
	if err != nil {
		return false, fmt.Errorf("binding lookup: %w", err)
	}
	if b == nil {
		return false, nil
	}
	if err = s.db.DeactivateBinding(b.Id); err != nil {
		return false, fmt.Errorf("deactivate binding: %w", err)
	}
	s.registry.Remove(b)
	s.log.With(
		slog.Int64("home", homeAccountId),
		slog.String("source", b.SourceAccountId),
	).Info("binding revoked")
	return true, nil
}

// ListBindings returns the home account's bindings, revoked ones included.
func (s *Service) ListBindings(homeAccountId int64) ([]*entity.Binding, error) {
	bindings, err := s.db.ListBindingsByHome(homeAccountId)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	return bindings, nil
}

func (s *Service) reportSweep(removed int64, err error) {
	if err != nil {
		s.log.Error("sweeping expired codes", sl.Err(err))
		return
	}
	if removed > 0 {
		s.log.With(slog.Int64("removed", removed)).Debug("swept expired codes")
	}
}
