package binding

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediafetch/entity"
)

// memStore is an in-memory Database with the same conditional-write semantics
// as the Mongo adapter: redemption is a single compare-and-set on the code row
// plus uniqueness enforcement on active bindings.
type memStore struct {
	mu       sync.Mutex
	codes    map[string]*entity.BindingCode
	bindings map[string]*entity.Binding

	// failInserts makes the next N binding inserts fail transiently. Mirrors
	// the adapter contract: a failed insert leaves the code redeemable.
	failInserts int
}

func newMemStore() *memStore {
	return &memStore{
		codes:    make(map[string]*entity.BindingCode),
		bindings: make(map[string]*entity.Binding),
	}
}

func (m *memStore) GetCode(code string) (*entity.BindingCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.codes[code]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, nil
}

func (m *memStore) PutCodeIfAbsent(code *entity.BindingCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[code.Code]; ok {
		return entity.ErrCodeCollision
	}
	clone := *code
	m.codes[code.Code] = &clone
	return nil
}

func (m *memStore) GetPendingCodeByHome(home int64) (*entity.BindingCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.HomeAccountId == home && !c.Used && time.Now().Before(c.ExpiresAt) {
			clone := *c
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memStore) MarkCodeUsedAndCreateBinding(code string, binding *entity.Binding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return entity.ErrInvalidCode
	}
	if c.Used {
		return entity.ErrCodeAlreadyUsed
	}
	if time.Now().After(c.ExpiresAt) {
		return entity.ErrCodeExpired
	}
	for _, b := range m.bindings {
		if !b.Active {
			continue
		}
		if b.HomeAccountId == binding.HomeAccountId {
			return entity.ErrHomeAlreadyBound
		}
		if b.SourceAccountId == binding.SourceAccountId && b.HomeAccountId != binding.HomeAccountId {
			return entity.ErrSourceAlreadyBound
		}
	}
	if m.failInserts > 0 {
		m.failInserts--
		return fmt.Errorf("create binding: %w", entity.ErrStoreUnavailable)
	}
	c.Used = true
	c.UsedAt = time.Now()
	c.SourceUsernameHint = binding.SourceAccountId
	clone := *binding
	m.bindings[binding.Id] = &clone
	return nil
}

func (m *memStore) GetActiveBindingByHome(home int64) (*entity.Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bindings {
		if b.Active && b.HomeAccountId == home {
			clone := *b
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetActiveBindingsBySource(source string) ([]*entity.Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Binding
	for _, b := range m.bindings {
		if b.Active && b.SourceAccountId == source {
			clone := *b
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memStore) DeactivateBinding(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bindings[id]; ok {
		b.Active = false
		b.RevokedAt = time.Now()
	}
	return nil
}

func (m *memStore) ListBindingsByHome(home int64) ([]*entity.Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Binding
	for _, b := range m.bindings {
		if b.HomeAccountId == home {
			clone := *b
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memStore) DeleteExpiredCodes(before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for code, c := range m.codes {
		if !c.Used && c.ExpiresAt.Before(before) {
			delete(m.codes, code)
			removed++
		}
	}
	return removed, nil
}

type admitAll struct{}

func (admitAll) Admit(int64) bool { return true }

type denyAll struct{}

func (denyAll) Admit(int64) bool { return false }

// recordingRegistry captures the targeted updates the state machine pushes.
type recordingRegistry struct {
	mu       sync.Mutex
	upserted []*entity.Binding
	removed  []*entity.Binding
}

func (r *recordingRegistry) Upsert(b *entity.Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserted = append(r.upserted, b)
}

func (r *recordingRegistry) Remove(b *entity.Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, b)
}

func newService(db Database, l Limiter) (*Service, *recordingRegistry) {
	reg := &recordingRegistry{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(db, l, reg, 8, 24*time.Hour, log), reg
}

func TestRequestCodeIssues(t *testing.T) {
	s, _ := newService(newMemStore(), admitAll{})

	bc, err := s.RequestCode(42)
	require.NoError(t, err)
	assert.Len(t, bc.Code, 8)
	for _, r := range bc.Code {
		assert.Contains(t, codeAlphabet, string(r))
	}
	assert.NotContains(t, bc.Code, "0")
	assert.NotContains(t, bc.Code, "O")
	assert.NotContains(t, bc.Code, "1")
	assert.NotContains(t, bc.Code, "I")
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), bc.ExpiresAt, time.Minute)
}

func TestRequestCodeRateLimited(t *testing.T) {
	s, _ := newService(newMemStore(), denyAll{})
	_, err := s.RequestCode(42)
	assert.ErrorIs(t, err, entity.ErrRateLimited)
}

func TestRequestCodePendingExists(t *testing.T) {
	s, _ := newService(newMemStore(), admitAll{})
	_, err := s.RequestCode(42)
	require.NoError(t, err)
	_, err = s.RequestCode(42)
	assert.ErrorIs(t, err, entity.ErrPendingExists)
}

func TestRequestCodeAlreadyBound(t *testing.T) {
	db := newMemStore()
	s, _ := newService(db, admitAll{})
	bc, err := s.RequestCode(42)
	require.NoError(t, err)
	_, err = s.Redeem(bc.Code, "natgeo")
	require.NoError(t, err)

	_, err = s.RequestCode(42)
	assert.ErrorIs(t, err, entity.ErrAlreadyBound)
}

func TestRedeemUnknownCode(t *testing.T) {
	s, _ := newService(newMemStore(), admitAll{})
	_, err := s.Redeem("ZZZZZZZZ", "natgeo")
	assert.ErrorIs(t, err, entity.ErrInvalidCode)
}

func TestRedeemExpiredCode(t *testing.T) {
	db := newMemStore()
	s, _ := newService(db, admitAll{})
	bc, err := s.RequestCode(42)
	require.NoError(t, err)

	db.mu.Lock()
	db.codes[bc.Code].ExpiresAt = time.Now().Add(-time.Minute)
	db.mu.Unlock()

	_, err = s.Redeem(bc.Code, "natgeo")
	assert.ErrorIs(t, err, entity.ErrCodeExpired)
}

func TestRedeemTwiceSequential(t *testing.T) {
	s, _ := newService(newMemStore(), admitAll{})
	bc, err := s.RequestCode(42)
	require.NoError(t, err)

	b, err := s.Redeem(bc.Code, "natgeo")
	require.NoError(t, err)
	assert.Equal(t, int64(42), b.HomeAccountId)

	_, err = s.Redeem(bc.Code, "natgeo")
	assert.ErrorIs(t, err, entity.ErrCodeAlreadyUsed)
}

func TestRedeemStoreFailureDoesNotBurnCode(t *testing.T) {
	db := newMemStore()
	s, reg := newService(db, admitAll{})
	bc, err := s.RequestCode(42)
	require.NoError(t, err)

	db.mu.Lock()
	db.failInserts = 1
	db.mu.Unlock()

	_, err = s.Redeem(bc.Code, "natgeo")
	assert.ErrorIs(t, err, entity.ErrStoreUnavailable)
	assert.Empty(t, reg.upserted)

	// Once the store recovers the same code redeems normally.
	b, err := s.Redeem(bc.Code, "natgeo")
	require.NoError(t, err)
	assert.Equal(t, int64(42), b.HomeAccountId)
}

func TestRedeemSourceAlreadyBound(t *testing.T) {
	s, _ := newService(newMemStore(), admitAll{})
	first, err := s.RequestCode(42)
	require.NoError(t, err)
	_, err = s.Redeem(first.Code, "natgeo")
	require.NoError(t, err)

	second, err := s.RequestCode(43)
	require.NoError(t, err)
	_, err = s.Redeem(second.Code, "natgeo")
	assert.ErrorIs(t, err, entity.ErrSourceAlreadyBound)
}

func TestRedeemConcurrentSingleWinner(t *testing.T) {
	s, reg := newService(newMemStore(), admitAll{})
	bc, err := s.RequestCode(42)
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = s.Redeem(bc.Code, "natgeo")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, e := range errs {
		if e == nil {
			wins++
		} else {
			// Losers must see a deterministic terminal kind, never success.
			isKnown := errors.Is(e, entity.ErrCodeAlreadyUsed) ||
				errors.Is(e, entity.ErrHomeAlreadyBound)
			assert.True(t, isKnown, "unexpected error: %v", e)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, reg.upserted, 1)
}

func TestConcurrentRedeemDifferentCodesSameHome(t *testing.T) {
	// N concurrent redemptions with distinct codes for the same home:
	// at most one active binding per home account.
	db := newMemStore()
	s, _ := newService(db, admitAll{})

	const codes = 6
	issued := make([]string, codes)
	now := time.Now()
	for i := 0; i < codes; i++ {
		bc := &entity.BindingCode{
			Code:          string(rune('A'+i)) + "BCDEFGH",
			HomeAccountId: 42,
			IssuedAt:      now,
			ExpiresAt:     now.Add(time.Hour),
		}
		require.NoError(t, db.PutCodeIfAbsent(bc))
		issued[i] = bc.Code
	}

	var wg sync.WaitGroup
	wins := make([]bool, codes)
	for i, code := range issued {
		wg.Add(1)
		go func(n int, c string) {
			defer wg.Done()
			_, err := s.Redeem(c, "natgeo")
			wins[n] = err == nil
		}(i, code)
	}
	wg.Wait()

	active, err := db.GetActiveBindingsBySource("natgeo")
	require.NoError(t, err)
	assert.Len(t, active, 1)

	total := 0
	for _, w := range wins {
		if w {
			total++
		}
	}
	assert.Equal(t, 1, total)
}

func TestRevoke(t *testing.T) {
	s, reg := newService(newMemStore(), admitAll{})
	bc, err := s.RequestCode(42)
	require.NoError(t, err)
	_, err = s.Redeem(bc.Code, "natgeo")
	require.NoError(t, err)

	ok, err := s.Revoke(42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, reg.removed, 1)

	// Revocation keeps the row for audit.
	bindings, err := s.ListBindings(42)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.False(t, bindings[0].Active)

	// No-op when nothing is bound.
	ok, err = s.Revoke(42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRebindAfterRevoke(t *testing.T) {
	s, _ := newService(newMemStore(), admitAll{})
	bc, err := s.RequestCode(42)
	require.NoError(t, err)
	_, err = s.Redeem(bc.Code, "natgeo")
	require.NoError(t, err)

	_, err = s.Revoke(42)
	require.NoError(t, err)

	bc2, err := s.RequestCode(42)
	require.NoError(t, err)
	b, err := s.Redeem(bc2.Code, "nasa")
	require.NoError(t, err)
	assert.Equal(t, "nasa", b.SourceAccountId)
}

func TestSweepRemovesOnlyExpiredUnusedCodes(t *testing.T) {
	db := newMemStore()
	s, _ := newService(db, admitAll{})
	bc, err := s.RequestCode(42)
	require.NoError(t, err)
	_, err = s.Redeem(bc.Code, "natgeo")
	require.NoError(t, err)

	now := time.Now()
	expired := &entity.BindingCode{
		Code:          "EXPIRED2",
		HomeAccountId: 43,
		IssuedAt:      now.Add(-48 * time.Hour),
		ExpiresAt:     now.Add(-24 * time.Hour),
	}
	require.NoError(t, db.PutCodeIfAbsent(expired))

	removed, err := db.DeleteExpiredCodes(now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// The used code is retained for audit.
	used, err := db.GetCode(bc.Code)
	require.NoError(t, err)
	require.NotNil(t, used)
	assert.True(t, used.Used)
}
