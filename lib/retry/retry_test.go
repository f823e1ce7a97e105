package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func testPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Transient:   func(err error) bool { return errors.Is(err, errTransient) },
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := testPolicy().Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := testPolicy().Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAfterBudget(t *testing.T) {
	calls := 0
	err := testPolicy().Do(context.Background(), func() error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, calls) // initial attempt plus three retries
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	calls := 0
	err := testPolicy().Do(context.Background(), func() error {
		calls++
		return errPermanent
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := testPolicy().Do(ctx, func() error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}
