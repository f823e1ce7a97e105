package binding

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediafetch/entity"
)

type checkerFunc func(code string) (*entity.BindingCode, error)

func (f checkerFunc) GetCode(code string) (*entity.BindingCode, error) { return f(code) }

func TestGenerateLengthAndAlphabet(t *testing.T) {
	g := NewCodeGenerator(8, checkerFunc(func(string) (*entity.BindingCode, error) {
		return nil, nil
	}))
	for i := 0; i < 50; i++ {
		code, err := g.Generate()
		require.NoError(t, err)
		assert.Len(t, code, 8)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, r), "character %q outside alphabet", r)
		}
	}
}

func TestGenerateRetriesOnLiveCollision(t *testing.T) {
	calls := 0
	g := NewCodeGenerator(8, checkerFunc(func(code string) (*entity.BindingCode, error) {
		calls++
		if calls == 1 {
			return &entity.BindingCode{
				Code:      code,
				ExpiresAt: time.Now().Add(time.Hour),
			}, nil
		}
		return nil, nil
	}))
	code, err := g.Generate()
	require.NoError(t, err)
	assert.NotEmpty(t, code)
	assert.Equal(t, 2, calls)
}

func TestGenerateAcceptsDeadCollision(t *testing.T) {
	// A used or expired code does not block reuse of the random value;
	// only currently redeemable codes count as collisions.
	calls := 0
	g := NewCodeGenerator(8, checkerFunc(func(code string) (*entity.BindingCode, error) {
		calls++
		return &entity.BindingCode{
			Code:      code,
			Used:      true,
			ExpiresAt: time.Now().Add(time.Hour),
		}, nil
	}))
	_, err := g.Generate()
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGenerateGivesUpAfterBudget(t *testing.T) {
	g := NewCodeGenerator(8, checkerFunc(func(code string) (*entity.BindingCode, error) {
		return &entity.BindingCode{
			Code:      code,
			ExpiresAt: time.Now().Add(time.Hour),
		}, nil
	}))
	_, err := g.Generate()
	require.Error(t, err)
}
