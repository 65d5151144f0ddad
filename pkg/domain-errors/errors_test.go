package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches outer code", func(t *testing.T) {
		err := New(CodeConflict, "duplicate subscription")
		assert.True(t, HasCode(err, CodeConflict))
		assert.False(t, HasCode(err, CodeNotFound))
	})

	t.Run("matches code through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("complete: %w", New(CodeUpstream, "mint failed"))
		assert.True(t, HasCode(err, CodeUpstream))
		assert.Equal(t, CodeUpstream, CodeOf(err))
	})

	t.Run("matches inner code of nested domain errors", func(t *testing.T) {
		inner := New(CodePreconditionFailed, "not funded")
		err := Wrap(inner, CodeInternal, "complete failed")
		assert.True(t, HasCode(err, CodePreconditionFailed))
		assert.Equal(t, CodeInternal, CodeOf(err))
	})

	t.Run("plain errors have no code", func(t *testing.T) {
		err := errors.New("boom")
		assert.False(t, HasCode(err, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(err))
		assert.Equal(t, "internal error", MessageOf(err))
	})
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "nothing"))
}
