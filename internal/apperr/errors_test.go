package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf_Wrapped(t *testing.T) {
	base := InvalidArgument("bad page size %d", -5)
	wrapped := fmt.Errorf("query events: %w", base)

	assert.Equal(t, CodeInvalidArgument, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CodeInvalidArgument))
	assert.False(t, Is(wrapped, CodeNotFound))
}

func TestCodeOf_ForeignAndNil(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.False(t, Is(nil, CodeInternal))
}

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(CodeLockedFile, "remove log", cause)

	assert.Equal(t, "LockedFile: remove log: disk on fire", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "NotFound: run x", NotFound("run %s", "x").Error())
}

func TestRetryable(t *testing.T) {
	assert.True(t, ErrDatabaseUnavailable.Retryable())
	assert.False(t, InvalidArgument("x").Retryable())
}
