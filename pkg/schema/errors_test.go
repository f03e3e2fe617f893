package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := NewError(ErrCodeExecution, "boom")
	assert.Equal(t, "[EXECUTION_ERROR] boom", err.Error())

	err = NewErrorf(ErrCodeValidation, "field %q missing", "name")
	assert.Equal(t, `[VALIDATION_ERROR] field "name" missing`, err.Error())
}

func TestErrorStringWithAction(t *testing.T) {
	err := NewError(ErrCodeExecution, "boom").WithAction(2)
	assert.Equal(t, "[EXECUTION_ERROR] action 2: boom", err.Error())

	// The first action is index 0 and still renders its attribution.
	err = NewError(ErrCodeExecution, "boom").WithAction(0)
	assert.Equal(t, "[EXECUTION_ERROR] action 0: boom", err.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewError(ErrCodeStore, "write failed").WithCause(cause)

	require.ErrorIs(t, err, cause)

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ErrCodeStore, se.Code)
}

func TestIsCode(t *testing.T) {
	err := NewError(ErrCodeRateLimited, "cooling down")
	assert.True(t, IsCode(err, ErrCodeRateLimited))
	assert.False(t, IsCode(err, ErrCodeExecution))
	assert.False(t, IsCode(fmt.Errorf("plain"), ErrCodeExecution))
	assert.False(t, IsCode(nil, ErrCodeExecution))
}
