package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(CodeHintNotFound, "execute", "target not located", nil)
	assert.Equal(t, "[execute:HINT_NOT_FOUND] target not located", err.Error())

	wrapped := New(CodeIoError, "store", "write failed", io.ErrClosedPipe)
	assert.Equal(t, "[store:IO_ERROR] write failed: io: read/write on closed pipe", wrapped.Error())
}

func TestUnwrap(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := New(CodeOracleUnreachable, "oracle", "request failed", cause)
	assert.True(t, stderrors.Is(err, cause))
	assert.Nil(t, New(CodeUnknown, "x", "no cause", nil).Unwrap())
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(CodeRateLimited, "oracle", "throttled", nil)
	b := New(CodeRateLimited, "other-domain", "different message", nil)
	c := New(CodeTimeout, "oracle", "throttled", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
	assert.False(t, stderrors.Is(a, io.EOF))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeUnknown, CodeOf(io.EOF))

	err := New(CodeMissingAPIKey, "oracle", "no key", nil)
	assert.Equal(t, CodeMissingAPIKey, CodeOf(err))

	// The code survives fmt wrapping.
	assert.Equal(t, CodeMissingAPIKey, CodeOf(fmt.Errorf("loading config: %w", err)))
}
