package apperror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsUnwrapsTypedError(t *testing.T) {
	wrapped := fmtErrorf(NotFound("task %s not found", "abc"))
	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, got.Kind)
}

func TestAsRejectsPlainError(t *testing.T) {
	_, ok := As(errors.New("boom"))
	assert.False(t, ok)
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:        http.StatusBadRequest,
		KindNotFound:          http.StatusNotFound,
		KindConflict:          http.StatusConflict,
		KindTimeout:           http.StatusRequestTimeout,
		KindTransientStore:    http.StatusServiceUnavailable,
		KindShutdownInProcess: http.StatusServiceUnavailable,
		KindExecutionFailure:  http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), "kind=%s", kind)
	}
}

func fmtErrorf(err *Error) error {
	return errors.Join(err)
}
