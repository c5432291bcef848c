package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := ValidationError("Topic is required")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Equal(t, "Topic is required", err.Message)
	assert.Nil(t, err.Cause)
	assert.NotNil(t, err.Context)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Equal(t, "validation: Topic is required", err.Error())
}

func TestUnknownActionError(t *testing.T) {
	err := UnknownActionError("explode")

	assert.Equal(t, TypeUnknownAction, err.Type)
	assert.Equal(t, "Unknown action", err.Message)
	assert.Equal(t, "explode", err.Context["action"])
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
}

func TestStoreError(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := StoreError("subscribe failed", cause)

	assert.Equal(t, TypeStore, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus())
	assert.Contains(t, err.Error(), "store")
	assert.Contains(t, err.Error(), "subscribe failed")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want int
	}{
		{"validation", ValidationError("x"), http.StatusBadRequest},
		{"unknown action", UnknownActionError("x"), http.StatusBadRequest},
		{"unauthorized", UnauthorizedError("x"), http.StatusUnauthorized},
		{"transport", TransportError("x", nil), http.StatusInternalServerError},
		{"store", StoreError("x", nil), http.StatusServiceUnavailable},
		{"internal", InternalError("x", nil), http.StatusInternalServerError},
		{"unknown type", &Error{Type: "weird"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)

	assert.Nil(t, err.Cause)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestWithContext(t *testing.T) {
	err := StoreError("unsubscribe failed", nil).
		WithContext("conn_id", "c-1").
		WithContext("topic", "news")

	assert.Equal(t, "c-1", err.Context["conn_id"])
	assert.Equal(t, "news", err.Context["topic"])

	resp := err.ToResponse()
	assert.Equal(t, "unsubscribe failed", resp.Error)
	assert.Equal(t, TypeStore, resp.Type)
	assert.Equal(t, err.Context, resp.Context)
}

func TestWithContext_NilMap(t *testing.T) {
	err := &Error{Type: TypeInternal, Message: "x"}
	err.WithContext("k", "v")
	assert.Equal(t, "v", err.Context["k"])
}

func TestAsStructuredError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})

	t.Run("already structured", func(t *testing.T) {
		original := ValidationError("bad")
		assert.Same(t, original, AsStructuredError(original))
	})

	t.Run("wrapped structured", func(t *testing.T) {
		original := StoreError("down", nil)
		wrapped := fmt.Errorf("publish: %w", original)
		assert.Same(t, original, AsStructuredError(wrapped))
	})

	t.Run("plain error", func(t *testing.T) {
		plain := errors.New("boom")
		got := AsStructuredError(plain)
		require.NotNil(t, got)
		assert.Equal(t, TypeInternal, got.Type)
		assert.ErrorIs(t, got, plain)
	})
}

func TestIsType(t *testing.T) {
	err := fmt.Errorf("outer: %w", StoreError("down", nil))

	assert.True(t, IsType(err, TypeStore))
	assert.False(t, IsType(err, TypeValidation))
	assert.False(t, IsType(errors.New("plain"), TypeStore))
}
