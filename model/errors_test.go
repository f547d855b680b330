package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient_Markers(t *testing.T) {
	transient := []string{
		"request timeout",
		"service temporarily unavailable",
		"Rate Limit exceeded",
		"too many requests",
		"connection reset by peer",
		"connection error",
		"upstream returned 502",
		"503 service unavailable",
		"gateway 504",
	}
	for _, msg := range transient {
		assert.True(t, IsTransient(errors.New(msg)), msg)
	}

	fatal := []string{
		"invalid api key",
		"model not found",
		"context length exceeded",
	}
	for _, msg := range fatal {
		assert.False(t, IsTransient(errors.New(msg)), msg)
	}
	assert.False(t, IsTransient(nil))
}

func TestIsTransient_StatusCodes(t *testing.T) {
	for _, status := range []int{408, 409, 429, 500, 502, 503, 504} {
		err := &ProviderError{Provider: "openai", Status: status, Err: errors.New("x")}
		assert.True(t, IsTransient(err), "status %d", status)
	}
	for _, status := range []int{400, 401, 403, 404, 422} {
		err := &ProviderError{Provider: "openai", Status: status, Err: errors.New("x")}
		assert.False(t, IsTransient(err), "status %d", status)
	}
}

func TestIsTransient_WrappedProviderError(t *testing.T) {
	inner := &ProviderError{Provider: "anthropic", Status: 529, Err: errors.New("overloaded")}
	wrapped := fmt.Errorf("call failed: %w", inner)
	assert.True(t, IsTransient(wrapped))
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &ProviderError{Provider: "openai", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "openai api error")
}
