package model

import (
	"errors"
	"strings"
)

// ProviderError wraps an adapter failure with its HTTP status (0 when the
// failure never reached the wire).
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	return e.Provider + " api error: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// transientMarkers are message substrings that classify an error as
// retryable when its HTTP status (if any) does not already do so.
var transientMarkers = []string{
	"timeout",
	"temporarily unavailable",
	"rate limit",
	"too many requests",
	"connection reset",
	"connection error",
	"502",
	"503",
	"504",
	"429",
}

// IsTransient reports whether err warrants a retry with backoff.
//
// Classification: a *ProviderError with HTTP status 408, 409, 429 or any
// 5xx is transient; otherwise the error text is matched against a fixed
// marker list (timeouts, rate limits, connection failures, upstream 5xx).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Status != 0 {
		switch pe.Status {
		case 408, 409, 429:
			return true
		}
		if pe.Status >= 500 {
			return true
		}
	}
	text := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
