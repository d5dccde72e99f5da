package reliability

import (
	"errors"
	"time"
)

// Sentinel errors for provider failures. Callers classify with errors.Is and
// decide between retrying, degrading, or surfacing an error event.
var (
	// ErrProviderRetryable marks a transient upstream failure (5xx, 429,
	// network reset). Retried with backoff where a retry budget exists.
	ErrProviderRetryable = errors.New("provider error: retryable")

	// ErrProviderPermanent marks a failure retrying cannot fix (4xx other
	// than 429, malformed response).
	ErrProviderPermanent = errors.New("provider error: permanent")

	// ErrAudioTooSmall marks an STT request skipped because the buffered
	// audio is below the provider's useful minimum.
	ErrAudioTooSmall = errors.New("audio buffer too small for transcription")
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ClassifyHTTPStatus maps a non-2xx status to the matching sentinel.
func ClassifyHTTPStatus(code int) error {
	if IsRetryableHTTPStatus(code) {
		return ErrProviderRetryable
	}
	return ErrProviderPermanent
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
