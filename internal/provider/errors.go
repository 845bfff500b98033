package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for model backend failures.
var (
	// ErrAuth indicates the backend rejected our credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrRateLimited indicates the backend throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable indicates the model backend is unreachable or unknown.
	ErrUnavailable = errors.New("model not available")

	// ErrMalformed indicates the backend sent a payload we could not parse.
	ErrMalformed = errors.New("malformed upstream payload")
)

const maxRawErrorLen = 120

// Classify reduces a provider failure to the short human-readable string
// surfaced as a model's terminal content. Unknown errors are passed through
// truncated rather than leaking a full stack of wrapping.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "Authentication failed"
	case errors.Is(err, ErrRateLimited):
		return "Rate limited"
	case errors.Is(err, ErrUnavailable):
		return "Model not available"
	}
	msg := err.Error()
	if len(msg) > maxRawErrorLen {
		msg = msg[:maxRawErrorLen] + "..."
	}
	return msg
}

// TimeoutMessage is the synthetic error recorded when a model produces no
// activity for the whole inactivity window.
func TimeoutMessage(window time.Duration) string {
	return fmt.Sprintf("Timeout (%ds)", int(window.Seconds()))
}

// mapWorkerError converts an error string reported by a remote inference
// worker into the matching sentinel.
func mapWorkerError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "auth") || strings.Contains(lower, "api key") || strings.Contains(lower, "unauthorized"):
		return fmt.Errorf("%w: %s", ErrAuth, msg)
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "quota"):
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	case strings.Contains(lower, "not available") || strings.Contains(lower, "not found") || strings.Contains(lower, "no responders"):
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	default:
		return errors.New(msg)
	}
}
