package llm

import (
	"context"
	"errors"
	"strings"
)

// Sentinel errors for the provider-call failure taxonomy.
var (
	// ErrRateLimited marks a rate-limit rejection; retryable via fallback.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrTruncated marks output that exceeded model limits; retryable via
	// fallback, otherwise surfaced as "document too large".
	ErrTruncated = errors.New("provider output truncated")

	// ErrTimeout marks a per-call deadline expiry; retryable via fallback.
	ErrTimeout = errors.New("provider call timed out")

	// ErrFatalAPI marks credential/billing failures that no retry can fix.
	ErrFatalAPI = errors.New("fatal provider error")
)

var rateLimitPatterns = []string{
	"rate limit",
	"too many requests",
	"429",
	"quota exceeded",
	"overloaded",
}

var truncationPatterns = []string{
	"maximum context length",
	"context length exceeded",
	"max_tokens",
	"output truncated",
	"finish_reason: length",
	"response too long",
}

var fatalPatterns = []string{
	"invalid api key",
	"incorrect api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
	"billing",
	"credit balance",
	"account deactivated",
}

// Classify maps a raw provider error onto the failure taxonomy. The original
// error is preserved in the chain so callers can still inspect it.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrTimeout) || errors.Is(err, ErrFatalAPI) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return errors.Join(ErrFatalAPI, err)
		}
	}
	for _, p := range rateLimitPatterns {
		if strings.Contains(msg, p) {
			return errors.Join(ErrRateLimited, err)
		}
	}
	for _, p := range truncationPatterns {
		if strings.Contains(msg, p) {
			return errors.Join(ErrTruncated, err)
		}
	}
	return err
}

// IsRetryable reports whether a classified error warrants one retry with the
// designated fallback provider.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrTimeout)
}
