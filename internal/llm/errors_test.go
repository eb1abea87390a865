package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil error", nil, nil},
		{"generic error", errors.New("connection reset"), nil},
		{"rate limit message", errors.New("rate limit exceeded, retry later"), ErrRateLimited},
		{"429 status", errors.New("HTTP 429: too many requests"), ErrRateLimited},
		{"quota", errors.New("quota exceeded for model"), ErrRateLimited},
		{"context length", errors.New("maximum context length is 128000 tokens"), ErrTruncated},
		{"finish reason", errors.New("finish_reason: length"), ErrTruncated},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrTimeout},
		{"bad key", errors.New("invalid api key provided"), ErrFatalAPI},
		{"401", errors.New("HTTP 401: unauthorized"), ErrFatalAPI},
		{"billing", errors.New("billing account inactive"), ErrFatalAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if tt.want == nil {
				if tt.err == nil && got != nil {
					t.Errorf("Classify(nil) = %v, want nil", got)
				}
				if tt.err != nil && (errors.Is(got, ErrRateLimited) || errors.Is(got, ErrTruncated) ||
					errors.Is(got, ErrTimeout) || errors.Is(got, ErrFatalAPI)) {
					t.Errorf("Classify(%v) classified as %v, want unclassified", tt.err, got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyPreservesOriginal(t *testing.T) {
	orig := errors.New("HTTP 429: too many requests")
	got := Classify(orig)
	if !errors.Is(got, orig) {
		t.Error("classified error lost the original in its chain")
	}
}

func TestClassifyIdempotent(t *testing.T) {
	err := Classify(errors.New("rate limit exceeded"))
	if again := Classify(err); again != err {
		t.Errorf("Classify(Classify(err)) = %v, want unchanged", again)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", ErrRateLimited, true},
		{"truncated", ErrTruncated, true},
		{"timeout", ErrTimeout, true},
		{"fatal", ErrFatalAPI, false},
		{"generic", errors.New("boom"), false},
		{"wrapped retryable", fmt.Errorf("extract: %w", ErrTruncated), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain json", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no lang", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading whitespace", "  \n{\"a\":1}", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.want {
				t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
