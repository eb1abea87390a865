package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Chain is an ordered list of providers plus a retryability predicate.
// A call walks the list, moving to the next provider only when the
// classifier deems the failure retryable.
type Chain struct {
	providers      []Provider
	retryable      func(error) bool
	attemptTimeout time.Duration
}

// NewChain builds a fallback chain. If retryable is nil, IsRetryable is used.
func NewChain(retryable func(error) bool, providers ...Provider) *Chain {
	if retryable == nil {
		retryable = IsRetryable
	}
	return &Chain{providers: providers, retryable: retryable}
}

// WithAttemptTimeout returns a copy of the chain where each provider
// attempt runs under its own deadline. A slow primary then cannot eat
// the whole budget before the fallback gets a turn.
func (c *Chain) WithAttemptTimeout(d time.Duration) *Chain {
	out := *c
	out.attemptTimeout = d
	return &out
}

// Providers returns the chain members in order.
func (c *Chain) Providers() []Provider {
	return c.providers
}

// Primary returns the first provider, or nil for an empty chain.
func (c *Chain) Primary() Provider {
	if len(c.providers) == 0 {
		return nil
	}
	return c.providers[0]
}

// GenerateJSON walks the chain until a provider succeeds or a non-retryable
// error occurs. Returns the raw JSON and the name of the provider that
// produced it.
func (c *Chain) GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, string, error) {
	if len(c.providers) == 0 {
		return nil, "", fmt.Errorf("no providers configured")
	}

	var lastErr error
	for i, p := range c.providers {
		raw, err := c.attempt(ctx, p, prompt)
		if err == nil {
			return raw, p.Name(), nil
		}
		lastErr = err
		if !c.retryable(err) {
			return nil, p.Name(), err
		}
		if i < len(c.providers)-1 {
			slog.Warn("provider call failed, trying fallback",
				"provider", p.Name(),
				"fallback", c.providers[i+1].Name(),
				"error", err)
		}
	}
	return nil, c.providers[len(c.providers)-1].Name(), fmt.Errorf("all providers failed: %w", lastErr)
}

func (c *Chain) attempt(ctx context.Context, p Provider, prompt string) (json.RawMessage, error) {
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}
	return p.GenerateJSON(ctx, prompt)
}
