package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"routing-backend/internal/shared/telemetry"
)

// ProviderError wraps SDK errors with the HTTP status when one is known.
type ProviderError struct {
	Provider  string
	Status    int
	Temporary bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: status %d", e.Provider, e.Status)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTransient reports whether an error is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNotConfigured) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.Temporary {
			return true
		}
		if providerErr.Status == 429 || (providerErr.Status >= 500 && providerErr.Status <= 599) {
			return true
		}
		if providerErr.Status >= 400 {
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "tls handshake timeout"),
		strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "unavailable"):
		return true
	}
	return false
}

// RetryPolicy bounds retries with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is three attempts starting at 300ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 300 * time.Millisecond, MaxDelay: 2 * time.Second}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// Retrying retries transient provider errors.
type Retrying struct {
	Base   Completer
	Policy RetryPolicy
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps a completer with the default policy.
func WithRetry(base Completer) *Retrying {
	return &Retrying{Base: base, Policy: DefaultRetryPolicy()}
}

// Name implements Completer.
func (r *Retrying) Name() string { return r.Base.Name() }

// Complete implements Completer.
func (r *Retrying) Complete(ctx context.Context, model, prompt string) (Completion, error) {
	attempts := r.Policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := r.Base.Complete(ctx, model, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt == attempts || !IsTransient(err) {
			break
		}
		delay := r.Policy.delay(attempt)
		telemetry.Warn("llm.retry", map[string]any{
			"provider": r.Base.Name(),
			"model":    model,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})
		if err := sleep(ctx, delay); err != nil {
			return Completion{}, err
		}
	}
	return Completion{}, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Completer = (*Retrying)(nil)
