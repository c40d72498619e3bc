package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/satriahrh/wicara/domain/repositories"
)

// Policy parameterizes exponential backoff. Delay grows by Multiplier each
// attempt, capped at MaxDelay, with +/-Jitter applied as a fraction.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       float64
}

// StagePolicy is the per-stage retry policy of the REST chain.
var StagePolicy = Policy{
	MaxRetries:   3,
	InitialDelay: 1000 * time.Millisecond,
	Multiplier:   2,
	MaxDelay:     10 * time.Second,
	Jitter:       0.2,
}

// ReconnectPolicy bounds streaming-transport reconnection.
var ReconnectPolicy = Policy{
	MaxRetries:   5,
	InitialDelay: 1000 * time.Millisecond,
	Multiplier:   2,
	MaxDelay:     30 * time.Second,
	Jitter:       0,
}

// Delay computes the backoff before the given attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// Classifier decides whether an error is worth retrying.
type Classifier func(error) bool

// HTTPError carries a provider status code through the retry classifier.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// retryableStatuses per the provider contract: request timeout, rate limit
// and server-side failures.
var retryableStatuses = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsTransient is the shared classifier: network resets and timeouts,
// retryable HTTP statuses and provider overload messages.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return retryableStatuses[httpErr.Status]
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") || strings.Contains(msg, "rate limit")
}

// WithRetry runs op, retrying per policy when classify accepts the error.
// onRetry fires before each scheduled wait; delays go through the injected
// clock so tests can pin them. Non-retryable errors propagate immediately.
func WithRetry(ctx context.Context, clk repositories.Clock, policy Policy, classify Classifier, onRetry func(attempt int, delay time.Duration), op func(ctx context.Context) error) error {
	if classify == nil {
		classify = IsTransient
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= policy.MaxRetries || !classify(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := policy.Delay(attempt + 1)
		if onRetry != nil {
			onRetry(attempt+1, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(delay):
		}
	}
}
