package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxline/pkg/provider/live"
)

// Default backoff parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ConnectPolicy decides how session establishment handles failures. The
// controller delegates the initial connect to the policy so the retry
// strategy can change without touching the session lifecycle.
type ConnectPolicy interface {
	Connect(ctx context.Context, p live.Provider, cfg live.SessionConfig) (live.SessionHandle, error)
}

// SingleAttempt is a ConnectPolicy that tries exactly once. A failed attempt
// is surfaced to the caller unchanged; closing and starting a fresh session
// is the recovery path.
type SingleAttempt struct{}

var _ ConnectPolicy = SingleAttempt{}

func (SingleAttempt) Connect(ctx context.Context, p live.Provider, cfg live.SessionConfig) (live.SessionHandle, error) {
	return p.Connect(ctx, cfg)
}

// Backoff is a ConnectPolicy that retries transient failures with
// exponential backoff. Auth failures are not retried: a rejected credential
// does not become valid by waiting.
//
// All fields are optional; zero values fall back to the package defaults.
type Backoff struct {
	// MaxRetries is the maximum number of attempts before giving up.
	MaxRetries int

	// Initial is the delay after the first failed attempt. It doubles each
	// attempt up to Max.
	Initial time.Duration

	// Max is the upper limit on the delay between attempts.
	Max time.Duration

	// Log receives per-attempt progress. Nil means slog.Default().
	Log *slog.Logger
}

var _ ConnectPolicy = Backoff{}

func (b Backoff) Connect(ctx context.Context, p live.Provider, cfg live.SessionConfig) (live.SessionHandle, error) {
	maxRetries := b.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	delay := b.Initial
	if delay <= 0 {
		delay = defaultBackoff
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = defaultMaxBackoff
	}
	log := b.Log
	if log == nil {
		log = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		handle, err := p.Connect(ctx, cfg)
		if err == nil {
			if attempt > 1 {
				log.Info("session connected after retry", "attempt", attempt)
			}
			return handle, nil
		}
		lastErr = err

		if errors.Is(err, live.ErrAuth) {
			return nil, err
		}

		log.Warn("connect attempt failed",
			"attempt", attempt,
			"max_retries", maxRetries,
			"backoff", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return nil, fmt.Errorf("session: connect failed after %d attempts: %w", maxRetries, lastErr)
}
