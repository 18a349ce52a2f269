package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of reconnection attempts
	Backoff     time.Duration // Backoff duration between attempts
	Multiplier  float64       // Backoff multiplier for exponential backoff
	MaxBackoff  time.Duration // Maximum backoff duration
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     1 * time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// Reconnect calls fn with exponential backoff until it succeeds or the attempts run out
func Reconnect(ctx context.Context, logger zerolog.Logger, config *ReconnectConfig, fn func(ctx context.Context) error) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}

	backoff := config.Backoff
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			logger.Info().Int("attempt", attempt).Msg("Reconnection successful")
			return nil
		}

		if attempt == config.MaxAttempts {
			break
		}

		logger.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Int("max_attempts", config.MaxAttempts).
			Dur("backoff", backoff).
			Msg("Reconnection attempt failed")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("failed to reconnect after %d attempts: %w", config.MaxAttempts, lastErr)
}

// BreakerMetrics adapts the prometheus circuit breaker collectors to StateObserver.
// The functions are injected to keep this package free of the observability import.
type BreakerMetrics struct {
	OnState   func(service string, state int)
	OnFailure func(service string)
}

// StateChanged implements StateObserver
func (m BreakerMetrics) StateChanged(name string, state CircuitState) {
	if m.OnState != nil {
		m.OnState(name, int(state))
	}
}

// Failure implements StateObserver
func (m BreakerMetrics) Failure(name string) {
	if m.OnFailure != nil {
		m.OnFailure(name)
	}
}
