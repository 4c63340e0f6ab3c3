package kafka

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// pollScheduler periodically enqueues a Poll marker into a capacity-1
// channel (spec.md §4.2). The bounded channel is the dominant backpressure
// mechanism: if the actor hasn't drained the previous tick, the next send
// blocks until it does, collapsing bursts instead of queuing them.
type pollScheduler struct {
	interval time.Duration
	pollCh   chan struct{}
	logger   zerolog.Logger

	// limiter is an optional extra throttle on top of interval, generalizing
	// the teacher's ResourceGuard kafka-rate limiter
	// (internal/shared/limits/resource_guard.go) from an app-level CPU
	// brake into a library-level poll-rate guard. Nil means unthrottled
	// beyond interval.
	limiter *rate.Limiter
}

// pollBurstLimiter is a thin constructor wrapper around rate.Limiter so
// that New's caller-facing option (WithPollBurstLimit) doesn't need to
// import golang.org/x/time/rate directly.
type pollBurstLimiter struct {
	limiter *rate.Limiter
}

func newPollBurstLimiter(ratePerSecond float64, burst int) *pollBurstLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &pollBurstLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// rateLimiter returns the underlying *rate.Limiter, or nil if l itself is
// nil (no limit configured).
func (l *pollBurstLimiter) rateLimiter() *rate.Limiter {
	if l == nil {
		return nil
	}
	return l.limiter
}

func newPollScheduler(interval time.Duration, limiter *rate.Limiter, logger zerolog.Logger) *pollScheduler {
	return &pollScheduler{
		interval: interval,
		pollCh:   make(chan struct{}, 1),
		logger:   logger.With().Str("subcomponent", "poll-scheduler").Logger(),
		limiter:  limiter,
	}
}

// run ticks at s.interval until ctx is cancelled, sending into pollCh each
// time (blocking if the previous tick is still pending) and reporting any
// unrecoverable failure to onFatal, per spec.md §4.2's "if the scheduler
// errors, it publishes the error ... the facade's fiber surfaces this and
// cancels the actor."
func (s *pollScheduler) run(ctx context.Context, onFatal func(error)) {
	defer recoverPanic(s.logger, "poll-scheduler", onFatal)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return
				}
			}
			select {
			case s.pollCh <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}
}
