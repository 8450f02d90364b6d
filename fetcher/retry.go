package fetcher

import (
	"context"
	"time"

	"github.com/genesis-dao/daosync/log"
)

// Retrier runs chain calls through a fixed backoff schedule. Every failure
// is retried; the alert level distinguishes expected transport flakiness
// from errors nobody planned for.
type Retrier struct {
	delays   []time.Duration
	notifier Notifier
	logger   log.Logger
	sleep    func(time.Duration)
}

func NewRetrier(delays []time.Duration, notifier Notifier) *Retrier {
	return &Retrier{
		delays:   delays,
		notifier: notifier,
		logger:   log.NewModuleLogger(log.Fetcher),
		sleep:    time.Sleep,
	}
}

// Do runs fn, retrying through the schedule. The last error is returned
// once the schedule is exhausted or ctx is cancelled.
func (r *Retrier) Do(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	for _, delay := range r.delays {
		if IsTransient(err) {
			notify(r.notifier, AlertWarning, "%s hit a transient fault, retrying in %s: %v", op, delay, err)
		} else {
			notify(r.notifier, AlertWarning, "%s failed unexpectedly, retrying in %s: %v", op, delay, err)
		}
		r.logger.Warn("Retrying chain call", "op", op, "delay", delay, "err", err)
		retryCounter.Inc()

		r.sleep(delay)
		if ctx.Err() != nil {
			return err
		}

		if err = fn(); err == nil {
			notify(r.notifier, AlertInfo, "%s recovered", op)
			return nil
		}
	}

	notify(r.notifier, AlertError, "%s failed after %d retries: %v", op, len(r.delays), err)
	return err
}
