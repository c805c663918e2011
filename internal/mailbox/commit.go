package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"reportsync/internal/logging"
)

// ApplyFunc writes one change into the store's local view and returns the
// paths it touched. It must be safe to re-run against a freshly synced view.
type ApplyFunc func(ctx context.Context) ([]string, error)

// CommitOption customizes a single Commit call.
type CommitOption func(*commitOptions)

type commitOptions struct {
	onConflict func(attempt int)
	logger     *slog.Logger
}

// OnConflict registers a callback invoked for every rejected publish.
func OnConflict(fn func(attempt int)) CommitOption {
	return func(o *commitOptions) { o.onConflict = fn }
}

// WithLogger overrides the commit logger.
func WithLogger(l *slog.Logger) CommitOption {
	return func(o *commitOptions) { o.logger = l }
}

// Commit syncs the store, runs apply, and publishes the touched paths. When
// the publish is rejected as stale it re-syncs and re-runs apply, up to
// attempts tries in total. There is no delay between tries beyond the
// re-sync itself. Running out of attempts yields an *ExhaustedError.
func Commit(ctx context.Context, s Store, attempts int, msg string, apply ApplyFunc, opts ...CommitOption) error {
	o := commitOptions{logger: logging.New("mailbox")}
	for _, opt := range opts {
		opt(&o)
	}
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	op := func() error {
		attempt++
		if err := s.Sync(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("sync store: %w", err))
		}
		paths, err := apply(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(paths) == 0 {
			o.logger.Debug("nothing to publish", "message", msg)
			return nil
		}
		err = s.Publish(ctx, msg, paths...)
		switch {
		case err == nil:
			o.logger.Info("published", "message", msg, "paths", len(paths), "attempt", attempt)
			return nil
		case errors.Is(err, ErrConflict):
			o.logger.Warn("publish rejected, re-syncing", "message", msg, "attempt", attempt, "of", attempts)
			if o.onConflict != nil {
				o.onConflict(attempt)
			}
			return err
		default:
			return backoff.Permanent(fmt.Errorf("publish: %w", err))
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(attempts-1)), ctx)
	err := backoff.Retry(op, policy)
	if errors.Is(err, ErrConflict) {
		o.logger.Error("commit exhausted", "message", msg, "attempts", attempts)
		return &ExhaustedError{Attempts: attempts, Message: msg, Err: err}
	}
	return err
}
