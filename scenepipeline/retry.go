package scenepipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	renderworkererrors "github.com/loomrender/renderworker/errors"
	"github.com/loomrender/renderworker/log"
	"github.com/loomrender/renderworker/metrics"
)

// RetryPolicy is retries=N, backoff=initial·2^n, matching §4.3's recording
// retry policy (retries=3, backoff=1s·2^n) and reused wherever the pipeline
// needs a bounded exponential retry around a Transient-failing operation.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, InitialBackoff: time.Second}

// Retry runs fn, retrying only on errors.TransientError up to
// policy.MaxRetries times; any other error (Validation/Permanent/
// Cancelled/FatalProcess/SceneRecord) stops the retry loop immediately.
// On exhaustion the last TransientError is promoted to a PermanentError so
// the caller's failure path doesn't re-attempt it again upstream.
func Retry(ctx context.Context, renderID, operation string, policy RetryPolicy, fn func() error) error {
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = policy.InitialBackoff
	backOff.Multiplier = 2
	backOff.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !renderworkererrors.IsTransientError(err) {
			return backoff.Permanent(err)
		}
		attempt++
		metrics.Metrics.RetryCount.WithLabelValues(operation).Inc()
		log.Log(renderID, "retrying operation after transient error", "operation", operation, "attempt", attempt, "err", err.Error())
		return err
	}

	err := backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(backOff, uint64(policy.MaxRetries)), ctx))
	if err != nil && renderworkererrors.IsTransientError(err) {
		return renderworkererrors.PromoteTransient(err)
	}
	return err
}
