package oracle

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/errors"
)

const (
	retryInitialInterval = 4 * time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxAttempts     = 5
)

// completeWithRetry issues the request, backing off on rate limits and
// unreachable-service errors. Other provider errors fail immediately.
func (a *Adapter) completeWithRetry(ctx context.Context, req Request) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.retryInitial
	policy.Multiplier = 2
	policy.MaxInterval = retryMaxInterval
	policy.MaxElapsedTime = 0

	var out string
	op := func() error {
		res, err := a.client.Complete(ctx, req)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		a.log.Warn().Err(err).Dur("wait", wait).Str("provider", a.client.Name()).Msg("oracle call failed, retrying")
	}

	wrapped := backoff.WithContext(backoff.WithMaxRetries(policy, retryMaxAttempts-1), ctx)
	if err := backoff.RetryNotify(op, wrapped, notify); err != nil {
		return "", err
	}
	return out, nil
}

func retryable(err error) bool {
	switch errors.CodeOf(err) {
	case errors.CodeRateLimited, errors.CodeOracleUnreachable:
		return true
	}
	return false
}
