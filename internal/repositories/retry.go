package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/velobill/authgate/internal/models"
)

const retryBackoff = 100 * time.Millisecond

// withRetry applies the store retry policy: a single additional attempt after
// a short backoff when the first fails as transient. Anything still failing
// surfaces as ErrStoreUnavailable for the caller to handle.
func withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if !errors.Is(err, models.ErrStoreUnavailable) {
		return err
	}

	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return models.ErrStoreUnavailable
	}

	return fn()
}
