package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// StartRefresher launches a goroutine that periodically refreshes the
// store's credential once it is within window of expiry, so uploads rarely
// pay for a refresh. It never starts interactive consent.
func StartRefresher(ctx context.Context, store *Store, interval, window time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if window <= 0 {
		window = 20 * time.Minute
	}
	// Randomize initial delay so restarts do not line up with expiry.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			refreshed, err := func() (bool, error) {
				rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
				defer cancel()
				return store.RefreshIfExpiring(rctx, window)
			}()
			switch {
			case err != nil:
				slog.Warn("background credential refresh failed", slog.Any("err", err), slog.String("component", "oauth"))
			case refreshed:
				slog.Debug("background credential refresh done", slog.String("component", "oauth"))
			}

			// ±20% jitter per iteration
			jitterRange := int64(interval/5) + 1
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			next := interval + time.Duration(rand.Int63n(jitterRange*2)-jitterRange)
			if next < interval/2 {
				next = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(next):
			}
		}
	}()
}
