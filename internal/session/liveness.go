package session

import (
	"context"
	"log/slog"
	"time"
)

// Pinger sends a protocol-level ping and blocks until the matching pong
// arrives or the context expires.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WatchLiveness probes the connection every interval and calls onFailure
// once when a pong fails to arrive within the following interval. It
// returns when ctx is canceled or after reporting a failure, so each
// connection runs exactly one monitor for its lifetime.
func WatchLiveness(ctx context.Context, p Pinger, interval time.Duration, onFailure func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			err := p.Ping(pingCtx)
			cancel()
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				// Connection went away on its own; nothing to report.
				return
			}
			slog.Debug("Liveness ping failed", "error", err)
			onFailure()
			return
		}
	}
}
