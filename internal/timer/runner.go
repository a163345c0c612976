package timer

import (
	"context"
	"time"
)

// Run calls tick every interval and hands each produced snapshot to onTick until ctx
// is done. tick reports false while nothing is counting down, e.g. in the lobby.
func Run(ctx context.Context, interval time.Duration, tick func() (Snapshot, bool), onTick func(Snapshot)) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, ok := tick()
			if ok && onTick != nil {
				onTick(snap)
			}
		}
	}
}
