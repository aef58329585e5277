package statecache

import (
	"context"
	"log"
	"time"

	"swarmsim/internal/observerproto"
	"swarmsim/internal/sim/fleet"
)

// FrameSource is satisfied by *fleet.World.
type FrameSource interface {
	LatestFrame() *fleet.Frame
}

type FrameWriter interface {
	WriteFrame(ctx context.Context, f observerproto.FrameMsg) error
}

// Mirror copies the latest frame to dst every interval until ctx is done.
// Unchanged frames are skipped. It runs outside the world loop, so a slow
// Redis only makes the mirror stale.
func Mirror(ctx context.Context, src FrameSource, dst FrameWriter, interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last    *fleet.Frame
		failing bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		f := src.LatestFrame()
		if f == nil || f == last {
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, interval)
		err := dst.WriteFrame(wctx, f.Msg())
		cancel()
		if err != nil {
			if !failing && logger != nil {
				logger.Printf("statecache: write tick=%d: %v", f.Tick, err)
			}
			failing = true
			continue
		}
		if failing && logger != nil {
			logger.Printf("statecache: recovered at tick=%d", f.Tick)
		}
		failing = false
		last = f
	}
}
