package fleet

import (
	"context"
	"time"
)

// Run drives the world at TickRateHz until ctx is done or Stop is called.
func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case <-ticker.C:
			w.step()
		}
	}
}

// RunTicks advances n ticks as fast as possible (headless mode). Observer
// requests are still served between ticks.
func (w *World) RunTicks(ctx context.Context, n uint64) error {
	for i := uint64(0); i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		default:
		}
		w.step()
	}
	return nil
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick using the same ordering semantics as Run.
// It is primarily intended for deterministic replays/tests.
func (w *World) StepOnce() (tick uint64, digest string) {
	tick = w.tick.Load()
	w.step()
	return tick, w.stateDigest(tick)
}

func (w *World) ObserverJoin() chan<- ObserverJoinRequest { return w.observerJoin }
func (w *World) ObserverLeave() chan<- string             { return w.observerLeave }

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
