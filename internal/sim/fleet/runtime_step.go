package fleet

import "time"

// step advances the world by one tick. The system order is fixed: movement
// reads last tick's positions, the state machine reads timers it advances in
// this same tick, and the battery model may override the state just chosen.
func (w *World) step() {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	w.transitions = w.transitions[:0]

	w.systemMovement()
	w.systemStateMachine(nowTick)
	w.systemBattery(nowTick)

	digest := w.stateDigest(nowTick)
	if w.tickLogger != nil {
		var trs []Transition
		if len(w.transitions) > 0 {
			trs = append([]Transition(nil), w.transitions...)
		}
		_ = w.tickLogger.WriteTick(TickLogEntry{Tick: nowTick, Transitions: trs, Digest: digest})
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	nextTick := w.tick.Add(1)

	w.publish(nextTick, stepMS)
	w.maybeLogPerf(nextTick, stepMS)
}

// maybeLogPerf prints throughput once every PerfLogEveryTicks ticks.
func (w *World) maybeLogPerf(tick uint64, stepMS float64) {
	if w.log == nil {
		return
	}
	now := time.Now()
	if w.perfWindowStart.IsZero() {
		w.perfWindowStart = now
		w.perfWindowTick = tick
		return
	}
	every := uint64(w.cfg.PerfLogEveryTicks)
	if tick%every != 0 {
		return
	}
	elapsed := now.Sub(w.perfWindowStart).Seconds()
	if elapsed <= 0 {
		return
	}
	tps := float64(tick-w.perfWindowTick) / elapsed
	w.log.Printf("perf tick=%d tps=%.2f step_ms=%.3f", tick, tps, stepMS)
	w.perfWindowStart = now
	w.perfWindowTick = tick
}
