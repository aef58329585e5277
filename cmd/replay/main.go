package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	persistlog "swarmsim/internal/persistence/log"
	"swarmsim/internal/sim/fleet"
	"swarmsim/internal/sim/tuning"
)

func main() {
	var (
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "tuning.yaml the run was started with")
		floorID    = flag.String("floor", "floor_1", "floor id the run was started with")
		eventsDir  = flag.String("events", "", "events dir containing events-*.jsonl.zst")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *eventsDir == "" {
		fmt.Fprintln(os.Stderr, "missing -events")
		os.Exit(2)
	}
	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	w, err := fleet.New(tune.FleetConfig(*floorID))
	if err != nil {
		fmt.Fprintln(os.Stderr, "floor:", err)
		os.Exit(1)
	}

	checked, err := verify(w, *eventsDir, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks (tick %d..%d)\n", checked, w.CurrentTick()-checked, w.CurrentTick()-1)
}

// lastEntry keeps the tick log entry the world produced for the step just
// taken.
type lastEntry struct{ e fleet.TickLogEntry }

func (l *lastEntry) WriteTick(e fleet.TickLogEntry) error {
	l.e = e
	return nil
}

// verify re-simulates a fresh w against the recorded tick log in eventsDir
// and compares digests and transitions. Ticks before fromTick are stepped
// but not compared.
func verify(w *fleet.World, eventsDir string, fromTick, toTick uint64) (uint64, error) {
	if w.CurrentTick() != 0 {
		return 0, fmt.Errorf("replay needs a fresh floor, got tick %d", w.CurrentTick())
	}

	var got lastEntry
	w.SetTickLogger(&got)

	var checked uint64
	err := persistlog.ReadTicks(eventsDir, func(entry fleet.TickLogEntry) error {
		if toTick != 0 && entry.Tick > toTick {
			return persistlog.ErrStop
		}
		if entry.Tick != w.CurrentTick() {
			return fmt.Errorf("tick mismatch: want=%d got=%d", w.CurrentTick(), entry.Tick)
		}

		tick, digest := w.StepOnce()
		if tick != entry.Tick {
			return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d", tick, entry.Tick)
		}
		if tick < fromTick {
			return nil
		}
		checked++
		if digest != entry.Digest {
			return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, digest, entry.Digest)
		}
		if err := sameTransitions(got.e.Transitions, entry.Transitions); err != nil {
			return fmt.Errorf("tick %d: %w", tick, err)
		}
		return nil
	})
	if err != nil {
		return checked, err
	}
	if checked == 0 {
		return 0, errors.New("no ticks verified")
	}
	return checked, nil
}

func sameTransitions(got, want []fleet.Transition) error {
	if len(got) != len(want) {
		return fmt.Errorf("transition count: got=%d want=%d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			return fmt.Errorf("transition %d: got=%+v want=%+v", i, got[i], want[i])
		}
	}
	return nil
}
