package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	persistlog "swarmsim/internal/persistence/log"
	"swarmsim/internal/sim/fleet"
	"swarmsim/internal/sim/tuning"
)

func main() {
	var (
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		floorID    = flag.String("floor", "floor_1", "floor id")
		ticks      = flag.Uint64("ticks", 3600, "ticks to simulate")
		robots     = flag.Int("robots", -1, "override robot_count (negative keeps tuning)")
		outDir     = flag.String("out", "", "write the tick log under this dir for cmd/replay (optional)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[sim] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if *robots >= 0 {
		tune.RobotCount = *robots
	}

	w, err := fleet.New(tune.FleetConfig(*floorID))
	if err != nil {
		logger.Fatalf("floor: %v", err)
	}
	w.SetLogger(logger)

	var tl *persistlog.TickLogger
	if *outDir != "" {
		tl = persistlog.NewTickLogger(*outDir)
		w.SetTickLogger(tl)
	}

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	if err := w.RunTicks(ctx, *ticks); err != nil && err != context.Canceled {
		logger.Fatalf("run: %v", err)
	}
	elapsed := time.Since(start)

	if tl != nil {
		if err := tl.Close(); err != nil {
			logger.Printf("close tick log: %v", err)
		} else {
			logger.Printf("events=%s", filepath.Join(*outDir, "events"))
		}
	}

	m := w.Metrics()
	tps := 0.0
	if s := elapsed.Seconds(); s > 0 {
		tps = float64(m.Tick) / s
	}
	logger.Printf("done ticks=%d elapsed=%s tps=%.0f robots=%d deliveries=%d charges=%d dead=%d",
		m.Tick, elapsed.Round(time.Millisecond), tps, m.Robots, m.Deliveries, m.Charges, m.Dead)
	fmt.Println(stateSummary(m))
}

func stateSummary(m fleet.WorldMetrics) string {
	type kv struct {
		state fleet.State
		n     int
	}
	var rows []kv
	for s, n := range m.StateCounts {
		if n > 0 {
			rows = append(rows, kv{s, n})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].state < rows[j].state })

	out := "states:"
	for _, r := range rows {
		out += fmt.Sprintf(" %s=%d", r.state, r.n)
	}
	for _, k := range []string{"pickup", "dropoff", "charger"} {
		out += fmt.Sprintf(" booked_%s=%d", k, m.Booked[k])
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
