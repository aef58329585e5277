package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	persistlog "swarmsim/internal/persistence/log"
	"swarmsim/internal/sim/fleet"
)

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	floorID := fs.String("floor", "floor_1", "floor id")
	runID := fs.String("run", "", "run id (required unless -dir)")
	dir := fs.String("dir", "", "events dir (optional; overrides -floor/-run)")
	robot := fs.Uint("robot", 0, "also print this robot's transitions")
	_ = fs.Parse(args)

	eventsDir := strings.TrimSpace(*dir)
	if eventsDir == "" {
		if strings.TrimSpace(*runID) == "" {
			fmt.Fprintln(os.Stderr, "missing -run or -dir")
			os.Exit(2)
		}
		eventsDir = filepath.Join(*dataDir, "floors", *floorID, "runs", *runID, "events")
	}

	sum, err := summarizeEvents(eventsDir, fleet.RobotID(*robot))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read events:", err)
		os.Exit(1)
	}
	writeEventSummary(os.Stdout, sum)
}

type eventSummary struct {
	Ticks       uint64
	FirstTick   uint64
	LastTick    uint64
	Transitions int
	Causes      map[fleet.Cause]int
	Entered     map[fleet.State]int
	Deliveries  int
	Deaths      []fleet.RobotID

	Robot      fleet.RobotID
	RobotLines []string
}

// summarizeEvents scans a tick log once. When robot is non-zero its
// transitions are kept in order.
func summarizeEvents(dir string, robot fleet.RobotID) (eventSummary, error) {
	sum := eventSummary{
		Causes:  map[fleet.Cause]int{},
		Entered: map[fleet.State]int{},
		Robot:   robot,
	}
	err := persistlog.ReadTicks(dir, func(e fleet.TickLogEntry) error {
		if sum.Ticks == 0 {
			sum.FirstTick = e.Tick
		}
		sum.Ticks++
		sum.LastTick = e.Tick
		for _, tr := range e.Transitions {
			sum.Transitions++
			sum.Causes[tr.Cause]++
			sum.Entered[tr.To]++
			if tr.From == fleet.StateDroppingOff && tr.Cause == fleet.CauseWorkDone {
				sum.Deliveries++
			}
			if tr.To == fleet.StateDead {
				sum.Deaths = append(sum.Deaths, tr.Robot)
			}
			if robot != 0 && tr.Robot == robot {
				sum.RobotLines = append(sum.RobotLines, fmt.Sprintf("tick=%d %s -> %s (%s) station=%d battery=%.2f",
					e.Tick, tr.From, tr.To, tr.Cause, tr.Station, tr.Battery))
			}
		}
		return nil
	})
	return sum, err
}

func writeEventSummary(w io.Writer, s eventSummary) {
	if s.Ticks == 0 {
		fmt.Fprintln(w, "no ticks recorded")
		return
	}
	fmt.Fprintf(w, "ticks=%d (%d..%d) transitions=%d deliveries=%d deaths=%d\n",
		s.Ticks, s.FirstTick, s.LastTick, s.Transitions, s.Deliveries, len(s.Deaths))

	causes := make([]string, 0, len(s.Causes))
	for c := range s.Causes {
		causes = append(causes, string(c))
	}
	sort.Strings(causes)
	for _, c := range causes {
		fmt.Fprintf(w, "  cause %-12s %d\n", c, s.Causes[fleet.Cause(c)])
	}
	for _, st := range fleet.States {
		if n := s.Entered[st]; n > 0 {
			fmt.Fprintf(w, "  entered %-20s %d\n", st, n)
		}
	}
	if len(s.Deaths) > 0 {
		ids := make([]string, 0, len(s.Deaths))
		for _, id := range s.Deaths {
			ids = append(ids, fmt.Sprint(uint32(id)))
		}
		fmt.Fprintf(w, "  dead robots: %s\n", strings.Join(ids, ","))
	}
	if s.Robot != 0 {
		fmt.Fprintf(w, "robot %d: %d transitions\n", s.Robot, len(s.RobotLines))
		for _, l := range s.RobotLines {
			fmt.Fprintf(w, "  %s\n", l)
		}
	}
}
