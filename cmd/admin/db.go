package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"swarmsim/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	floorID := fs.String("floor", "", "floor id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	runID := fs.String("run", "", "run id (optional; defaults to the latest run)")
	robot := fs.Uint("robot", 0, "robot id (transitions)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*floorID) == "" {
			fmt.Fprintln(os.Stderr, "missing -floor or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "floors", *floorID, "index", "floor.sqlite")
	}

	idx, err := indexdb.OpenSQLiteReader(path, *runID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out any
	switch q {
	case "runs":
		out, err = idx.Runs(ctx)
	case "ticks":
		var n int
		n, err = idx.TickCount(ctx)
		out = map[string]any{"run_id": idx.RunID(), "ticks": n}
	case "states":
		out, err = idx.StateEntryCounts(ctx)
	case "transitions":
		if *robot == 0 {
			fmt.Fprintln(os.Stderr, "missing -robot")
			os.Exit(2)
		}
		out, err = idx.RobotTransitions(ctx, uint32(*robot), *limit)
	default:
		fmt.Fprintf(os.Stderr, "unknown query %q (runs|ticks|states|transitions)\n", q)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	printJSON(out)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
