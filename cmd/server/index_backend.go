package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"swarmsim/internal/persistence/indexdb"
	"swarmsim/internal/sim/fleet"
)

type runtimeIndex interface {
	fleet.TickLogger
	Close() error
	Stats() indexdb.Stats
	RecordRun(floorID string, tune any) error
	RobotTransitions(ctx context.Context, robot uint32, limit int) ([]indexdb.TransitionRow, error)
}

func openRuntimeIndex(runDir, runID string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("SWARM_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(runDir, "index", "floor.sqlite"), runID)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported SWARM_INDEX_BACKEND: %s", backend)
	}
}
