package indexdb

import (
	"context"
	"fmt"
)

type TransitionRow struct {
	Tick    uint64  `json:"tick"`
	Robot   uint32  `json:"robot"`
	From    string  `json:"from"`
	To      string  `json:"to"`
	Cause   string  `json:"cause"`
	Station uint32  `json:"station,omitempty"`
	Battery float64 `json:"battery"`
}

type RunRow struct {
	RunID        string `json:"run_id"`
	FloorID      string `json:"floor_id"`
	StartedAt    string `json:"started_at"`
	TuningDigest string `json:"tuning_digest"`
}

// RobotTransitions returns the latest limit transitions of robot in this
// run, oldest first.
func (s *SQLiteIndex) RobotTransitions(ctx context.Context, robot uint32, limit int) ([]TransitionRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.rdb.QueryContext(ctx, `
		SELECT tick, robot, from_state, to_state, cause, station, battery FROM (
			SELECT tick, seq, robot, from_state, to_state, cause, station, battery
			FROM transitions
			WHERE run_id = ? AND robot = ?
			ORDER BY tick DESC, seq DESC
			LIMIT ?
		) ORDER BY tick ASC, seq ASC`, s.runID, int64(robot), limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionRow
	for rows.Next() {
		var (
			r       TransitionRow
			tick    int64
			rb, stn int64
		)
		if err := rows.Scan(&tick, &rb, &r.From, &r.To, &r.Cause, &stn, &r.Battery); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		r.Robot = uint32(rb)
		r.Station = uint32(stn)
		out = append(out, r)
	}
	return out, rows.Err()
}

// StateEntryCounts counts how often robots entered each state in this run.
func (s *SQLiteIndex) StateEntryCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.rdb.QueryContext(ctx,
		`SELECT to_state, COUNT(*) FROM transitions WHERE run_id = ? GROUP BY to_state`, s.runID)
	if err != nil {
		return nil, fmt.Errorf("query state counts: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[state] = n
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) TickCount(ctx context.Context) (int, error) {
	var n int
	err := s.rdb.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticks WHERE run_id = ?`, s.runID).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) Runs(ctx context.Context) ([]RunRow, error) {
	rows, err := s.rdb.QueryContext(ctx,
		`SELECT run_id, floor_id, started_at, tuning_digest FROM runs ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.FloorID, &r.StartedAt, &r.TuningDigest); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
