package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"swarmsim/internal/sim/fleet"
)

// SQLiteIndex is a queryable read model of one or more runs. Writes go
// through a single goroutine in batched transactions and are dropped when it
// falls behind; the JSONL event log remains the source of truth.
type SQLiteIndex struct {
	db    *sql.DB // writer, one connection
	rdb   *sql.DB // readers
	runID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu orders sends on ch against Close.
	mu     sync.RWMutex
	closed atomic.Bool

	dropTick atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSync
)

type req struct {
	kind reqKind

	tick fleet.TickLogEntry
	done chan struct{}
}

// Stats reports how many writes were dropped on backpressure.
type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	DropTickTotal uint64 `json:"drop_tick_total"`
}

func OpenSQLite(path, runID string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if runID == "" {
		return nil, fmt.Errorf("empty run id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	rdb, err := sql.Open("sqlite", path)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	rdb.SetMaxOpenConns(4)
	if _, err := rdb.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = rdb.Close()
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:    db,
		rdb:   rdb,
		runID: runID,
		// A minute of ticks at 60 Hz with room for bursts.
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL lets the reader pool query while the writer appends.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			floor_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			digest TEXT NOT NULL,
			transitions INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS transitions (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			robot INTEGER NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			cause TEXT NOT NULL,
			station INTEGER NOT NULL,
			battery REAL NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_robot_tick ON transitions(run_id, robot, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_to_state ON transitions(run_id, to_state);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) RunID() string { return s.runID }

// OpenSQLiteReader opens an existing index for queries only. An empty runID
// selects the most recently recorded run. Writes on the result are no-ops.
func OpenSQLiteReader(path, runID string) (*SQLiteIndex, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := rdb.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	if runID == "" {
		err := rdb.QueryRow(`SELECT run_id FROM runs ORDER BY rowid DESC LIMIT 1`).Scan(&runID)
		if err != nil {
			_ = rdb.Close()
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%s: no runs recorded", path)
			}
			return nil, err
		}
	}
	s := &SQLiteIndex{rdb: rdb, runID: runID}
	s.closed.Store(true)
	return s, nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		if s.ch != nil {
			close(s.ch)
		}
		s.mu.Unlock()
		s.wg.Wait()
		_ = s.rdb.Close()
		if s.db != nil {
			err = s.db.Close()
		}
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		DropTickTotal: s.dropTick.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry fleet.TickLogEntry) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		s.dropTick.Add(1)
	}
	return nil
}

// Sync blocks until every write queued before it is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	s.mu.RLock()
	if s.closed.Load() {
		s.mu.RUnlock()
		return nil
	}
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	s.mu.RUnlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordRun stores the run row with the tuning actually applied.
func (s *SQLiteIndex) RecordRun(floorID string, tune any) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO runs(run_id,floor_id,started_at,tuning_digest,tuning_json) VALUES(?,?,?,?,?)`,
		s.runID, floorID, time.Now().UTC().Format(time.RFC3339Nano), hex.EncodeToString(sum[:]), string(b),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(run_id,tick,digest,transitions) VALUES(?,?,?,?)`)
	insertTransition, _ := s.db.Prepare(`INSERT OR REPLACE INTO transitions(run_id,tick,seq,robot,from_state,to_state,cause,station,battery) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertTransition} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	// An idle writer must not hold its transaction forever.
	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-idle.C:
			flushIfNeeded()
			continue
		}

		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(s.runID, int64(e.Tick), e.Digest, len(e.Transitions)); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			for i, tr := range e.Transitions {
				if insertTransition == nil {
					break
				}
				if _, err := tx.Stmt(insertTransition).Exec(
					s.runID,
					int64(e.Tick),
					i,
					int64(tr.Robot),
					tr.From.String(),
					tr.To.String(),
					string(tr.Cause),
					int64(tr.Station),
					tr.Battery,
				); err != nil {
					rollback()
					break
				}
				opCount++
			}
		}
		flushIfNeeded()
	}
}
