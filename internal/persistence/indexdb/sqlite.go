package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"yave.dev/internal/server"
	"yave.dev/internal/world/material"
)

// SQLiteIndex is a queryable read model of the tick log: ticks, player sessions and
// chunk load history. Writes are queued and applied by one goroutine in batched
// transactions; the world loop never waits on disk.
type SQLiteIndex struct {
	db  *sql.DB
	log logrus.FieldLogger

	ch   chan server.TickLogEntry
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTicks atomic.Uint64
	failTicks atomic.Uint64
}

type QueueStats struct {
	DropTickTotal   uint64 `json:"drop_tick_total"`
	FailedTickTotal uint64 `json:"failed_tick_total"`
	QueueDepth      int    `json:"queue_depth"`
	QueueCapacity   int    `json:"queue_capacity"`
}

func OpenSQLite(path string, log logrus.FieldLogger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
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

	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &SQLiteIndex{
		db:  db,
		log: log,
		// A minute of ticks at 20 Hz, with room for bursts.
		ch: make(chan server.TickLogEntry, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
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
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			events INTEGER NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			loaded INTEGER NOT NULL,
			unloaded INTEGER NOT NULL,
			send_failures INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			addr TEXT NOT NULL,
			join_tick INTEGER NOT NULL,
			leave_tick INTEGER,
			leave_reason TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_name ON sessions(name, join_tick);`,
		`CREATE TABLE IF NOT EXISTS chunk_events (
			tick INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			action TEXT NOT NULL,
			PRIMARY KEY (tick, x, y, action)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_events_pos ON chunk_events(x, y, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteTick(entry server.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- entry:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTicks.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() QueueStats {
	if s == nil {
		return QueueStats{}
	}
	return QueueStats{
		DropTickTotal:   s.dropTicks.Load(),
		FailedTickTotal: s.failTicks.Load(),
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
	}
}

// UpsertCatalogs stores the material registry and the applied tuning, so rows in the
// index can be tied to the content that produced them.
func (s *SQLiteIndex) UpsertCatalogs(reg *material.Registry, tune any) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if reg != nil {
		defs := make([]material.Def, 0, reg.Len())
		for _, id := range reg.IDs() {
			d, _ := reg.Lookup(id)
			defs = append(defs, d)
		}
		if b, _ := json.Marshal(defs); len(b) > 0 {
			rows = append(rows, kv{name: "materials", digest: reg.Digest(), json: b})
		}
	}
	if tune != nil {
		// Tuning: store the values we actually apply (canonical JSON).
		b, err := json.Marshal(tune)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,events,joins,leaves,loaded,unloaded,send_failures,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(session,name,addr,join_tick) VALUES(?,?,?,?)`)
	closeSession, _ := s.db.Prepare(`UPDATE sessions SET leave_tick=?, leave_reason=? WHERE session=?`)
	insertChunk, _ := s.db.Prepare(`INSERT OR REPLACE INTO chunk_events(tick,x,y,action) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertSession, closeSession, insertChunk} {
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
		if err := tx.Commit(); err != nil {
			s.log.WithError(err).Warn("index: commit failed")
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) error {
		if st == nil {
			return fmt.Errorf("statement not prepared")
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			return err
		}
		opCount++
		return nil
	}
	// Each entry runs under a savepoint so a bad one is undone alone and the rest of
	// the batch still commits.
	write := func(e server.TickLogEntry) error {
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`SAVEPOINT tick`); err != nil {
			return err
		}
		err = func() error {
			tick := int64(e.Tick)
			if err := exec(insertTick, tick, e.Digest, len(e.Events), len(e.Joins), len(e.Leaves), len(e.Loaded), len(e.Unloaded), e.SendFailures, string(raw)); err != nil {
				return err
			}
			for _, j := range e.Joins {
				if err := exec(insertSession, j.Session, j.Name, j.Addr, tick); err != nil {
					return err
				}
			}
			for _, l := range e.Leaves {
				if err := exec(closeSession, tick, l.Reason, l.Session); err != nil {
					return err
				}
			}
			for _, k := range e.Unloaded {
				if err := exec(insertChunk, tick, k.X, k.Y, "unload"); err != nil {
					return err
				}
			}
			for _, k := range e.Loaded {
				if err := exec(insertChunk, tick, k.X, k.Y, "load"); err != nil {
					return err
				}
			}
			return nil
		}()
		if err != nil {
			_, _ = tx.Exec(`ROLLBACK TO tick`)
		}
		_, _ = tx.Exec(`RELEASE tick`)
		return err
	}

	for e := range s.ch {
		begin()
		if tx == nil {
			s.failTicks.Add(1)
			s.log.WithField("tick", e.Tick).Warn("index: no transaction, tick skipped")
			continue
		}
		if err := write(e); err != nil {
			s.failTicks.Add(1)
			s.log.WithError(err).WithField("tick", e.Tick).Warn("index: tick skipped")
			continue
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
