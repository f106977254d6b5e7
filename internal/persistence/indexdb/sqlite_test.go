package indexdb

import (
	"database/sql"
	"math"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	_ "modernc.org/sqlite"

	"yave.dev/internal/server"
	"yave.dev/internal/world/chunk"
	"yave.dev/internal/world/material"
)

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func TestSQLiteIndex_WriteTick(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "world.sqlite")
	idx, err := OpenSQLite(path, quietLogger())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	entries := []server.TickLogEntry{
		{
			Tick:   0,
			Events: []server.RecordedEvent{{Addr: "a", Kind: "Connection", Name: "alice"}},
			Joins:  []server.RecordedJoin{{Session: "s-1", Name: "alice", Addr: "a"}},
			Loaded: []chunk.Key{{X: 0, Y: 0}},
			Digest: "d0",
		},
		{
			Tick:         5,
			Leaves:       []server.RecordedLeave{{Session: "s-1", Name: "alice", Reason: "idle"}},
			Unloaded:     []chunk.Key{{X: 0, Y: 0}},
			SendFailures: 2,
			Digest:       "d5",
		},
	}
	for _, e := range entries {
		if err := idx.WriteTick(e); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := idx.WriteTick(server.TickLogEntry{Tick: 6}); err != nil {
		t.Fatalf("write after close should be a no-op: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var ticks int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ticks`).Scan(&ticks); err != nil || ticks != 2 {
		t.Fatalf("ticks=%d err=%v", ticks, err)
	}
	var failures int
	var digest string
	if err := db.QueryRow(`SELECT send_failures,digest FROM ticks WHERE tick=5`).Scan(&failures, &digest); err != nil {
		t.Fatalf("scan tick: %v", err)
	}
	if failures != 2 || digest != "d5" {
		t.Fatalf("tick 5: failures=%d digest=%q", failures, digest)
	}

	var (
		name      string
		joinTick  int64
		leaveTick sql.NullInt64
		reason    sql.NullString
	)
	row := db.QueryRow(`SELECT name,join_tick,leave_tick,leave_reason FROM sessions WHERE session='s-1'`)
	if err := row.Scan(&name, &joinTick, &leaveTick, &reason); err != nil {
		t.Fatalf("scan session: %v", err)
	}
	if name != "alice" || joinTick != 0 || leaveTick.Int64 != 5 || reason.String != "idle" {
		t.Fatalf("session: name=%q join=%d leave=%v reason=%v", name, joinTick, leaveTick, reason)
	}

	var actions int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chunk_events WHERE x=0 AND y=0`).Scan(&actions); err != nil || actions != 2 {
		t.Fatalf("chunk events=%d err=%v", actions, err)
	}
}

func TestSQLiteIndex_UpsertCatalogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.sqlite")
	idx, err := OpenSQLite(path, quietLogger())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	reg := material.Default()
	if err := idx.UpsertCatalogs(reg, map[string]int{"tick_rate_hz": 20}); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var digest string
	if err := db.QueryRow(`SELECT digest FROM catalogs WHERE name='materials'`).Scan(&digest); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if digest != reg.Digest() {
		t.Fatalf("digest=%q want %q", digest, reg.Digest())
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM catalogs`).Scan(&n); err != nil || n != 2 {
		t.Fatalf("catalog rows=%d err=%v", n, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan server.TickLogEntry, 1)}
	s.ch <- server.TickLogEntry{Tick: 1}

	_ = s.WriteTick(server.TickLogEntry{Tick: 2})
	_ = s.WriteTick(server.TickLogEntry{Tick: 3})

	st := s.Stats()
	if st.DropTickTotal != 2 {
		t.Fatalf("DropTickTotal=%d want=2", st.DropTickTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}

	var nilIdx *SQLiteIndex
	if err := nilIdx.WriteTick(server.TickLogEntry{}); err != nil || nilIdx.Stats() != (QueueStats{}) {
		t.Fatalf("nil index must be inert")
	}
}

func TestSQLiteIndex_SkipsBadEntryKeepsBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.sqlite")
	idx, err := OpenSQLite(path, quietLogger())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	entries := []server.TickLogEntry{
		{Tick: 1, Digest: "d1"},
		{Tick: 2, Events: []server.RecordedEvent{{Addr: "a", Kind: "Movement", Pos: &[3]float64{math.NaN(), 0, 0}}}, Digest: "d2"},
		{Tick: 3, Joins: []server.RecordedJoin{{Session: "s-3", Name: "carol", Addr: "c"}}, Digest: "d3"},
	}
	for _, e := range entries {
		if err := idx.WriteTick(e); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := idx.Stats().FailedTickTotal; got != 1 {
		t.Fatalf("FailedTickTotal=%d want 1", got)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT tick FROM ticks ORDER BY tick`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	var ticks []int64
	for rows.Next() {
		var tick int64
		if err := rows.Scan(&tick); err != nil {
			t.Fatalf("scan: %v", err)
		}
		ticks = append(ticks, tick)
	}
	if len(ticks) != 2 || ticks[0] != 1 || ticks[1] != 3 {
		t.Fatalf("ticks=%v want [1 3]", ticks)
	}
	var sessions int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE session='s-3'`).Scan(&sessions); err != nil || sessions != 1 {
		t.Fatalf("sessions=%d err=%v", sessions, err)
	}
}
