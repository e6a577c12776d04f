package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/heitortanoue/gridclaim/pkg/crdt"
	"github.com/heitortanoue/gridclaim/pkg/protocol"
)

// Journal persists every event a replica has applied so a restart can
// replay them into the gossip log before rejoining.
type Journal struct {
	db   *sql.DB
	path string

	recorded atomic.Int64
	ignored  atomic.Int64
}

// Open creates or reopens the journal at path
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("empty journal path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
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

	log.Printf("[STORE] Journal opened at %s", path)
	return &Journal{db: db, path: path}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS events(
	  id      TEXT PRIMARY KEY,
	  origin  TEXT    NOT NULL DEFAULT '',
	  node_id TEXT    NOT NULL DEFAULT '',
	  counter INTEGER NOT NULL DEFAULT 0,
	  cell_id TEXT    NOT NULL,
	  lng     REAL    NOT NULL,
	  lat     REAL    NOT NULL,
	  color   TEXT    NOT NULL,
	  ts      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_cell ON events(cell_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create journal tables: %w", err)
	}
	return nil
}

// Record stores ev. Events already present (by id) are ignored.
func (j *Journal) Record(ev protocol.RemoteEvent) error {
	var nodeID string
	var counter int64
	if ev.Dot != nil {
		nodeID, counter = ev.Dot.NodeID, ev.Dot.Counter
	}

	res, err := j.db.Exec(
		`INSERT OR IGNORE INTO events(id, origin, node_id, counter, cell_id, lng, lat, color, ts)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.Origin, nodeID, counter, ev.CellID, ev.Lng, ev.Lat, ev.Color, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record event %s: %w", ev.ID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		j.ignored.Add(1)
	} else {
		j.recorded.Add(1)
	}
	return nil
}

// All returns every recorded event in insertion order
func (j *Journal) All() ([]protocol.RemoteEvent, error) {
	rows, err := j.db.Query(`SELECT id, origin, node_id, counter, cell_id, lng, lat, color, ts FROM events ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []protocol.RemoteEvent
	for rows.Next() {
		var (
			id, nodeID string
			counter    int64
			ev         protocol.RemoteEvent
		)
		if err := rows.Scan(&id, &ev.Origin, &nodeID, &counter, &ev.CellID, &ev.Lng, &ev.Lat, &ev.Color, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			log.Printf("[STORE] Skipping row with bad id %q: %v", id, err)
			continue
		}
		ev.ID = parsed
		if nodeID != "" && counter > 0 {
			ev.Dot = &crdt.Dot{NodeID: nodeID, Counter: counter}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return out, nil
}

// Count returns the number of stored events
func (j *Journal) Count() (int, error) {
	var n int
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Close flushes and closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

// GetStats retorna estatísticas do journal
func (j *Journal) GetStats() map[string]interface{} {
	stored, _ := j.Count()
	return map[string]interface{}{
		"path":     j.path,
		"stored":   stored,
		"recorded": j.recorded.Load(),
		"ignored":  j.ignored.Load(),
	}
}
