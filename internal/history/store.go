// Package history keeps past measurement runs in a local sqlite database.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nearspeed/nearspeed/speedtest"
)

// Record is one stored run. A nil Mbps means the direction was unavailable
// or not measured.
type Record struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	Host            string    `json:"host"`
	Country         string    `json:"country,omitempty"`
	City            string    `json:"city,omitempty"`
	Tier            string    `json:"tier,omitempty"`
	DownloadMbps    *float64  `json:"download_mbps"`
	UploadMbps      *float64  `json:"upload_mbps"`
	DownloadOutcome string    `json:"download_outcome,omitempty"`
	UploadOutcome   string    `json:"upload_outcome,omitempty"`
}

// FromReport flattens a run report into a Record.
func FromReport(r *speedtest.Report) Record {
	rec := Record{Tier: r.Tier}
	if r.Server != nil {
		rec.Host = r.Server.Host
	}
	if r.Location != nil {
		rec.Country = r.Location.Country
		rec.City = r.Location.City
	}
	if d := r.Download; d != nil {
		rec.DownloadOutcome = d.Outcome
		if d.Available {
			v := d.Mbps
			rec.DownloadMbps = &v
		}
	}
	if u := r.Upload; u != nil {
		rec.UploadOutcome = u.Outcome
		if u.Available {
			v := u.Mbps
			rec.UploadMbps = &v
		}
	}
	return rec
}

type Store struct {
	db         *sql.DB
	maxRecords int
	closeOnce  sync.Once
	closeErr   error
}

// New opens or creates the database at dbPath. maxRecords > 0 trims the
// oldest runs after each Save.
func New(dbPath string, maxRecords int) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	// modernc.org/sqlite takes PRAGMAs as statements
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, maxRecords: maxRecords}, nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		host TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT '',
		download_mbps REAL,
		upload_mbps REAL,
		download_outcome TEXT NOT NULL DEFAULT '',
		upload_outcome TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`)
	return err
}

// Save stores r under a fresh id, stamping CreatedAt when it is zero.
func (s *Store) Save(r Record) (string, error) {
	id := uuid.New().String()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (id, created_at, host, country, city, tier,
			download_mbps, upload_mbps, download_outcome, upload_outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.CreatedAt.UTC().UnixMilli(), r.Host, r.Country, r.City, r.Tier,
		nullFloat(r.DownloadMbps), nullFloat(r.UploadMbps), r.DownloadOutcome, r.UploadOutcome,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	if s.maxRecords > 0 {
		if _, err := s.db.Exec(
			`DELETE FROM runs WHERE id NOT IN (
				SELECT id FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?
			)`, s.maxRecords); err != nil {
			return id, fmt.Errorf("trim history: %w", err)
		}
	}
	return id, nil
}

// Recent returns up to n runs, newest first.
func (s *Store) Recent(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT id, created_at, host, country, city, tier,
			download_mbps, upload_mbps, download_outcome, upload_outcome
		FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r         Record
			createdAt int64
			down, up  sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &createdAt, &r.Host, &r.Country, &r.City, &r.Tier,
			&down, &up, &r.DownloadOutcome, &r.UploadOutcome); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		if down.Valid {
			r.DownloadMbps = &down.Float64
		}
		if up.Valid {
			r.UploadMbps = &up.Float64
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
