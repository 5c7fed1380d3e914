package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Run states recorded in the runs table.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Image outcomes recorded in the run_images table.
const (
	OutcomeUsed      = "used"
	OutcomeSkipped   = "skipped"
	OutcomeUnvisited = "unvisited"
)

// Store wraps SQLite-backed persistence for stitching runs.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path with the pure-Go driver.
func New(path string) (*Store, error) {
	return Open("sqlite", path)
}

// Open opens the database at path with the named driver: "sqlite"
// (modernc.org/sqlite) or "sqlite3" (github.com/mattn/go-sqlite3, cgo).
func Open(driver, path string) (*Store, error) {
	switch driver {
	case "", "sqlite":
		driver = "sqlite"
	case "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; the pipeline writes from several workers.
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            input_dir TEXT,
            output_path TEXT,
            engine TEXT,
            max_skip INTEGER,
            options_json TEXT,
            stitch_status INTEGER,
            used_count INTEGER DEFAULT 0,
            skipped_count INTEGER DEFAULT 0,
            attempts INTEGER DEFAULT 0,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS run_results (
            run_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS run_images (
            run_id TEXT NOT NULL,
            position INTEGER NOT NULL,
            path TEXT NOT NULL,
            outcome TEXT NOT NULL,
            reason TEXT,
            PRIMARY KEY (run_id, position)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// RunRecord captures a persisted run.
type RunRecord struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	InputDir     string     `json:"input_dir"`
	OutputPath   string     `json:"output_path,omitempty"`
	Engine       string     `json:"engine,omitempty"`
	MaxSkip      int        `json:"max_skip"`
	OptionsJSON  string     `json:"options,omitempty"`
	StitchStatus *int       `json:"stitch_status,omitempty"`
	Used         int        `json:"used"`
	Skipped      int        `json:"skipped"`
	Attempts     int        `json:"attempts"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// RunOutcome is what a finished run reports back.
type RunOutcome struct {
	Status       string
	StitchStatus int
	Engine       string
	OutputPath   string
	Used         int
	Skipped      int
	Attempts     int
	Error        string
}

// ImageRecord is the classification of one input image of a run.
type ImageRecord struct {
	Position int    `json:"position"`
	Path     string `json:"path"`
	Outcome  string `json:"outcome"`
	Reason   string `json:"reason,omitempty"`
}

// RecordRunQueued inserts a pending run.
func (s *Store) RecordRunQueued(rec RunRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO runs (id, status, input_dir, output_path, engine, max_skip, options_json) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, StatusQueued, rec.InputDir, rec.OutputPath, rec.Engine, rec.MaxSkip, rec.OptionsJSON)
	return err
}

// RecordRunStart marks a run as running.
func (s *Store) RecordRunStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE runs SET status=?, started_at=CURRENT_TIMESTAMP WHERE id=?;`, StatusRunning, id)
	return err
}

// RecordImageOutcome stores how one input image was classified.
func (s *Store) RecordImageOutcome(runID string, rec ImageRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO run_images (run_id, position, path, outcome, reason) VALUES (?, ?, ?, ?, ?);`,
		runID, rec.Position, rec.Path, rec.Outcome, rec.Reason)
	return err
}

// RecordRunResult finalizes a run with its outcome and meta.
func (s *Store) RecordRunResult(id string, out RunOutcome, meta map[string]any) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE runs SET status=?, stitch_status=?, engine=COALESCE(NULLIF(?, ''), engine), output_path=COALESCE(NULLIF(?, ''), output_path),
        used_count=?, skipped_count=?, attempts=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`,
		out.Status, out.StitchStatus, out.Engine, out.OutputPath, out.Used, out.Skipped, out.Attempts, out.Error, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO run_results (run_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

const runColumns = `id, status, input_dir, output_path, engine, max_skip, options_json, stitch_status, used_count, skipped_count, attempts, created_at, started_at, completed_at, error_message`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var output, engine, options, errorMsg sql.NullString
	var maxSkip, stitchStatus sql.NullInt64
	var started, completed sql.NullTime
	if err := row.Scan(&rec.ID, &rec.Status, &rec.InputDir, &output, &engine, &maxSkip, &options, &stitchStatus,
		&rec.Used, &rec.Skipped, &rec.Attempts, &rec.CreatedAt, &started, &completed, &errorMsg); err != nil {
		return RunRecord{}, err
	}
	rec.OutputPath = output.String
	rec.Engine = engine.String
	rec.OptionsJSON = options.String
	rec.Error = errorMsg.String
	rec.MaxSkip = int(maxSkip.Int64)
	if stitchStatus.Valid {
		v := int(stitchStatus.Int64)
		rec.StitchStatus = &v
	}
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	return rec, nil
}

// RecentRuns returns the latest runs up to limit.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Run fetches a single run.
func (s *Store) Run(id string) (RunRecord, error) {
	if s == nil {
		return RunRecord{}, errors.New("store not initialized")
	}
	rec, err := scanRun(s.DB.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id=?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// RunImages returns the per-image outcomes of a run in input order.
func (s *Store) RunImages(id string) ([]ImageRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT position, path, outcome, reason FROM run_images WHERE run_id=? ORDER BY position;`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ImageRecord
	for rows.Next() {
		var rec ImageRecord
		var reason sql.NullString
		if err := rows.Scan(&rec.Position, &rec.Path, &rec.Outcome, &reason); err != nil {
			return nil, err
		}
		rec.Reason = reason.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RunMeta fetches the last meta blob for a run. A run without a result has
// no meta.
func (s *Store) RunMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM run_results WHERE run_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}
