package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/netpulse/netpulse/internal/core/domain"
	"github.com/netpulse/netpulse/internal/core/ports"
)

const (
	// DefaultCap is the retained-measurement limit when none is configured.
	DefaultCap = 1000

	defaultQueryLimit = 100
)

// StoreOptions configures the measurement store.
type StoreOptions struct {
	Path      string // database file
	Cap       int    // maximum retained measurements, DefaultCap when <= 0
	ExportDir string // snapshot directory, "exports" when empty
}

// Store is the bounded measurement log on DuckDB. Insert and trim run in
// one transaction, so readers never observe an over-cap log and a failed
// append leaves the log untouched.
type Store struct {
	logger    *slog.Logger
	db        *sql.DB
	cap       int
	exportDir string

	mu sync.Mutex // serializes append+trim
}

var _ ports.MeasurementStore = (*Store)(nil)

const schema = `
CREATE SEQUENCE IF NOT EXISTS measurements_seq;
CREATE TABLE IF NOT EXISTS measurements (
	seq         BIGINT PRIMARY KEY DEFAULT nextval('measurements_seq'),
	storage_id  VARCHAR NOT NULL,
	job_id      VARCHAR NOT NULL,
	kind        VARCHAR NOT NULL,
	target      VARCHAR NOT NULL,
	produced_at TIMESTAMP NOT NULL,
	saved_at    TIMESTAMP NOT NULL,
	success     BOOLEAN NOT NULL,
	outcome     VARCHAR NOT NULL
);
`

func Open(logger *slog.Logger, opts StoreOptions) (*Store, error) {
	if opts.Cap <= 0 {
		opts.Cap = DefaultCap
	}
	if opts.ExportDir == "" {
		opts.ExportDir = "exports"
	}

	db, err := sql.Open("duckdb", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb at %s: %w", opts.Path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create measurements schema: %w", err)
	}

	logger.Info("measurement store opened", "path", opts.Path, "cap", opts.Cap)
	return &Store{
		logger:    logger,
		db:        db,
		cap:       opts.Cap,
		exportDir: opts.ExportDir,
	}, nil
}

// Append persists one result and trims the log back to capacity.
// Duplicate job ids become distinct records; the store never
// deduplicates.
func (s *Store) Append(ctx context.Context, res domain.Result) (domain.StoredMeasurement, error) {
	outcome, err := json.Marshal(res.Outcome)
	if err != nil {
		return domain.StoredMeasurement{}, fmt.Errorf("encode outcome: %w", err)
	}

	stored := domain.StoredMeasurement{
		StorageID: domain.NewStorageID(),
		SavedAt:   time.Now().UTC(),
		Result:    res,
	}
	stored.Status = domain.JobStatusCompleted

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoredMeasurement{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO measurements (storage_id, job_id, kind, target, produced_at, saved_at, success, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.StorageID, string(res.JobID), string(res.Kind), res.Target,
		res.ProducedAt.UTC(), stored.SavedAt, res.Outcome.Success, string(outcome),
	); err != nil {
		return domain.StoredMeasurement{}, fmt.Errorf("insert measurement: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM measurements
		WHERE seq NOT IN (SELECT seq FROM measurements ORDER BY seq DESC LIMIT ?)`,
		s.cap,
	); err != nil {
		return domain.StoredMeasurement{}, fmt.Errorf("trim measurements: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.StoredMeasurement{}, fmt.Errorf("commit append: %w", err)
	}
	return stored, nil
}

// Query returns measurements newest first. limit <= 0 falls back to a
// default page size; an empty result is not an error.
func (s *Store) Query(ctx context.Context, f ports.MeasurementFilter, limit int) ([]domain.StoredMeasurement, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	q := `SELECT storage_id, job_id, kind, target, produced_at, saved_at, outcome FROM measurements`
	var (
		conds []string
		args  []any
	)
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.JobID != "" {
		conds = append(conds, "job_id = ?")
		args = append(args, string(f.JobID))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredMeasurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMeasurement(rows *sql.Rows) (domain.StoredMeasurement, error) {
	var (
		m          domain.StoredMeasurement
		jobID      string
		kind       string
		outcomeRaw string
	)
	if err := rows.Scan(&m.StorageID, &jobID, &kind, &m.Target, &m.ProducedAt, &m.SavedAt, &outcomeRaw); err != nil {
		return domain.StoredMeasurement{}, fmt.Errorf("scan measurement: %w", err)
	}
	if err := json.Unmarshal([]byte(outcomeRaw), &m.Outcome); err != nil {
		return domain.StoredMeasurement{}, fmt.Errorf("decode outcome for %s: %w", m.StorageID, err)
	}
	m.JobID = domain.JobID(jobID)
	m.Kind = domain.ProbeKind(kind)
	m.Status = domain.JobStatusCompleted
	m.ProducedAt = m.ProducedAt.UTC()
	m.SavedAt = m.SavedAt.UTC()
	return m, nil
}

// Stats aggregates the current log contents per kind.
func (s *Store) Stats(ctx context.Context) (domain.StoreStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, CAST(COUNT(*) AS BIGINT), CAST(SUM(CASE WHEN success THEN 1 ELSE 0 END) AS BIGINT)
		FROM measurements GROUP BY kind`)
	if err != nil {
		return domain.StoreStats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := domain.StoreStats{ByKind: make(map[domain.ProbeKind]domain.KindStats)}
	successes := 0
	for rows.Next() {
		var (
			kind    string
			count   int
			success int
		)
		if err := rows.Scan(&kind, &count, &success); err != nil {
			return domain.StoreStats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.ByKind[domain.ProbeKind(kind)] = domain.KindStats{Count: count, SuccessCount: success}
		stats.Total += count
		successes += success
	}
	if err := rows.Err(); err != nil {
		return domain.StoreStats{}, err
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(successes) / float64(stats.Total)
	}
	return stats, nil
}

// ExportSnapshot writes the full log, newest first, to a fresh
// timestamped JSON file and returns its path. A failed export leaves no
// partial file behind.
func (s *Store) ExportSnapshot(ctx context.Context, name string) (string, error) {
	measurements, err := s.Query(ctx, ports.MeasurementFilter{}, s.cap)
	if err != nil {
		return "", fmt.Errorf("snapshot query: %w", err)
	}
	if measurements == nil {
		measurements = []domain.StoredMeasurement{}
	}

	data, err := json.MarshalIndent(measurements, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	base := "measurements"
	if name != "" {
		base = sanitizeSnapshotName(name)
	}
	filename := fmt.Sprintf("%s_%d.json", base, time.Now().UnixNano())

	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.exportDir, filename+".tmp")
	if err != nil {
		return "", fmt.Errorf("create snapshot file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close snapshot: %w", err)
	}

	path := filepath.Join(s.exportDir, filename)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("finalize snapshot: %w", err)
	}

	s.logger.Info("snapshot exported", "path", path, "measurements", len(measurements))
	return path, nil
}

// sanitizeSnapshotName keeps snapshot files inside the export dir.
func sanitizeSnapshotName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.ReplaceAll(name, "..", "_")
	return name
}

func (s *Store) Close() error {
	return s.db.Close()
}
