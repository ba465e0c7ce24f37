package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MimeLyc/jobdesk/internal/jobs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const jobColumns = `id, label, status, configuration_id, created_at, started_at, completed_at,
	total_images, successful_images, failed_images, approved_images, qc_failed_images`

// SQLiteStore is a local job service: it keeps job records, generated
// images, logs and configurations in one SQLite file and implements
// jobs.JobService on top of them.
type SQLiteStore struct {
	db        *sql.DB
	exportDir string
	now       func() time.Time
}

type Option func(*SQLiteStore)

// WithExportDir sets where ExportJob and BulkExport write their files.
func WithExportDir(dir string) Option {
	return func(s *SQLiteStore) {
		s.exportDir = strings.TrimSpace(dir)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// -------- writes used by the pipeline and tests --------

// CreateJob inserts a job and returns its id. The id field of job is ignored.
func (s *SQLiteStore) CreateJob(ctx context.Context, job jobs.JobRecord) (jobs.ID, error) {
	status := job.Status.Canonical()
	if status == "" {
		status = jobs.StatusPending
	}
	if !status.Valid() {
		return "", fmt.Errorf("invalid status %q", job.Status)
	}
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = jobs.At(s.now())
	}
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			label, status, configuration_id, created_at, started_at, completed_at,
			total_images, successful_images, failed_images, approved_images, qc_failed_images
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(job.Label),
		string(status),
		strings.TrimSpace(job.ConfigurationID),
		formatTime(createdAt),
		formatTime(job.StartedAt),
		formatTime(job.CompletedAt),
		job.TotalImages,
		job.SuccessfulImages,
		job.FailedImages,
		job.ApprovedImages,
		job.QCFailedImages,
	)
	if err != nil {
		return "", err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	return jobs.IDFromInt(id), nil
}

// UpdateStatus moves a job through its lifecycle and stamps start and
// completion times.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id jobs.ID, status jobs.Status) error {
	n, ok := id.Numeric()
	if !ok {
		return jobs.ErrNotFound
	}
	status = status.Canonical()
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	now := formatTime(jobs.At(s.now()))
	query := `UPDATE jobs SET status = ? WHERE id = ?`
	args := []any{string(status), n}
	switch {
	case status == jobs.StatusRunning:
		query = `UPDATE jobs SET status = ?, started_at = CASE WHEN started_at = '' THEN ? ELSE started_at END WHERE id = ?`
		args = []any{string(status), now, n}
	case status.Terminal():
		query = `UPDATE jobs SET status = ?, completed_at = ? WHERE id = ?`
		args = []any{string(status), now, n}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// AddImage records one generated image and returns its id.
func (s *SQLiteStore) AddImage(ctx context.Context, img jobs.ImageRecord) (int64, error) {
	n, ok := img.JobID.Numeric()
	if !ok {
		return 0, jobs.ErrNotFound
	}
	qc := img.QCStatus
	if qc == "" {
		qc = jobs.QCPending
	}
	createdAt := img.CreatedAt
	if createdAt.IsZero() {
		createdAt = jobs.At(s.now())
	}
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_images (job_id, path, status, qc_status, qc_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n,
		img.Path,
		string(img.Status),
		string(qc),
		string(img.QCReason),
		formatTime(createdAt),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) AppendLog(ctx context.Context, id jobs.ID, level string, message string) error {
	n, ok := id.Numeric()
	if !ok {
		return jobs.ErrNotFound
	}
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_logs (job_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		n,
		level,
		message,
		formatTime(jobs.At(s.now())),
	)
	return err
}

func (s *SQLiteStore) PutConfiguration(ctx context.Context, cfg jobs.Configuration) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("configuration id is required")
	}
	payload, err := encodeSettings(cfg.Settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO configurations (id, name, settings_json, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			settings_json=excluded.settings_json,
			updated_at=excluded.updated_at`,
		cfg.ID,
		cfg.Name,
		payload,
		formatTime(jobs.At(s.now())),
	)
	return err
}

// -------- reads --------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (jobs.JobRecord, error) {
	var (
		id          int64
		status      string
		createdAt   string
		startedAt   string
		completedAt string
		rec         jobs.JobRecord
	)
	if err := row.Scan(
		&id,
		&rec.Label,
		&status,
		&rec.ConfigurationID,
		&createdAt,
		&startedAt,
		&completedAt,
		&rec.TotalImages,
		&rec.SuccessfulImages,
		&rec.FailedImages,
		&rec.ApprovedImages,
		&rec.QCFailedImages,
	); err != nil {
		return jobs.JobRecord{}, err
	}
	rec.ID = jobs.IDFromInt(id)
	rec.Status = jobs.Status(status).Canonical()
	rec.CreatedAt = parseTime(createdAt)
	rec.StartedAt = parseTime(startedAt)
	rec.CompletedAt = parseTime(completedAt)
	return rec, nil
}

func (s *SQLiteStore) loadJobs(ctx context.Context) ([]jobs.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]jobs.JobRecord, 0)
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) loadJob(ctx context.Context, id jobs.ID) (jobs.JobRecord, error) {
	n, ok := id.Numeric()
	if !ok {
		return jobs.JobRecord{}, jobs.ErrNotFound
	}
	rec, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, n))
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.JobRecord{}, jobs.ErrNotFound
	}
	return rec, err
}

func (s *SQLiteStore) loadImages(ctx context.Context, jobID int64) ([]jobs.ImageRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, job_id, path, status, qc_status, qc_reason, created_at
		 FROM job_images
		 WHERE job_id = ?
		 ORDER BY id ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]jobs.ImageRecord, 0)
	for rows.Next() {
		var (
			item                       jobs.ImageRecord
			owner                      int64
			status, qcStatus, qcReason string
			createdAt                  string
		)
		if err := rows.Scan(&item.ID, &owner, &item.Path, &status, &qcStatus, &qcReason, &createdAt); err != nil {
			return nil, err
		}
		item.JobID = jobs.IDFromInt(owner)
		item.Status = jobs.ImageStatus(status)
		item.QCStatus = jobs.QCStatus(qcStatus)
		item.QCReason = jobs.QCReason(qcReason)
		item.CreatedAt = parseTime(createdAt)
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) loadLogs(ctx context.Context, jobID int64) ([]jobs.LogEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT level, message, created_at FROM job_logs WHERE job_id = ? ORDER BY id ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]jobs.LogEntry, 0)
	for rows.Next() {
		var item jobs.LogEntry
		var createdAt string
		if err := rows.Scan(&item.Level, &item.Message, &createdAt); err != nil {
			return nil, err
		}
		item.CreatedAt = parseTime(createdAt)
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) loadConfiguration(ctx context.Context, configurationID string) (jobs.Configuration, error) {
	var (
		cfg       jobs.Configuration
		payload   string
		updatedAt string
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, settings_json, updated_at FROM configurations WHERE id = ?`,
		configurationID,
	).Scan(&cfg.ID, &cfg.Name, &payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Configuration{}, errConfigurationNotFound
	}
	if err != nil {
		return jobs.Configuration{}, err
	}
	settings, err := decodeSettings(payload)
	if err != nil {
		return jobs.Configuration{}, err
	}
	cfg.Settings = settings
	cfg.UpdatedAt = parseTime(updatedAt)
	return cfg, nil
}

func formatTime(t jobs.Timestamp) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime never fails; unparseable values read as the zero time.
func parseTime(raw string) jobs.Timestamp {
	ts, _ := jobs.ParseTimestamp(raw)
	return ts
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return jobs.ErrNotFound
	}
	return nil
}
