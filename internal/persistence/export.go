package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/MimeLyc/jobdesk/internal/jobs"
	"github.com/MimeLyc/jobdesk/pkg/file"
	"github.com/MimeLyc/jobdesk/pkg/log"
)

// exportedJob is the on-disk shape of one exported job.
type exportedJob struct {
	Job    jobs.JobRecord     `json:"job"`
	Images []jobs.ImageRecord `json:"images"`
	Logs   []jobs.LogEntry    `json:"logs"`
}

type exportBundle struct {
	ExportedAt jobs.Timestamp `json:"exportedAt"`
	Jobs       []exportedJob  `json:"jobs"`
}

func (s *SQLiteStore) ExportJob(ctx context.Context, id jobs.ID) (jobs.ActionResult, error) {
	if s.exportDir == "" {
		return jobs.Failed("export directory is not configured"), nil
	}
	item, err := s.collectExport(ctx, id)
	if err != nil {
		return failure(err)
	}
	path := filepath.Join(s.exportDir, "job-"+id.String()+".json")
	if err := s.writeExport(ctx, path, exportBundle{ExportedAt: jobs.At(s.now()), Jobs: []exportedJob{item}}); err != nil {
		return jobs.ActionResult{}, err
	}
	return jobs.OK(), nil
}

// BulkExport writes every job into one file. Nothing is written unless all
// ids exist.
func (s *SQLiteStore) BulkExport(ctx context.Context, ids []jobs.ID) (jobs.ActionResult, error) {
	if s.exportDir == "" {
		return jobs.Failed("export directory is not configured"), nil
	}
	if len(ids) == 0 {
		return jobs.Failed("no jobs to export"), nil
	}
	now := s.now()
	bundle := exportBundle{ExportedAt: jobs.At(now), Jobs: make([]exportedJob, 0, len(ids))}
	for _, id := range ids {
		item, err := s.collectExport(ctx, id)
		if err != nil {
			res, err := failure(err)
			if err == nil {
				res.Error = fmt.Sprintf("job %s: %s", id, res.Error)
			}
			return res, err
		}
		bundle.Jobs = append(bundle.Jobs, item)
	}
	path := filepath.Join(s.exportDir, "jobs-"+now.UTC().Format("20060102-150405.000")+".json")
	if err := s.writeExport(ctx, path, bundle); err != nil {
		return jobs.ActionResult{}, err
	}
	return jobs.OK(), nil
}

func (s *SQLiteStore) collectExport(ctx context.Context, id jobs.ID) (exportedJob, error) {
	rec, err := s.loadJob(ctx, id)
	if err != nil {
		return exportedJob{}, err
	}
	n, _ := rec.ID.Numeric()
	images, err := s.loadImages(ctx, n)
	if err != nil {
		return exportedJob{}, err
	}
	logs, err := s.loadLogs(ctx, n)
	if err != nil {
		return exportedJob{}, err
	}
	return exportedJob{Job: rec, Images: images, Logs: logs}, nil
}

func (s *SQLiteStore) writeExport(ctx context.Context, path string, bundle exportBundle) error {
	content, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	if err := file.WriteAtomic(path, append(content, '\n'), 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	exportedAt := formatTime(bundle.ExportedAt)
	for _, item := range bundle.Jobs {
		n, _ := item.Job.ID.Numeric()
		if _, err := s.db.ExecContext(
			ctx,
			`INSERT INTO job_exports (job_id, path, exported_at) VALUES (?, ?, ?)`,
			n, path, exportedAt,
		); err != nil {
			return err
		}
	}
	log.Info("Exported %d job(s) to %s", len(bundle.Jobs), path)
	return nil
}

// ExportsSince lists export files written at or after since.
func (s *SQLiteStore) ExportsSince(since time.Time) ([]string, error) {
	if s.exportDir == "" {
		return nil, nil
	}
	return file.FindRecentAfter(s.exportDir, since)
}
