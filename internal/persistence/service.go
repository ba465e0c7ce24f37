package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/MimeLyc/jobdesk/internal/jobs"
	"github.com/MimeLyc/jobdesk/internal/view"
	"github.com/MimeLyc/jobdesk/pkg/log"
)

var errConfigurationNotFound = errors.New("configuration not found")

var _ jobs.JobService = (*SQLiteStore)(nil)
var _ jobs.BulkExporter = (*SQLiteStore)(nil)

// failure maps expected lookup errors to a business reply and leaves
// everything else as a transport error.
func failure(err error) (jobs.ActionResult, error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, errConfigurationNotFound):
		return jobs.Failed(err.Error()), nil
	default:
		return jobs.ActionResult{}, err
	}
}

func (s *SQLiteStore) ListAllJobs(ctx context.Context) (jobs.ListResult, error) {
	records, err := s.loadJobs(ctx)
	if err != nil {
		return jobs.ListResult{}, fmt.Errorf("list jobs: %w", err)
	}
	return jobs.ListResult{ActionResult: jobs.OK(), Jobs: records, TotalCount: len(records)}, nil
}

// ListJobs filters, sorts and pages on the service side with the same
// pipeline the list view uses.
func (s *SQLiteStore) ListJobs(ctx context.Context, req jobs.ListRequest) (jobs.ListResult, error) {
	q := view.QueryFromRequest(req)
	if q.Sort.Field == "" {
		q.Sort = view.DefaultSort()
	}
	if err := q.Filter.Validate(); err != nil {
		return jobs.ListResult{ActionResult: jobs.Failed(err.Error())}, nil
	}
	if err := q.Sort.Validate(); err != nil {
		return jobs.ListResult{ActionResult: jobs.Failed(err.Error())}, nil
	}

	records, err := s.loadJobs(ctx)
	if err != nil {
		return jobs.ListResult{}, fmt.Errorf("list jobs: %w", err)
	}
	page := view.Derive(records, q, s.now(), language.English)
	return jobs.ListResult{ActionResult: jobs.OK(), Jobs: page.Visible, TotalCount: page.TotalCount}, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id jobs.ID) (jobs.JobResult, error) {
	rec, err := s.loadJob(ctx, id)
	if err != nil {
		res, err := failure(err)
		return jobs.JobResult{ActionResult: res}, err
	}
	return jobs.JobResult{ActionResult: jobs.OK(), Job: rec}, nil
}

func (s *SQLiteStore) RenameJob(ctx context.Context, id jobs.ID, label string) (jobs.ActionResult, error) {
	n, ok := id.Numeric()
	if !ok {
		return failure(jobs.ErrNotFound)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET label = ? WHERE id = ?`, strings.TrimSpace(label), n)
	if err != nil {
		return jobs.ActionResult{}, err
	}
	if err := requireAffected(res); err != nil {
		return failure(err)
	}
	return jobs.OK(), nil
}

// RerunJob queues a fresh pending job with the same label and
// configuration. The original job is left untouched apart from a log line.
func (s *SQLiteStore) RerunJob(ctx context.Context, id jobs.ID) (jobs.ActionResult, error) {
	orig, err := s.loadJob(ctx, id)
	if err != nil {
		return failure(err)
	}
	if !orig.Status.Terminal() {
		return jobs.Failed(fmt.Sprintf("job %s is still %s", id, orig.Status)), nil
	}
	newID, err := s.CreateJob(ctx, jobs.JobRecord{
		Label:           orig.Label,
		Status:          jobs.StatusPending,
		ConfigurationID: orig.ConfigurationID,
	})
	if err != nil {
		return jobs.ActionResult{}, err
	}
	origN, _ := id.Numeric()
	newN, _ := newID.Numeric()
	if _, err := s.db.ExecContext(ctx, `UPDATE jobs SET rerun_of = ? WHERE id = ?`, origN, newN); err != nil {
		return jobs.ActionResult{}, err
	}
	if err := s.AppendLog(ctx, id, "info", "rerun queued as job "+newID.String()); err != nil {
		log.Warn("Failed to log rerun of job %s: %v", id, err)
	}
	log.Info("Job %s rerun as %s", id, newID)
	return jobs.OK(), nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, id jobs.ID) (ret jobs.ActionResult, err error) {
	n, ok := id.Numeric()
	if !ok {
		return failure(jobs.ErrNotFound)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return jobs.ActionResult{}, err
	}
	defer func() {
		if err != nil || !ret.Success {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, n)
	if err != nil {
		return jobs.ActionResult{}, err
	}
	if affErr := requireAffected(res); affErr != nil {
		return failure(affErr)
	}
	for _, table := range []string{"job_images", "job_logs", "job_exports"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE job_id = ?`, n); err != nil {
			return jobs.ActionResult{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return jobs.ActionResult{}, err
	}
	return jobs.OK(), nil
}

func (s *SQLiteStore) GetJobImages(ctx context.Context, id jobs.ID) (jobs.ImagesResult, error) {
	rec, err := s.loadJob(ctx, id)
	if err != nil {
		res, err := failure(err)
		return jobs.ImagesResult{ActionResult: res}, err
	}
	n, _ := rec.ID.Numeric()
	images, err := s.loadImages(ctx, n)
	if err != nil {
		return jobs.ImagesResult{}, err
	}
	return jobs.ImagesResult{ActionResult: jobs.OK(), Images: images}, nil
}

func (s *SQLiteStore) GetJobLogs(ctx context.Context, id jobs.ID) (jobs.LogsResult, error) {
	rec, err := s.loadJob(ctx, id)
	if err != nil {
		res, err := failure(err)
		return jobs.LogsResult{ActionResult: res}, err
	}
	n, _ := rec.ID.Numeric()
	logs, err := s.loadLogs(ctx, n)
	if err != nil {
		return jobs.LogsResult{}, err
	}
	return jobs.LogsResult{ActionResult: jobs.OK(), Logs: logs}, nil
}

func (s *SQLiteStore) GetJobConfiguration(ctx context.Context, configurationID string) (jobs.ConfigurationResult, error) {
	cfg, err := s.loadConfiguration(ctx, strings.TrimSpace(configurationID))
	if err != nil {
		res, err := failure(err)
		return jobs.ConfigurationResult{ActionResult: res}, err
	}
	return jobs.ConfigurationResult{ActionResult: jobs.OK(), Configuration: &cfg}, nil
}

// UpdateJobConfiguration merges settings into the stored object section by
// section, so callers may send either a partial or a complete object.
func (s *SQLiteStore) UpdateJobConfiguration(ctx context.Context, configurationID string, settings jobs.Settings) (jobs.ActionResult, error) {
	cfg, err := s.loadConfiguration(ctx, strings.TrimSpace(configurationID))
	if err != nil {
		return failure(err)
	}
	for section, raw := range settings {
		if !json.Valid(raw) {
			return jobs.Failed(fmt.Sprintf("section %q is not valid JSON", section)), nil
		}
	}
	cfg.Settings = jobs.MergeSettings(cfg.Settings, settings)
	if err := s.PutConfiguration(ctx, cfg); err != nil {
		return jobs.ActionResult{}, err
	}
	return jobs.OK(), nil
}

// ComputeJobStatistics aggregates the image table with the same rules as
// jobs.ComputeStatistics.
func (s *SQLiteStore) ComputeJobStatistics(ctx context.Context, id jobs.ID) (jobs.StatisticsResult, error) {
	rec, err := s.loadJob(ctx, id)
	if err != nil {
		res, err := failure(err)
		return jobs.StatisticsResult{ActionResult: res}, err
	}
	n, _ := rec.ID.Numeric()

	var stats jobs.Statistics
	err = s.db.QueryRowContext(
		ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? AND qc_status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? AND qc_status = ? THEN 1 ELSE 0 END), 0)
		 FROM job_images
		 WHERE job_id = ?`,
		string(jobs.ImageSucceeded),
		string(jobs.ImageFailed),
		string(jobs.ImageSucceeded), string(jobs.QCApproved),
		string(jobs.ImageSucceeded), string(jobs.QCFailed),
		n,
	).Scan(&stats.TotalImages, &stats.SuccessfulImages, &stats.FailedImages, &stats.ApprovedImages, &stats.QCFailedImages)
	if err != nil {
		return jobs.StatisticsResult{}, err
	}
	return jobs.StatisticsResult{ActionResult: jobs.OK(), Statistics: stats}, nil
}

// SyncStatistics writes the aggregated image counters back onto the job row.
func (s *SQLiteStore) SyncStatistics(ctx context.Context, id jobs.ID) error {
	res, err := s.ComputeJobStatistics(ctx, id)
	if err != nil {
		return err
	}
	if !res.Success {
		return jobs.ErrNotFound
	}
	n, _ := id.Numeric()
	st := res.Statistics
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE jobs SET total_images = ?, successful_images = ?, failed_images = ?, approved_images = ?, qc_failed_images = ?
		 WHERE id = ?`,
		st.TotalImages, st.SuccessfulImages, st.FailedImages, st.ApprovedImages, st.QCFailedImages, n,
	)
	return err
}

func encodeSettings(settings jobs.Settings) (string, error) {
	if settings == nil {
		settings = jobs.Settings{}
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("encode settings: %w", err)
	}
	return string(data), nil
}

func decodeSettings(payload string) (jobs.Settings, error) {
	settings := jobs.Settings{}
	if strings.TrimSpace(payload) == "" {
		return settings, nil
	}
	if err := json.Unmarshal([]byte(payload), &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}
