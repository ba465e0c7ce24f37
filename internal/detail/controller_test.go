package detail

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/jobdesk/internal/jobs"
)

type fakeSource struct {
	job        jobs.JobRecord
	jobErr     error
	images     []jobs.ImageRecord
	imagesErr  error
	imageCalls int
	logs       []jobs.LogEntry
	logsFail   string
	stats      jobs.Statistics
	statsFail  string
	configs    map[string]*jobs.Configuration
	configErr  error
	renamed    map[jobs.ID]string
	saved      map[string]jobs.Settings
	saveFail   string
}

func (f *fakeSource) GetJob(ctx context.Context, id jobs.ID) (jobs.JobResult, error) {
	if f.jobErr != nil {
		return jobs.JobResult{}, f.jobErr
	}
	if f.job.ID != id {
		return jobs.JobResult{ActionResult: jobs.Failed("job not found")}, nil
	}
	return jobs.JobResult{ActionResult: jobs.OK(), Job: f.job}, nil
}

func (f *fakeSource) RenameJob(ctx context.Context, id jobs.ID, label string) (jobs.ActionResult, error) {
	if f.renamed == nil {
		f.renamed = map[jobs.ID]string{}
	}
	f.renamed[id] = label
	return jobs.OK(), nil
}

func (f *fakeSource) GetJobImages(ctx context.Context, id jobs.ID) (jobs.ImagesResult, error) {
	f.imageCalls++
	if f.imagesErr != nil {
		return jobs.ImagesResult{}, f.imagesErr
	}
	return jobs.ImagesResult{ActionResult: jobs.OK(), Images: f.images}, nil
}

func (f *fakeSource) GetJobLogs(ctx context.Context, id jobs.ID) (jobs.LogsResult, error) {
	if f.logsFail != "" {
		return jobs.LogsResult{ActionResult: jobs.Failed(f.logsFail)}, nil
	}
	return jobs.LogsResult{ActionResult: jobs.OK(), Logs: f.logs}, nil
}

func (f *fakeSource) GetJobConfiguration(ctx context.Context, configurationID string) (jobs.ConfigurationResult, error) {
	if f.configErr != nil {
		return jobs.ConfigurationResult{}, f.configErr
	}
	cfg, ok := f.configs[configurationID]
	if !ok {
		return jobs.ConfigurationResult{ActionResult: jobs.Failed("configuration not found")}, nil
	}
	return jobs.ConfigurationResult{ActionResult: jobs.OK(), Configuration: cfg}, nil
}

func (f *fakeSource) UpdateJobConfiguration(ctx context.Context, configurationID string, settings jobs.Settings) (jobs.ActionResult, error) {
	if f.saveFail != "" {
		return jobs.Failed(f.saveFail), nil
	}
	if f.saved == nil {
		f.saved = map[string]jobs.Settings{}
	}
	f.saved[configurationID] = settings
	return jobs.OK(), nil
}

func (f *fakeSource) ComputeJobStatistics(ctx context.Context, id jobs.ID) (jobs.StatisticsResult, error) {
	if f.statsFail != "" {
		return jobs.StatisticsResult{ActionResult: jobs.Failed(f.statsFail)}, nil
	}
	return jobs.StatisticsResult{ActionResult: jobs.OK(), Statistics: f.stats}, nil
}

func raw(s string) json.RawMessage {
	return json.RawMessage(s)
}

func TestLoad_RecomputesStatisticsFromImages(t *testing.T) {
	src := &fakeSource{
		job: jobs.JobRecord{ID: "12", Status: jobs.StatusCompleted, TotalImages: 99, SuccessfulImages: 99},
		images: []jobs.ImageRecord{
			{ID: 1, Status: jobs.ImageSucceeded, QCStatus: jobs.QCApproved},
			{ID: 2, Status: jobs.ImageSucceeded, QCStatus: jobs.QCFailed, QCReason: jobs.QCReasonQuality},
			{ID: 3, Status: jobs.ImageFailed},
		},
	}
	d, err := New(src).Load(context.Background(), "12")
	require.NoError(t, err)

	assert.Equal(t, StatsFromImages, d.StatisticsSource)
	assert.Equal(t, 3, d.Job.TotalImages)
	assert.Equal(t, 2, d.Job.SuccessfulImages)
	assert.Equal(t, 1, d.Job.FailedImages)
	assert.Equal(t, 1, d.Job.ApprovedImages)
	assert.Equal(t, 1, d.Job.QCFailedImages)
	assert.Len(t, d.Images, 3)
	assert.Equal(t, ConfigNone, d.Configuration.State)
}

func TestLoad_NonNumericIDSkipsImages(t *testing.T) {
	src := &fakeSource{job: jobs.JobRecord{ID: "run-abc", TotalImages: 4}}
	d, err := New(src).Load(context.Background(), "run-abc")
	require.NoError(t, err)

	assert.Zero(t, src.imageCalls)
	assert.Equal(t, StatsFromRecord, d.StatisticsSource)
	assert.Equal(t, 4, d.Job.TotalImages)
	assert.NotNil(t, d.Images)
}

func TestLoad_FallsBackToServiceStatistics(t *testing.T) {
	src := &fakeSource{
		job:       jobs.JobRecord{ID: "5", TotalImages: 1},
		imagesErr: errors.New("timeout"),
		stats:     jobs.Statistics{TotalImages: 10, SuccessfulImages: 8, FailedImages: 2},
	}
	d, err := New(src).Load(context.Background(), "5")
	require.NoError(t, err)

	assert.Equal(t, StatsFromService, d.StatisticsSource)
	assert.Equal(t, 10, d.Job.TotalImages)
	assert.Equal(t, 8, d.Job.SuccessfulImages)
	require.Len(t, d.Warnings, 1)
	assert.Contains(t, d.Warnings[0], "timeout")
}

func TestLoad_KeepsRecordCountersWhenEverythingFails(t *testing.T) {
	src := &fakeSource{
		job:       jobs.JobRecord{ID: "5", TotalImages: 7},
		imagesErr: errors.New("timeout"),
		statsFail: "no statistics",
		logsFail:  "log store offline",
	}
	d, err := New(src).Load(context.Background(), "5")
	require.NoError(t, err)

	assert.Equal(t, StatsFromRecord, d.StatisticsSource)
	assert.Equal(t, 7, d.Job.TotalImages)
	assert.Len(t, d.Warnings, 3)
	assert.Empty(t, d.Logs)
}

func TestLoad_MissingJobFails(t *testing.T) {
	src := &fakeSource{job: jobs.JobRecord{ID: "1"}}
	_, err := New(src).Load(context.Background(), "2")
	require.Error(t, err)
	assert.True(t, jobs.IsErrorType(err, jobs.ErrBusiness))
	assert.Equal(t, "job not found", jobs.Message(err))

	src.jobErr = errors.New("dial tcp: refused")
	_, err = New(src).Load(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, jobs.IsErrorType(err, jobs.ErrTransport))
}

func TestLoadConfiguration_NoneAndErrorAreDistinct(t *testing.T) {
	src := &fakeSource{configs: map[string]*jobs.Configuration{}}
	c := New(src)

	none := c.LoadConfiguration(context.Background(), "  ")
	failed := c.LoadConfiguration(context.Background(), "cfg-1")

	assert.Equal(t, ConfigNone, none.State)
	assert.Equal(t, ConfigError, failed.State)
	assert.NotEmpty(t, none.Message)
	assert.NotEmpty(t, failed.Message)
	assert.NotEqual(t, none.Message, failed.Message)
	assert.Nil(t, failed.Configuration)
}

func TestLoad_IncludesConfiguration(t *testing.T) {
	cfg := &jobs.Configuration{ID: "cfg-1", Settings: jobs.Settings{"ai": raw(`{"model":"x"}`)}}
	src := &fakeSource{
		job:     jobs.JobRecord{ID: "3", ConfigurationID: "cfg-1"},
		configs: map[string]*jobs.Configuration{"cfg-1": cfg},
	}
	d, err := New(src).Load(context.Background(), "3")
	require.NoError(t, err)
	assert.Equal(t, ConfigLoaded, d.Configuration.State)
	require.NotNil(t, d.Configuration.Configuration)
	assert.Equal(t, "cfg-1", d.Configuration.Configuration.ID)
}

func TestRenameLabel_TrimsAndClears(t *testing.T) {
	src := &fakeSource{}
	c := New(src)

	label, err := c.RenameLabel(context.Background(), "1", "  nightly run  ")
	require.NoError(t, err)
	assert.Equal(t, "nightly run", label)
	assert.Equal(t, "nightly run", src.renamed["1"])

	label, err = c.RenameLabel(context.Background(), "1", "   ")
	require.NoError(t, err)
	assert.Equal(t, "", label)
	assert.Equal(t, "", src.renamed["1"])
}

func TestSaveConfiguration_ReplacesSectionsWholesale(t *testing.T) {
	cfg := &jobs.Configuration{ID: "cfg-1", Settings: jobs.Settings{
		jobs.SectionParameters: raw(`{"count":4,"seed":7}`),
		jobs.SectionAI:         raw(`{"model":"a","temperature":0.2}`),
		jobs.SectionFilePaths:  raw(`{"output":"/out"}`),
	}}
	src := &fakeSource{configs: map[string]*jobs.Configuration{"cfg-1": cfg}}

	updated, err := New(src).SaveConfiguration(context.Background(), "cfg-1", jobs.Settings{
		jobs.SectionParameters: raw(`{"count":8}`),
	})
	require.NoError(t, err)

	want := jobs.Settings{
		jobs.SectionParameters: raw(`{"count":8}`),
		jobs.SectionAI:         raw(`{"model":"a","temperature":0.2}`),
		jobs.SectionFilePaths:  raw(`{"output":"/out"}`),
	}
	assert.True(t, want.Equal(updated.Settings))
	assert.True(t, want.Equal(src.saved["cfg-1"]))
	// stored object is not mutated in place
	assert.JSONEq(t, `{"count":4,"seed":7}`, string(cfg.Settings[jobs.SectionParameters]))
}

func TestSaveConfiguration_Errors(t *testing.T) {
	src := &fakeSource{configs: map[string]*jobs.Configuration{
		"cfg-1": {ID: "cfg-1", Settings: jobs.Settings{}},
	}}
	c := New(src)

	_, err := c.SaveConfiguration(context.Background(), "", jobs.Settings{})
	assert.ErrorIs(t, err, ErrNoConfiguration)

	_, err = c.SaveConfiguration(context.Background(), "missing", jobs.Settings{})
	require.Error(t, err)
	assert.Equal(t, "configuration not found", jobs.Message(err))

	src.saveFail = "validation failed: ai.model required"
	_, err = c.SaveConfiguration(context.Background(), "cfg-1", jobs.Settings{"ai": raw(`{}`)})
	require.Error(t, err)
	assert.Equal(t, "validation failed: ai.model required", jobs.Message(err))
}
