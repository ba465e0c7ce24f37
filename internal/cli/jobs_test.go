package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/jobdesk/internal/jobs"
	"github.com/MimeLyc/jobdesk/internal/listing"
	"github.com/MimeLyc/jobdesk/internal/persistence"
	"github.com/MimeLyc/jobdesk/internal/view"
)

type seeded struct {
	exportDir          string
	alpha, beta, gamma jobs.ID
}

// setupCLI points the command line at a fresh database holding three jobs.
func setupCLI(t *testing.T) seeded {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "jobdesk.db")
	exportDir := filepath.Join(dir, "exports")

	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("SETTINGS_FILE", filepath.Join(dir, "settings.json"))
	t.Setenv("DATA_DIR", dir)
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("EXPORT_DIR", exportDir)
	t.Setenv("FETCH_MODE", "all")
	t.Setenv("DEFAULT_PAGE_SIZE", "")
	t.Setenv("SORT_LOCALE", "")
	t.Setenv("SEARCH_DEBOUNCE_MS", "")
	t.Setenv("BULK_EXPORT", "")
	t.Setenv("REFRESH_CRON", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FILE", "")

	store, err := persistence.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.PutConfiguration(ctx, jobs.Configuration{
		ID:       "cfg-1",
		Name:     "portraits",
		Settings: jobs.Settings{jobs.SectionAI: json.RawMessage(`{"model":"m1"}`)},
	}))

	s := seeded{exportDir: exportDir}
	s.alpha, err = store.CreateJob(ctx, jobs.JobRecord{
		Label: "alpha", Status: jobs.StatusCompleted, StartedAt: jobs.At(now.Add(-3 * time.Hour)), ConfigurationID: "cfg-1",
	})
	require.NoError(t, err)
	s.beta, err = store.CreateJob(ctx, jobs.JobRecord{
		Label: "beta", Status: jobs.StatusFailed, StartedAt: jobs.At(now.Add(-2 * time.Hour)),
	})
	require.NoError(t, err)
	s.gamma, err = store.CreateJob(ctx, jobs.JobRecord{
		Label: "gamma", Status: jobs.StatusRunning, StartedAt: jobs.At(now.Add(-time.Hour)),
	})
	require.NoError(t, err)
	require.NoError(t, store.AppendLog(ctx, s.alpha, "info", "finished rendering"))
	return s
}

func resetFlags() {
	envFile = ""
	jsonOutput = false
	listStatus = view.StatusAll
	listRange = string(view.RangeAll)
	listLabel = ""
	listSearch = ""
	listSort = ""
	listPage = 1
	listPageSize = 0
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func listJSON(t *testing.T, args ...string) listing.View {
	t.Helper()
	out, err := runCLI(t, append([]string{"jobs", "list", "--json"}, args...)...)
	require.NoError(t, err)
	var v listing.View
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	return v
}

func TestJobsList_Table(t *testing.T) {
	setupCLI(t)

	out, err := runCLI(t, "jobs", "list", "--sort", "label:asc")
	require.NoError(t, err)

	assert.Contains(t, out, "LABEL")
	assert.Less(t, strings.Index(out, "alpha"), strings.Index(out, "beta"))
	assert.Less(t, strings.Index(out, "beta"), strings.Index(out, "gamma"))
	assert.Contains(t, out, "Page 1 of 1 (3 jobs)")
}

func TestJobsList_FilterJSON(t *testing.T) {
	s := setupCLI(t)

	v := listJSON(t, "--status", "failed")
	require.Len(t, v.Rows, 1)
	assert.Equal(t, s.beta, v.Rows[0].ID)
	assert.Equal(t, 1, v.TotalCount)

	v = listJSON(t, "--search", "gam")
	require.Len(t, v.Rows, 1)
	assert.Equal(t, s.gamma, v.Rows[0].ID)
}

func TestJobsList_RejectsBadInput(t *testing.T) {
	setupCLI(t)

	_, err := runCLI(t, "jobs", "list", "--page-size", "7")
	require.ErrorIs(t, err, listing.ErrInvalidPageSize)

	_, err = runCLI(t, "jobs", "list", "--sort", "nope")
	require.Error(t, err)

	_, err = runCLI(t, "jobs", "list", "--status", "bogus")
	require.Error(t, err)
}

func TestJobsShow(t *testing.T) {
	s := setupCLI(t)

	out, err := runCLI(t, "jobs", "show", s.alpha.String())
	require.NoError(t, err)
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "portraits (sections: ai)")
	assert.Contains(t, out, "finished rendering")

	_, err = runCLI(t, "jobs", "show", "999")
	require.Error(t, err)
}

func TestJobsRename(t *testing.T) {
	s := setupCLI(t)

	out, err := runCLI(t, "jobs", "rename", s.beta.String(), "  nightly  ")
	require.NoError(t, err)
	assert.Contains(t, out, `"nightly"`)

	v := listJSON(t, "--search", "nightly")
	require.Len(t, v.Rows, 1)
	assert.Equal(t, s.beta, v.Rows[0].ID)
}

func TestJobsDelete(t *testing.T) {
	s := setupCLI(t)

	out, err := runCLI(t, "jobs", "delete", s.beta.String())
	require.NoError(t, err)
	assert.Contains(t, out, "delete: 1 succeeded, 0 failed")

	assert.Equal(t, 2, listJSON(t).TotalCount)
}

func TestJobsRerun_PartialFailure(t *testing.T) {
	s := setupCLI(t)

	out, err := runCLI(t, "jobs", "rerun", s.alpha.String(), s.gamma.String())
	require.EqualError(t, err, "rerun failed for 1 of 2 jobs")
	assert.Contains(t, out, "rerun: 1 succeeded, 1 failed")
	assert.Contains(t, out, "job "+s.gamma.String())

	assert.Equal(t, 4, listJSON(t).TotalCount)
}

func TestJobsExport_WritesFile(t *testing.T) {
	s := setupCLI(t)

	_, err := runCLI(t, "jobs", "export", s.alpha.String(), s.beta.String())
	require.NoError(t, err)

	entries, err := os.ReadDir(s.exportDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".json", filepath.Ext(entries[0].Name()))
}

func TestParseSortFlag(t *testing.T) {
	tests := []struct {
		raw     string
		want    view.SortSpec
		wantErr bool
	}{
		{raw: "label", want: view.SortSpec{Field: view.FieldLabel, Direction: view.Asc}},
		{raw: "startedAt:DESC", want: view.SortSpec{Field: view.FieldStartedAt, Direction: view.Desc}},
		{raw: "label:sideways", wantErr: true},
		{raw: "color", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseSortFlag(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteTable_AlignsWideRunes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTable(&buf, []string{"ID", "LABEL"}, [][]string{
		{"1", "夜景"},
		{"22", "day"},
	}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID  LABEL", lines[0])
	assert.Equal(t, "1   夜景", lines[1])
	assert.Equal(t, "22  day", lines[2])
}
