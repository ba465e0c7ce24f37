package listing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/MimeLyc/jobdesk/internal/batch"
	"github.com/MimeLyc/jobdesk/internal/jobs"
	"github.com/MimeLyc/jobdesk/internal/recordstore"
	"github.com/MimeLyc/jobdesk/internal/view"
)

var testNow = time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)

type memoryService struct {
	mu        sync.Mutex
	records   []jobs.JobRecord
	listCalls int
	lastReq   jobs.ListRequest
	failRerun map[jobs.ID]string
}

func newMemoryService(n int) *memoryService {
	svc := &memoryService{}
	for i := 1; i <= n; i++ {
		svc.records = append(svc.records, jobs.JobRecord{
			ID:          jobs.IDFromInt(int64(i)),
			Status:      jobs.StatusCompleted,
			StartedAt:   jobs.At(testNow.Add(-time.Duration(i) * time.Hour)),
			TotalImages: i,
		})
	}
	return svc
}

func (m *memoryService) ListAllJobs(ctx context.Context) (jobs.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return jobs.ListResult{ActionResult: jobs.OK(), Jobs: jobs.CloneRecords(m.records), TotalCount: len(m.records)}, nil
}

func (m *memoryService) ListJobs(ctx context.Context, req jobs.ListRequest) (jobs.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	m.lastReq = req
	q := view.QueryFromRequest(req)
	filtered := view.Filter(m.records, q.Filter, q.Search, testNow)
	page := view.Paginate(view.Sort(filtered, q.Sort), q.Page, q.PageSize)
	return jobs.ListResult{ActionResult: jobs.OK(), Jobs: page.Visible, TotalCount: len(filtered)}, nil
}

func (m *memoryService) RerunJob(ctx context.Context, id jobs.ID) (jobs.ActionResult, error) {
	if msg, ok := m.failRerun[id]; ok {
		return jobs.Failed(msg), nil
	}
	return jobs.OK(), nil
}

func (m *memoryService) ExportJob(ctx context.Context, id jobs.ID) (jobs.ActionResult, error) {
	return jobs.OK(), nil
}

func (m *memoryService) DeleteJob(ctx context.Context, id jobs.ID) (jobs.ActionResult, error) {
	m.remove(id)
	return jobs.OK(), nil
}

func (m *memoryService) remove(id jobs.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, r := range m.records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	m.records = kept
}

func (m *memoryService) GetJob(ctx context.Context, id jobs.ID) (jobs.JobResult, error) {
	return jobs.JobResult{ActionResult: jobs.Failed("not used")}, nil
}

func (m *memoryService) RenameJob(ctx context.Context, id jobs.ID, label string) (jobs.ActionResult, error) {
	return jobs.OK(), nil
}

func (m *memoryService) GetJobImages(ctx context.Context, id jobs.ID) (jobs.ImagesResult, error) {
	return jobs.ImagesResult{ActionResult: jobs.OK()}, nil
}

func (m *memoryService) GetJobLogs(ctx context.Context, id jobs.ID) (jobs.LogsResult, error) {
	return jobs.LogsResult{ActionResult: jobs.OK()}, nil
}

func (m *memoryService) GetJobConfiguration(ctx context.Context, configurationID string) (jobs.ConfigurationResult, error) {
	return jobs.ConfigurationResult{ActionResult: jobs.Failed("not used")}, nil
}

func (m *memoryService) UpdateJobConfiguration(ctx context.Context, configurationID string, settings jobs.Settings) (jobs.ActionResult, error) {
	return jobs.OK(), nil
}

func (m *memoryService) ComputeJobStatistics(ctx context.Context, id jobs.ID) (jobs.StatisticsResult, error) {
	return jobs.StatisticsResult{ActionResult: jobs.OK()}, nil
}

func (m *memoryService) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

func newController(t *testing.T, svc *memoryService, mode recordstore.FetchMode, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow }), WithLocale(language.English)}, opts...)
	c := New(svc, mode, opts...)
	t.Cleanup(c.Close)
	require.NoError(t, c.Refresh(context.Background()))
	return c
}

func TestView_DefaultSortAndPaging(t *testing.T) {
	svc := newMemoryService(30)
	c := newController(t, svc, recordstore.FetchAll)

	v := c.View()
	assert.Equal(t, 1, v.Page)
	assert.Equal(t, 25, v.PageSize)
	assert.Equal(t, 2, v.TotalPages)
	assert.Equal(t, 30, v.TotalCount)
	require.Len(t, v.Rows, 25)
	// newest start time first
	assert.Equal(t, jobs.ID("1"), v.Rows[0].ID)
	assert.False(t, v.Loading)
	assert.Empty(t, v.Error)
}

func TestSetPageSize_ResetsPageAndRejectsInvalid(t *testing.T) {
	svc := newMemoryService(30)
	c := newController(t, svc, recordstore.FetchAll)
	ctx := context.Background()

	require.NoError(t, c.SetPage(ctx, 2))
	assert.Equal(t, 2, c.View().Page)

	require.NoError(t, c.SetPageSize(ctx, 10))
	v := c.View()
	assert.Equal(t, 1, v.Page)
	assert.Equal(t, 3, v.TotalPages)

	assert.ErrorIs(t, c.SetPageSize(ctx, 15), ErrInvalidPageSize)
	assert.Equal(t, 10, c.Query().PageSize)
}

func TestSetFilter_ResetsPage(t *testing.T) {
	svc := newMemoryService(30)
	c := newController(t, svc, recordstore.FetchAll)
	ctx := context.Background()

	require.NoError(t, c.SetPage(ctx, 2))
	require.NoError(t, c.SetFilter(ctx, view.FilterSpec{MinImages: 10, MaxImages: intPtr(20)}))

	v := c.View()
	assert.Equal(t, 1, v.Page)
	assert.Equal(t, 11, v.TotalCount)

	err := c.SetFilter(ctx, view.FilterSpec{Status: "archived"})
	require.Error(t, err)
	assert.True(t, jobs.IsErrorType(err, jobs.ErrValidation))
}

func TestSetSort_KeepsPage(t *testing.T) {
	svc := newMemoryService(30)
	c := newController(t, svc, recordstore.FetchAll)
	ctx := context.Background()

	require.NoError(t, c.SetPage(ctx, 2))
	require.NoError(t, c.ToggleSort(ctx, view.FieldTotalImages))

	v := c.View()
	assert.Equal(t, 2, v.Page)
	assert.Equal(t, view.SortSpec{Field: view.FieldTotalImages, Direction: view.Asc}, v.Query.Sort)
	assert.Equal(t, jobs.ID("26"), v.Rows[0].ID)

	assert.Error(t, c.ToggleSort(ctx, view.Field("color")))
}

func TestView_ClampsPageAndWritesBack(t *testing.T) {
	svc := newMemoryService(12)
	c := newController(t, svc, recordstore.FetchAll)
	ctx := context.Background()

	require.NoError(t, c.SetPageSize(ctx, 10))
	require.NoError(t, c.SetPage(ctx, 9))

	v := c.View()
	assert.Equal(t, 2, v.Page)
	assert.Len(t, v.Rows, 2)
	assert.Equal(t, 2, c.Query().Page)
}

func TestEveryQueryChangeFetchesOnce(t *testing.T) {
	svc := newMemoryService(5)
	c := newController(t, svc, recordstore.FetchAll)
	ctx := context.Background()
	base := svc.calls()

	require.NoError(t, c.SetPage(ctx, 1))
	require.NoError(t, c.SetSort(ctx, view.SortSpec{Field: view.FieldID, Direction: view.Asc}))
	require.NoError(t, c.SetFilter(ctx, view.DefaultFilter()))
	assert.Equal(t, base+3, svc.calls())
}

func TestSearch_IsDebounced(t *testing.T) {
	svc := newMemoryService(50)
	c := newController(t, svc, recordstore.FetchAll, WithSearchDelay(80*time.Millisecond))
	base := svc.calls()

	c.SetSearch("4")
	time.Sleep(20 * time.Millisecond)
	c.SetSearch("42")
	time.Sleep(20 * time.Millisecond)
	c.SetSearch("42 ")
	assert.True(t, c.View().PendingSearch)

	require.Eventually(t, func() bool {
		return c.Query().Search == "42"
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, base+1, svc.calls())
	v := c.View()
	require.Len(t, v.Rows, 1)
	assert.Equal(t, jobs.ID("42"), v.Rows[0].ID)
	assert.False(t, v.PendingSearch)
}

func TestSearchNow_DropsPendingKeystrokes(t *testing.T) {
	svc := newMemoryService(10)
	c := newController(t, svc, recordstore.FetchAll, WithSearchDelay(time.Hour))

	c.SetSearch("1")
	require.NoError(t, c.SearchNow(context.Background(), "7"))
	v := c.View()
	assert.False(t, v.PendingSearch)
	require.Len(t, v.Rows, 1)
	assert.Equal(t, jobs.ID("7"), v.Rows[0].ID)
}

func TestSearchNow_ConcurrentSameValueFetchesOnce(t *testing.T) {
	svc := newMemoryService(10)
	c := newController(t, svc, recordstore.FetchAll)
	base := svc.calls()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.SearchNow(context.Background(), "3"))
		}()
	}
	wg.Wait()

	assert.Equal(t, base+1, svc.calls())
	assert.Equal(t, "3", c.Query().Search)
}

func TestSelection_SurvivesPaginationAndUnionsPages(t *testing.T) {
	svc := newMemoryService(20)
	c := newController(t, svc, recordstore.FetchAll)
	ctx := context.Background()
	require.NoError(t, c.SetPageSize(ctx, 10))

	c.Toggle("1", true)
	require.NoError(t, c.SetPage(ctx, 2))
	assert.False(t, c.View().AllVisibleSelected)
	require.NoError(t, c.SetPage(ctx, 1))
	v := c.View()
	assert.True(t, v.Rows[0].Selected)
	assert.True(t, v.Indeterminate)

	c.SelectAllVisible(true)
	require.NoError(t, c.SetPage(ctx, 2))
	c.SelectAllVisible(true)
	assert.Len(t, c.Selected(), 20)

	c.SelectAllVisible(false)
	assert.Len(t, c.Selected(), 10)
	require.NoError(t, c.SetPage(ctx, 1))
	assert.True(t, c.View().AllVisibleSelected)
}

func TestRefresh_EvictsDeletedSelection(t *testing.T) {
	svc := newMemoryService(3)
	c := newController(t, svc, recordstore.FetchAll)

	c.SelectAllVisible(true)
	require.True(t, c.View().AllVisibleSelected)

	svc.remove("2")
	require.NoError(t, c.Refresh(context.Background()))

	v := c.View()
	assert.Equal(t, []jobs.ID{"1", "3"}, v.Selected)
	assert.Len(t, v.Rows, 2)
	assert.True(t, v.AllVisibleSelected)
}

func TestRunBatch_DeleteRemovesFromListAndSelection(t *testing.T) {
	svc := newMemoryService(3)
	c := newController(t, svc, recordstore.FetchAll)

	c.Toggle("2", true)
	res, err := c.RunBatch(context.Background(), batch.OpDelete)
	require.NoError(t, err)
	assert.Equal(t, []jobs.ID{"2"}, res.Succeeded)

	v := c.View()
	assert.Empty(t, v.Selected)
	assert.Equal(t, []jobs.ID{"1", "3"}, v.VisibleIDs())
	assert.False(t, v.AllVisibleSelected)
	assert.False(t, v.Processing)
}

func TestRunBatch_PartialFailureClearsSelection(t *testing.T) {
	svc := newMemoryService(3)
	svc.failRerun = map[jobs.ID]string{"2": "job is still running"}
	c := newController(t, svc, recordstore.FetchAll)

	c.SelectAllVisible(true)
	res, err := c.RunBatch(context.Background(), batch.OpRerun)
	require.NoError(t, err)
	assert.Equal(t, []jobs.ID{"1", "3"}, res.Succeeded)
	assert.Equal(t, []batch.Failure{{ID: "2", Error: "job is still running"}}, res.Failed)
	assert.Empty(t, c.Selected())
}

func TestEvents_ReportRefreshSelectionAndBatch(t *testing.T) {
	svc := newMemoryService(2)
	var mu sync.Mutex
	kinds := map[EventKind]int{}
	c := newController(t, svc, recordstore.FetchAll, WithEvents(func(e Event) {
		mu.Lock()
		kinds[e.Kind]++
		mu.Unlock()
	}))

	c.Toggle("1", true)
	_, err := c.RunBatch(context.Background(), batch.OpExport)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, kinds[EventRefreshed], 1)
	assert.GreaterOrEqual(t, kinds[EventSelection], 2)
	assert.Equal(t, 3, kinds[EventBatch])
}

func TestPagedMode_UsesServiceTotals(t *testing.T) {
	svc := newMemoryService(30)
	c := newController(t, svc, recordstore.FetchPaged)
	ctx := context.Background()

	require.NoError(t, c.SetPageSize(ctx, 10))
	require.NoError(t, c.SetPage(ctx, 3))

	v := c.View()
	assert.Equal(t, 3, v.Page)
	assert.Equal(t, 3, v.TotalPages)
	assert.Equal(t, 30, v.TotalCount)
	require.Len(t, v.Rows, 10)
	assert.Equal(t, jobs.ID("21"), v.Rows[0].ID)
	assert.Equal(t, 3, svc.lastReq.Page)
	assert.Equal(t, 10, svc.lastReq.PageSize)

	// selections on other pages survive a paged refresh
	c.Toggle("1", true)
	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, []jobs.ID{"1"}, c.Selected())
}

func TestPagedMode_ClampsPageAfterRowsDisappear(t *testing.T) {
	svc := newMemoryService(30)
	c := newController(t, svc, recordstore.FetchPaged)
	ctx := context.Background()

	require.NoError(t, c.SetPageSize(ctx, 10))
	require.NoError(t, c.SetPage(ctx, 3))
	for i := 21; i <= 30; i++ {
		svc.remove(jobs.IDFromInt(int64(i)))
	}
	require.NoError(t, c.Refresh(ctx))

	v := c.View()
	assert.Equal(t, 2, v.Page)
	assert.Equal(t, 2, v.TotalPages)
	require.Len(t, v.Rows, 10)
	assert.Equal(t, jobs.ID("11"), v.Rows[0].ID)
	assert.Equal(t, 2, c.Query().Page)
}

func intPtr(n int) *int {
	return &n
}
