package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/jobdesk/internal/jobs"
)

type call struct {
	op string
	id jobs.ID
}

type fakeOperator struct {
	mu      sync.Mutex
	calls   []call
	fail    map[jobs.ID]string
	broken  map[jobs.ID]error
	panics  map[jobs.ID]bool
	block   chan struct{}
	started chan struct{}
}

func (f *fakeOperator) do(op string, id jobs.ID) (jobs.ActionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{op: op, id: id})
	block, started := f.block, f.started
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	if f.panics[id] {
		panic("boom")
	}
	if err := f.broken[id]; err != nil {
		return jobs.ActionResult{}, err
	}
	if msg, ok := f.fail[id]; ok {
		return jobs.Failed(msg), nil
	}
	return jobs.OK(), nil
}

func (f *fakeOperator) RerunJob(ctx context.Context, id jobs.ID) (jobs.ActionResult, error) {
	return f.do("rerun", id)
}

func (f *fakeOperator) ExportJob(ctx context.Context, id jobs.ID) (jobs.ActionResult, error) {
	return f.do("export", id)
}

func (f *fakeOperator) DeleteJob(ctx context.Context, id jobs.ID) (jobs.ActionResult, error) {
	return f.do("delete", id)
}

func (f *fakeOperator) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type bulkOperator struct {
	fakeOperator
	bulkErr  error
	bulkCall [][]jobs.ID
}

func (b *bulkOperator) BulkExport(ctx context.Context, ids []jobs.ID) (jobs.ActionResult, error) {
	b.bulkCall = append(b.bulkCall, append([]jobs.ID(nil), ids...))
	if b.bulkErr != nil {
		return jobs.ActionResult{}, b.bulkErr
	}
	return jobs.OK(), nil
}

type fakeRefresher struct {
	count int
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context) error {
	f.count++
	return f.err
}

type fakeSelection struct {
	cleared int
}

func (f *fakeSelection) ClearSelection() {
	f.cleared++
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation(" Delete ")
	require.NoError(t, err)
	assert.Equal(t, OpDelete, op)

	_, err = ParseOperation("archive")
	require.Error(t, err)
	assert.True(t, jobs.IsErrorType(err, jobs.ErrValidation))
}

func TestExecute_PartialFailure(t *testing.T) {
	ops := &fakeOperator{fail: map[jobs.ID]string{"2": "job is running"}}
	refresher := &fakeRefresher{}
	sel := &fakeSelection{}
	c := New(ops, refresher, sel)

	res, err := c.Execute(context.Background(), OpRerun, []jobs.ID{"1", "2", "3"})
	require.NoError(t, err)

	assert.Equal(t, []jobs.ID{"1", "3"}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, Failure{ID: "2", Error: "job is running"}, res.Failed[0])
	assert.Equal(t, []jobs.ID{"2"}, res.FailedIDs())
	assert.NotEmpty(t, res.BatchID)

	assert.Equal(t, []call{{"rerun", "1"}, {"rerun", "2"}, {"rerun", "3"}}, ops.recorded())
	assert.Equal(t, 1, refresher.count)
	assert.Equal(t, 1, sel.cleared)
	assert.False(t, c.IsProcessing())
}

func TestExecute_EmptyIsNoop(t *testing.T) {
	ops := &fakeOperator{}
	refresher := &fakeRefresher{}
	sel := &fakeSelection{}
	c := New(ops, refresher, sel)

	res, err := c.Execute(context.Background(), OpDelete, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Succeeded)
	assert.Empty(t, res.Failed)
	assert.Empty(t, ops.recorded())
	assert.Zero(t, refresher.count)
	assert.Zero(t, sel.cleared)
}

func TestExecute_ExportClearsWithoutRefresh(t *testing.T) {
	ops := &fakeOperator{}
	refresher := &fakeRefresher{}
	sel := &fakeSelection{}
	c := New(ops, refresher, sel)

	res, err := c.Execute(context.Background(), OpExport, []jobs.ID{"7", "8"})
	require.NoError(t, err)
	assert.Equal(t, []jobs.ID{"7", "8"}, res.Succeeded)
	assert.Zero(t, refresher.count)
	assert.Equal(t, 1, sel.cleared)
}

func TestExecute_DeleteRefreshesAndClears(t *testing.T) {
	ops := &fakeOperator{}
	refresher := &fakeRefresher{err: errors.New("list unavailable")}
	sel := &fakeSelection{}
	c := New(ops, refresher, sel)

	res, err := c.Execute(context.Background(), OpDelete, []jobs.ID{"1", "1", ""})
	require.NoError(t, err)
	assert.Equal(t, []jobs.ID{"1"}, res.Succeeded)
	assert.Equal(t, "list unavailable", res.RefreshError)
	assert.Equal(t, 1, refresher.count)
	assert.Equal(t, 1, sel.cleared)
}

func TestExecute_TransportFailuresAndPanicsAreCaptured(t *testing.T) {
	ops := &fakeOperator{
		broken: map[jobs.ID]error{"1": errors.New("connection reset")},
		panics: map[jobs.ID]bool{"2": true},
	}
	c := New(ops, nil, nil)

	res, err := c.Execute(context.Background(), OpExport, []jobs.ID{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, []jobs.ID{"3"}, res.Succeeded)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, "export job 1 failed: connection reset", res.Failed[0].Error)
	assert.Contains(t, res.Failed[1].Error, "panic: boom")
}

func TestExecute_RejectsWhileProcessing(t *testing.T) {
	ops := &fakeOperator{block: make(chan struct{}), started: make(chan struct{}, 1)}
	c := New(ops, nil, nil)

	done := make(chan Result, 1)
	go func() {
		res, _ := c.Execute(context.Background(), OpRerun, []jobs.ID{"1"})
		done <- res
	}()

	select {
	case <-ops.started:
	case <-time.After(time.Second):
		t.Fatal("batch did not start")
	}
	assert.True(t, c.IsProcessing())

	_, err := c.Execute(context.Background(), OpDelete, []jobs.ID{"2"})
	assert.ErrorIs(t, err, ErrBatchInProgress)

	close(ops.block)
	res := <-done
	assert.Equal(t, []jobs.ID{"1"}, res.Succeeded)
	assert.False(t, c.IsProcessing())
	assert.Len(t, ops.recorded(), 1)
}

func TestExecute_ProgressEvents(t *testing.T) {
	ops := &fakeOperator{fail: map[jobs.ID]string{"b": "nope"}}
	var events []Progress
	c := New(ops, nil, nil, WithProgress(func(p Progress) { events = append(events, p) }))

	res, err := c.Execute(context.Background(), OpRerun, []jobs.ID{"a", "b"})
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, PhaseStarted, events[0].Phase)
	assert.Equal(t, Progress{BatchID: res.BatchID, Operation: OpRerun, Phase: PhaseItem, ID: "a", Done: 1, Total: 2}, events[1])
	assert.Equal(t, "nope", events[2].Error)
	assert.Equal(t, PhaseFinished, events[3].Phase)
	for _, e := range events {
		assert.Equal(t, res.BatchID, e.BatchID)
	}
}

func TestExecute_BulkExport(t *testing.T) {
	ops := &bulkOperator{}
	c := New(ops, nil, nil, WithBulkExport())

	res, err := c.Execute(context.Background(), OpExport, []jobs.ID{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, []jobs.ID{"1", "2"}, res.Succeeded)
	assert.Equal(t, [][]jobs.ID{{"1", "2"}}, ops.bulkCall)
	assert.Empty(t, ops.recorded())
}

func TestExecute_BulkExportFallsBackToSingle(t *testing.T) {
	ops := &bulkOperator{bulkErr: errors.New("not supported")}
	c := New(ops, nil, nil, WithBulkExport())

	res, err := c.Execute(context.Background(), OpExport, []jobs.ID{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, []jobs.ID{"1", "2"}, res.Succeeded)
	assert.Len(t, ops.recorded(), 2)
}

func TestExecute_BulkNotUsedWithoutOption(t *testing.T) {
	ops := &bulkOperator{}
	c := New(ops, nil, nil)

	_, err := c.Execute(context.Background(), OpExport, []jobs.ID{"1"})
	require.NoError(t, err)
	assert.Empty(t, ops.bulkCall)
	assert.Len(t, ops.recorded(), 1)
}
