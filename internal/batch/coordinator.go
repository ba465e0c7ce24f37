// Package batch runs rerun, export and delete over a set of selected jobs.
// Items are processed one after another and a failing item never stops the
// rest of the batch.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/jobdesk/internal/jobs"
	"github.com/MimeLyc/jobdesk/internal/metrics"
	"github.com/MimeLyc/jobdesk/pkg/log"
)

var ErrBatchInProgress = errors.New("a batch operation is already in progress")

type Operation string

const (
	OpRerun  Operation = "rerun"
	OpExport Operation = "export"
	OpDelete Operation = "delete"
)

func ParseOperation(raw string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(raw)))
	switch op {
	case OpRerun, OpExport, OpDelete:
		return op, nil
	default:
		return "", jobs.NewError(jobs.ErrValidation, fmt.Sprintf("unknown batch operation %q", raw))
	}
}

// Mutating reports whether the operation changes job state, which makes the
// loaded list stale.
func (o Operation) Mutating() bool {
	return o == OpRerun || o == OpDelete
}

type Failure struct {
	ID    jobs.ID `json:"id"`
	Error string  `json:"error"`
}

type Result struct {
	BatchID      string    `json:"batchId,omitempty"`
	Operation    Operation `json:"operation"`
	Succeeded    []jobs.ID `json:"succeeded"`
	Failed       []Failure `json:"failed"`
	RefreshError string    `json:"refreshError,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// FailedIDs lists the ids of failed items in processing order.
func (r Result) FailedIDs() []jobs.ID {
	out := make([]jobs.ID, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.ID)
	}
	return out
}

type Phase string

const (
	PhaseStarted  Phase = "started"
	PhaseItem     Phase = "item"
	PhaseFinished Phase = "finished"
)

// Progress is emitted at the start of a batch, after every item and once
// the batch has finished.
type Progress struct {
	BatchID   string    `json:"batchId"`
	Operation Operation `json:"operation"`
	Phase     Phase     `json:"phase"`
	ID        jobs.ID   `json:"id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
}

// Refresher re-fetches the job list after a mutating batch.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type SelectionClearer interface {
	ClearSelection()
}

type Coordinator struct {
	ops       jobs.Operator
	refresher Refresher
	selection SelectionClearer
	bulk      jobs.BulkExporter
	useBulk   bool
	progress  func(Progress)

	processing atomic.Bool
}

type Option func(*Coordinator)

// WithBulkExport exports the whole selection in one call when the operator
// also implements jobs.BulkExporter.
func WithBulkExport() Option {
	return func(c *Coordinator) {
		c.useBulk = true
	}
}

func WithProgress(fn func(Progress)) Option {
	return func(c *Coordinator) {
		c.progress = fn
	}
}

// New builds a coordinator. refresher and selection may be nil.
func New(ops jobs.Operator, refresher Refresher, selection SelectionClearer, opts ...Option) *Coordinator {
	c := &Coordinator{
		ops:       ops,
		refresher: refresher,
		selection: selection,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.useBulk {
		if bulk, ok := ops.(jobs.BulkExporter); ok {
			c.bulk = bulk
		}
	}
	return c
}

func (c *Coordinator) IsProcessing() bool {
	return c.processing.Load()
}

// Execute runs op over ids. An empty id list is a no-op. Item failures are
// reported in the result; the returned error is only set when the batch
// could not start.
func (c *Coordinator) Execute(ctx context.Context, op Operation, ids []jobs.ID) (Result, error) {
	if _, err := ParseOperation(string(op)); err != nil {
		return Result{}, err
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return Result{Operation: op, Succeeded: []jobs.ID{}, Failed: []Failure{}}, nil
	}
	if !c.processing.CompareAndSwap(false, true) {
		metrics.IncBatchRejected()
		log.Warn("Rejected %s of %d jobs: another batch is running", op, len(ids))
		return Result{}, ErrBatchInProgress
	}
	defer c.processing.Store(false)

	res := Result{
		BatchID:   uuid.NewString(),
		Operation: op,
		Succeeded: make([]jobs.ID, 0, len(ids)),
		Failed:    []Failure{},
		StartedAt: time.Now(),
	}
	log.Info("Batch %s: %s of %d jobs started", res.BatchID, op, len(ids))
	c.emit(Progress{BatchID: res.BatchID, Operation: op, Phase: PhaseStarted, Total: len(ids)})

	if op != OpExport || c.bulk == nil || !c.bulkExport(ctx, ids, &res) {
		c.runSequential(ctx, op, ids, &res)
	}

	if op.Mutating() && c.refresher != nil {
		if err := c.refresher.Refresh(ctx); err != nil {
			res.RefreshError = jobs.Message(err)
			log.Warn("Batch %s: refresh after %s failed: %v", res.BatchID, op, err)
		}
	}
	if c.selection != nil {
		c.selection.ClearSelection()
	}

	res.FinishedAt = time.Now()
	elapsed := res.FinishedAt.Sub(res.StartedAt)
	metrics.ObserveBatch(string(op), elapsed)
	log.Info("Batch %s: %s finished in %v (%d succeeded, %d failed)",
		res.BatchID, op, elapsed.Round(time.Millisecond), len(res.Succeeded), len(res.Failed))
	c.emit(Progress{
		BatchID:   res.BatchID,
		Operation: op,
		Phase:     PhaseFinished,
		Done:      len(ids),
		Total:     len(ids),
		Error:     res.RefreshError,
	})
	return res, nil
}

func (c *Coordinator) runSequential(ctx context.Context, op Operation, ids []jobs.ID, res *Result) {
	for i, id := range ids {
		err := jobs.SafeCall(string(op)+" job "+id.String(), func() (jobs.ActionResult, error) {
			return c.call(ctx, op, id)
		})
		progress := Progress{
			BatchID:   res.BatchID,
			Operation: op,
			Phase:     PhaseItem,
			ID:        id,
			Done:      i + 1,
			Total:     len(ids),
		}
		if err != nil {
			msg := jobs.Message(err)
			res.Failed = append(res.Failed, Failure{ID: id, Error: msg})
			progress.Error = msg
			log.Warn("Batch %s: %s of job %s failed: %v", res.BatchID, op, id, err)
		} else {
			res.Succeeded = append(res.Succeeded, id)
		}
		metrics.IncBatchItem(string(op), err == nil)
		c.emit(progress)
	}
}

// bulkExport reports false when the bulk call failed and items should be
// exported one at a time instead.
func (c *Coordinator) bulkExport(ctx context.Context, ids []jobs.ID, res *Result) bool {
	err := jobs.SafeCall("bulk export", func() (jobs.ActionResult, error) {
		return c.bulk.BulkExport(ctx, ids)
	})
	if err != nil {
		log.Warn("Batch %s: bulk export failed, exporting one by one: %v", res.BatchID, err)
		return false
	}
	res.Succeeded = append(res.Succeeded, ids...)
	for range ids {
		metrics.IncBatchItem(string(OpExport), true)
	}
	c.emit(Progress{
		BatchID:   res.BatchID,
		Operation: OpExport,
		Phase:     PhaseItem,
		Done:      len(ids),
		Total:     len(ids),
	})
	return true
}

func (c *Coordinator) call(ctx context.Context, op Operation, id jobs.ID) (jobs.ActionResult, error) {
	switch op {
	case OpRerun:
		return c.ops.RerunJob(ctx, id)
	case OpExport:
		return c.ops.ExportJob(ctx, id)
	case OpDelete:
		return c.ops.DeleteJob(ctx, id)
	default:
		return jobs.Failed("unsupported operation " + string(op)), nil
	}
}

func (c *Coordinator) emit(p Progress) {
	if c.progress != nil {
		c.progress(p)
	}
}

func dedupe(ids []jobs.ID) []jobs.ID {
	seen := make(map[jobs.ID]struct{}, len(ids))
	out := make([]jobs.ID, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id.String()) == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
