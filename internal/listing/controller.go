// Package listing is the job list screen without the rendering: it owns the
// filter, search, sort and page state, the selection, and dispatches batch
// operations over the selection.
package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/jobdesk/internal/batch"
	"github.com/MimeLyc/jobdesk/internal/jobs"
	"github.com/MimeLyc/jobdesk/internal/metrics"
	"github.com/MimeLyc/jobdesk/internal/recordstore"
	"github.com/MimeLyc/jobdesk/internal/selection"
	"github.com/MimeLyc/jobdesk/internal/view"
	"github.com/MimeLyc/jobdesk/pkg/debounce"
	"github.com/MimeLyc/jobdesk/pkg/log"
)

var ErrInvalidPageSize = fmt.Errorf("page size must be one of %v", view.PageSizes)

const DefaultSearchDelay = 300 * time.Millisecond

type EventKind string

const (
	EventRefreshed EventKind = "refreshed"
	EventBatch     EventKind = "batch"
	EventSelection EventKind = "selection"
)

// Event notifies observers (the SSE stream) that the view changed.
type Event struct {
	Kind  EventKind       `json:"kind"`
	Batch *batch.Progress `json:"batch,omitempty"`
	At    time.Time       `json:"at"`
}

type Row struct {
	jobs.JobRecord
	SuccessRate float64 `json:"successRate"`
	Selected    bool    `json:"selected"`
}

// View is a snapshot of everything the list screen renders.
type View struct {
	Rows               []Row                 `json:"rows"`
	Page               int                   `json:"page"`
	PageSize           int                   `json:"pageSize"`
	TotalPages         int                   `json:"totalPages"`
	TotalCount         int                   `json:"totalCount"`
	Query              view.Query            `json:"query"`
	PendingSearch      bool                  `json:"pendingSearch"`
	Selected           []jobs.ID             `json:"selected"`
	AllVisibleSelected bool                  `json:"allVisibleSelected"`
	Indeterminate      bool                  `json:"indeterminate"`
	Loading            bool                  `json:"loading"`
	Error              string                `json:"error,omitempty"`
	Processing         bool                  `json:"processing"`
	FetchMode          recordstore.FetchMode `json:"fetchMode"`
	FetchedAt          time.Time             `json:"fetchedAt"`
}

// VisibleIDs lists the ids of the rows on the current page.
func (v View) VisibleIDs() []jobs.ID {
	ids := make([]jobs.ID, 0, len(v.Rows))
	for _, r := range v.Rows {
		ids = append(ids, r.ID)
	}
	return ids
}

type Controller struct {
	store  *recordstore.Store
	batch  *batch.Coordinator
	search *debounce.Debouncer[string]

	now         func() time.Time
	locale      language.Tag
	searchDelay time.Duration
	bulkExport  bool
	onEvent     func(Event)

	mu       sync.Mutex
	query    view.Query
	selected *selection.Set
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLocale(tag language.Tag) Option {
	return func(c *Controller) {
		c.locale = tag
	}
}

func WithSearchDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.searchDelay = d
		}
	}
}

// WithInitialQuery seeds the sort and page size, e.g. from view settings.
func WithInitialQuery(q view.Query) Option {
	return func(c *Controller) {
		c.query = q
	}
}

func WithBulkExport() Option {
	return func(c *Controller) {
		c.bulkExport = true
	}
}

func WithEvents(fn func(Event)) Option {
	return func(c *Controller) {
		c.onEvent = fn
	}
}

func New(svc jobs.JobService, mode recordstore.FetchMode, opts ...Option) *Controller {
	c := &Controller{
		now:         time.Now,
		locale:      language.English,
		searchDelay: DefaultSearchDelay,
		query:       view.DefaultQuery(),
		selected:    selection.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !view.ValidPageSize(c.query.PageSize) {
		c.query.PageSize = view.DefaultPageSize
	}
	if c.query.Page < 1 {
		c.query.Page = 1
	}

	c.store = recordstore.New(svc, mode)
	c.store.OnRecordsChanged(c.reconcile)

	batchOpts := []batch.Option{batch.WithProgress(c.publishBatch)}
	if c.bulkExport {
		batchOpts = append(batchOpts, batch.WithBulkExport())
	}
	c.batch = batch.New(svc, c, c, batchOpts...)
	c.search = debounce.New(c.searchDelay, c.applySearch)
	return c
}

// Close drops a pending search.
func (c *Controller) Close() {
	c.search.Stop()
}

func (c *Controller) Query() view.Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// Refresh re-fetches the current query.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.store.Refresh(ctx, c.Query())
}

// Poll re-fetches the current query for background callers, joining a
// fetch of the same query that is already running.
func (c *Controller) Poll(ctx context.Context) error {
	return c.store.Poll(ctx, c.Query())
}

// Retry re-issues the last requested query after a failed fetch.
func (c *Controller) Retry(ctx context.Context) error {
	return c.store.Retry(ctx)
}

// update applies fn to the query and fetches the result.
func (c *Controller) update(ctx context.Context, fn func(q *view.Query)) error {
	c.mu.Lock()
	fn(&c.query)
	q := c.query
	c.mu.Unlock()
	return c.store.Refresh(ctx, q)
}

// SetFilter replaces the filter and returns to page 1.
func (c *Controller) SetFilter(ctx context.Context, f view.FilterSpec) error {
	if f.Status == "" {
		f.Status = view.StatusAll
	}
	if f.DateRange == "" {
		f.DateRange = view.RangeAll
	}
	if err := f.Validate(); err != nil {
		return jobs.WrapError(err, jobs.ErrValidation, err.Error())
	}
	return c.update(ctx, func(q *view.Query) {
		q.Filter = f
		q.Page = 1
	})
}

func (c *Controller) SetSort(ctx context.Context, s view.SortSpec) error {
	if err := s.Validate(); err != nil {
		return jobs.WrapError(err, jobs.ErrValidation, err.Error())
	}
	return c.update(ctx, func(q *view.Query) {
		q.Sort = s
	})
}

// ToggleSort flips the direction when field is already the sort key,
// otherwise sorts by field ascending.
func (c *Controller) ToggleSort(ctx context.Context, field view.Field) error {
	if !field.Valid() {
		return jobs.NewError(jobs.ErrValidation, fmt.Sprintf("unknown sort field %q", field))
	}
	return c.update(ctx, func(q *view.Query) {
		q.Sort = q.Sort.Toggle(field)
	})
}

func (c *Controller) SetPage(ctx context.Context, page int) error {
	return c.update(ctx, func(q *view.Query) {
		q.Page = max(page, 1)
	})
}

// SetPageSize changes the page size and returns to page 1.
func (c *Controller) SetPageSize(ctx context.Context, size int) error {
	if !view.ValidPageSize(size) {
		return ErrInvalidPageSize
	}
	return c.update(ctx, func(q *view.Query) {
		q.PageSize = size
		q.Page = 1
	})
}

// SetSearch records a keystroke. The query is applied once input has been
// quiet for the search delay; earlier values are dropped.
func (c *Controller) SetSearch(raw string) {
	c.search.Trigger(raw)
}

// SearchNow applies raw immediately and discards any pending keystroke.
func (c *Controller) SearchNow(ctx context.Context, raw string) error {
	c.search.Cancel()
	return c.setSearch(ctx, raw)
}

func (c *Controller) applySearch(raw string) {
	if err := c.setSearch(context.Background(), raw); err != nil {
		log.Warn("Search refresh failed: %v", err)
	}
}

func (c *Controller) setSearch(ctx context.Context, raw string) error {
	search := strings.TrimSpace(raw)
	c.mu.Lock()
	if search == c.query.Search {
		c.mu.Unlock()
		return nil
	}
	c.query.Search = search
	c.query.Page = 1
	q := c.query
	c.mu.Unlock()
	return c.store.Refresh(ctx, q)
}

// View derives the visible rows from the stored records. A page number past
// the end is clamped and the clamped page is stored back.
func (c *Controller) View() View {
	snap := c.store.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()

	page := c.pageLocked(snap)
	if page.Page != c.query.Page {
		c.query.Page = page.Page
	}

	visible := jobs.RecordIDs(page.Visible)
	rows := make([]Row, 0, len(page.Visible))
	for _, r := range page.Visible {
		rows = append(rows, Row{
			JobRecord:   r,
			SuccessRate: r.SuccessRate(),
			Selected:    c.selected.Contains(r.ID),
		})
	}

	return View{
		Rows:               rows,
		Page:               page.Page,
		PageSize:           page.PageSize,
		TotalPages:         page.TotalPages,
		TotalCount:         page.TotalCount,
		Query:              c.query,
		PendingSearch:      c.search.Pending(),
		Selected:           c.selected.IDs(),
		AllVisibleSelected: c.selected.IsAllVisibleSelected(visible),
		Indeterminate:      c.selected.IsIndeterminate(visible),
		Loading:            snap.Loading,
		Error:              snap.Error,
		Processing:         c.batch.IsProcessing(),
		FetchMode:          c.store.Mode(),
		FetchedAt:          snap.FetchedAt,
	}
}

func (c *Controller) pageLocked(snap recordstore.Snapshot) view.Page {
	q := c.query
	if c.store.Mode() == recordstore.FetchAll {
		return view.Derive(snap.Records, q, c.now(), c.locale)
	}

	// the service already paged; re-apply the pipeline to the returned rows
	rows := view.SortLocale(view.Filter(snap.Records, q.Filter, q.Search, c.now()), q.Sort, c.locale)
	total := max(snap.TotalCount, len(rows))
	totalPages := max(1, (total+q.PageSize-1)/q.PageSize)
	return view.Page{
		Visible:    rows,
		Page:       min(max(q.Page, 1), totalPages),
		PageSize:   q.PageSize,
		TotalPages: totalPages,
		TotalCount: total,
	}
}

func (c *Controller) visibleIDs() []jobs.ID {
	snap := c.store.Snapshot()
	c.mu.Lock()
	defer c.mu.Unlock()
	return jobs.RecordIDs(c.pageLocked(snap).Visible)
}

// -------- selection --------

func (c *Controller) Toggle(id jobs.ID, selected bool) {
	c.mu.Lock()
	c.selected.Toggle(id, selected)
	c.mu.Unlock()
	c.publish(Event{Kind: EventSelection})
}

// SelectAllVisible adds or removes exactly the rows on the current page.
func (c *Controller) SelectAllVisible(selected bool) {
	visible := c.visibleIDs()
	c.mu.Lock()
	c.selected.SelectAllVisible(selected, visible)
	c.mu.Unlock()
	c.publish(Event{Kind: EventSelection})
}

func (c *Controller) ClearSelection() {
	c.mu.Lock()
	c.selected.Clear()
	c.mu.Unlock()
	c.publish(Event{Kind: EventSelection})
}

func (c *Controller) Selected() []jobs.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected.IDs()
}

// reconcile evicts selected ids that are no longer known. Only a full fetch
// knows every id; a paged fetch only sees one page.
func (c *Controller) reconcile(known []jobs.ID) {
	if c.store.Mode() == recordstore.FetchAll {
		c.mu.Lock()
		evicted := c.selected.Retain(known)
		c.mu.Unlock()
		if len(evicted) > 0 {
			metrics.AddSelectionEvicted(len(evicted))
			log.Debug("Evicted %d selected jobs no longer listed: %v", len(evicted), evicted)
		}
	}
	c.publish(Event{Kind: EventRefreshed})
}

// -------- batch --------

func (c *Controller) IsProcessing() bool {
	return c.batch.IsProcessing()
}

// RunBatch applies op to the current selection.
func (c *Controller) RunBatch(ctx context.Context, op batch.Operation) (batch.Result, error) {
	ids := c.Selected()
	res, err := c.batch.Execute(ctx, op, ids)
	if err != nil && !errors.Is(err, batch.ErrBatchInProgress) {
		log.Error("Batch %s could not start: %v", op, err)
	}
	return res, err
}

func (c *Controller) publishBatch(p batch.Progress) {
	c.publish(Event{Kind: EventBatch, Batch: &p})
}

func (c *Controller) publish(e Event) {
	if c.onEvent == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	c.onEvent(e)
}
