// Package recordstore holds the job records most recently fetched from the
// job service. Every fetch carries a request token; a response whose token
// has been superseded by a newer fetch is dropped.
package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/jobdesk/internal/jobs"
	"github.com/MimeLyc/jobdesk/internal/metrics"
	"github.com/MimeLyc/jobdesk/internal/view"
	"github.com/MimeLyc/jobdesk/pkg/log"
)

type FetchMode string

const (
	// FetchAll loads every job and derives the view client-side.
	FetchAll FetchMode = "all"
	// FetchPaged asks the service for one filtered, sorted page.
	FetchPaged FetchMode = "paged"
)

func ParseFetchMode(raw string) (FetchMode, error) {
	switch FetchMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FetchAll:
		return FetchAll, nil
	case FetchPaged:
		return FetchPaged, nil
	default:
		return "", fmt.Errorf("unknown fetch mode %q", raw)
	}
}

// Snapshot is a copy of the store's state.
type Snapshot struct {
	Records    []jobs.JobRecord `json:"records"`
	TotalCount int              `json:"totalCount"`
	Query      view.Query       `json:"query"`
	Loading    bool             `json:"loading"`
	Error      string           `json:"error,omitempty"`
	FetchedAt  time.Time        `json:"fetchedAt"`
}

type Store struct {
	lister jobs.Lister
	mode   FetchMode

	latest atomic.Uint64
	group  singleflight.Group

	mu        sync.RWMutex
	records   []jobs.JobRecord
	total     int
	query     view.Query
	requested view.Query
	loading   bool
	err       error
	fetchedAt time.Time
	observers []func(ids []jobs.ID)
}

func New(lister jobs.Lister, mode FetchMode) *Store {
	if mode == "" {
		mode = FetchAll
	}
	return &Store{
		lister:    lister,
		mode:      mode,
		query:     view.DefaultQuery(),
		requested: view.DefaultQuery(),
	}
}

func (s *Store) Mode() FetchMode {
	return s.mode
}

// OnRecordsChanged registers fn to receive the known id set after every
// applied fetch.
func (s *Store) OnRecordsChanged(fn func(ids []jobs.ID)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Refresh fetches records for q with a new service call, so the result
// reflects every mutation made before it was issued. A failed fetch keeps
// the previous records and puts the store in an error state; a superseded
// fetch returns nil without touching anything.
func (s *Store) Refresh(ctx context.Context, q view.Query) error {
	return s.refresh(ctx, q, false)
}

// Poll is Refresh for background callers: it joins an identical fetch that
// is already in flight instead of starting another one.
func (s *Store) Poll(ctx context.Context, q view.Query) error {
	return s.refresh(ctx, q, true)
}

func (s *Store) refresh(ctx context.Context, q view.Query, shared bool) error {
	token := s.latest.Add(1)

	s.mu.Lock()
	s.requested = q
	s.loading = true
	s.mu.Unlock()

	start := time.Now()
	res, err := s.fetch(ctx, q, shared)

	if token != s.latest.Load() {
		metrics.ObserveFetch(string(s.mode), "stale", time.Since(start))
		log.Debug("Discarding stale job list response (token %d, latest %d)", token, s.latest.Load())
		return nil
	}

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.err = err
		s.mu.Unlock()
		metrics.ObserveFetch(string(s.mode), "error", time.Since(start))
		log.Warn("Failed to fetch job list: %v", err)
		return err
	}
	s.records = jobs.CloneRecords(res.Jobs)
	if s.records == nil {
		s.records = []jobs.JobRecord{}
	}
	s.total = res.TotalCount
	if s.mode == FetchAll || s.total < len(s.records) {
		s.total = len(s.records)
	}
	s.query = q
	s.err = nil
	s.fetchedAt = time.Now()
	observers := append([]func([]jobs.ID){}, s.observers...)
	ids := jobs.RecordIDs(s.records)
	s.mu.Unlock()

	metrics.ObserveFetch(string(s.mode), "ok", time.Since(start))
	for _, fn := range observers {
		fn(ids)
	}
	return nil
}

// Retry re-issues the most recently requested query.
func (s *Store) Retry(ctx context.Context) error {
	s.mu.RLock()
	q := s.requested
	s.mu.RUnlock()
	return s.Refresh(ctx, q)
}

func (s *Store) fetch(ctx context.Context, q view.Query, shared bool) (jobs.ListResult, error) {
	key := string(FetchAll)
	if s.mode == FetchPaged {
		raw, err := json.Marshal(q)
		if err != nil {
			return jobs.ListResult{}, err
		}
		key = string(FetchPaged) + ":" + string(raw)
	}

	// a call started earlier may predate a mutation; only pollers may join it
	if !shared {
		s.group.Forget(key)
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		var res jobs.ListResult
		err := jobs.SafeCall("list jobs", func() (jobs.ActionResult, error) {
			var callErr error
			if s.mode == FetchPaged {
				res, callErr = s.lister.ListJobs(ctx, q.ListRequest())
			} else {
				res, callErr = s.lister.ListAllJobs(ctx)
			}
			return res.ActionResult, callErr
		})
		return res, err
	})
	if err != nil {
		return jobs.ListResult{}, err
	}
	return v.(jobs.ListResult), nil
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Records:    jobs.CloneRecords(s.records),
		TotalCount: s.total,
		Query:      s.query,
		Loading:    s.loading,
		FetchedAt:  s.fetchedAt,
	}
	if snap.Records == nil {
		snap.Records = []jobs.JobRecord{}
	}
	if s.err != nil {
		snap.Error = jobs.Message(s.err)
	}
	return snap
}

// Get returns a known record by id.
func (s *Store) Get(id jobs.ID) (jobs.JobRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return jobs.JobRecord{}, false
}

func (s *Store) KnownIDs() []jobs.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return jobs.RecordIDs(s.records)
}
