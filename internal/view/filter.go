package view

import (
	"strings"
	"time"

	"github.com/MimeLyc/jobdesk/internal/jobs"
)

type predicate func(jobs.JobRecord) bool

// Filter keeps the records matching every part of spec and, when query is not
// blank, the free-text search. now anchors the date ranges.
func Filter(records []jobs.JobRecord, spec FilterSpec, query string, now time.Time) []jobs.JobRecord {
	preds := predicates(spec, query, now)
	ret := make([]jobs.JobRecord, 0, len(records))
	for _, r := range records {
		if matchesAll(r, preds) {
			ret = append(ret, r)
		}
	}
	return ret
}

func matchesAll(r jobs.JobRecord, preds []predicate) bool {
	for _, p := range preds {
		if !p(r) {
			return false
		}
	}
	return true
}

func predicates(spec FilterSpec, query string, now time.Time) []predicate {
	preds := make([]predicate, 0, 5)

	if status := strings.TrimSpace(spec.Status); status != "" && status != StatusAll {
		want := jobs.Status(status).Canonical()
		preds = append(preds, func(r jobs.JobRecord) bool {
			return r.Status.Canonical() == want
		})
	}

	if from, to, ok := DateBounds(spec.DateRange, now); ok {
		fromMs, toMs := from.UnixMilli(), int64(0)
		if !to.IsZero() {
			toMs = to.UnixMilli()
		}
		preds = append(preds, func(r jobs.JobRecord) bool {
			ms := r.ReferenceTime().UnixMilli()
			if ms < fromMs {
				return false
			}
			return toMs == 0 || ms < toMs
		})
	}

	if label := strings.ToLower(strings.TrimSpace(spec.LabelContains)); label != "" {
		preds = append(preds, func(r jobs.JobRecord) bool {
			return r.HasLabel() && strings.Contains(strings.ToLower(r.Label), label)
		})
	}

	if spec.MinImages > 0 {
		minImages := spec.MinImages
		preds = append(preds, func(r jobs.JobRecord) bool {
			return r.TotalImages >= minImages
		})
	}
	if spec.MaxImages != nil {
		maxImages := *spec.MaxImages
		preds = append(preds, func(r jobs.JobRecord) bool {
			return r.TotalImages <= maxImages
		})
	}

	if q := strings.ToLower(strings.TrimSpace(query)); q != "" {
		preds = append(preds, func(r jobs.JobRecord) bool {
			return strings.Contains(strings.ToLower(r.Label), q) ||
				strings.Contains(strings.ToLower(r.ID.String()), q) ||
				strings.Contains(strings.ToLower(string(r.Status)), q)
		})
	}

	return preds
}

// DateBounds returns the half-open interval [from, to) a date range selects.
// A zero to means "no upper bound". ok is false for RangeAll.
func DateBounds(r DateRange, now time.Time) (from, to time.Time, ok bool) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch r {
	case RangeToday:
		return midnight, time.Time{}, true
	case RangeYesterday:
		return midnight.AddDate(0, 0, -1), midnight, true
	case RangeWeek:
		return now.AddDate(0, 0, -7), time.Time{}, true
	case RangeMonth:
		return now.AddDate(0, -1, 0), time.Time{}, true
	case RangeQuarter:
		return now.AddDate(0, -3, 0), time.Time{}, true
	case RangeYear:
		return now.AddDate(-1, 0, 0), time.Time{}, true
	default:
		return time.Time{}, time.Time{}, false
	}
}
