// Package view turns a collection of job records into the rows a list shows:
// Filter, then Sort, then Paginate. Every function is pure and never mutates
// its input.
package view

import (
	"fmt"
	"strings"

	"github.com/MimeLyc/jobdesk/internal/jobs"
)

const StatusAll = "all"

type DateRange string

const (
	RangeAll       DateRange = "all"
	RangeToday     DateRange = "today"
	RangeYesterday DateRange = "yesterday"
	RangeWeek      DateRange = "week"
	RangeMonth     DateRange = "month"
	RangeQuarter   DateRange = "quarter"
	RangeYear      DateRange = "year"
)

func (r DateRange) Valid() bool {
	switch r {
	case "", RangeAll, RangeToday, RangeYesterday, RangeWeek, RangeMonth, RangeQuarter, RangeYear:
		return true
	default:
		return false
	}
}

type FilterSpec struct {
	Status        string    `json:"status"`
	DateRange     DateRange `json:"dateRange"`
	LabelContains string    `json:"labelContains"`
	MinImages     int       `json:"minImages"`
	MaxImages     *int      `json:"maxImages"`
}

// DefaultFilter lets every record through.
func DefaultFilter() FilterSpec {
	return FilterSpec{Status: StatusAll, DateRange: RangeAll}
}

func (f FilterSpec) Validate() error {
	status := strings.TrimSpace(f.Status)
	if status != "" && status != StatusAll && !jobs.Status(status).Valid() {
		return fmt.Errorf("unknown status %q", f.Status)
	}
	if !f.DateRange.Valid() {
		return fmt.Errorf("unknown date range %q", f.DateRange)
	}
	if f.MinImages < 0 {
		return fmt.Errorf("minImages must be >= 0")
	}
	if f.MaxImages != nil && *f.MaxImages < 0 {
		return fmt.Errorf("maxImages must be >= 0")
	}
	return nil
}

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

type Field string

const (
	FieldID               Field = "id"
	FieldLabel            Field = "label"
	FieldStatus           Field = "status"
	FieldCreatedAt        Field = "createdAt"
	FieldStartedAt        Field = "startedAt"
	FieldCompletedAt      Field = "completedAt"
	FieldTotalImages      Field = "totalImages"
	FieldSuccessfulImages Field = "successfulImages"
	FieldFailedImages     Field = "failedImages"
	FieldApprovedImages   Field = "approvedImages"
	FieldQCFailedImages   Field = "qcFailedImages"
	FieldConfigurationID  Field = "configurationId"
)

func (f Field) Valid() bool {
	_, ok := fieldKinds[f]
	return ok
}

type SortSpec struct {
	Field     Field     `json:"field"`
	Direction Direction `json:"direction"`
}

// DefaultSort shows the most recently started jobs first.
func DefaultSort() SortSpec {
	return SortSpec{Field: FieldStartedAt, Direction: Desc}
}

func (s SortSpec) Validate() error {
	if !s.Field.Valid() {
		return fmt.Errorf("unknown sort field %q", s.Field)
	}
	if s.Direction != Asc && s.Direction != Desc {
		return fmt.Errorf("unknown sort direction %q", s.Direction)
	}
	return nil
}

// Toggle flips the direction when re-sorting by the same field and starts
// ascending on a new one.
func (s SortSpec) Toggle(field Field) SortSpec {
	if s.Field == field {
		if s.Direction == Asc {
			return SortSpec{Field: field, Direction: Desc}
		}
		return SortSpec{Field: field, Direction: Asc}
	}
	return SortSpec{Field: field, Direction: Asc}
}

var PageSizes = []int{10, 25, 50, 100}

const DefaultPageSize = 25

func ValidPageSize(n int) bool {
	for _, size := range PageSizes {
		if size == n {
			return true
		}
	}
	return false
}

// Page is one slice of a derived list.
type Page struct {
	Visible    []jobs.JobRecord `json:"visible"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalPages int              `json:"totalPages"`
	TotalCount int              `json:"totalCount"`
}
