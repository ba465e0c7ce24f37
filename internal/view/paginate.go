package view

import (
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/jobdesk/internal/jobs"
)

// Paginate slices records into pages. Out-of-range pages clamp to the nearest
// valid one and the clamped number is returned in Page.Page; a non-positive
// pageSize falls back to DefaultPageSize.
func Paginate(records []jobs.JobRecord, page int, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	total := len(records)
	totalPages := max(1, (total+pageSize-1)/pageSize)
	page = min(max(page, 1), totalPages)

	start := min((page-1)*pageSize, total)
	end := min(start+pageSize, total)

	visible := jobs.CloneRecords(records[start:end])
	if visible == nil {
		visible = []jobs.JobRecord{}
	}
	return Page{
		Visible:    visible,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		TotalCount: total,
	}
}

// Query is everything a derived list depends on.
type Query struct {
	Filter   FilterSpec `json:"filter"`
	Search   string     `json:"search"`
	Sort     SortSpec   `json:"sort"`
	Page     int        `json:"page"`
	PageSize int        `json:"pageSize"`
}

func DefaultQuery() Query {
	return Query{
		Filter:   DefaultFilter(),
		Sort:     DefaultSort(),
		Page:     1,
		PageSize: DefaultPageSize,
	}
}

// ListRequest translates the query for services that filter and page themselves.
func (q Query) ListRequest() jobs.ListRequest {
	return jobs.ListRequest{
		Status:    q.Filter.Status,
		DateRange: string(q.Filter.DateRange),
		Label:     q.Filter.LabelContains,
		MinImages: q.Filter.MinImages,
		MaxImages: q.Filter.MaxImages,
		Search:    q.Search,
		SortField: string(q.Sort.Field),
		SortDesc:  q.Sort.Direction == Desc,
		Page:      q.Page,
		PageSize:  q.PageSize,
	}
}

// QueryFromRequest is the inverse of Query.ListRequest.
func QueryFromRequest(req jobs.ListRequest) Query {
	q := Query{
		Filter: FilterSpec{
			Status:        req.Status,
			DateRange:     DateRange(req.DateRange),
			LabelContains: req.Label,
			MinImages:     req.MinImages,
			MaxImages:     req.MaxImages,
		},
		Search:   req.Search,
		Sort:     SortSpec{Field: Field(req.SortField), Direction: Asc},
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	if req.SortDesc {
		q.Sort.Direction = Desc
	}
	return q
}

// Derive runs the whole pipeline over a full record set.
func Derive(records []jobs.JobRecord, q Query, now time.Time, tag language.Tag) Page {
	filtered := Filter(records, q.Filter, q.Search, now)
	sorted := SortLocale(filtered, q.Sort, tag)
	return Paginate(sorted, q.Page, q.PageSize)
}
