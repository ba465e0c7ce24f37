package view

import (
	"cmp"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/MimeLyc/jobdesk/internal/jobs"
)

type fieldKind int

const (
	kindID fieldKind = iota
	kindText
	kindNullableText
	kindDate
	kindNumber
)

var fieldKinds = map[Field]fieldKind{
	FieldID:               kindID,
	FieldLabel:            kindNullableText,
	FieldStatus:           kindText,
	FieldCreatedAt:        kindDate,
	FieldStartedAt:        kindDate,
	FieldCompletedAt:      kindDate,
	FieldTotalImages:      kindNumber,
	FieldSuccessfulImages: kindNumber,
	FieldFailedImages:     kindNumber,
	FieldApprovedImages:   kindNumber,
	FieldQCFailedImages:   kindNumber,
	FieldConfigurationID:  kindNullableText,
}

// Sort orders records by spec using English collation for text.
func Sort(records []jobs.JobRecord, spec SortSpec) []jobs.JobRecord {
	return SortLocale(records, spec, language.English)
}

// SortLocale returns a stably sorted copy of records. Descending order is the
// ascending comparator negated, so blank labels (nulls) sit last ascending
// and first descending.
func SortLocale(records []jobs.JobRecord, spec SortSpec, tag language.Tag) []jobs.JobRecord {
	ret := jobs.CloneRecords(records)
	if ret == nil {
		ret = []jobs.JobRecord{}
	}
	kind, ok := fieldKinds[spec.Field]
	if !ok {
		return ret
	}

	// collators keep scratch buffers; one per call
	coll := collate.New(tag)
	compare := comparator(spec.Field, kind, coll)
	if spec.Direction == Desc {
		asc := compare
		compare = func(a, b jobs.JobRecord) int { return -asc(a, b) }
	}
	slices.SortStableFunc(ret, compare)
	return ret
}

func comparator(field Field, kind fieldKind, coll *collate.Collator) func(a, b jobs.JobRecord) int {
	switch kind {
	case kindID:
		// numeric ids first in numeric order, then the rest by collation
		return func(a, b jobs.JobRecord) int {
			an, aok := a.ID.Numeric()
			bn, bok := b.ID.Numeric()
			switch {
			case aok && bok:
				return cmp.Compare(an, bn)
			case aok:
				return -1
			case bok:
				return 1
			}
			if c := coll.CompareString(a.ID.String(), b.ID.String()); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		}
	case kindText:
		return func(a, b jobs.JobRecord) int {
			return coll.CompareString(textValue(field, a), textValue(field, b))
		}
	case kindNullableText:
		return func(a, b jobs.JobRecord) int {
			av, bv := strings.TrimSpace(textValue(field, a)), strings.TrimSpace(textValue(field, b))
			switch {
			case av == "" && bv == "":
				return 0
			case av == "":
				return 1
			case bv == "":
				return -1
			default:
				return coll.CompareString(av, bv)
			}
		}
	case kindDate:
		return func(a, b jobs.JobRecord) int {
			return cmp.Compare(dateValue(field, a), dateValue(field, b))
		}
	default:
		return func(a, b jobs.JobRecord) int {
			return cmp.Compare(numberValue(field, a), numberValue(field, b))
		}
	}
}

func textValue(field Field, r jobs.JobRecord) string {
	switch field {
	case FieldLabel:
		return r.Label
	case FieldStatus:
		return string(r.Status.Canonical())
	case FieldConfigurationID:
		return r.ConfigurationID
	default:
		return ""
	}
}

func dateValue(field Field, r jobs.JobRecord) int64 {
	switch field {
	case FieldCreatedAt:
		return r.CreatedAt.UnixMilli()
	case FieldStartedAt:
		return r.StartedAt.UnixMilli()
	case FieldCompletedAt:
		return r.CompletedAt.UnixMilli()
	default:
		return 0
	}
}

func numberValue(field Field, r jobs.JobRecord) int {
	switch field {
	case FieldTotalImages:
		return r.TotalImages
	case FieldSuccessfulImages:
		return r.SuccessfulImages
	case FieldFailedImages:
		return r.FailedImages
	case FieldApprovedImages:
		return r.ApprovedImages
	case FieldQCFailedImages:
		return r.QCFailedImages
	default:
		return 0
	}
}
