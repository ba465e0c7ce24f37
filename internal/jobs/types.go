package jobs

import (
	"strconv"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"

	// StatusProcessing is reported by older pipeline builds; it means running.
	StatusProcessing Status = "processing"
)

// Canonical folds status aliases and casing so that comparisons are exact.
func (s Status) Canonical() Status {
	normalized := Status(strings.ToLower(strings.TrimSpace(string(s))))
	if normalized == StatusProcessing {
		return StatusRunning
	}
	return normalized
}

func (s Status) Valid() bool {
	switch s.Canonical() {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// Terminal reports whether the pipeline will not touch the job again.
func (s Status) Terminal() bool {
	switch s.Canonical() {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// ID identifies a job. Services hand out either integers or opaque strings;
// both travel as their decimal/string form.
type ID string

func (id ID) String() string {
	return string(id)
}

// Numeric returns the integer form of a primary-key id.
func (id ID) Numeric() (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(id)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func IDFromInt(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

type JobRecord struct {
	ID               ID        `json:"id"`
	Label            string    `json:"label,omitempty"`
	Status           Status    `json:"status"`
	CreatedAt        Timestamp `json:"createdAt"`
	StartedAt        Timestamp `json:"startedAt"`
	CompletedAt      Timestamp `json:"completedAt"`
	TotalImages      int       `json:"totalImages"`
	SuccessfulImages int       `json:"successfulImages"`
	FailedImages     int       `json:"failedImages"`
	ApprovedImages   int       `json:"approvedImages"`
	QCFailedImages   int       `json:"qcFailedImages"`
	ConfigurationID  string    `json:"configurationId,omitempty"`
}

// HasLabel treats a blank label as no label.
func (j JobRecord) HasLabel() bool {
	return strings.TrimSpace(j.Label) != ""
}

func (j JobRecord) HasConfiguration() bool {
	return strings.TrimSpace(j.ConfigurationID) != ""
}

// ReferenceTime is the timestamp date filters look at: start time, else creation time.
func (j JobRecord) ReferenceTime() Timestamp {
	if !j.StartedAt.IsZero() {
		return j.StartedAt
	}
	return j.CreatedAt
}

// SuccessRate is successful/total as a percentage clamped to [0, 100].
// Records whose counters disagree (successful > total) still render.
func (j JobRecord) SuccessRate() float64 {
	if j.TotalImages <= 0 {
		return 0
	}
	successful := min(max(j.SuccessfulImages, 0), j.TotalImages)
	return float64(successful) / float64(j.TotalImages) * 100
}

// ApplyStatistics overwrites the image counters with freshly computed values.
func (j *JobRecord) ApplyStatistics(stats Statistics) {
	j.TotalImages = stats.TotalImages
	j.SuccessfulImages = stats.SuccessfulImages
	j.FailedImages = stats.FailedImages
	j.ApprovedImages = stats.ApprovedImages
	j.QCFailedImages = stats.QCFailedImages
}

func CloneRecords(records []JobRecord) []JobRecord {
	if records == nil {
		return nil
	}
	ret := make([]JobRecord, len(records))
	copy(ret, records)
	return ret
}

func RecordIDs(records []JobRecord) []ID {
	ret := make([]ID, 0, len(records))
	for _, r := range records {
		ret = append(ret, r.ID)
	}
	return ret
}

type ImageStatus string

const (
	ImageSucceeded ImageStatus = "success"
	ImageFailed    ImageStatus = "failed"
)

type QCStatus string

const (
	QCPending  QCStatus = "pending"
	QCApproved QCStatus = "approved"
	QCFailed   QCStatus = "failed"
)

// QCReason narrows down why a generated image failed quality checks.
type QCReason string

const (
	QCReasonNone      QCReason = ""
	QCReasonTechnical QCReason = "technical"
	QCReasonQuality   QCReason = "quality"
)

type ImageRecord struct {
	ID        int64       `json:"id"`
	JobID     ID          `json:"jobId"`
	Path      string      `json:"path"`
	Status    ImageStatus `json:"status"`
	QCStatus  QCStatus    `json:"qcStatus"`
	QCReason  QCReason    `json:"qcReason,omitempty"`
	CreatedAt Timestamp   `json:"createdAt"`
}

type LogEntry struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt Timestamp `json:"createdAt"`
}

type Statistics struct {
	TotalImages      int `json:"totalImages"`
	SuccessfulImages int `json:"successfulImages"`
	FailedImages     int `json:"failedImages"`
	ApprovedImages   int `json:"approvedImages"`
	QCFailedImages   int `json:"qcFailedImages"`
}

// ComputeStatistics derives the job counters from its image list.
// Every image counts toward the total; QC counters only consider images
// that were generated successfully.
func ComputeStatistics(images []ImageRecord) Statistics {
	var stats Statistics
	for _, img := range images {
		stats.TotalImages++
		switch img.Status {
		case ImageSucceeded:
			stats.SuccessfulImages++
		case ImageFailed:
			stats.FailedImages++
			continue
		default:
			continue
		}
		switch img.QCStatus {
		case QCApproved:
			stats.ApprovedImages++
		case QCFailed:
			stats.QCFailedImages++
		}
	}
	return stats
}
