package jobs

import "context"

// ActionResult is the reply shape of every mutating service call. Expected
// failures (not found, validation) come back as Success=false with Error set;
// a returned Go error means the transport itself failed.
type ActionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func OK() ActionResult {
	return ActionResult{Success: true}
}

func Failed(msg string) ActionResult {
	return ActionResult{Success: false, Error: msg}
}

type ListRequest struct {
	Status    string `json:"status"`
	DateRange string `json:"dateRange"`
	Label     string `json:"labelContains"`
	MinImages int    `json:"minImages"`
	MaxImages *int   `json:"maxImages"`
	Search    string `json:"search"`
	SortField string `json:"sortField"`
	SortDesc  bool   `json:"sortDesc"`
	Page      int    `json:"page"`
	PageSize  int    `json:"pageSize"`
}

type ListResult struct {
	ActionResult
	Jobs       []JobRecord `json:"jobs"`
	TotalCount int         `json:"totalCount"`
}

type JobResult struct {
	ActionResult
	Job JobRecord `json:"job"`
}

type ImagesResult struct {
	ActionResult
	Images []ImageRecord `json:"images"`
}

type LogsResult struct {
	ActionResult
	Logs []LogEntry `json:"logs"`
}

type ConfigurationResult struct {
	ActionResult
	Configuration *Configuration `json:"configuration,omitempty"`
}

type StatisticsResult struct {
	ActionResult
	Statistics Statistics `json:"statistics"`
}

// Lister fetches job records. ListJobs filters, sorts and pages on the
// service side; ListAllJobs returns everything for client-side derivation.
type Lister interface {
	ListJobs(ctx context.Context, req ListRequest) (ListResult, error)
	ListAllJobs(ctx context.Context) (ListResult, error)
}

// Operator runs the per-job commands used by batch operations.
type Operator interface {
	RerunJob(ctx context.Context, id ID) (ActionResult, error)
	ExportJob(ctx context.Context, id ID) (ActionResult, error)
	DeleteJob(ctx context.Context, id ID) (ActionResult, error)
}

// BulkExporter is implemented by services that can export several jobs at once.
type BulkExporter interface {
	BulkExport(ctx context.Context, ids []ID) (ActionResult, error)
}

// DetailSource serves everything a single-job view needs.
type DetailSource interface {
	GetJob(ctx context.Context, id ID) (JobResult, error)
	RenameJob(ctx context.Context, id ID, label string) (ActionResult, error)
	GetJobImages(ctx context.Context, id ID) (ImagesResult, error)
	GetJobLogs(ctx context.Context, id ID) (LogsResult, error)
	GetJobConfiguration(ctx context.Context, configurationID string) (ConfigurationResult, error)
	UpdateJobConfiguration(ctx context.Context, configurationID string, settings Settings) (ActionResult, error)
	ComputeJobStatistics(ctx context.Context, id ID) (StatisticsResult, error)
}

// JobService is the full external job service boundary.
type JobService interface {
	Lister
	Operator
	DetailSource
}
