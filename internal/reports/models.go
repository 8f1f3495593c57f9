package reports

import "time"

// Execution status values. Transitions are forward-only:
// pending -> running -> completed|failed.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Execution trigger types.
const (
	TypeManual    = "manual"
	TypeScheduled = "scheduled"
)

// Report is an admin-authored parameterized query.
type Report struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Query          string     `json:"query"`
	Columns        []string   `json:"columns"`
	Format         string     `json:"format"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
	CreatedBy      *string    `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Execution is a single run of a Report. Rows are created at execution
// start and finalized exactly once; they are never reused.
type Execution struct {
	ID            string     `json:"id"`
	ReportID      string     `json:"report_id"`
	TriggeredBy   *string    `json:"triggered_by,omitempty"`
	ExecutionType string     `json:"execution_type"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    *int64     `json:"duration_ms,omitempty"`
	RowCount      *int       `json:"row_count,omitempty"`
	FilePath      *string    `json:"file_path,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
}

// Stats summarizes a report's executions over the trailing 30 days.
type Stats struct {
	TotalExecutions int        `json:"total_executions"`
	SuccessfulRuns  int        `json:"successful_runs"`
	FailedRuns      int        `json:"failed_runs"`
	SuccessRate     float64    `json:"success_rate"`
	AvgDurationMs   float64    `json:"avg_duration_ms"`
	AvgRowCount     float64    `json:"avg_row_count"`
	LastExecutionAt *time.Time `json:"last_execution_at,omitempty"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty"`
}

// ScheduledReport links a report to a recurrence. The worker claims due
// rows and dispatches execution jobs.
type ScheduledReport struct {
	ID         string     `json:"id"`
	ReportID   string     `json:"report_id"`
	Frequency  string     `json:"frequency"` // hourly, daily, weekly, monthly
	Parameters []any      `json:"parameters,omitempty"`
	Export     bool       `json:"export"`
	NextRunAt  time.Time  `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus *string    `json:"last_status,omitempty"`
}
