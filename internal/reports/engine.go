// Package reports executes admin-authored read-only queries, records
// per-run execution rows and materializes results to downloadable files.
package reports

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/minio/minio-go/v7"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// DB is a minimal interface to allow mocking in tests.
type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// ObjectStore is the subset of MinIO used for report exports.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

var executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "report_executions_total",
	Help: "Report executions by final status",
}, []string{"status"})

func init() { prometheus.MustRegister(executionsTotal) }

var (
	selectRe = regexp.MustCompile(`(?i)^\s*SELECT\s+`)
	// Crude allow-list, not a security boundary: real protection is
	// driver-level parameter binding plus read-only DB credentials.
	forbiddenRe   = regexp.MustCompile(`(?i)\b(DROP|DELETE|UPDATE|INSERT|ALTER|CREATE)\b`)
	placeholderRe = regexp.MustCompile(`\$(\d+)`)
)

// ValidateQuery rejects query text that is not a plain SELECT.
func ValidateQuery(q string) error {
	if !selectRe.MatchString(q) {
		return fmt.Errorf("query must start with SELECT")
	}
	if m := forbiddenRe.FindString(q); m != "" {
		return fmt.Errorf("query contains forbidden keyword %q", m)
	}
	return nil
}

// placeholderCount returns the highest $n placeholder index in q.
func placeholderCount(q string) int {
	max := 0
	for _, m := range placeholderRe.FindAllStringSubmatch(q, -1) {
		n := 0
		fmt.Sscanf(m[1], "%d", &n)
		if n > max {
			max = n
		}
	}
	return max
}

// Engine runs reports against a SQL handle and stores exports in an
// object store.
type Engine struct {
	db      DB
	store   ObjectStore
	bucket  string
	timeout time.Duration
	log     zerolog.Logger
}

// NewEngine constructs an Engine. timeout bounds each query; zero means
// the 30s default.
func NewEngine(db DB, store ObjectStore, bucket string, timeout time.Duration, log zerolog.Logger) *Engine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{db: db, store: store, bucket: bucket, timeout: timeout, log: log}
}

// Execute runs the report query with positional parameters and records a
// fresh execution row. The row is created in running state up front so
// concurrent triggers are observable, and finalized exactly once.
func (e *Engine) Execute(ctx context.Context, rep Report, params []any, execType string, userID *string) (*Execution, error) {
	ex, err := e.begin(ctx, rep, execType, userID)
	if err != nil {
		return nil, err
	}
	_, rows, err := e.query(ctx, rep, params)
	elapsed := time.Since(ex.StartedAt).Milliseconds()
	if err != nil {
		e.markFailed(ctx, ex, err, elapsed)
		return ex, err
	}
	e.complete(ctx, ex, rep.ID, len(rows), elapsed, nil)
	return ex, nil
}

// begin inserts the running execution row.
func (e *Engine) begin(ctx context.Context, rep Report, execType string, userID *string) (*Execution, error) {
	ex := &Execution{
		ID:            uuid.NewString(),
		ReportID:      rep.ID,
		TriggeredBy:   userID,
		ExecutionType: execType,
		Status:        StatusRunning,
		StartedAt:     time.Now().UTC(),
	}
	if _, err := e.db.Exec(ctx,
		`insert into report_executions (id, report_id, triggered_by, execution_type, status, started_at)
		 values ($1,$2,$3,$4,$5,$6)`,
		ex.ID, ex.ReportID, ex.TriggeredBy, ex.ExecutionType, ex.Status, ex.StartedAt); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	return ex, nil
}

// complete finalizes a successful run and bumps the parent report's
// last_executed_at.
func (e *Engine) complete(ctx context.Context, ex *Execution, reportID string, rowCount int, elapsed int64, filePath *string) {
	ex.Status = StatusCompleted
	ex.RowCount = &rowCount
	ex.DurationMs = &elapsed
	ex.FilePath = filePath
	now := time.Now().UTC()
	ex.CompletedAt = &now
	if _, err := e.db.Exec(ctx,
		`update report_executions set status=$1, completed_at=$2, duration_ms=$3, row_count=$4, file_path=$5 where id=$6`,
		ex.Status, ex.CompletedAt, ex.DurationMs, ex.RowCount, ex.FilePath, ex.ID); err != nil {
		e.log.Error().Err(err).Str("execution", ex.ID).Msg("finalize execution")
	}
	if _, err := e.db.Exec(ctx, `update reports set last_executed_at=$1 where id=$2`, now, reportID); err != nil {
		e.log.Error().Err(err).Str("report", reportID).Msg("update last_executed_at")
	}
	executionsTotal.WithLabelValues(StatusCompleted).Inc()
}

func (e *Engine) query(ctx context.Context, rep Report, params []any) ([]string, [][]any, error) {
	if err := ValidateQuery(rep.Query); err != nil {
		return nil, nil, err
	}
	if want := placeholderCount(rep.Query); want != len(params) {
		return nil, nil, fmt.Errorf("query expects %d parameters, got %d", want, len(params))
	}
	qctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	rows, err := e.db.Query(qctx, rep.Query, params...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	cols := rep.Columns
	if len(cols) == 0 {
		for _, fd := range rows.FieldDescriptions() {
			cols = append(cols, fd.Name)
		}
	}
	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return cols, out, nil
}

func (e *Engine) markFailed(ctx context.Context, ex *Execution, cause error, elapsed int64) {
	msg := cause.Error()
	ex.Status = StatusFailed
	ex.ErrorMessage = &msg
	ex.DurationMs = &elapsed
	now := time.Now().UTC()
	ex.CompletedAt = &now
	if _, err := e.db.Exec(ctx,
		`update report_executions set status=$1, completed_at=$2, duration_ms=$3, error_message=$4 where id=$5`,
		ex.Status, ex.CompletedAt, ex.DurationMs, ex.ErrorMessage, ex.ID); err != nil {
		e.log.Error().Err(err).Str("execution", ex.ID).Msg("mark execution failed")
	}
	executionsTotal.WithLabelValues(StatusFailed).Inc()
}

// GetExecution loads one execution row.
func (e *Engine) GetExecution(ctx context.Context, id string) (*Execution, error) {
	var ex Execution
	err := e.db.QueryRow(ctx,
		`select id, report_id, triggered_by, execution_type, status, started_at,
		        completed_at, duration_ms, row_count, file_path, error_message
		 from report_executions where id=$1`, id).
		Scan(&ex.ID, &ex.ReportID, &ex.TriggeredBy, &ex.ExecutionType, &ex.Status,
			&ex.StartedAt, &ex.CompletedAt, &ex.DurationMs, &ex.RowCount, &ex.FilePath, &ex.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &ex, nil
}
