package reports

import (
	"context"
	"math"
	"time"

	"github.com/minio/minio-go/v7"
)

// ExecutionStats aggregates a report's executions over the trailing 30
// days. Averages cover successful runs only; the rate is 0 when no
// executions exist.
func (e *Engine) ExecutionStats(ctx context.Context, reportID string) (*Stats, error) {
	var s Stats
	err := e.db.QueryRow(ctx, `
		select count(*),
		       count(*) filter (where status = 'completed'),
		       count(*) filter (where status = 'failed'),
		       coalesce(avg(duration_ms) filter (where status = 'completed'), 0),
		       coalesce(avg(row_count) filter (where status = 'completed'), 0),
		       max(started_at),
		       max(started_at) filter (where status = 'completed')
		from report_executions
		where report_id = $1 and started_at > now() - interval '30 days'`, reportID).
		Scan(&s.TotalExecutions, &s.SuccessfulRuns, &s.FailedRuns,
			&s.AvgDurationMs, &s.AvgRowCount, &s.LastExecutionAt, &s.LastSuccessAt)
	if err != nil {
		return nil, err
	}
	if s.TotalExecutions > 0 {
		s.SuccessRate = math.Round(float64(s.SuccessfulRuns)/float64(s.TotalExecutions)*10000) / 100
	}
	return &s, nil
}

// CleanupOldExecutions removes export files older than the retention
// window and nulls their file_path. Individual delete failures are
// logged and skipped so one bad file never blocks the batch. Returns
// the number of files removed.
func (e *Engine) CleanupOldExecutions(ctx context.Context, retentionDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	rows, err := e.db.Query(ctx,
		`select id, file_path from report_executions where file_path is not null and started_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	type target struct{ id, path string }
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.id, &t.path); err != nil {
			rows.Close()
			return 0, err
		}
		targets = append(targets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	deleted := 0
	for _, t := range targets {
		if err := e.store.RemoveObject(ctx, e.bucket, t.path, minio.RemoveObjectOptions{}); err != nil {
			e.log.Error().Err(err).Str("execution", t.id).Str("path", t.path).Msg("delete export file")
			continue
		}
		if _, err := e.db.Exec(ctx, `update report_executions set file_path=null where id=$1`, t.id); err != nil {
			e.log.Error().Err(err).Str("execution", t.id).Msg("clear file_path")
			continue
		}
		deleted++
	}
	return deleted, nil
}
