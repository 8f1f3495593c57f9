package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	apppkg "github.com/aidly/aidly-go/cmd/api/app"
)

// dispatchDueReports claims scheduled reports whose next_run_at has
// passed, enqueues an execution job for each and advances the schedule.
// Advancing before the job runs means a crashed worker skips a cycle
// rather than re-running it in a loop.
func dispatchDueReports(ctx context.Context, db apppkg.DB, rdb *redis.Client) error {
	rows, err := db.Query(ctx, `
		select id::text, report_id::text, frequency, parameters, export, next_run_at
		from scheduled_reports where next_run_at <= now()`)
	if err != nil {
		return err
	}
	type due struct {
		id, reportID, frequency string
		params                  []any
		export                  bool
		nextRunAt               time.Time
	}
	var dues []due
	for rows.Next() {
		var d due
		var params []byte
		if err := rows.Scan(&d.id, &d.reportID, &d.frequency, &params, &d.export, &d.nextRunAt); err != nil {
			rows.Close()
			return err
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &d.params); err != nil {
				log.Error().Err(err).Str("scheduled", d.id).Msg("bad parameters json")
			}
		}
		dues = append(dues, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, d := range dues {
		next, err := nextRun(d.frequency, d.nextRunAt)
		if err != nil {
			log.Error().Err(err).Str("scheduled", d.id).Msg("unknown frequency")
			continue
		}
		if _, err := db.Exec(ctx,
			`update scheduled_reports set next_run_at=$1 where id=$2`, next, d.id); err != nil {
			log.Error().Err(err).Str("scheduled", d.id).Msg("advance schedule")
			continue
		}
		if err := enqueueReportJob(ctx, rdb, ReportJob{
			ReportID:    d.reportID,
			Parameters:  d.params,
			Export:      d.export,
			ScheduledID: d.id,
		}); err != nil {
			log.Error().Err(err).Str("scheduled", d.id).Msg("enqueue report job")
		}
	}
	return nil
}

func enqueueReportJob(ctx context.Context, rdb *redis.Client, rj ReportJob) error {
	data, err := json.Marshal(rj)
	if err != nil {
		return err
	}
	job, err := json.Marshal(Job{Type: "execute_report", Data: data})
	if err != nil {
		return err
	}
	return rdb.RPush(ctx, "jobs", job).Err()
}

// nextRun advances a schedule from its previous due time, catching up
// past now so a long outage doesn't burst a backlog of runs.
func nextRun(frequency string, from time.Time) (time.Time, error) {
	step := func(t time.Time) time.Time {
		switch frequency {
		case "hourly":
			return t.Add(time.Hour)
		case "daily":
			return t.AddDate(0, 0, 1)
		case "weekly":
			return t.AddDate(0, 0, 7)
		case "monthly":
			return t.AddDate(0, 1, 0)
		}
		return t
	}
	next := step(from)
	if !next.After(from) {
		return time.Time{}, fmt.Errorf("unsupported frequency %q", frequency)
	}
	now := time.Now()
	for !next.After(now) {
		next = step(next)
	}
	return next, nil
}
