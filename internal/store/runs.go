/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/altairalabs/costflow/internal/pgutil"
	"github.com/altairalabs/costflow/internal/pipeline"
)

// runColumns is the SELECT column list for pipeline runs (no trailing comma).
const runColumns = `id, provider_id, retry_of, run_type, status, stage,
	window_start, window_end,
	sources_total, sources_failed, records_extracted, records_transformed,
	records_skipped, records_loaded, records_failed,
	error, started_at, completed_at, created_at, updated_at`

func scanRun(row pgx.Row) (*pipeline.Run, error) {
	var r pipeline.Run
	var retryOf, stage, runErr *string
	var startedAt, completedAt *time.Time

	err := row.Scan(
		&r.ID, &r.ProviderID, &retryOf, &r.Type, &r.Status, &stage,
		&r.WindowStart, &r.WindowEnd,
		&r.Counters.SourcesTotal, &r.Counters.SourcesFailed,
		&r.Counters.RecordsExtracted, &r.Counters.RecordsTransformed,
		&r.Counters.RecordsSkipped, &r.Counters.RecordsLoaded, &r.Counters.RecordsFailed,
		&runErr, &startedAt, &completedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pipeline.ErrRunNotFound
		}
		return nil, fmt.Errorf("store: scan run: %w", err)
	}

	r.RetryOf = pgutil.DerefString(retryOf)
	r.Stage = pipeline.Stage(pgutil.DerefString(stage))
	r.Error = pgutil.DerefString(runErr)
	r.StartedAt = pgutil.TimeOrZero(startedAt)
	r.CompletedAt = pgutil.TimeOrZero(completedAt)
	return &r, nil
}

// CreateRun persists a freshly created run.
func (s *Store) CreateRun(ctx context.Context, run *pipeline.Run) error {
	query := `INSERT INTO pipeline_runs (
		id, provider_id, retry_of, run_type, status, stage,
		window_start, window_end,
		sources_total, sources_failed, records_extracted, records_transformed,
		records_skipped, records_loaded, records_failed,
		error, started_at, completed_at, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.ProviderID, pgutil.NullString(run.RetryOf), run.Type, run.Status,
		pgutil.NullString(string(run.Stage)),
		run.WindowStart, run.WindowEnd,
		run.Counters.SourcesTotal, run.Counters.SourcesFailed,
		run.Counters.RecordsExtracted, run.Counters.RecordsTransformed,
		run.Counters.RecordsSkipped, run.Counters.RecordsLoaded, run.Counters.RecordsFailed,
		pgutil.NullString(run.Error), pgutil.NullTime(run.StartedAt), pgutil.NullTime(run.CompletedAt),
		run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create run: %w", err)
	}
	return nil
}

// UpdateRun rewrites a run's mutable fields. Called after every stage so a
// crash mid-run leaves a reconstructable picture.
func (s *Store) UpdateRun(ctx context.Context, run *pipeline.Run) error {
	query := `UPDATE pipeline_runs SET
		status=$2, stage=$3,
		sources_total=$4, sources_failed=$5, records_extracted=$6, records_transformed=$7,
		records_skipped=$8, records_loaded=$9, records_failed=$10,
		error=$11, started_at=$12, completed_at=$13, updated_at=$14
	WHERE id=$1`

	res, err := s.pool.Exec(ctx, query,
		run.ID, run.Status, pgutil.NullString(string(run.Stage)),
		run.Counters.SourcesTotal, run.Counters.SourcesFailed,
		run.Counters.RecordsExtracted, run.Counters.RecordsTransformed,
		run.Counters.RecordsSkipped, run.Counters.RecordsLoaded, run.Counters.RecordsFailed,
		pgutil.NullString(run.Error), pgutil.NullTime(run.StartedAt), pgutil.NullTime(run.CompletedAt),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: update run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return pipeline.ErrRunNotFound
	}
	return nil
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*pipeline.Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE id=$1 LIMIT 1`
	return scanRun(s.pool.QueryRow(ctx, query, id))
}

// ListRuns returns runs matching the filter, newest first.
func (s *Store) ListRuns(ctx context.Context, filter pipeline.RunFilter) ([]*pipeline.Run, error) {
	qb := &pgutil.QueryBuilder{}
	if filter.ProviderID != "" {
		qb.Add("provider_id=$?", filter.ProviderID)
	}
	if filter.Status != "" {
		qb.Add("status=$?", string(filter.Status))
	}

	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE 1=1` + qb.Where() +
		` ORDER BY created_at DESC`
	query = qb.AppendPagination(query, filter.Limit, 0)

	rows, err := s.pool.Query(ctx, query, qb.Args()...)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*pipeline.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate runs: %w", err)
	}
	if runs == nil {
		runs = []*pipeline.Run{}
	}
	return runs, nil
}

// RunStats aggregates run outcomes per provider since the cutoff. Rates are
// zero when a provider has no runs in the period.
func (s *Store) RunStats(ctx context.Context, providerID string, since time.Time) ([]pipeline.RunStats, error) {
	qb := &pgutil.QueryBuilder{}
	qb.Add("created_at >= $?", since)
	if providerID != "" {
		qb.Add("provider_id=$?", providerID)
	}

	query := `SELECT provider_id,
		count(*),
		count(*) FILTER (WHERE status='completed'),
		count(*) FILTER (WHERE status='failed'),
		count(*) FILTER (WHERE status='cancelled'),
		coalesce(sum(records_loaded), 0),
		max(created_at)
	FROM pipeline_runs WHERE 1=1` + qb.Where() + `
	GROUP BY provider_id ORDER BY provider_id`

	rows, err := s.pool.Query(ctx, query, qb.Args()...)
	if err != nil {
		return nil, fmt.Errorf("store: run stats: %w", err)
	}
	defer rows.Close()

	var stats []pipeline.RunStats
	for rows.Next() {
		var st pipeline.RunStats
		if err := rows.Scan(
			&st.ProviderID, &st.TotalRuns, &st.CompletedRuns, &st.FailedRuns,
			&st.CancelledRuns, &st.RecordsLoaded, &st.LastRunAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan run stats: %w", err)
		}
		if st.TotalRuns > 0 {
			st.SuccessRate = float64(st.CompletedRuns) / float64(st.TotalRuns)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate run stats: %w", err)
	}
	if stats == nil {
		stats = []pipeline.RunStats{}
	}
	return stats, nil
}
