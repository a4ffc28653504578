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
	"fmt"
	"time"

	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/pgutil"
)

// SaveRawBlob persists one raw blob. Extractors call this before any derived
// record is produced, so every FOCUS row can reference its raw origin.
func (s *Store) SaveRawBlob(ctx context.Context, blob *extract.RawBlob) error {
	query := `INSERT INTO raw_billing_data (
		id, provider_id, run_id, source_name, source_type,
		window_start, window_end, record_count, payload, processed, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,FALSE,$10)`

	_, err := s.pool.Exec(ctx, query,
		blob.ID, blob.ProviderID, pgutil.NullString(blob.RunID),
		blob.Source, string(blob.SourceType),
		blob.WindowStart, blob.WindowEnd, blob.RecordCount, blob.Payload,
		blob.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save raw blob: %w", err)
	}
	return nil
}

// ListUnprocessedBlobs returns blobs never marked processed, oldest first.
// The predicate is an explicit processed = false so partial indexes apply.
func (s *Store) ListUnprocessedBlobs(ctx context.Context, providerID string, limit int) ([]*extract.RawBlob, error) {
	qb := &pgutil.QueryBuilder{}
	qb.Add("processed = $?", false)
	if providerID != "" {
		qb.Add("provider_id=$?", providerID)
	}

	query := `SELECT id, provider_id, run_id, source_name, source_type,
		window_start, window_end, record_count, payload, created_at
	FROM raw_billing_data WHERE 1=1` + qb.Where() + ` ORDER BY created_at ASC`
	query = qb.AppendPagination(query, limit, 0)

	rows, err := s.pool.Query(ctx, query, qb.Args()...)
	if err != nil {
		return nil, fmt.Errorf("store: list unprocessed blobs: %w", err)
	}
	defer rows.Close()

	var blobs []*extract.RawBlob
	for rows.Next() {
		var b extract.RawBlob
		var runID *string
		if err := rows.Scan(
			&b.ID, &b.ProviderID, &runID, &b.Source, &b.SourceType,
			&b.WindowStart, &b.WindowEnd, &b.RecordCount, &b.Payload, &b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan raw blob: %w", err)
		}
		b.RunID = pgutil.DerefString(runID)
		blobs = append(blobs, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate raw blobs: %w", err)
	}
	if blobs == nil {
		blobs = []*extract.RawBlob{}
	}
	return blobs, nil
}

// MarkBlobsProcessed flags the blobs in a single update. Returns how many
// rows changed; already-processed blobs are left untouched.
func (s *Store) MarkBlobsProcessed(ctx context.Context, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := s.pool.Exec(ctx,
		`UPDATE raw_billing_data SET processed=TRUE, processed_at=$2
		WHERE id = ANY($1) AND processed = FALSE`,
		ids, at,
	)
	if err != nil {
		return 0, fmt.Errorf("store: mark blobs processed: %w", err)
	}
	return int(res.RowsAffected()), nil
}

// RecordBlobError stamps a processing error on a blob without flagging it
// processed, so a later cleanup pass retries it.
func (s *Store) RecordBlobError(ctx context.Context, id, message string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE raw_billing_data SET processing_error=$2 WHERE id=$1`,
		id, message,
	)
	if err != nil {
		return fmt.Errorf("store: record blob error: %w", err)
	}
	return nil
}

// DeleteProcessedBlobs removes processed blobs older than the cutoff. Raw
// payloads are kept only over a processing horizon, not archived.
func (s *Store) DeleteProcessedBlobs(ctx context.Context, before time.Time) (int, error) {
	res, err := s.pool.Exec(ctx,
		`DELETE FROM raw_billing_data WHERE processed = TRUE AND created_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("store: delete processed blobs: %w", err)
	}
	return int(res.RowsAffected()), nil
}
