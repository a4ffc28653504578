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

package pipeline

import (
	"context"
	"time"

	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/focus"
	"github.com/altairalabs/costflow/internal/provider"
)

// UpsertResult reports what one billing upsert batch did.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// RunFilter narrows run listings.
type RunFilter struct {
	ProviderID string
	Status     Status
	Limit      int
}

// RunStats aggregates run outcomes for a provider over a period.
type RunStats struct {
	ProviderID    string
	TotalRuns     int
	CompletedRuns int
	FailedRuns    int
	CancelledRuns int
	RecordsLoaded int64
	// SuccessRate is completed over total, zero when no runs exist.
	SuccessRate float64
	LastRunAt   time.Time
}

// CostSummary aggregates persisted billing rows for the stats surface.
type CostSummary struct {
	ProviderID   string
	RecordCount  int64
	TotalBilled  float64
	TotalListed  float64
	ByCategory   map[string]float64
	WindowsStart time.Time
	WindowsEnd   time.Time
}

// Store is the persistence port the coordinator and trigger surface drive.
// The postgres implementation lives in the store package.
type Store interface {
	extract.BlobSink

	GetProvider(ctx context.Context, id string) (*provider.Provider, error)
	ListActiveProviders(ctx context.Context) ([]*provider.Provider, error)
	SetProviderValidated(ctx context.Context, id string, validated bool) error
	RecordProviderSync(ctx context.Context, id, status string, at time.Time) error

	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	RunStats(ctx context.Context, providerID string, since time.Time) ([]RunStats, error)
	CostStats(ctx context.Context, providerID string, since time.Time) ([]CostSummary, error)

	// ListUnprocessedBlobs returns blobs earlier runs extracted but never
	// marked processed, oldest first.
	ListUnprocessedBlobs(ctx context.Context, providerID string, limit int) ([]*extract.RawBlob, error)
	// MarkBlobsProcessed flags the blobs in one update and returns the count.
	MarkBlobsProcessed(ctx context.Context, ids []string, at time.Time) (int, error)
	// DeleteProcessedBlobs removes processed blobs older than the cutoff.
	DeleteProcessedBlobs(ctx context.Context, before time.Time) (int, error)

	// UpsertRecords merges one batch atomically on the merge key. A
	// surrogate-id collision reports ErrLoadConflict and rolls the batch back.
	UpsertRecords(ctx context.Context, records []focus.Record) (UpsertResult, error)
}
