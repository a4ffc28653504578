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
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/altairalabs/costflow/internal/crypto"
	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/focus"
	"github.com/altairalabs/costflow/internal/pipeline"
	"github.com/altairalabs/costflow/internal/provider"
	"github.com/altairalabs/costflow/internal/source"
)

var testConnStr string

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("costflow_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	testConnStr, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	mg, err := NewMigrator(testConnStr, logr.Discard())
	if err == nil {
		err = mg.Up()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to migrate test database: %v\n", err)
		os.Exit(1)
	}
	_ = mg.Close()

	code := m.Run()

	if err := container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %v\n", err)
	}

	os.Exit(code)
}

// newTestStore wraps a fresh pool over the migrated test database and wipes
// all tables so tests are isolated.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, testConnStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx,
		"TRUNCATE billing_data, raw_billing_data, pipeline_runs, providers CASCADE")
	require.NoError(t, err)

	return NewFromPool(pool, crypto.NoopSealer{})
}

func testProvider() *provider.Provider {
	return &provider.Provider{
		Name: "openai-prod",
		Type: provider.TypeOpenAI,
		Auth: &provider.AuthConfig{
			Method:      provider.AuthBearerToken,
			BearerToken: &provider.BearerTokenAuth{Token: "sk-test"},
		},
		AdditionalConfig: map[string]string{"organization_id": "org-1"},
		Active:           true,
	}
}

func createRun(t *testing.T, s *Store, providerID string) *pipeline.Run {
	t.Helper()
	run := pipeline.NewRun(providerID, pipeline.RunTypeManual, source.Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

func saveBlob(t *testing.T, s *Store, providerID, runID string) *extract.RawBlob {
	t.Helper()
	blob := &extract.RawBlob{
		ID:          uuid.NewString(),
		ProviderID:  providerID,
		RunID:       runID,
		Source:      "completions_usage",
		SourceType:  source.TypeRestAPI,
		WindowStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		RecordCount: 1,
		Payload:     []byte(`[{"model":"gpt-4o"}]`),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.SaveRawBlob(context.Background(), blob))
	return blob
}

func testRecord(providerID, blobID string) focus.Record {
	q := 1000.0
	return focus.Record{
		BilledCost:         1.25,
		EffectiveCost:      1.25,
		ListCost:           1.25,
		ContractedCost:     1.25,
		BillingAccountID:   "org-1",
		BillingPeriodStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		BillingPeriodEnd:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		ChargePeriodStart:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ChargePeriodEnd:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		BillingCurrency:    "USD",
		ServiceName:        "gpt-4o",
		ServiceCategory:    focus.ServiceCategoryAI,
		ProviderName:       "OpenAI",
		PublisherName:      "OpenAI",
		InvoiceIssuerName:  "OpenAI",
		ChargeCategory:     focus.ChargeCategoryUsage,
		ChargeDescription:  "Input tokens for gpt-4o",
		ConsumedQuantity:   &q,
		ConsumedUnit:       "tokens",
		SkuID:              "gpt-4o",
		Tags:               map[string]string{"team": "ml"},
		XProviderID:        providerID,
		XProviderData:      map[string]string{"token_type": "input"},
		XRawBillingDataID:  blobID,
		XSurrogateID:       uuid.NewString(),
	}
}

// --- providers ----------------------------------------------------------------

func TestProviderCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProvider()
	require.NoError(t, s.CreateProvider(ctx, p))
	require.NotEmpty(t, p.ID)

	got, err := s.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "openai-prod", got.Name)
	assert.Equal(t, provider.TypeOpenAI, got.Type)
	require.NotNil(t, got.Auth)
	assert.Equal(t, "sk-test", got.Auth.BearerToken.Token)
	assert.Equal(t, "org-1", got.AdditionalConfig["organization_id"])

	byName, err := s.GetProviderByName(ctx, "openai-prod")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	got.DisplayName = "OpenAI production"
	got.Validated = true
	require.NoError(t, s.UpdateProvider(ctx, got))

	again, err := s.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "OpenAI production", again.DisplayName)
	assert.True(t, again.Validated)

	require.NoError(t, s.DeactivateProvider(ctx, p.ID))
	active, err := s.ListActiveProviders(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetProviderNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProvider(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestProviderAuthSealedAtRest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sealer, err := crypto.NewAESGCMSealer(make([]byte, 32))
	require.NoError(t, err)
	s.sealer = sealer

	p := testProvider()
	require.NoError(t, s.CreateProvider(ctx, p))

	// The raw column must not contain the cleartext token.
	var authJSON string
	err = s.pool.QueryRow(ctx, "SELECT auth::text FROM providers WHERE id=$1", p.ID).Scan(&authJSON)
	require.NoError(t, err)
	assert.NotContains(t, authJSON, "sk-test")
	assert.Contains(t, authJSON, "cfv1:")

	// Round trip restores the cleartext.
	got, err := s.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", got.Auth.BearerToken.Token)
}

// --- runs ---------------------------------------------------------------------

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProvider()
	require.NoError(t, s.CreateProvider(ctx, p))
	run := createRun(t, s, p.ID)

	require.NoError(t, run.Start())
	run.Stage = pipeline.StageExtract
	run.Counters.SourcesTotal = 2
	require.NoError(t, s.UpdateRun(ctx, run))

	require.NoError(t, run.Complete())
	run.Counters.RecordsLoaded = 500
	require.NoError(t, s.UpdateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, got.Status)
	assert.Equal(t, 500, got.Counters.RecordsLoaded)
	assert.False(t, got.CompletedAt.IsZero())
	assert.True(t, !got.CompletedAt.Before(got.StartedAt))
}

func TestListRunsFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProvider()
	require.NoError(t, s.CreateProvider(ctx, p))

	first := createRun(t, s, p.ID)
	require.NoError(t, first.Start())
	require.NoError(t, first.Fail("boom"))
	require.NoError(t, s.UpdateRun(ctx, first))

	createRun(t, s, p.ID)

	failed, err := s.ListRuns(ctx, pipeline.RunFilter{ProviderID: p.ID, Status: pipeline.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, first.ID, failed[0].ID)
	assert.Equal(t, "boom", failed[0].Error)

	all, err := s.ListRuns(ctx, pipeline.RunFilter{ProviderID: p.ID, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRunStatsZeroGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProvider()
	require.NoError(t, s.CreateProvider(ctx, p))

	run := createRun(t, s, p.ID)
	require.NoError(t, run.Start())
	require.NoError(t, run.Complete())
	run.Counters.RecordsLoaded = 2
	require.NoError(t, s.UpdateRun(ctx, run))

	stats, err := s.RunStats(ctx, p.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].TotalRuns)
	assert.Equal(t, 1.0, stats[0].SuccessRate)
	assert.Equal(t, int64(2), stats[0].RecordsLoaded)

	// No runs in the window: no rows, no divide-by-zero.
	empty, err := s.RunStats(ctx, p.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// --- raw blobs ----------------------------------------------------------------

func TestRawBlobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProvider()
	require.NoError(t, s.CreateProvider(ctx, p))
	run := createRun(t, s, p.ID)
	blob := saveBlob(t, s, p.ID, run.ID)

	unprocessed, err := s.ListUnprocessedBlobs(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	assert.Equal(t, blob.ID, unprocessed[0].ID)
	assert.Equal(t, source.TypeRestAPI, unprocessed[0].SourceType)
	assert.JSONEq(t, `[{"model":"gpt-4o"}]`, string(unprocessed[0].Payload))

	n, err := s.MarkBlobsProcessed(ctx, []string{blob.ID}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Marking again is a no-op.
	n, err = s.MarkBlobsProcessed(ctx, []string{blob.ID}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	unprocessed, err = s.ListUnprocessedBlobs(ctx, p.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)

	deleted, err := s.DeleteProcessedBlobs(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

// --- billing upsert -----------------------------------------------------------

func TestUpsertRecordsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProvider()
	require.NoError(t, s.CreateProvider(ctx, p))
	run := createRun(t, s, p.ID)
	blob := saveBlob(t, s, p.ID, run.ID)

	recs := []focus.Record{testRecord(p.ID, blob.ID), testRecord(p.ID, blob.ID)}
	recs[1].SkuID = "gpt-4o-mini"

	res, err := s.UpsertRecords(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 0, res.Updated)

	// Replaying the same merge keys updates in place.
	recs[0].BilledCost = 2.50
	res, err = s.UpsertRecords(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 2, res.Updated)

	var count int
	var billed float64
	err = s.pool.QueryRow(ctx,
		"SELECT count(*), sum(billed_cost) FILTER (WHERE sku_id='gpt-4o') FROM billing_data").
		Scan(&count, &billed)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2.50, billed)
}

func TestUpsertRecordsSurrogateConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProvider()
	require.NoError(t, s.CreateProvider(ctx, p))
	run := createRun(t, s, p.ID)
	blob := saveBlob(t, s, p.ID, run.ID)

	first := testRecord(p.ID, blob.ID)
	_, err := s.UpsertRecords(ctx, []focus.Record{first})
	require.NoError(t, err)

	// Same surrogate id under a different merge key: the batch must roll
	// back and report a load conflict.
	clash := testRecord(p.ID, blob.ID)
	clash.SkuID = "gpt-4o-mini"
	clash.XSurrogateID = first.XSurrogateID
	other := testRecord(p.ID, blob.ID)
	other.SkuID = "whisper"

	_, err = s.UpsertRecords(ctx, []focus.Record{other, clash})
	require.ErrorIs(t, err, pipeline.ErrLoadConflict)

	var count int
	err = s.pool.QueryRow(ctx, "SELECT count(*) FROM billing_data").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "failed batch must not leave partial rows")
}

func TestCostStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProvider()
	require.NoError(t, s.CreateProvider(ctx, p))
	run := createRun(t, s, p.ID)
	blob := saveBlob(t, s, p.ID, run.ID)

	recs := []focus.Record{testRecord(p.ID, blob.ID), testRecord(p.ID, blob.ID)}
	recs[1].SkuID = "s3"
	recs[1].ServiceCategory = focus.ServiceCategoryStorage
	recs[1].BilledCost = 3.75
	_, err := s.UpsertRecords(ctx, recs)
	require.NoError(t, err)

	stats, err := s.CostStats(ctx, p.ID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(2), stats[0].RecordCount)
	assert.InDelta(t, 5.0, stats[0].TotalBilled, 1e-9)
	assert.InDelta(t, 3.75, stats[0].ByCategory[string(focus.ServiceCategoryStorage)], 1e-9)
}

// --- sealing unit tests (no database) ----------------------------------------

func TestSealAuthRoundTrip(t *testing.T) {
	sealer, err := crypto.NewAESGCMSealer(make([]byte, 32))
	require.NoError(t, err)
	s := &Store{sealer: sealer}

	auth := &provider.AuthConfig{
		Method: provider.AuthOAuth2ClientCreds,
		OAuth2Client: &provider.OAuth2ClientCredsAuth{
			ClientID:     "cid",
			ClientSecret: "cs-secret",
			TokenURL:     "https://login.example.com/token",
		},
	}

	sealed, err := s.sealAuth(auth)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "cs-secret")
	assert.Contains(t, string(sealed), "cid", "non-sensitive fields stay cleartext")

	got, err := s.openAuth(sealed)
	require.NoError(t, err)
	require.NotNil(t, got.OAuth2Client)
	assert.Equal(t, "cs-secret", got.OAuth2Client.ClientSecret)
	assert.Equal(t, provider.AuthOAuth2ClientCreds, got.Method)
}

func TestSealAuthNil(t *testing.T) {
	s := &Store{sealer: crypto.NoopSealer{}}

	sealed, err := s.sealAuth(nil)
	require.NoError(t, err)
	assert.Nil(t, sealed)

	got, err := s.openAuth(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
