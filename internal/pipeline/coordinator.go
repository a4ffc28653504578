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
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/altairalabs/costflow/internal/blobstore"
	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/focus"
	"github.com/altairalabs/costflow/internal/provider"
	"github.com/altairalabs/costflow/internal/registry"
	"github.com/altairalabs/costflow/internal/transform"
	"github.com/altairalabs/costflow/pkg/logctx"
	"github.com/altairalabs/costflow/pkg/metrics"
)

// Config tunes the coordinator. Zero values take the defaults below.
type Config struct {
	// Workers bounds concurrent source extractions within one run.
	Workers int
	// LoadBatchSize is the record count per load transaction.
	LoadBatchSize int
	// MaxSourceFailureRatio is the tolerated fraction of failed sources
	// before the extract stage fails the run.
	MaxSourceFailureRatio float64
	// MaxBatchFailureRatio is the tolerated fraction of failed load batches
	// before the load stage fails the run.
	MaxBatchFailureRatio float64
	// BlobHorizon is how long processed raw payloads are retained.
	BlobHorizon time.Duration
	// LeftoverBlobLimit caps how many unprocessed blobs from earlier runs
	// one run picks up.
	LeftoverBlobLimit int
	// Strict rejects records failing validation instead of loading them.
	Strict bool

	REST        extract.RESTConfig
	Opener      blobstore.Opener
	StoreConfig blobstore.Config
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		Workers:               4,
		LoadBatchSize:         500,
		MaxSourceFailureRatio: 0.30,
		MaxBatchFailureRatio:  0.10,
		BlobHorizon:           30 * 24 * time.Hour,
		LeftoverBlobLimit:     100,
		Opener:                blobstore.Open,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.LoadBatchSize <= 0 {
		c.LoadBatchSize = def.LoadBatchSize
	}
	if c.MaxSourceFailureRatio <= 0 {
		c.MaxSourceFailureRatio = def.MaxSourceFailureRatio
	}
	if c.MaxBatchFailureRatio <= 0 {
		c.MaxBatchFailureRatio = def.MaxBatchFailureRatio
	}
	if c.BlobHorizon <= 0 {
		c.BlobHorizon = def.BlobHorizon
	}
	if c.LeftoverBlobLimit <= 0 {
		c.LeftoverBlobLimit = def.LeftoverBlobLimit
	}
	if c.Opener == nil {
		c.Opener = def.Opener
	}
	return c
}

// Coordinator executes one run end to end: extract raw blobs from the
// provider's sources, transform them to FOCUS records, and load the result
// in merge batches. Every stage boundary persists the run so a crash leaves
// a reconstructable picture.
type Coordinator struct {
	store    Store
	registry *registry.Registry
	cfg      Config
	metrics  *metrics.PipelineMetrics
	log      logr.Logger
}

// NewCoordinator builds a coordinator. Metrics may be nil.
func NewCoordinator(store Store, reg *registry.Registry, cfg Config, m *metrics.PipelineMetrics, log logr.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		registry: reg,
		cfg:      cfg.withDefaults(),
		metrics:  m,
		log:      log.WithName("coordinator"),
	}
}

// taggedRecord ties a transformed record to the blob it came from, so blobs
// can be marked processed only once all their records loaded.
type taggedRecord struct {
	rec    focus.Record
	blobID string
}

// Execute drives a pending run to a terminal state. The returned error
// reports why a run failed or was cancelled; the run row itself is always
// updated before returning.
func (c *Coordinator) Execute(ctx context.Context, run *Run) error {
	ctx = logctx.WithRunID(ctx, run.ID)
	ctx = logctx.WithProviderID(ctx, run.ProviderID)
	log := logctx.LoggerWithContext(c.log, ctx)

	p, reg, auth, err := c.resolve(ctx, run.ProviderID)
	if err != nil {
		return c.finish(ctx, run, "", err)
	}
	providerType := string(p.Type)
	ctx = logctx.WithProviderType(ctx, providerType)
	log = logctx.LoggerWithContext(c.log, ctx)

	if err := run.Start(); err != nil {
		return err
	}
	if err := c.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("persisting run start: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RunsActive.Inc()
		defer c.metrics.RunsActive.Dec()
	}
	log.Info("run started", "type", run.Type,
		"window_start", run.WindowStart, "window_end", run.WindowEnd)

	batches, err := c.extractStage(ctx, run, p, reg, auth, log)
	if err != nil {
		return c.finish(ctx, run, providerType, err)
	}

	tagged, err := c.transformStage(ctx, run, p, reg, batches, log)
	if err != nil {
		return c.finish(ctx, run, providerType, err)
	}

	if err := c.loadStage(ctx, run, providerType, tagged, log); err != nil {
		return c.finish(ctx, run, providerType, err)
	}

	c.cleanupBlobs(ctx, log)
	return c.finish(ctx, run, providerType, nil)
}

// resolve loads the provider and its plugin, and validates auth.
func (c *Coordinator) resolve(ctx context.Context, providerID string) (*provider.Provider, registry.Registration, *provider.AuthConfig, error) {
	p, err := c.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, registry.Registration{}, nil, fmt.Errorf("loading provider: %w", err)
	}
	reg, err := c.registry.Lookup(p.Type)
	if err != nil {
		return nil, registry.Registration{}, nil, err
	}
	auth, err := provider.Resolve(&reg.Metadata, p.Auth)
	if err != nil {
		return nil, registry.Registration{}, nil, fmt.Errorf("resolving auth: %w", err)
	}
	return p, reg, auth, nil
}

// extractStage pulls all sources for the window, tolerating partial source
// failure up to the configured ratio. Blobs left unprocessed by earlier runs
// are picked up alongside the fresh extraction.
func (c *Coordinator) extractStage(ctx context.Context, run *Run, p *provider.Provider, reg registry.Registration, auth *provider.AuthConfig, log logr.Logger) ([]extract.RawBatch, error) {
	run.Stage = StageExtract
	ctx = logctx.WithStage(ctx, string(StageExtract))
	log = logctx.LoggerWithContext(c.log, ctx)
	started := time.Now()

	specs, err := reg.NewSources(p, run.Window())
	if err != nil {
		return nil, fmt.Errorf("building sources: %w", err)
	}
	ex, err := reg.NewExtractor(registry.ExtractorDeps{
		Provider:    p,
		Auth:        auth,
		RunID:       run.ID,
		Sink:        c.store,
		Opener:      c.cfg.Opener,
		StoreConfig: c.cfg.StoreConfig,
		RESTConfig:  c.cfg.REST,
		Log:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("building extractor: %w", err)
	}

	run.Counters.SourcesTotal = len(specs)

	var (
		mu      sync.Mutex
		batches []extract.RawBatch
		srcErrs []error
		wg      sync.WaitGroup
		sem     = make(chan struct{}, c.cfg.Workers)
	)
	for i := range specs {
		spec := specs[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			got, err := ex.Extract(logctx.WithSource(ctx, spec.Name), spec, run.Window())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				srcErrs = append(srcErrs, err)
				log.Error(err, "source extraction failed", "source", spec.Name)
				return
			}
			batches = append(batches, got...)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	run.Counters.SourcesFailed = len(srcErrs)
	for i := range batches {
		run.Counters.RecordsExtracted += len(batches[i].Records)
	}
	if c.metrics != nil {
		c.metrics.RecordStage(string(StageExtract), time.Since(started))
		c.metrics.RecordRecords(string(p.Type), "extracted", run.Counters.RecordsExtracted)
		c.metrics.RecordSourceFailures(string(p.Type), len(srcErrs))
	}

	if len(specs) > 0 {
		ratio := float64(len(srcErrs)) / float64(len(specs))
		if ratio > c.cfg.MaxSourceFailureRatio {
			return nil, fmt.Errorf("extract failed: %d of %d sources failed: %w",
				len(srcErrs), len(specs), errors.Join(srcErrs...))
		}
	}

	leftovers := c.leftoverBatches(ctx, run, log)
	batches = append(leftovers, batches...)

	if err := c.store.UpdateRun(ctx, run); err != nil {
		log.Error(err, "persisting run after extract")
	}
	return batches, nil
}

// leftoverBatches decodes blobs an earlier run extracted but never loaded.
// Failures here never fail the run; the blobs stay unprocessed.
func (c *Coordinator) leftoverBatches(ctx context.Context, run *Run, log logr.Logger) []extract.RawBatch {
	blobs, err := c.store.ListUnprocessedBlobs(ctx, run.ProviderID, c.cfg.LeftoverBlobLimit)
	if err != nil {
		log.Error(err, "listing unprocessed blobs")
		return nil
	}

	var batches []extract.RawBatch
	for _, b := range blobs {
		if b.RunID == run.ID {
			// Freshly written by this run's extractors.
			continue
		}
		var records []extract.RawRecord
		if err := json.Unmarshal(b.Payload, &records); err != nil {
			log.Error(err, "decoding leftover blob payload", "blob", b.ID)
			continue
		}
		batches = append(batches, extract.RawBatch{BlobID: b.ID, Source: b.Source, Records: records})
		run.Counters.RecordsExtracted += len(records)
	}
	if len(batches) > 0 {
		log.Info("reprocessing leftover blobs", "blobs", len(batches))
	}
	return batches
}

// transformStage maps raw batches to FOCUS records. Cancellation is checked
// per batch and inside the workflow per record.
func (c *Coordinator) transformStage(ctx context.Context, run *Run, p *provider.Provider, reg registry.Registration, batches []extract.RawBatch, log logr.Logger) ([]taggedRecord, error) {
	run.Stage = StageTransform
	ctx = logctx.WithStage(ctx, string(StageTransform))
	log = logctx.LoggerWithContext(c.log, ctx)
	started := time.Now()

	mapper, err := reg.NewMapper(p)
	if err != nil {
		return nil, fmt.Errorf("building mapper: %w", err)
	}
	wf := transform.NewWorkflow(p.ID, mapper, transform.WorkflowConfig{Strict: c.cfg.Strict}, log)

	var tagged []taggedRecord
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := wf.Run(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("transforming batch from %q: %w", batch.Source, err)
		}
		for i := range res.Records {
			tagged = append(tagged, taggedRecord{rec: res.Records[i], blobID: batch.BlobID})
		}
		run.Counters.RecordsTransformed += len(res.Records)
		run.Counters.RecordsSkipped += res.Skipped
		run.Counters.RecordsFailed += res.Rejected
	}

	if c.metrics != nil {
		c.metrics.RecordStage(string(StageTransform), time.Since(started))
		c.metrics.RecordRecords(string(p.Type), "transformed", run.Counters.RecordsTransformed)
		c.metrics.RecordRecords(string(p.Type), "skipped", run.Counters.RecordsSkipped)
	}
	if err := c.store.UpdateRun(ctx, run); err != nil {
		log.Error(err, "persisting run after transform")
	}
	return tagged, nil
}

// loadStage merges records in fixed-size batches, one transaction each. A
// surrogate-id collision retries the batch once with regenerated ids. The
// stage fails only when the failed-batch ratio exceeds the tolerance.
func (c *Coordinator) loadStage(ctx context.Context, run *Run, providerType string, tagged []taggedRecord, log logr.Logger) error {
	run.Stage = StageLoad
	ctx = logctx.WithStage(ctx, string(StageLoad))
	log = logctx.LoggerWithContext(c.log, ctx)
	started := time.Now()

	perBlob := map[string]int{}
	for i := range tagged {
		perBlob[tagged[i].blobID]++
	}

	loadedPerBlob := map[string]int{}
	totalBatches := 0
	failedBatches := 0
	for off := 0; off < len(tagged); off += c.cfg.LoadBatchSize {
		if err := ctx.Err(); err != nil {
			c.markProcessed(ctx, perBlob, loadedPerBlob, log)
			return err
		}
		end := off + c.cfg.LoadBatchSize
		if end > len(tagged) {
			end = len(tagged)
		}
		chunk := tagged[off:end]
		totalBatches++

		if err := c.loadBatch(ctx, chunk); err != nil {
			failedBatches++
			run.Counters.RecordsFailed += len(chunk)
			log.Error(err, "load batch failed", "batch", totalBatches, "records", len(chunk))
			continue
		}
		run.Counters.RecordsLoaded += len(chunk)
		for i := range chunk {
			loadedPerBlob[chunk[i].blobID]++
		}
	}

	c.markProcessed(ctx, perBlob, loadedPerBlob, log)

	if c.metrics != nil {
		c.metrics.RecordStage(string(StageLoad), time.Since(started))
		c.metrics.RecordRecords(providerType, "loaded", run.Counters.RecordsLoaded)
		c.metrics.RecordRecords(providerType, "failed", run.Counters.RecordsFailed)
	}

	if totalBatches > 0 {
		ratio := float64(failedBatches) / float64(totalBatches)
		if ratio > c.cfg.MaxBatchFailureRatio {
			return fmt.Errorf("load failed: %d of %d batches failed", failedBatches, totalBatches)
		}
	}
	return nil
}

// loadBatch upserts one chunk, retrying once with salted surrogate ids on a
// conflict.
func (c *Coordinator) loadBatch(ctx context.Context, chunk []taggedRecord) error {
	records := make([]focus.Record, len(chunk))
	for i := range chunk {
		records[i] = chunk[i].rec
	}

	_, err := c.store.UpsertRecords(ctx, records)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrLoadConflict) {
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordLoadConflict()
	}
	transform.AssignSurrogateIDs(records, uuid.NewString())
	if _, err := c.store.UpsertRecords(ctx, records); err != nil {
		return fmt.Errorf("retry after conflict: %w", err)
	}
	return nil
}

// markProcessed flags blobs whose records all loaded. A failure here is a
// warning only; the blobs are picked up again by a later run.
func (c *Coordinator) markProcessed(ctx context.Context, perBlob, loadedPerBlob map[string]int, log logr.Logger) {
	var done []string
	for id, total := range perBlob {
		if loadedPerBlob[id] == total {
			done = append(done, id)
		}
	}
	if len(done) == 0 {
		return
	}
	if _, err := c.store.MarkBlobsProcessed(ctx, done, time.Now().UTC()); err != nil {
		log.Error(err, "marking blobs processed", "blobs", len(done))
	}
}

// cleanupBlobs drops processed raw payloads past the retention horizon.
func (c *Coordinator) cleanupBlobs(ctx context.Context, log logr.Logger) {
	cutoff := time.Now().UTC().Add(-c.cfg.BlobHorizon)
	n, err := c.store.DeleteProcessedBlobs(ctx, cutoff)
	if err != nil {
		log.Error(err, "deleting processed blobs")
		return
	}
	if n > 0 {
		log.Info("deleted processed blobs past horizon", "blobs", n, "cutoff", cutoff)
	}
}

// finish moves the run to its terminal state, persists it, and stamps the
// provider's sync outcome. Cancellation wins over failure.
func (c *Coordinator) finish(ctx context.Context, run *Run, providerType string, cause error) error {
	switch {
	case cause == nil:
		if run.Status == StatusRunning {
			_ = run.Complete()
		}
	case errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded):
		_ = run.Cancel(cause.Error())
	default:
		if run.Status == StatusPending {
			// Failed before the first stage; still record why.
			_ = run.Start()
		}
		_ = run.Fail(cause.Error())
	}

	// The run must be persisted even when the trigger context is gone.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.store.UpdateRun(saveCtx, run); err != nil {
		c.log.Error(err, "persisting terminal run", "run", run.ID, "status", run.Status)
	}
	if err := c.store.RecordProviderSync(saveCtx, run.ProviderID, string(run.Status), time.Now().UTC()); err != nil {
		c.log.Error(err, "recording provider sync", "provider", run.ProviderID)
	}

	if c.metrics != nil && providerType != "" {
		c.metrics.RecordRun(providerType, string(run.Status), run.Duration())
	}
	c.log.Info("run finished", "run", run.ID, "status", run.Status,
		"loaded", run.Counters.RecordsLoaded, "failed", run.Counters.RecordsFailed)
	return cause
}
