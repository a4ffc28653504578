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
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/altairalabs/costflow/internal/provider"
	"github.com/altairalabs/costflow/internal/registry"
)

// defaultStatsDays is the lookback for stats when no span is given.
const defaultStatsDays = 30

// TriggerRequest asks for syncs. With no provider id, every active provider
// is synced. Window bounds default per ResolveWindow.
type TriggerRequest struct {
	ProviderID string
	Start      time.Time
	End        time.Time
	DaysBack   int
	// Type defaults to manual.
	Type RunType
}

// TriggerResult reports the runs started and the providers that could not
// start, keyed by provider id.
type TriggerResult struct {
	RunIDs []string
	Errors map[string]string
}

// Stats bundles run outcomes and cost aggregates for the stats surface.
type Stats struct {
	Since time.Time
	Runs  []RunStats
	Costs []CostSummary
}

// Service is the trigger surface over the coordinator: it creates runs,
// executes them asynchronously with bounded parallelism, and tracks live
// runs so they can be cancelled.
type Service struct {
	store    Store
	registry *registry.Registry
	coord    *Coordinator
	log      logr.Logger
	sem      chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewService builds the service. workers bounds concurrent provider syncs;
// zero or negative means the coordinator default of 4.
func NewService(store Store, reg *registry.Registry, coord *Coordinator, workers int, log logr.Logger) *Service {
	if workers <= 0 {
		workers = DefaultConfig().Workers
	}
	return &Service{
		store:    store,
		registry: reg,
		coord:    coord,
		log:      log.WithName("pipeline"),
		sem:      make(chan struct{}, workers),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Trigger creates and starts runs for the request. Runs execute in the
// background; the result lists what was started. Per-provider failures do
// not abort the remaining providers.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	win, err := ResolveWindow(req.Start, req.End, req.DaysBack, time.Now())
	if err != nil {
		return nil, err
	}
	runType := req.Type
	if runType == "" {
		runType = RunTypeManual
	}

	providers, err := s.targets(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}

	res := &TriggerResult{Errors: map[string]string{}}
	for _, p := range providers {
		run := NewRun(p.ID, runType, win)
		if err := s.store.CreateRun(ctx, run); err != nil {
			res.Errors[p.ID] = err.Error()
			continue
		}
		res.RunIDs = append(res.RunIDs, run.ID)
		s.launch(run)
	}
	return res, nil
}

// targets resolves the providers a trigger applies to.
func (s *Service) targets(ctx context.Context, providerID string) ([]*provider.Provider, error) {
	if providerID != "" {
		p, err := s.store.GetProvider(ctx, providerID)
		if err != nil {
			return nil, err
		}
		if !p.Active {
			return nil, fmt.Errorf("provider %q is not active", providerID)
		}
		return []*provider.Provider{p}, nil
	}
	return s.store.ListActiveProviders(ctx)
}

// launch executes one run in the background. The run context is detached
// from the trigger's request context and cancelled either by Cancel or at
// shutdown.
func (s *Service) launch(run *Run) {
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[run.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, run.ID)
			s.mu.Unlock()
			cancel()
		}()

		// Bounded parallelism across providers; cancellation while queued
		// still cancels the run.
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-runCtx.Done():
		}

		if err := s.coord.Execute(runCtx, run); err != nil {
			s.log.V(1).Info("run did not complete", "run", run.ID, "error", err.Error())
		}
	}()
}

// Cancel stops a pending or running run. Live runs are cancelled through
// their context; a pending run with no live execution (after a crash) is
// cancelled directly in the store.
func (s *Service) Cancel(ctx context.Context, runID string) (*Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, fmt.Errorf("%w: status %s", ErrRunNotCancellable, run.Status)
	}

	s.mu.Lock()
	cancel, live := s.cancels[runID]
	s.mu.Unlock()
	if live {
		cancel()
		return run, nil
	}

	if err := run.Cancel("cancelled by request"); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Retry replays a terminal run's window as a new linked run.
func (s *Service) Retry(ctx context.Context, runID string) (*Run, error) {
	prev, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	next, err := prev.Retry()
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateRun(ctx, next); err != nil {
		return nil, err
	}
	s.launch(next)
	return next, nil
}

// GetRun returns one run.
func (s *Service) GetRun(ctx context.Context, runID string) (*Run, error) {
	return s.store.GetRun(ctx, runID)
}

// Status lists recent runs, newest first, optionally narrowed to a provider.
func (s *Service) Status(ctx context.Context, providerID string, limit int) ([]*Run, error) {
	return s.store.ListRuns(ctx, RunFilter{ProviderID: providerID, Limit: limit})
}

// Stats aggregates run outcomes and loaded costs over a lookback of days,
// defaulting to 30.
func (s *Service) Stats(ctx context.Context, providerID string, days int) (*Stats, error) {
	if days <= 0 {
		days = defaultStatsDays
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	runs, err := s.store.RunStats(ctx, providerID, since)
	if err != nil {
		return nil, err
	}
	costs, err := s.store.CostStats(ctx, providerID, since)
	if err != nil {
		return nil, err
	}
	return &Stats{Since: since, Runs: runs, Costs: costs}, nil
}

// ValidateProvider checks a provider's auth and source configuration
// without extracting, and records the outcome on the provider row.
func (s *Service) ValidateProvider(ctx context.Context, providerID string) error {
	p, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		return err
	}

	vErr := s.validate(p)
	ok := vErr == nil
	if err := s.store.SetProviderValidated(ctx, p.ID, ok); err != nil {
		return err
	}
	return vErr
}

func (s *Service) validate(p *provider.Provider) error {
	reg, err := s.registry.Lookup(p.Type)
	if err != nil {
		return err
	}
	if _, err := provider.Resolve(&reg.Metadata, p.Auth); err != nil {
		return err
	}
	win, err := ResolveWindow(time.Time{}, time.Time{}, 1, time.Now())
	if err != nil {
		return err
	}
	if _, err := reg.NewSources(p, win); err != nil {
		return err
	}
	return nil
}

// Shutdown cancels all live runs and waits for them to finish or the
// context to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
