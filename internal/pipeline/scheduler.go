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
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

// ConfigKeySyncSchedule is the provider additional-config key holding a
// cron expression overriding the scheduler default.
const ConfigKeySyncSchedule = "sync_schedule"

// DefaultSchedule syncs daily at 03:00 UTC, after most providers have
// settled the previous day's usage.
const DefaultSchedule = "0 3 * * *"

// Scheduler triggers scheduled syncs per active provider. Each provider
// gets one cron entry, using its own sync_schedule when set. Parallelism
// across providers is bounded by the service's worker pool.
type Scheduler struct {
	svc         *Service
	store       Store
	defaultSpec string
	cron        *cron.Cron
	log         logr.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewScheduler builds a scheduler over the service. An empty defaultSpec
// takes DefaultSchedule.
func NewScheduler(svc *Service, store Store, defaultSpec string, log logr.Logger) *Scheduler {
	if defaultSpec == "" {
		defaultSpec = DefaultSchedule
	}
	return &Scheduler{
		svc:         svc,
		store:       store,
		defaultSpec: defaultSpec,
		cron:        cron.New(cron.WithLocation(time.UTC)),
		log:         log.WithName("scheduler"),
		entries:     map[string]cron.EntryID{},
	}
}

// Start loads the active providers and begins firing their schedules.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Reload re-reads the active providers and reconciles the cron entries:
// new providers gain entries, removed or deactivated ones lose theirs, and
// changed schedules are re-registered. Safe to call while running.
func (s *Scheduler) Reload(ctx context.Context) error {
	providers, err := s.store.ListActiveProviders(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	for _, p := range providers {
		seen[p.ID] = true
		spec := p.AdditionalConfig[ConfigKeySyncSchedule]
		if spec == "" {
			spec = s.defaultSpec
		}

		if id, ok := s.entries[p.ID]; ok {
			s.cron.Remove(id)
		}
		providerID := p.ID
		entryID, err := s.cron.AddFunc(spec, func() { s.fire(providerID) })
		if err != nil {
			s.log.Error(err, "invalid sync schedule, provider skipped",
				"provider", p.ID, "schedule", spec)
			delete(s.entries, p.ID)
			continue
		}
		s.entries[p.ID] = entryID
		s.log.Info("provider scheduled", "provider", p.ID, "schedule", spec)
	}

	for providerID, id := range s.entries {
		if !seen[providerID] {
			s.cron.Remove(id)
			delete(s.entries, providerID)
		}
	}
	return nil
}

// fire triggers one scheduled sync. Trigger itself is asynchronous, so a
// slow run never blocks the cron goroutine.
func (s *Scheduler) fire(providerID string) {
	res, err := s.svc.Trigger(context.Background(), TriggerRequest{
		ProviderID: providerID,
		Type:       RunTypeScheduled,
	})
	if err != nil {
		s.log.Error(err, "scheduled sync failed to start", "provider", providerID)
		return
	}
	s.log.Info("scheduled sync started", "provider", providerID, "runs", res.RunIDs)
}

// Stop halts the cron and waits for in-flight entry callbacks to return.
// Live runs keep executing; stop those through the service.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
