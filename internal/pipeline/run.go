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

// Package pipeline coordinates billing syncs: it owns the run entity and its
// state machine, the extract-transform-load orchestration, and the trigger
// surface collaborators call.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/altairalabs/costflow/internal/source"
)

// Status is the lifecycle state of a run.
type Status string

// Run lifecycle states. Completed, failed and cancelled are terminal.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// RunType records what triggered a run.
type RunType string

// Run trigger types.
const (
	RunTypeManual    RunType = "manual"
	RunTypeScheduled RunType = "scheduled"
	RunTypeRetry     RunType = "retry"
)

// Stage names the pipeline stage a running run is in.
type Stage string

// Pipeline stages in execution order.
const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// Sentinel errors for run operations.
var (
	// ErrRunNotFound indicates the run id does not exist.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunNotCancellable indicates the run is already terminal.
	ErrRunNotCancellable = errors.New("run is not cancellable")
	// ErrRunNotTerminal indicates retry was requested on a live run.
	ErrRunNotTerminal = errors.New("run has not finished")
	// ErrLoadConflict indicates a surrogate-id collision inside a load batch.
	// The batch is retried once with regenerated surrogate ids.
	ErrLoadConflict = errors.New("load conflict")
)

// Counters aggregates per-stage record counts for a run.
type Counters struct {
	SourcesTotal       int
	SourcesFailed      int
	RecordsExtracted   int
	RecordsTransformed int
	RecordsSkipped     int
	RecordsLoaded      int
	RecordsFailed      int
}

// Run is one extract-transform-load invocation on a (provider, window) pair.
type Run struct {
	ID         string
	ProviderID string
	// RetryOf links a retry run back to the run it replays.
	RetryOf     string
	Type        RunType
	Status      Status
	Stage       Stage
	WindowStart time.Time
	WindowEnd   time.Time
	Counters    Counters
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewRun creates a pending run for the given provider and window.
func NewRun(providerID string, runType RunType, win source.Window) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:          uuid.NewString(),
		ProviderID:  providerID,
		Type:        runType,
		Status:      StatusPending,
		WindowStart: win.Start,
		WindowEnd:   win.End,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Window returns the run's extraction window.
func (r *Run) Window() source.Window {
	return source.Window{Start: r.WindowStart, End: r.WindowEnd}
}

// Duration is the elapsed time between start and completion; zero until both
// timestamps are set.
func (r *Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// transition validates and applies a status change.
func (r *Run) transition(to Status) error {
	ok := false
	switch to {
	case StatusRunning:
		ok = r.Status == StatusPending
	case StatusCompleted, StatusFailed:
		ok = r.Status == StatusRunning
	case StatusCancelled:
		ok = r.Status == StatusPending || r.Status == StatusRunning
	}
	if !ok {
		return fmt.Errorf("invalid run transition %s -> %s", r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	if to.Terminal() {
		r.CompletedAt = r.UpdatedAt
	}
	return nil
}

// Start moves the run from pending to running.
func (r *Run) Start() error {
	if err := r.transition(StatusRunning); err != nil {
		return err
	}
	r.StartedAt = r.UpdatedAt
	return nil
}

// Complete marks a running run successful.
func (r *Run) Complete() error { return r.transition(StatusCompleted) }

// Fail marks a running run failed with a reason.
func (r *Run) Fail(reason string) error {
	if err := r.transition(StatusFailed); err != nil {
		return err
	}
	r.Error = reason
	return nil
}

// Cancel marks a pending or running run cancelled.
func (r *Run) Cancel(reason string) error {
	if r.Status.Terminal() {
		return fmt.Errorf("%w: status %s", ErrRunNotCancellable, r.Status)
	}
	if err := r.transition(StatusCancelled); err != nil {
		return err
	}
	r.Error = reason
	return nil
}

// Retry derives a new pending run replaying this run's window. Only terminal
// runs may be retried.
func (r *Run) Retry() (*Run, error) {
	if !r.Status.Terminal() {
		return nil, fmt.Errorf("%w: status %s", ErrRunNotTerminal, r.Status)
	}
	next := NewRun(r.ProviderID, RunTypeRetry, r.Window())
	next.RetryOf = r.ID
	return next, nil
}

// ResolveWindow applies the defaulting rules for a sync window. With no
// bounds given, the window ends at the start of tomorrow UTC and spans seven
// days; daysBack overrides the span. Explicit bounds are used as given.
func ResolveWindow(start, end time.Time, daysBack int, now time.Time) (source.Window, error) {
	if end.IsZero() {
		today := now.UTC().Truncate(24 * time.Hour)
		end = today.AddDate(0, 0, 1)
	}
	if start.IsZero() {
		back := daysBack
		if back <= 0 {
			back = 7
		}
		start = end.AddDate(0, 0, -back)
	}

	win := source.Window{Start: start.UTC(), End: end.UTC()}
	if err := win.Validate(); err != nil {
		return source.Window{}, err
	}
	return win, nil
}
