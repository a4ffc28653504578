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

// Package extract pulls raw billing records from declarative sources. Each
// extractor interprets one source type and persists its output as raw blobs
// before the transform stage ever sees a record, so a crashed run can always
// be replayed from what was fetched.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/altairalabs/costflow/internal/source"
)

// DefaultBlobRecordCap bounds the records packed into one raw blob.
// Oversized source responses are chunked into multiple blobs.
const DefaultBlobRecordCap = 5000

// RawRecord is one unnormalized record as fetched from a source.
type RawRecord = map[string]any

// RawBlob is the persisted form of a chunk of extracted records. The payload
// is the JSON-encoded record array, retained verbatim for replay.
type RawBlob struct {
	ID          string
	ProviderID  string
	RunID       string
	Source      string
	SourceType  source.Type
	WindowStart time.Time
	WindowEnd   time.Time
	RecordCount int
	Payload     []byte
	CreatedAt   time.Time
}

// RawBatch pairs a persisted blob's records with the blob identity, so
// downstream stages can tie normalized records back to their raw origin.
type RawBatch struct {
	BlobID  string
	Source  string
	Records []RawRecord
}

// BlobSink persists raw blobs. The pipeline store implements it; tests use
// an in-memory fake.
type BlobSink interface {
	SaveRawBlob(ctx context.Context, blob *RawBlob) error
}

// Extractor fetches one source's records for a window. Implementations
// persist every raw blob through their sink before returning; a source that
// yields zero records succeeds without writing a blob.
type Extractor interface {
	Extract(ctx context.Context, spec source.Spec, win source.Window) ([]RawBatch, error)
}

// ErrorKind classifies source failures for reporting and retry decisions.
type ErrorKind string

// Source failure classes.
const (
	ErrorKindNetwork     ErrorKind = "network"
	ErrorKindAuth        ErrorKind = "auth"
	ErrorKindRateLimited ErrorKind = "rate_limited"
	ErrorKindBadRequest  ErrorKind = "bad_request"
	ErrorKindDecode      ErrorKind = "decode"
	ErrorKindStorage     ErrorKind = "storage"
	ErrorKindConfig      ErrorKind = "config"
)

// SourceError is a structured extraction failure tied to one source.
type SourceError struct {
	Source  string
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source %q: %s: %s: %v", e.Source, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("source %q: %s: %s", e.Source, e.Kind, e.Message)
}

func (e *SourceError) Unwrap() error { return e.Err }

// srcErr builds a SourceError wrapping err.
func srcErr(src string, kind ErrorKind, msg string, err error) *SourceError {
	return &SourceError{Source: src, Kind: kind, Message: msg, Err: err}
}

// Dispatcher routes a source spec to the extractor for its type.
type Dispatcher struct {
	byType map[source.Type]Extractor
}

// NewDispatcher builds a dispatcher over the per-type extractors. A nil
// extractor disables its type.
func NewDispatcher(rest, filesystem, sqldb Extractor) *Dispatcher {
	byType := make(map[source.Type]Extractor, 3)
	if rest != nil {
		byType[source.TypeRestAPI] = rest
	}
	if filesystem != nil {
		byType[source.TypeFilesystem] = filesystem
	}
	if sqldb != nil {
		byType[source.TypeSQL] = sqldb
	}
	return &Dispatcher{byType: byType}
}

// Extract validates the spec and delegates to the matching extractor.
func (d *Dispatcher) Extract(ctx context.Context, spec source.Spec, win source.Window) ([]RawBatch, error) {
	if err := spec.Validate(); err != nil {
		return nil, srcErr(spec.Name, ErrorKindConfig, "invalid source spec", err)
	}
	if err := win.Validate(); err != nil {
		return nil, srcErr(spec.Name, ErrorKindConfig, "invalid window", err)
	}
	ex, ok := d.byType[spec.Type]
	if !ok {
		return nil, srcErr(spec.Name, ErrorKindConfig,
			fmt.Sprintf("no extractor for source type %q", spec.Type), nil)
	}
	return ex.Extract(ctx, spec, win)
}

var _ Extractor = (*Dispatcher)(nil)

// accumulator packs records into capped blobs and persists each full blob
// through the sink as it closes.
type accumulator struct {
	sink       BlobSink
	providerID string
	runID      string
	source     string
	sourceType source.Type
	win        source.Window
	cap        int

	pending []RawRecord
	batches []RawBatch
}

func newAccumulator(sink BlobSink, providerID, runID string, spec source.Spec, win source.Window, cap int) *accumulator {
	if cap <= 0 {
		cap = DefaultBlobRecordCap
	}
	return &accumulator{
		sink:       sink,
		providerID: providerID,
		runID:      runID,
		source:     spec.Name,
		sourceType: spec.Type,
		win:        win,
		cap:        cap,
	}
}

// add appends one record, flushing a blob when the cap is reached.
func (a *accumulator) add(ctx context.Context, rec RawRecord) error {
	a.pending = append(a.pending, rec)
	if len(a.pending) >= a.cap {
		return a.flush(ctx)
	}
	return nil
}

// flush persists the pending records as one blob. No-op when empty.
func (a *accumulator) flush(ctx context.Context) error {
	if len(a.pending) == 0 {
		return nil
	}
	payload, err := json.Marshal(a.pending)
	if err != nil {
		return srcErr(a.source, ErrorKindDecode, "encoding raw payload", err)
	}
	blob := &RawBlob{
		ID:          uuid.NewString(),
		ProviderID:  a.providerID,
		RunID:       a.runID,
		Source:      a.source,
		SourceType:  a.sourceType,
		WindowStart: a.win.Start,
		WindowEnd:   a.win.End,
		RecordCount: len(a.pending),
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.sink.SaveRawBlob(ctx, blob); err != nil {
		return srcErr(a.source, ErrorKindStorage, "persisting raw blob", err)
	}
	a.batches = append(a.batches, RawBatch{BlobID: blob.ID, Source: a.source, Records: a.pending})
	a.pending = nil
	return nil
}

// finish flushes the tail and returns all persisted batches.
func (a *accumulator) finish(ctx context.Context) ([]RawBatch, error) {
	if err := a.flush(ctx); err != nil {
		return nil, err
	}
	return a.batches, nil
}

// total returns the record count across persisted and pending records.
func (a *accumulator) total() int {
	n := len(a.pending)
	for i := range a.batches {
		n += len(a.batches[i].Records)
	}
	return n
}
