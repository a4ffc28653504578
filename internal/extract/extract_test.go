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

package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/costflow/internal/source"
)

// memSink collects saved blobs in memory.
type memSink struct {
	blobs []*RawBlob
	err   error
}

func (m *memSink) SaveRawBlob(_ context.Context, blob *RawBlob) error {
	if m.err != nil {
		return m.err
	}
	m.blobs = append(m.blobs, blob)
	return nil
}

func testWindow() source.Window {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return source.Window{Start: start, End: start.AddDate(0, 0, 7)}
}

func usageSpec() source.Spec {
	return source.Spec{Name: "usage", Type: source.TypeRestAPI,
		RestAPI: &source.RestAPISpec{Path: "/v1/usage"}}
}

func TestAccumulatorChunksAtCap(t *testing.T) {
	ctx := context.Background()
	sink := &memSink{}
	acc := newAccumulator(sink, "prov-1", "run-1", usageSpec(), testWindow(), 3)

	for i := 0; i < 7; i++ {
		require.NoError(t, acc.add(ctx, RawRecord{"n": i}))
	}
	batches, err := acc.finish(ctx)
	require.NoError(t, err)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Records, 3)
	assert.Len(t, batches[1].Records, 3)
	assert.Len(t, batches[2].Records, 1)
	require.Len(t, sink.blobs, 3)

	for i, blob := range sink.blobs {
		assert.Equal(t, batches[i].BlobID, blob.ID)
		assert.Equal(t, "prov-1", blob.ProviderID)
		assert.Equal(t, "run-1", blob.RunID)
		assert.Equal(t, "usage", blob.Source)
		assert.Equal(t, source.TypeRestAPI, blob.SourceType)
		assert.Equal(t, len(batches[i].Records), blob.RecordCount)

		// Payload is the verbatim JSON of the batch records.
		var decoded []RawRecord
		require.NoError(t, json.Unmarshal(blob.Payload, &decoded))
		assert.Len(t, decoded, blob.RecordCount)
	}
}

func TestAccumulatorEmptyWritesNothing(t *testing.T) {
	sink := &memSink{}
	acc := newAccumulator(sink, "prov-1", "run-1", usageSpec(), testWindow(), 3)

	batches, err := acc.finish(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.Empty(t, sink.blobs)
}

func TestAccumulatorSinkFailure(t *testing.T) {
	sink := &memSink{err: errors.New("db down")}
	acc := newAccumulator(sink, "prov-1", "run-1", usageSpec(), testWindow(), 1)

	err := acc.add(context.Background(), RawRecord{"a": 1})
	require.Error(t, err)

	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrorKindStorage, se.Kind)
	assert.Equal(t, "usage", se.Source)
}

// fakeExtractor returns canned batches.
type fakeExtractor struct {
	batches []RawBatch
	err     error
}

func (f *fakeExtractor) Extract(context.Context, source.Spec, source.Window) ([]RawBatch, error) {
	return f.batches, f.err
}

func TestDispatcherRoutesByType(t *testing.T) {
	rest := &fakeExtractor{batches: []RawBatch{{BlobID: "rest"}}}
	fsys := &fakeExtractor{batches: []RawBatch{{BlobID: "fs"}}}

	d := NewDispatcher(rest, fsys, nil)

	spec := source.Spec{Name: "u", Type: source.TypeRestAPI, RestAPI: &source.RestAPISpec{Path: "/v1/usage"}}
	got, err := d.Extract(context.Background(), spec, testWindow())
	require.NoError(t, err)
	assert.Equal(t, "rest", got[0].BlobID)

	spec = source.Spec{
		Name: "f", Type: source.TypeFilesystem,
		Filesystem: &source.FilesystemSpec{URL: "mem://b", Format: source.FormatCSV},
	}
	got, err = d.Extract(context.Background(), spec, testWindow())
	require.NoError(t, err)
	assert.Equal(t, "fs", got[0].BlobID)
}

func TestDispatcherRejectsInvalidSpecAndWindow(t *testing.T) {
	d := NewDispatcher(&fakeExtractor{}, nil, nil)

	_, err := d.Extract(context.Background(), source.Spec{Name: "x", Type: "bogus"}, testWindow())
	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrorKindConfig, se.Kind)

	spec := source.Spec{Name: "u", Type: source.TypeRestAPI, RestAPI: &source.RestAPISpec{Path: "/v1"}}
	_, err = d.Extract(context.Background(), spec, source.Window{})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrorKindConfig, se.Kind)
}

func TestDispatcherUnwiredType(t *testing.T) {
	d := NewDispatcher(&fakeExtractor{}, nil, nil)

	spec := source.Spec{
		Name: "w", Type: source.TypeSQL,
		SQL: &source.SQLSpec{Driver: "snowflake", Query: "SELECT 1"},
	}
	_, err := d.Extract(context.Background(), spec, testWindow())
	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrorKindConfig, se.Kind)
	assert.Contains(t, err.Error(), "no extractor")
}

func TestSourceErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("boom")
	err := srcErr("usage", ErrorKindNetwork, "request failed", inner)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "usage")
	assert.Contains(t, err.Error(), "network")
}
