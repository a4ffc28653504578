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
	"bytes"
	"compress/gzip"
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/costflow/internal/blobstore"
	"github.com/altairalabs/costflow/internal/source"
)

// usageRow is the parquet schema used by filesystem extractor tests.
type usageRow struct {
	LineItemID  string  `parquet:"line_item_id"`
	UsageStart  string  `parquet:"usage_start"`
	BilledCost  float64 `parquet:"billed_cost"`
	ServiceName string  `parquet:"service_name"`
}

func writeParquet(t *testing.T, rows []usageRow) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[usageRow](&buf, parquet.Compression(&parquet.Snappy))
	_, err := w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func memOpener(store blobstore.Store) blobstore.Opener {
	return func(context.Context, blobstore.Location, blobstore.Config) (blobstore.Store, error) {
		return store, nil
	}
}

func fsSpec(format source.FileFormat, glob string, comp source.Compression, df source.DateFilter) source.Spec {
	return source.Spec{
		Name: "export",
		Type: source.TypeFilesystem,
		Filesystem: &source.FilesystemSpec{
			URL:         "mem://exports/cur",
			Glob:        glob,
			Format:      format,
			Compression: comp,
			DateFilter:  df,
		},
	}
}

func TestFilesystemExtractorParquet(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	data := writeParquet(t, []usageRow{
		{LineItemID: "a", UsageStart: "2024-03-02T00:00:00Z", BilledCost: 1.25, ServiceName: "ec2"},
		{LineItemID: "b", UsageStart: "2024-03-03T00:00:00Z", BilledCost: 2.50, ServiceName: "s3"},
	})
	require.NoError(t, store.Put(ctx, "cur/part-000.parquet", data, "application/octet-stream"))
	require.NoError(t, store.Put(ctx, "cur/manifest.json", []byte("{}"), "application/json"))

	sink := &memSink{}
	ex := NewFilesystemExtractor("prov-1", "run-1", sink, memOpener(store), blobstore.Config{}, logr.Discard())

	batches, err := ex.Extract(ctx, fsSpec(source.FormatParquet, "*.parquet", "", source.DateFilter{}), testWindow())
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Records, 2)

	rec := batches[0].Records[0]
	assert.Equal(t, "a", rec["line_item_id"])
	assert.Equal(t, 1.25, rec["billed_cost"])
	require.Len(t, sink.blobs, 1)
}

func TestFilesystemExtractorParquetDateFilter(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	data := writeParquet(t, []usageRow{
		{LineItemID: "in", UsageStart: "2024-03-02T00:00:00Z", BilledCost: 1},
		{LineItemID: "before", UsageStart: "2024-02-20T00:00:00Z", BilledCost: 2},
		{LineItemID: "after", UsageStart: "2024-03-20T00:00:00Z", BilledCost: 3},
	})
	require.NoError(t, store.Put(ctx, "cur/part-000.parquet", data, "application/octet-stream"))

	sink := &memSink{}
	ex := NewFilesystemExtractor("prov-1", "run-1", sink, memOpener(store), blobstore.Config{}, logr.Discard())

	spec := fsSpec(source.FormatParquet, "*.parquet", "", source.DateFilter{Column: "usage_start"})
	batches, err := ex.Extract(ctx, spec, testWindow())
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Records, 1)
	assert.Equal(t, "in", batches[0].Records[0]["line_item_id"])
}

func TestFilesystemExtractorCSV(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	csvData := "line_item_id,billed_cost\na,1.25\nb,2.50\n"
	require.NoError(t, store.Put(ctx, "cur/daily.csv", []byte(csvData), "text/csv"))

	sink := &memSink{}
	ex := NewFilesystemExtractor("prov-1", "run-1", sink, memOpener(store), blobstore.Config{}, logr.Discard())

	batches, err := ex.Extract(ctx, fsSpec(source.FormatCSV, "*.csv", "", source.DateFilter{}), testWindow())
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Records, 2)
	assert.Equal(t, "1.25", batches[0].Records[0]["billed_cost"])
}

func TestFilesystemExtractorGzippedJSONL(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(`{"line_item_id":"a","billed_cost":1.25}` + "\n\n" + `{"line_item_id":"b","billed_cost":2.5}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, store.Put(ctx, "cur/usage.jsonl.gz", buf.Bytes(), "application/gzip"))

	sink := &memSink{}
	ex := NewFilesystemExtractor("prov-1", "run-1", sink, memOpener(store), blobstore.Config{}, logr.Discard())

	spec := fsSpec(source.FormatJSONL, "*.jsonl.gz", source.CompressionGzip, source.DateFilter{})
	batches, err := ex.Extract(ctx, spec, testWindow())
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Records, 2)
	assert.Equal(t, "a", batches[0].Records[0]["line_item_id"])
}

func TestFilesystemExtractorNoMatches(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "cur/readme.txt", []byte("x"), "text/plain"))

	sink := &memSink{}
	ex := NewFilesystemExtractor("prov-1", "run-1", sink, memOpener(store), blobstore.Config{}, logr.Discard())

	batches, err := ex.Extract(ctx, fsSpec(source.FormatParquet, "*.parquet", "", source.DateFilter{}), testWindow())
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.Empty(t, sink.blobs)
}

func TestFilesystemExtractorBadPayload(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "cur/part-000.parquet", []byte("not parquet"), "application/octet-stream"))

	sink := &memSink{}
	ex := NewFilesystemExtractor("prov-1", "run-1", sink, memOpener(store), blobstore.Config{}, logr.Discard())

	_, err := ex.Extract(ctx, fsSpec(source.FormatParquet, "*.parquet", "", source.DateFilter{}), testWindow())
	require.Error(t, err)

	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrorKindDecode, se.Kind)
}

func TestCoerceTime(t *testing.T) {
	want := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	got, ok := coerceTime("2024-03-02T00:00:00Z")
	require.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = coerceTime("2024-03-02")
	require.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = coerceTime(want.Unix())
	require.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = coerceTime(want.UnixMilli())
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = coerceTime("garbage")
	assert.False(t, ok)

	_, ok = coerceTime(map[string]any{})
	assert.False(t, ok)
}
