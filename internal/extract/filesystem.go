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
	"time"

	"github.com/go-logr/logr"

	"github.com/altairalabs/costflow/internal/blobstore"
	"github.com/altairalabs/costflow/internal/source"
)

// FilesystemExtractor reads billing export files from object storage or the
// local filesystem, decoding parquet, CSV or JSONL parts.
type FilesystemExtractor struct {
	providerID string
	runID      string
	sink       BlobSink
	open       blobstore.Opener
	storeCfg   blobstore.Config
	blobCap    int
	log        logr.Logger
}

// NewFilesystemExtractor builds a filesystem extractor. open resolves store
// URLs to connected stores; tests pass an opener returning memory stores.
func NewFilesystemExtractor(providerID, runID string, sink BlobSink, open blobstore.Opener, storeCfg blobstore.Config, log logr.Logger) *FilesystemExtractor {
	if open == nil {
		open = blobstore.Open
	}
	return &FilesystemExtractor{
		providerID: providerID,
		runID:      runID,
		sink:       sink,
		open:       open,
		storeCfg:   storeCfg,
		blobCap:    DefaultBlobRecordCap,
		log:        log.WithName("filesystem-extractor"),
	}
}

// Extract lists files under the source URL, filters them by glob, and decodes
// each matching file. Records failing the date filter are dropped.
func (f *FilesystemExtractor) Extract(ctx context.Context, spec source.Spec, win source.Window) ([]RawBatch, error) {
	fs := spec.Filesystem
	if fs == nil {
		return nil, srcErr(spec.Name, ErrorKindConfig, "filesystem config missing", nil)
	}

	loc, err := blobstore.ParseURL(fs.URL)
	if err != nil {
		return nil, srcErr(spec.Name, ErrorKindConfig, "parsing source URL", err)
	}

	store, err := f.open(ctx, loc, f.storeCfg)
	if err != nil {
		return nil, srcErr(spec.Name, ErrorKindStorage, "opening object store", err)
	}
	defer func() { _ = store.Close() }()

	prefix := loc.Prefix
	if loc.Scheme == "file" {
		// LocalStore is rooted at the path, keys are relative to it.
		prefix = ""
	}

	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, srcErr(spec.Name, ErrorKindStorage, "listing objects", err)
	}
	keys = blobstore.MatchGlob(keys, fs.Glob)

	filter := fs.DateFilter
	if filter.Column != "" && filter.Start.IsZero() && filter.End.IsZero() {
		filter.Start, filter.End = win.Start, win.End
	}

	acc := newAccumulator(f.sink, f.providerID, f.runID, spec, win, f.blobCap)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := store.Get(ctx, key)
		if err != nil {
			return nil, srcErr(spec.Name, ErrorKindStorage, "reading "+key, err)
		}

		records, err := decodeFile(data, fs.Format, fs.Compression, filter)
		if err != nil {
			return nil, srcErr(spec.Name, ErrorKindDecode, "decoding "+key, err)
		}

		f.log.V(1).Info("decoded export file",
			"source", spec.Name, "key", key, "records", len(records))

		for _, rec := range records {
			if err := acc.add(ctx, rec); err != nil {
				return nil, err
			}
		}
	}

	return acc.finish(ctx)
}

// decodeFile dispatches on the declared format.
func decodeFile(data []byte, format source.FileFormat, comp source.Compression, filter source.DateFilter) ([]RawRecord, error) {
	switch format {
	case source.FormatParquet:
		return decodeParquet(data, filter)
	case source.FormatCSV:
		return decodeCSV(data, comp, filter)
	case source.FormatJSONL:
		return decodeJSONL(data, comp, filter)
	default:
		return nil, srcErr("", ErrorKindConfig, "unsupported file format "+string(format), nil)
	}
}

// passesDateFilter keeps records whose filter column falls inside
// [Start, End). Records without a parseable value pass through; the
// validator catches genuinely broken periods downstream.
func passesDateFilter(rec RawRecord, filter source.DateFilter) bool {
	if filter.Column == "" {
		return true
	}
	raw, ok := rec[filter.Column]
	if !ok {
		return true
	}
	t, ok := coerceTime(raw)
	if !ok {
		return true
	}
	if !filter.Start.IsZero() && t.Before(filter.Start) {
		return false
	}
	if !filter.End.IsZero() && !t.Before(filter.End) {
		return false
	}
	return true
}

// coerceTime interprets a raw cell as a timestamp: RFC3339, a date, or unix
// seconds/millis/micros/nanos by magnitude.
func coerceTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	case int64:
		return unixByMagnitude(x), true
	case int:
		return unixByMagnitude(int64(x)), true
	case float64:
		return unixByMagnitude(int64(x)), true
	default:
		return time.Time{}, false
	}
}

// unixByMagnitude guesses the unix epoch unit from the value's size.
func unixByMagnitude(n int64) time.Time {
	switch {
	case n > 1e17: // nanoseconds
		return time.Unix(0, n).UTC()
	case n > 1e14: // microseconds
		return time.UnixMicro(n).UTC()
	case n > 1e11: // milliseconds
		return time.UnixMilli(n).UTC()
	default: // seconds
		return time.Unix(n, 0).UTC()
	}
}
