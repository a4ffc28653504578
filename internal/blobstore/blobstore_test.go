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

package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Location
		wantErr bool
	}{
		{
			name: "s3 with prefix",
			raw:  "s3://billing-exports/cur/v1",
			want: Location{Scheme: "s3", Bucket: "billing-exports", Prefix: "cur/v1"},
		},
		{
			name: "gs bucket only",
			raw:  "gs://usage-data",
			want: Location{Scheme: "gs", Bucket: "usage-data", Prefix: ""},
		},
		{
			name: "azure container",
			raw:  "az://costexports/daily",
			want: Location{Scheme: "az", Bucket: "costexports", Prefix: "daily"},
		},
		{
			name: "file path",
			raw:  "file:///var/exports",
			want: Location{Scheme: "file", Bucket: "", Prefix: "/var/exports"},
		},
		{name: "missing bucket", raw: "s3:///prefix", wantErr: true},
		{name: "unknown scheme", raw: "ftp://host/path", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, store.Put(ctx, "exports/2024/01/part-0.jsonl", []byte("a"), "application/x-ndjson"))
	require.NoError(t, store.Put(ctx, "exports/2024/01/part-1.jsonl", []byte("b"), "application/x-ndjson"))
	require.NoError(t, store.Put(ctx, "exports/2024/02/part-0.jsonl", []byte("c"), "application/x-ndjson"))

	data, err := store.Get(ctx, "exports/2024/01/part-0.jsonl")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data)

	keys, err := store.List(ctx, "exports/2024/01/")
	require.NoError(t, err)
	assert.Equal(t, []string{"exports/2024/01/part-0.jsonl", "exports/2024/01/part-1.jsonl"}, keys)

	exists, err := store.Exists(ctx, "exports/2024/02/part-0.jsonl")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, 3, store.Len())
}

func TestMemoryStoreCopiesData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	buf := []byte("original")
	require.NoError(t, store.Put(ctx, "k", buf, "text/plain"))
	buf[0] = 'X'

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data)
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(ctx, "missing.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, store.Put(ctx, "daily/2024-01-01.csv", []byte("date,cost\n"), "text/csv"))
	require.NoError(t, store.Put(ctx, "daily/2024-01-02.csv", []byte("date,cost\n"), "text/csv"))
	require.NoError(t, store.Put(ctx, "monthly/2024-01.csv", []byte("date,cost\n"), "text/csv"))

	data, err := store.Get(ctx, "daily/2024-01-01.csv")
	require.NoError(t, err)
	assert.Equal(t, []byte("date,cost\n"), data)

	keys, err := store.List(ctx, "daily/")
	require.NoError(t, err)
	assert.Equal(t, []string{"daily/2024-01-01.csv", "daily/2024-01-02.csv"}, keys)

	exists, err := store.Exists(ctx, "monthly/2024-01.csv")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalStoreRejectsEscape(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.Put(ctx, "../outside", []byte("x"), "text/plain"))
	_, err = store.Get(ctx, "../../etc/passwd")
	assert.Error(t, err)
}

func TestMatchGlob(t *testing.T) {
	keys := []string{
		"cur/part-000.parquet",
		"cur/part-001.parquet",
		"cur/manifest.json",
		"cur/nested/part-002.parquet",
	}

	assert.Equal(t, []string{
		"cur/part-000.parquet",
		"cur/part-001.parquet",
		"cur/nested/part-002.parquet",
	}, MatchGlob(keys, "*.parquet"))

	assert.Equal(t, keys, MatchGlob(keys, ""))
	assert.Empty(t, MatchGlob(keys, "*.csv"))
}
