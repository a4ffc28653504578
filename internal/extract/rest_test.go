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
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/costflow/internal/provider"
	"github.com/altairalabs/costflow/internal/source"
)

func fastRESTConfig() RESTConfig {
	cfg := DefaultRESTConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.RequestsPerSecond = 0
	return cfg
}

func bearerAuth(token string) *provider.AuthConfig {
	return &provider.AuthConfig{
		Method:      provider.AuthBearerToken,
		BearerToken: &provider.BearerTokenAuth{Token: token},
	}
}

func restSpec(p source.Pagination) source.Spec {
	return source.Spec{
		Name: "usage",
		Type: source.TypeRestAPI,
		RestAPI: &source.RestAPISpec{
			Path:             "/v1/usage",
			ResponseSelector: "data",
			Pagination:       p,
		},
	}
}

func TestRESTExtractorSinglePage(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "a", "cost": 1.5},
				{"id": "b", "cost": 2.5},
			},
		})
	}))
	defer srv.Close()

	sink := &memSink{}
	ex := NewRESTExtractor("prov-1", "run-1", srv.URL, bearerAuth("sk-test"), sink, fastRESTConfig(), logr.Discard())

	batches, err := ex.Extract(context.Background(), restSpec(source.Pagination{}), testWindow())
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Records, 2)
	require.Len(t, sink.blobs, 1)
	assert.Equal(t, 2, sink.blobs[0].RecordCount)
}

func TestRESTExtractorZeroRecordsNoBlob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	sink := &memSink{}
	ex := NewRESTExtractor("prov-1", "run-1", srv.URL, nil, sink, fastRESTConfig(), logr.Discard())

	batches, err := ex.Extract(context.Background(), restSpec(source.Pagination{}), testWindow())
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.Empty(t, sink.blobs)
}

func TestRESTExtractorCursorPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data":        []map[string]any{{"id": "1"}},
				"next_cursor": "abc",
			})
		case "abc":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"id": "2"}},
			})
		default:
			http.Error(w, "bad cursor", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	sink := &memSink{}
	ex := NewRESTExtractor("prov-1", "run-1", srv.URL, nil, sink, fastRESTConfig(), logr.Discard())

	spec := restSpec(source.Pagination{
		Kind:        source.PaginationCursor,
		CursorParam: "cursor",
		CursorField: "next_cursor",
	})
	batches, err := ex.Extract(context.Background(), spec, testWindow())
	require.NoError(t, err)

	var total int
	for _, b := range batches {
		total += len(b.Records)
	}
	assert.Equal(t, 2, total)
}

func TestRESTExtractorPageNumberPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 3 {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"page": page}, {"page": page}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	sink := &memSink{}
	ex := NewRESTExtractor("prov-1", "run-1", srv.URL, nil, sink, fastRESTConfig(), logr.Discard())

	spec := restSpec(source.Pagination{
		Kind:       source.PaginationPageNumber,
		PageParam:  "page",
		PageSize:   2,
		LimitParam: "limit",
	})
	batches, err := ex.Extract(context.Background(), spec, testWindow())
	require.NoError(t, err)

	var total int
	for _, b := range batches {
		total += len(b.Records)
	}
	assert.Equal(t, 4, total)
}

func TestRESTExtractorHeaderLinkPagination(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/v1/usage?after=x>; rel="next"`, srv.URL))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": r.URL.Query().Get("after")}},
		})
	}))
	defer srv.Close()

	sink := &memSink{}
	ex := NewRESTExtractor("prov-1", "run-1", srv.URL, nil, sink, fastRESTConfig(), logr.Discard())

	spec := restSpec(source.Pagination{Kind: source.PaginationHeaderLink})
	batches, err := ex.Extract(context.Background(), spec, testWindow())
	require.NoError(t, err)

	var total int
	for _, b := range batches {
		total += len(b.Records)
	}
	assert.Equal(t, 2, total)
}

func TestRESTExtractorRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"id": "1"}}})
	}))
	defer srv.Close()

	sink := &memSink{}
	ex := NewRESTExtractor("prov-1", "run-1", srv.URL, nil, sink, fastRESTConfig(), logr.Discard())

	batches, err := ex.Extract(context.Background(), restSpec(source.Pagination{}), testWindow())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, batches, 1)
}

func TestRESTExtractorRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := &memSink{}
	ex := NewRESTExtractor("prov-1", "run-1", srv.URL, nil, sink, fastRESTConfig(), logr.Discard())

	_, err := ex.Extract(context.Background(), restSpec(source.Pagination{}), testWindow())
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrorKindNetwork, se.Kind)
}

func TestRESTExtractorClientErrorFatal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := &memSink{}
	ex := NewRESTExtractor("prov-1", "run-1", srv.URL, nil, sink, fastRESTConfig(), logr.Discard())

	_, err := ex.Extract(context.Background(), restSpec(source.Pagination{}), testWindow())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")

	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrorKindBadRequest, se.Kind)
}

func TestRESTExtractorRateLimitHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"id": "1"}}})
	}))
	defer srv.Close()

	sink := &memSink{}
	ex := NewRESTExtractor("prov-1", "run-1", srv.URL, nil, sink, fastRESTConfig(), logr.Discard())

	start := time.Now()
	batches, err := ex.Extract(context.Background(), restSpec(source.Pagination{}), testWindow())
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "Retry-After must be honored")
}

func TestRESTExtractorCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":        []map[string]any{{"id": "1"}},
			"next_cursor": "more",
		})
	}))
	defer srv.Close()

	sink := &memSink{}
	ex := NewRESTExtractor("prov-1", "run-1", srv.URL, nil, sink, fastRESTConfig(), logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(75 * time.Millisecond)
		cancel()
	}()

	spec := restSpec(source.Pagination{
		Kind:        source.PaginationCursor,
		CursorParam: "cursor",
		CursorField: "next_cursor",
	})
	_, err := ex.Extract(ctx, spec, testWindow())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSelectRecords(t *testing.T) {
	body := map[string]any{
		"result": map[string]any{
			"buckets": []any{
				map[string]any{"k": "v"},
			},
		},
	}

	recs, err := selectRecords(body, "result/buckets")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "v", recs[0]["k"])

	_, err = selectRecords(body, "result/missing")
	assert.Error(t, err)

	_, err = selectRecords(body, "result")
	assert.Error(t, err, "non-array node must be rejected")

	recs, err = selectRecords([]any{map[string]any{"a": 1.0}}, "")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestParseLinkNext(t *testing.T) {
	link := `<https://api.example.com/v1/usage?page=2>; rel="next", <https://api.example.com/v1/usage?page=9>; rel="last"`
	assert.Equal(t, "https://api.example.com/v1/usage?page=2", parseLinkNext(link))
	assert.Empty(t, parseLinkNext(`<https://api.example.com/x>; rel="prev"`))
	assert.Empty(t, parseLinkNext(""))
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, retryAfter(h))

	h.Set("Retry-After", "garbage")
	assert.Equal(t, time.Duration(0), retryAfter(h))

	assert.Equal(t, time.Duration(0), retryAfter(http.Header{}))
}
