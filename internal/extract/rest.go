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
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/altairalabs/costflow/internal/provider"
	"github.com/altairalabs/costflow/internal/source"
)

// RESTConfig tunes the REST extractor.
type RESTConfig struct {
	// RequestTimeout bounds one HTTP round trip.
	RequestTimeout time.Duration
	// MaxAttempts caps tries per request, first attempt included.
	MaxAttempts int
	// InitialBackoff is the first retry delay; it doubles per attempt
	// with jitter.
	InitialBackoff time.Duration
	// MaxRecords caps records fetched per source per window.
	MaxRecords int
	// BlobRecordCap bounds records per persisted raw blob.
	BlobRecordCap int
	// RequestsPerSecond throttles outbound requests. Zero disables.
	RequestsPerSecond float64
}

// DefaultRESTConfig returns the REST extractor defaults.
func DefaultRESTConfig() RESTConfig {
	return RESTConfig{
		RequestTimeout:    30 * time.Second,
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxRecords:        500_000,
		BlobRecordCap:     DefaultBlobRecordCap,
		RequestsPerSecond: 10,
	}
}

// RESTExtractor fetches records from paginated REST billing APIs.
type RESTExtractor struct {
	providerID string
	runID      string
	endpoint   string
	auth       *provider.AuthConfig
	sink       BlobSink
	cfg        RESTConfig
	client     *http.Client
	limiter    *rate.Limiter
	log        logr.Logger

	// oauthToken caches a fetched OAuth2 access token for this extractor's
	// lifetime (one pipeline run).
	oauthToken string
}

// NewRESTExtractor builds a REST extractor for one provider run. endpoint is
// the provider's API base URL; auth is the resolved (decrypted) auth config.
func NewRESTExtractor(providerID, runID, endpoint string, auth *provider.AuthConfig, sink BlobSink, cfg RESTConfig, log logr.Logger) *RESTExtractor {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &RESTExtractor{
		providerID: providerID,
		runID:      runID,
		endpoint:   strings.TrimRight(endpoint, "/"),
		auth:       auth,
		sink:       sink,
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    limiter,
		log:        log.WithName("rest-extractor"),
	}
}

// Extract pages through the endpoint described by spec.RestAPI, persisting
// capped raw blobs as it accumulates records.
func (r *RESTExtractor) Extract(ctx context.Context, spec source.Spec, win source.Window) ([]RawBatch, error) {
	api := spec.RestAPI
	if api == nil {
		return nil, srcErr(spec.Name, ErrorKindConfig, "rest_api config missing", nil)
	}

	reqURL, err := r.buildURL(api, win)
	if err != nil {
		return nil, srcErr(spec.Name, ErrorKindConfig, "building request URL", err)
	}

	acc := newAccumulator(r.sink, r.providerID, r.runID, spec, win, r.cfg.BlobRecordCap)
	page := 1
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageURL, err := r.pageURL(reqURL, api.Pagination, page, cursor)
		if err != nil {
			return nil, srcErr(spec.Name, ErrorKindConfig, "building page URL", err)
		}

		body, headers, err := r.fetch(ctx, api.Method, pageURL, spec.Name)
		if err != nil {
			return nil, err
		}

		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, srcErr(spec.Name, ErrorKindDecode, "decoding response body", err)
		}

		records, err := selectRecords(decoded, api.ResponseSelector)
		if err != nil {
			return nil, srcErr(spec.Name, ErrorKindDecode, "selecting records", err)
		}

		for _, rec := range records {
			if acc.total() >= r.cfg.MaxRecords {
				r.log.Info("record cap reached, truncating source",
					"source", spec.Name, "cap", r.cfg.MaxRecords)
				return acc.finish(ctx)
			}
			if err := acc.add(ctx, rec); err != nil {
				return nil, err
			}
		}

		next, more := r.nextPage(api.Pagination, decoded, headers, len(records))
		if !more {
			break
		}
		switch api.Pagination.Kind {
		case source.PaginationHeaderLink:
			u, err := url.Parse(next)
			if err != nil {
				return nil, srcErr(spec.Name, ErrorKindDecode, "parsing Link header URL", err)
			}
			reqURL = u
			page++
		case source.PaginationCursor:
			cursor = next
			page++
		case source.PaginationPageNumber:
			page++
		default:
			return acc.finish(ctx)
		}
	}

	return acc.finish(ctx)
}

// buildURL resolves the source path against the endpoint and applies the
// static query plus the window bounds.
func (r *RESTExtractor) buildURL(api *source.RestAPISpec, win source.Window) (*url.URL, error) {
	u, err := url.Parse(r.endpoint + "/" + strings.TrimLeft(api.Path, "/"))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for k, v := range api.Query {
		// Window placeholders in query values are bound here.
		v = strings.ReplaceAll(v, "{{start}}", strconv.FormatInt(win.Start.Unix(), 10))
		v = strings.ReplaceAll(v, "{{end}}", strconv.FormatInt(win.End.Unix(), 10))
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u, nil
}

// pageURL applies pagination parameters for the current page.
func (r *RESTExtractor) pageURL(base *url.URL, p source.Pagination, page int, cursor string) (*url.URL, error) {
	u := *base
	q := u.Query()
	switch p.Kind {
	case source.PaginationCursor:
		if cursor != "" {
			q.Set(p.CursorParam, cursor)
		}
	case source.PaginationPageNumber:
		if p.PageParam == "" {
			return nil, errors.New("page_number pagination requires page_param")
		}
		q.Set(p.PageParam, strconv.Itoa(page))
	}
	if p.PageSize > 0 && p.LimitParam != "" {
		q.Set(p.LimitParam, strconv.Itoa(p.PageSize))
	}
	u.RawQuery = q.Encode()
	return &u, nil
}

// fetch performs one request with retry. Network errors, 5xx and 429 are
// retried with exponential backoff; other 4xx are fatal.
func (r *RESTExtractor) fetch(ctx context.Context, method string, u *url.URL, src string) ([]byte, http.Header, error) {
	if method == "" {
		method = http.MethodGet
	}

	var body []byte
	var headers http.Header

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2

	attempts := uint64(r.cfg.MaxAttempts)
	if attempts == 0 {
		attempts = 1
	}

	op := func() error {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
		if err != nil {
			return backoff.Permanent(srcErr(src, ErrorKindConfig, "building request", err))
		}
		req.Header.Set("Accept", "application/json")
		if err := r.authorize(ctx, req); err != nil {
			return backoff.Permanent(srcErr(src, ErrorKindAuth, "applying credentials", err))
		}

		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return srcErr(src, ErrorKindNetwork, "request failed", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return srcErr(src, ErrorKindNetwork, "reading response body", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if d := retryAfter(resp.Header); d > 0 {
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return srcErr(src, ErrorKindRateLimited,
				fmt.Sprintf("throttled by API (%d)", resp.StatusCode), nil)
		case resp.StatusCode >= 500:
			return srcErr(src, ErrorKindNetwork,
				fmt.Sprintf("server error %d", resp.StatusCode), nil)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(srcErr(src, ErrorKindAuth,
				fmt.Sprintf("request rejected with %d", resp.StatusCode), nil))
		case resp.StatusCode >= 400:
			return backoff.Permanent(srcErr(src, ErrorKindBadRequest,
				fmt.Sprintf("request rejected with %d", resp.StatusCode), nil))
		}

		body = data
		headers = resp.Header
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, attempts-1), ctx))
	if err != nil {
		var se *SourceError
		if errors.As(err, &se) {
			return nil, nil, se
		}
		return nil, nil, srcErr(src, ErrorKindNetwork, "request failed", err)
	}
	return body, headers, nil
}

// retryAfter parses a Retry-After header as seconds or an HTTP date.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// authorize applies the resolved auth config to the request.
func (r *RESTExtractor) authorize(ctx context.Context, req *http.Request) error {
	return applyAuth(ctx, r, req, r.auth)
}

func applyAuth(ctx context.Context, r *RESTExtractor, req *http.Request, auth *provider.AuthConfig) error {
	if auth == nil {
		return nil
	}
	switch auth.Method {
	case provider.AuthAPIKey:
		header := auth.APIKey.HeaderName
		if header == "" {
			header = "Authorization"
		}
		req.Header.Set(header, auth.APIKey.Key)
	case provider.AuthBearerToken:
		req.Header.Set("Authorization", "Bearer "+auth.BearerToken.Token)
	case provider.AuthBasic:
		req.SetBasicAuth(auth.Basic.Username, auth.Basic.Password)
	case provider.AuthOAuth2ClientCreds, provider.AuthOAuth2AuthCode:
		token, err := r.oauth2Token(ctx, auth)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case provider.AuthMultiFactor:
		if err := applyAuth(ctx, r, req, auth.MultiFactor.Primary); err != nil {
			return err
		}
		if auth.MultiFactor.Secondary != nil {
			return applyAuth(ctx, r, req, auth.MultiFactor.Secondary)
		}
	case provider.AuthCustom:
		// Custom configs may carry literal header values as header:<name>.
		for k, v := range auth.Custom {
			if name, ok := strings.CutPrefix(k, "header:"); ok {
				req.Header.Set(name, v)
			}
		}
	default:
		return fmt.Errorf("auth method %q cannot authenticate REST requests", auth.Method)
	}
	return nil
}

// oauth2Token fetches (and caches) an access token via the client-credentials
// or refresh-token grant.
func (r *RESTExtractor) oauth2Token(ctx context.Context, auth *provider.AuthConfig) (string, error) {
	if r.oauthToken != "" {
		return r.oauthToken, nil
	}

	form := url.Values{}
	var tokenURL string
	switch auth.Method {
	case provider.AuthOAuth2ClientCreds:
		c := auth.OAuth2Client
		tokenURL = c.TokenURL
		form.Set("grant_type", "client_credentials")
		form.Set("client_id", c.ClientID)
		form.Set("client_secret", c.ClientSecret)
		if len(c.Scopes) > 0 {
			form.Set("scope", strings.Join(c.Scopes, " "))
		}
	case provider.AuthOAuth2AuthCode:
		c := auth.OAuth2AuthCode
		tokenURL = c.TokenURL
		form.Set("grant_type", "refresh_token")
		form.Set("client_id", c.ClientID)
		form.Set("client_secret", c.ClientSecret)
		form.Set("refresh_token", c.RefreshToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("token response carried no access_token")
	}
	r.oauthToken = tok.AccessToken
	return r.oauthToken, nil
}

// selectRecords walks the slash-separated selector into the decoded body and
// returns the record array found there.
func selectRecords(body any, selector string) ([]RawRecord, error) {
	node := body
	if selector != "" {
		for _, part := range strings.Split(selector, "/") {
			m, ok := node.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("selector %q: %q is not an object", selector, part)
			}
			node, ok = m[part]
			if !ok {
				return nil, fmt.Errorf("selector %q: key %q not found", selector, part)
			}
		}
	}

	arr, ok := node.([]any)
	if !ok {
		return nil, fmt.Errorf("selected node is %T, expected array", node)
	}

	records := make([]RawRecord, 0, len(arr))
	for i, item := range arr {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d is %T, expected object", i, item)
		}
		records = append(records, rec)
	}
	return records, nil
}

// nextPage decides whether another page exists and returns its token
// (a URL for header_link, a cursor for cursor pagination).
func (r *RESTExtractor) nextPage(p source.Pagination, body any, headers http.Header, got int) (string, bool) {
	switch p.Kind {
	case source.PaginationHeaderLink:
		next := parseLinkNext(headers.Get("Link"))
		return next, next != ""
	case source.PaginationCursor:
		node := body
		for _, part := range strings.Split(p.CursorField, "/") {
			m, ok := node.(map[string]any)
			if !ok {
				return "", false
			}
			node = m[part]
		}
		cursor, _ := node.(string)
		return cursor, cursor != ""
	case source.PaginationPageNumber:
		if got == 0 {
			return "", false
		}
		if p.PageSize > 0 && got < p.PageSize {
			return "", false
		}
		return "", true
	default:
		return "", false
	}
}

// parseLinkNext extracts the rel="next" target from an RFC 8288 Link header.
func parseLinkNext(link string) string {
	for _, part := range strings.Split(link, ",") {
		segs := strings.Split(strings.TrimSpace(part), ";")
		if len(segs) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(segs[0]), "<>")
		for _, attr := range segs[1:] {
			attr = strings.TrimSpace(attr)
			if attr == `rel="next"` || attr == "rel=next" {
				return target
			}
		}
	}
	return ""
}

var _ Extractor = (*RESTExtractor)(nil)
