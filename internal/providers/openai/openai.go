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

// Package openai ingests OpenAI organization usage and cost data. Usage
// buckets are token-metered: each bucket splits into an input-token and an
// output-token record so the two directions cost out separately.
package openai

import (
	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/provider"
	"github.com/altairalabs/costflow/internal/registry"
	"github.com/altairalabs/costflow/internal/source"
	"github.com/altairalabs/costflow/internal/transform"
)

// DefaultEndpoint is the OpenAI API base URL.
const DefaultEndpoint = "https://api.openai.com"

// Register installs the openai provider type.
func Register(r *registry.Registry) error {
	return r.Register(provider.TypeOpenAI, registry.Registration{
		Metadata: provider.Metadata{
			Type:              provider.TypeOpenAI,
			DisplayName:       "OpenAI",
			SupportedAuth:     []provider.AuthMethod{provider.AuthBearerToken, provider.AuthAPIKey},
			DefaultAuth:       provider.AuthBearerToken,
			DefaultSourceType: string(source.TypeRestAPI),
			ConfigKeys: []provider.ConfigKey{
				{Name: "organization_id", Description: "Organization to scope usage queries to"},
				{Name: "sync_schedule", Description: "Cron schedule for automatic syncs"},
			},
		},
		NewSources:   sources,
		NewExtractor: newExtractor,
		NewMapper: func(*provider.Provider) (transform.Mapper, error) {
			return &Mapper{}, nil
		},
	})
}

// sources returns the usage and cost streams for a window. Window bounds
// bind into the query as unix seconds.
func sources(p *provider.Provider, _ source.Window) ([]source.Spec, error) {
	query := map[string]string{
		"start_time":   "{{start}}",
		"end_time":     "{{end}}",
		"bucket_width": "1d",
	}
	if org := p.AdditionalConfig["organization_id"]; org != "" {
		query["organization_id"] = org
	}

	pagination := source.Pagination{
		Kind:        source.PaginationCursor,
		CursorParam: "page",
		CursorField: "next_page",
	}

	return []source.Spec{
		{
			Name: "completions_usage",
			Type: source.TypeRestAPI,
			RestAPI: &source.RestAPISpec{
				Path:             "/v1/organization/usage/completions",
				Method:           "GET",
				Query:            query,
				ResponseSelector: "data",
				Pagination:       pagination,
				PrimaryKeys:      []string{"start_time", "model"},
			},
		},
		{
			Name: "costs",
			Type: source.TypeRestAPI,
			RestAPI: &source.RestAPISpec{
				Path:             "/v1/organization/costs",
				Method:           "GET",
				Query:            query,
				ResponseSelector: "data",
				Pagination:       pagination,
				PrimaryKeys:      []string{"start_time", "line_item"},
			},
		},
	}, nil
}

func newExtractor(deps registry.ExtractorDeps) (extract.Extractor, error) {
	endpoint := deps.Provider.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	rest := extract.NewRESTExtractor(deps.Provider.ID, deps.RunID, endpoint, deps.Auth, deps.Sink, deps.RESTConfig, deps.Log)
	return extract.NewDispatcher(rest, nil, nil), nil
}
