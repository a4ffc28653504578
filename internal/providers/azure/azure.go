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

// Package azure ingests Azure consumption usage details via the management
// REST API. Usage detail rows nest their payload under "properties"; the
// mapper flattens that envelope before mapping.
package azure

import (
	"fmt"

	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/provider"
	"github.com/altairalabs/costflow/internal/registry"
	"github.com/altairalabs/costflow/internal/source"
	"github.com/altairalabs/costflow/internal/transform"
)

// DefaultEndpoint is the Azure Resource Manager base URL.
const DefaultEndpoint = "https://management.azure.com"

// Additional-config keys the azure plugin understands.
const (
	// ConfigSubscriptionID scopes the usage-details query. Required.
	ConfigSubscriptionID = "subscription_id"
	// ConfigAPIVersion overrides the consumption API version.
	ConfigAPIVersion = "api_version"
)

const defaultAPIVersion = "2024-08-01"

// Register installs the azure provider type.
func Register(r *registry.Registry) error {
	return r.Register(provider.TypeAzure, registry.Registration{
		Metadata: provider.Metadata{
			Type:        provider.TypeAzure,
			DisplayName: "Microsoft Azure",
			SupportedAuth: []provider.AuthMethod{
				provider.AuthOAuth2ClientCreds,
				provider.AuthManagedIdentity,
				provider.AuthCertificate,
			},
			DefaultAuth:       provider.AuthOAuth2ClientCreds,
			DefaultSourceType: string(source.TypeRestAPI),
			ConfigKeys: []provider.ConfigKey{
				{Name: ConfigSubscriptionID, Description: "Subscription to pull usage for", Required: true},
				{Name: ConfigAPIVersion, Description: "Consumption API version override"},
			},
		},
		NewSources:   sources,
		NewExtractor: newExtractor,
		NewMapper: func(*provider.Provider) (transform.Mapper, error) {
			return &Mapper{}, nil
		},
	})
}

func sources(p *provider.Provider, win source.Window) ([]source.Spec, error) {
	sub := p.AdditionalConfig[ConfigSubscriptionID]
	if sub == "" {
		return nil, fmt.Errorf("azure provider %q: %s is required", p.Name, ConfigSubscriptionID)
	}
	apiVersion := p.AdditionalConfig[ConfigAPIVersion]
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}

	filter := fmt.Sprintf(
		"properties/usageStart ge '%s' and properties/usageEnd le '%s'",
		win.Start.Format("2006-01-02"), win.End.Format("2006-01-02"),
	)

	return []source.Spec{{
		Name: "usage_details",
		Type: source.TypeRestAPI,
		RestAPI: &source.RestAPISpec{
			Path:   fmt.Sprintf("/subscriptions/%s/providers/Microsoft.Consumption/usageDetails", sub),
			Method: "GET",
			Query: map[string]string{
				"api-version": apiVersion,
				"$filter":     filter,
			},
			ResponseSelector: "value",
			Pagination: source.Pagination{
				Kind:        source.PaginationCursor,
				CursorParam: "$skiptoken",
				CursorField: "skiptoken",
			},
			PrimaryKeys: []string{"id"},
		},
	}}, nil
}

func newExtractor(deps registry.ExtractorDeps) (extract.Extractor, error) {
	endpoint := deps.Provider.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	rest := extract.NewRESTExtractor(deps.Provider.ID, deps.RunID, endpoint, deps.Auth, deps.Sink, deps.RESTConfig, deps.Log)
	return extract.NewDispatcher(rest, nil, nil), nil
}
