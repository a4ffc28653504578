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

// Package gcp ingests GCP billing export data: newline-delimited JSON dumps
// of the BigQuery billing export, staged under a GCS prefix.
package gcp

import (
	"fmt"

	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/provider"
	"github.com/altairalabs/costflow/internal/registry"
	"github.com/altairalabs/costflow/internal/source"
	"github.com/altairalabs/costflow/internal/transform"
)

// Additional-config keys the gcp plugin understands.
const (
	// ConfigExportURL locates the staged export, e.g. gs://my-exports/billing.
	ConfigExportURL = "export_url"
	// ConfigExportGlob filters export files; defaults to *.jsonl.
	ConfigExportGlob = "export_glob"
)

// Register installs the gcp provider type.
func Register(r *registry.Registry) error {
	return r.Register(provider.TypeGCP, registry.Registration{
		Metadata: provider.Metadata{
			Type:        provider.TypeGCP,
			DisplayName: "Google Cloud Platform",
			SupportedAuth: []provider.AuthMethod{
				provider.AuthServiceAccount,
				provider.AuthDefaultCredentials,
				provider.AuthCredentialsFile,
			},
			DefaultAuth:       provider.AuthServiceAccount,
			DefaultSourceType: string(source.TypeFilesystem),
			ConfigKeys: []provider.ConfigKey{
				{Name: ConfigExportURL, Description: "GCS URL of the staged billing export", Required: true},
				{Name: ConfigExportGlob, Description: "Export file glob, default *.jsonl"},
			},
		},
		NewSources:   sources,
		NewExtractor: newExtractor,
		NewMapper: func(*provider.Provider) (transform.Mapper, error) {
			return &Mapper{}, nil
		},
	})
}

func sources(p *provider.Provider, _ source.Window) ([]source.Spec, error) {
	exportURL := p.AdditionalConfig[ConfigExportURL]
	if exportURL == "" {
		return nil, fmt.Errorf("gcp provider %q: %s is required", p.Name, ConfigExportURL)
	}

	glob := p.AdditionalConfig[ConfigExportGlob]
	if glob == "" {
		glob = "*.jsonl"
	}

	return []source.Spec{{
		Name: "billing_export",
		Type: source.TypeFilesystem,
		Filesystem: &source.FilesystemSpec{
			URL:        exportURL,
			Glob:       glob,
			Format:     source.FormatJSONL,
			DateFilter: source.DateFilter{Column: "usage_start_time"},
		},
	}}, nil
}

func newExtractor(deps registry.ExtractorDeps) (extract.Extractor, error) {
	storeCfg := deps.StoreConfig
	if deps.Auth != nil && deps.Auth.Method == provider.AuthServiceAccount {
		storeCfg.GCS.CredentialsJSON = []byte(deps.Auth.ServiceAccount.Credentials)
	}

	fsys := extract.NewFilesystemExtractor(deps.Provider.ID, deps.RunID, deps.Sink, deps.Opener, storeCfg, deps.Log)
	return extract.NewDispatcher(nil, fsys, nil), nil
}
