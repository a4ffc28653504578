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

// Package aws ingests AWS billing data from Data Exports in FOCUS format:
// parquet parts under an S3 prefix, with the FOCUS column names already in
// place. An optional warehouse source pulls the same rows from Snowflake or
// another database/sql-compatible warehouse instead.
package aws

import (
	"fmt"

	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/provider"
	"github.com/altairalabs/costflow/internal/registry"
	"github.com/altairalabs/costflow/internal/source"
	"github.com/altairalabs/costflow/internal/transform"
)

// Additional-config keys the aws plugin understands.
const (
	// ConfigExportURL locates the FOCUS data export, e.g.
	// s3://my-exports/focus/v1.
	ConfigExportURL = "export_url"
	// ConfigExportGlob filters part files; defaults to *.parquet.
	ConfigExportGlob = "export_glob"
	// ConfigRegion is the S3 region of the export bucket.
	ConfigRegion = "region"
	// ConfigWarehouseDriver, ConfigWarehouseDSN and ConfigWarehouseQuery
	// switch extraction to a SQL warehouse holding the export.
	ConfigWarehouseDriver = "warehouse_driver"
	ConfigWarehouseDSN    = "warehouse_dsn"
	ConfigWarehouseQuery  = "warehouse_query"
	ConfigWarehouseTable  = "warehouse_table"
)

// Register installs the aws provider type.
func Register(r *registry.Registry) error {
	return r.Register(provider.TypeAWS, registry.Registration{
		Metadata: provider.Metadata{
			Type:        provider.TypeAWS,
			DisplayName: "Amazon Web Services",
			SupportedAuth: []provider.AuthMethod{
				provider.AuthDefaultCredentials,
				provider.AuthCredentialsFile,
				provider.AuthCustom,
			},
			DefaultAuth:       provider.AuthDefaultCredentials,
			DefaultSourceType: string(source.TypeFilesystem),
			ConfigKeys: []provider.ConfigKey{
				{Name: ConfigExportURL, Description: "S3 URL of the FOCUS data export", Required: true},
				{Name: ConfigExportGlob, Description: "Part file glob, default *.parquet"},
				{Name: ConfigRegion, Description: "S3 region of the export bucket"},
				{Name: ConfigWarehouseDSN, Description: "Warehouse DSN to query instead of S3"},
			},
		},
		NewSources:   sources,
		NewExtractor: newExtractor,
		NewMapper: func(*provider.Provider) (transform.Mapper, error) {
			return &Mapper{}, nil
		},
	})
}

// sources emits the parquet export source, plus the warehouse source when a
// DSN is configured.
func sources(p *provider.Provider, win source.Window) ([]source.Spec, error) {
	exportURL := p.AdditionalConfig[ConfigExportURL]
	if exportURL == "" {
		return nil, fmt.Errorf("aws provider %q: %s is required", p.Name, ConfigExportURL)
	}

	glob := p.AdditionalConfig[ConfigExportGlob]
	if glob == "" {
		glob = "*.parquet"
	}

	specs := []source.Spec{{
		Name: "focus_export",
		Type: source.TypeFilesystem,
		Filesystem: &source.FilesystemSpec{
			URL:         exportURL,
			Glob:        glob,
			Format:      source.FormatParquet,
			Compression: source.CompressionSnappy,
			DateFilter:  source.DateFilter{Column: "ChargePeriodStart"},
		},
	}}

	if dsn := p.AdditionalConfig[ConfigWarehouseDSN]; dsn != "" {
		driver := p.AdditionalConfig[ConfigWarehouseDriver]
		if driver == "" {
			driver = "snowflake"
		}
		query := p.AdditionalConfig[ConfigWarehouseQuery]
		if query == "" {
			query = "SELECT * FROM {{table}} WHERE ChargePeriodStart >= {{start}} AND ChargePeriodStart < {{end}}"
		}
		specs = append(specs, source.Spec{
			Name: "focus_warehouse",
			Type: source.TypeSQL,
			SQL: &source.SQLSpec{
				Driver:    driver,
				DSN:       dsn,
				Query:     query,
				Table:     p.AdditionalConfig[ConfigWarehouseTable],
				ChunkSize: 5000,
			},
		})
	}

	return specs, nil
}

func newExtractor(deps registry.ExtractorDeps) (extract.Extractor, error) {
	storeCfg := deps.StoreConfig
	storeCfg.S3.Region = deps.Provider.AdditionalConfig[ConfigRegion]
	if deps.Auth != nil && deps.Auth.Method == provider.AuthCustom {
		storeCfg.S3.AccessKeyID = deps.Auth.Custom["access_key_id"]
		storeCfg.S3.SecretAccessKey = deps.Auth.Custom["secret_access_key"]
	}

	fsys := extract.NewFilesystemExtractor(deps.Provider.ID, deps.RunID, deps.Sink, deps.Opener, storeCfg, deps.Log)
	sqldb := extract.NewSQLExtractor(deps.Provider.ID, deps.RunID, deps.Sink, deps.Log)
	return extract.NewDispatcher(nil, fsys, sqldb), nil
}
