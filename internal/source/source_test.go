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

package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowValidate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, Window{Start: start, End: start.AddDate(0, 0, 7)}.Validate())
	assert.Error(t, Window{Start: start, End: start}.Validate())
	assert.Error(t, Window{Start: start, End: start.Add(-time.Hour)}.Validate())
	assert.Error(t, Window{}.Validate())
}

func TestWindowDays(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 7, Window{Start: start, End: start.AddDate(0, 0, 7)}.Days())
	assert.Equal(t, 1, Window{Start: start, End: start.Add(time.Hour)}.Days())
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{
			name: "valid rest",
			spec: Spec{
				Name: "usage", Type: TypeRestAPI,
				RestAPI: &RestAPISpec{Path: "/v1/usage", Method: "GET"},
			},
		},
		{
			name: "valid filesystem",
			spec: Spec{
				Name: "cur", Type: TypeFilesystem,
				Filesystem: &FilesystemSpec{URL: "s3://bucket/exports", Glob: "*.parquet", Format: FormatParquet},
			},
		},
		{
			name: "valid sql",
			spec: Spec{
				Name: "warehouse", Type: TypeSQL,
				SQL: &SQLSpec{Driver: "snowflake", Query: "SELECT * FROM {{table}}", ChunkSize: 1000},
			},
		},
		{name: "missing name", spec: Spec{Type: TypeRestAPI, RestAPI: &RestAPISpec{Path: "/x"}}, wantErr: true},
		{name: "unknown type", spec: Spec{Name: "x", Type: "carrier_pigeon"}, wantErr: true},
		{name: "empty config", spec: Spec{Name: "x", Type: TypeRestAPI}, wantErr: true},
		{
			name: "filesystem without format",
			spec: Spec{
				Name: "x", Type: TypeFilesystem,
				Filesystem: &FilesystemSpec{URL: "s3://bucket"},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAll_DuplicateNames(t *testing.T) {
	specs := []Spec{
		{Name: "a", Type: TypeRestAPI, RestAPI: &RestAPISpec{Path: "/a"}},
		{Name: "a", Type: TypeRestAPI, RestAPI: &RestAPISpec{Path: "/b"}},
	}
	err := ValidateAll(specs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}
