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

// Package source defines the declarative source descriptors a provider
// plugin emits for an extraction window. A spec is data describing how to
// fetch one stream of raw records; extractors interpret it.
package source

import (
	"errors"
	"fmt"
	"time"
)

// Type discriminates the extraction mechanisms.
type Type string

// Recognized source types.
const (
	TypeRestAPI    Type = "rest_api"
	TypeFilesystem Type = "filesystem"
	TypeSQL        Type = "sql_database"
)

// ValidType reports whether t is a recognized source type.
func ValidType(t Type) bool {
	return t == TypeRestAPI || t == TypeFilesystem || t == TypeSQL
}

// Window is a half-open [Start, End) extraction interval in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// Validate checks the window is non-empty and ordered.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return errors.New("window start and end are required")
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("window end %s must be after start %s", w.End, w.Start)
	}
	return nil
}

// Days returns the window length in whole days, rounded up.
func (w Window) Days() int {
	d := w.End.Sub(w.Start)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// PaginationKind selects how a REST source pages through results.
type PaginationKind string

// Supported pagination policies.
const (
	PaginationNone       PaginationKind = "none"
	PaginationHeaderLink PaginationKind = "header_link"
	PaginationCursor     PaginationKind = "cursor"
	PaginationPageNumber PaginationKind = "page_number"
)

// Pagination describes a REST source's paging policy.
type Pagination struct {
	Kind PaginationKind
	// CursorParam is the query parameter carrying the next cursor
	// (cursor pagination).
	CursorParam string
	// CursorField is the response field holding the next cursor.
	CursorField string
	// PageParam is the query parameter carrying the page number.
	PageParam string
	// PageSize caps records per page when the API accepts a limit param.
	PageSize int
	// LimitParam names the page-size query parameter.
	LimitParam string
}

// RestAPISpec fetches records from a paginated REST endpoint.
type RestAPISpec struct {
	Name string
	// Path is resolved against the provider endpoint.
	Path   string
	Method string
	Query  map[string]string
	// ResponseSelector is a slash-separated path to the record array inside
	// the response body, e.g. "data" or "result/buckets".
	ResponseSelector string
	Pagination       Pagination
	// PrimaryKeys name the raw fields identifying one record.
	PrimaryKeys []string
}

// FileFormat names a supported file encoding for filesystem sources.
type FileFormat string

// Supported file formats.
const (
	FormatParquet FileFormat = "parquet"
	FormatCSV     FileFormat = "csv"
	FormatJSONL   FileFormat = "jsonl"
)

// Compression names a supported compression codec.
type Compression string

// Supported compression codecs.
const (
	CompressionSnappy Compression = "snappy"
	CompressionGzip   Compression = "gzip"
	CompressionNone   Compression = "none"
)

// DateFilter pushes the window bounds down to the file reader when the
// format supports predicate pushdown.
type DateFilter struct {
	Column string
	Start  time.Time
	End    time.Time
}

// FilesystemSpec reads files matching a glob from an object store or the
// local filesystem. URL schemes: s3://, gs://, az://, file://.
type FilesystemSpec struct {
	Name        string
	URL         string
	Glob        string
	Format      FileFormat
	Compression Compression
	DateFilter  DateFilter
}

// SQLSpec executes a parameterized query in chunks. The template may only
// reference the {{start}}, {{end}} and {{table}} placeholders.
type SQLSpec struct {
	Name string
	// Driver is the database/sql driver name, e.g. "pgx" or "snowflake".
	Driver string
	DSN    string
	Query  string
	Table  string
	// ChunkSize bounds rows fetched per round trip.
	ChunkSize int
}

// Spec is one declarative source. Exactly one variant is set, named by Type.
type Spec struct {
	Name       string
	Type       Type
	RestAPI    *RestAPISpec
	Filesystem *FilesystemSpec
	SQL        *SQLSpec
}

// Validate checks the spec invariants every descriptor must hold: a
// non-empty name, a recognized type, and a populated matching config.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return errors.New("source spec name is required")
	}
	if !ValidType(s.Type) {
		return fmt.Errorf("source %q: unrecognized type %q", s.Name, s.Type)
	}
	switch s.Type {
	case TypeRestAPI:
		if s.RestAPI == nil || s.RestAPI.Path == "" {
			return fmt.Errorf("source %q: rest_api config is required", s.Name)
		}
	case TypeFilesystem:
		if s.Filesystem == nil || s.Filesystem.URL == "" {
			return fmt.Errorf("source %q: filesystem config is required", s.Name)
		}
		if s.Filesystem.Format == "" {
			return fmt.Errorf("source %q: file format is required", s.Name)
		}
	case TypeSQL:
		if s.SQL == nil || s.SQL.Query == "" {
			return fmt.Errorf("source %q: sql config is required", s.Name)
		}
	}
	return nil
}

// ValidateAll validates an ordered list of specs and rejects duplicates.
func ValidateAll(specs []Spec) error {
	seen := make(map[string]bool, len(specs))
	for i := range specs {
		if err := specs[i].Validate(); err != nil {
			return err
		}
		if seen[specs[i].Name] {
			return fmt.Errorf("duplicate source name %q", specs[i].Name)
		}
		seen[specs[i].Name] = true
	}
	return nil
}
