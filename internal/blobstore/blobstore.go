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

// Package blobstore abstracts object storage across S3, GCS, Azure Blob and
// the local filesystem. Filesystem extractors read billing export files
// through this interface; the memory store backs unit tests.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Store abstracts raw object I/O for one bucket or container.
type Store interface {
	// Get retrieves the object at key.
	// Returns ErrObjectNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes data to the given key with the specified content type.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// List returns all keys matching the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks whether an object exists at the given key.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases resources held by the store.
	Close() error
}

// Location is a parsed object-store URL: scheme, bucket/container, and the
// key prefix under it.
type Location struct {
	Scheme string
	Bucket string
	Prefix string
}

// ParseURL splits an object-store URL (s3://bucket/prefix, gs://, az://,
// file:///path, mem://name) into its location parts.
func ParseURL(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parsing store URL %q: %w", raw, err)
	}
	loc := Location{Scheme: u.Scheme, Bucket: u.Host, Prefix: strings.TrimPrefix(u.Path, "/")}

	switch u.Scheme {
	case "s3", "gs", "az", "mem":
		if loc.Bucket == "" {
			return Location{}, fmt.Errorf("store URL %q: bucket is required", raw)
		}
	case "file":
		// file:///var/exports has an empty host; the path is the root.
		loc.Bucket = ""
		loc.Prefix = u.Path
	default:
		return Location{}, fmt.Errorf("store URL %q: unsupported scheme %q", raw, u.Scheme)
	}
	return loc, nil
}

// Opener resolves a store URL to a connected Store. The default opener
// dispatches on the URL scheme; tests substitute one returning memory stores.
type Opener func(ctx context.Context, loc Location, cfg Config) (Store, error)

// Config carries backend credentials resolved from the provider's auth
// config. Only the fields for the selected scheme are consulted.
type Config struct {
	S3    S3Config
	GCS   GCSConfig
	Azure AzureConfig
}

// S3Config configures the S3 backend.
type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// GCSConfig configures the GCS backend.
type GCSConfig struct {
	CredentialsJSON []byte
}

// AzureConfig configures the Azure Blob backend.
type AzureConfig struct {
	AccountName string
	AccountKey  string
}

// Open connects to the store named by loc using the scheme-appropriate
// backend.
func Open(ctx context.Context, loc Location, cfg Config) (Store, error) {
	switch loc.Scheme {
	case "s3":
		return NewS3Store(ctx, loc.Bucket, cfg.S3)
	case "gs":
		return NewGCSStore(ctx, loc.Bucket, cfg.GCS)
	case "az":
		return NewAzureStore(loc.Bucket, cfg.Azure)
	case "file":
		return NewLocalStore(loc.Prefix)
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", loc.Scheme)
	}
}

// MatchGlob filters keys by a shell-style pattern applied to the key's base
// name, so "*.parquet" matches any parquet part under the prefix.
func MatchGlob(keys []string, pattern string) []string {
	if pattern == "" {
		return keys
	}
	var out []string
	for _, k := range keys {
		ok, err := path.Match(pattern, path.Base(k))
		if err == nil && ok {
			out = append(out, k)
		}
	}
	return out
}
