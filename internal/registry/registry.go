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

// Package registry holds the provider plugin registrations. Plugins install
// a Registration per provider type; the pipeline looks them up by the
// provider's type tag. Loading is lazy: a plugin's loader runs the first
// time its type is requested, and a failed load stays failed.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"

	"github.com/altairalabs/costflow/internal/blobstore"
	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/provider"
	"github.com/altairalabs/costflow/internal/source"
	"github.com/altairalabs/costflow/internal/transform"
)

// ErrUnknownProvider is returned by Lookup for a type with no registration.
var ErrUnknownProvider = errors.New("unknown provider type")

// ExtractorDeps carries everything a plugin needs to build its extractors
// for one provider instance. Auth is already decrypted.
type ExtractorDeps struct {
	Provider    *provider.Provider
	Auth        *provider.AuthConfig
	RunID       string
	Sink        extract.BlobSink
	Opener      blobstore.Opener
	StoreConfig blobstore.Config
	RESTConfig  extract.RESTConfig
	Log         logr.Logger
}

// Registration is one provider plugin's contract: its metadata plus the
// factories the pipeline calls per run.
type Registration struct {
	Metadata provider.Metadata

	// NewSources returns the source specs to extract for a window.
	NewSources func(p *provider.Provider, win source.Window) ([]source.Spec, error)

	// NewExtractor builds the extractor serving this provider's sources.
	NewExtractor func(deps ExtractorDeps) (extract.Extractor, error)

	// NewMapper builds the provider's FOCUS mapper.
	NewMapper func(p *provider.Provider) (transform.Mapper, error)
}

// validate checks a registration is complete before it is installed.
func (r *Registration) validate(t provider.Type) error {
	if r.Metadata.Type != t {
		return fmt.Errorf("registration metadata type %q does not match %q", r.Metadata.Type, t)
	}
	if r.NewSources == nil || r.NewExtractor == nil || r.NewMapper == nil {
		return fmt.Errorf("registration for %q is missing a factory", t)
	}
	return nil
}

// LoaderFunc installs a plugin's registrations into the registry.
type LoaderFunc func(r *Registry) error

// Registry is a read-mostly map of provider type to registration.
type Registry struct {
	mu      sync.RWMutex
	regs    map[provider.Type]Registration
	loaders map[provider.Type]LoaderFunc
	// loadErr caches loader failures so a broken plugin fails fast on
	// every lookup instead of retrying.
	loadErr map[provider.Type]error
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		regs:    make(map[provider.Type]Registration),
		loaders: make(map[provider.Type]LoaderFunc),
		loadErr: make(map[provider.Type]error),
	}
}

// Register installs a registration. Double registration is a programming
// error and is rejected.
func (r *Registry) Register(t provider.Type, reg Registration) error {
	if err := reg.validate(t); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.regs[t]; exists {
		return fmt.Errorf("provider type %q already registered", t)
	}
	r.regs[t] = reg
	return nil
}

// RegisterLoader defers a plugin's installation until its type is first
// looked up.
func (r *Registry) RegisterLoader(t provider.Type, load LoaderFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[t] = load
}

// Lookup resolves the registration for a provider type, running its lazy
// loader if one is pending. Unknown types return ErrUnknownProvider.
func (r *Registry) Lookup(t provider.Type) (Registration, error) {
	r.mu.RLock()
	reg, ok := r.regs[t]
	loadErr, failed := r.loadErr[t]
	r.mu.RUnlock()
	if ok {
		return reg, nil
	}
	if failed {
		return Registration{}, loadErr
	}

	r.mu.Lock()
	// Re-check under the write lock; another goroutine may have loaded.
	if reg, ok := r.regs[t]; ok {
		r.mu.Unlock()
		return reg, nil
	}
	if err, failed := r.loadErr[t]; failed {
		r.mu.Unlock()
		return Registration{}, err
	}
	load, hasLoader := r.loaders[t]
	if hasLoader {
		delete(r.loaders, t)
	}
	r.mu.Unlock()

	if !hasLoader {
		return Registration{}, fmt.Errorf("%w: %q", ErrUnknownProvider, t)
	}

	if err := load(r); err != nil {
		wrapped := fmt.Errorf("loading plugin for %q: %w", t, err)
		r.mu.Lock()
		r.loadErr[t] = wrapped
		r.mu.Unlock()
		return Registration{}, wrapped
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok = r.regs[t]
	if !ok {
		return Registration{}, fmt.Errorf("%w: plugin loader for %q registered nothing", ErrUnknownProvider, t)
	}
	return reg, nil
}

// Types lists the installed and pending provider types, sorted.
func (r *Registry) Types() []provider.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[provider.Type]bool, len(r.regs)+len(r.loaders))
	var out []provider.Type
	for t := range r.regs {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for t := range r.loaders {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
