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

// Package logctx provides structured logging context management.
// It allows storing and extracting common logging fields from context.Context,
// enabling consistent logging across the pipeline stages and extractors.
package logctx

import (
	"context"

	"github.com/go-logr/logr"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields.
// These keys are used to store values in context.Context that will be
// automatically extracted and added to log entries.
const (
	// ContextKeyRunID identifies the sync run.
	ContextKeyRunID contextKey = "run_id"

	// ContextKeyProviderID identifies the configured provider.
	ContextKeyProviderID contextKey = "provider_id"

	// ContextKeyProviderType identifies the provider family (e.g. "openai", "aws").
	ContextKeyProviderType contextKey = "provider_type"

	// ContextKeySource identifies the source being extracted.
	ContextKeySource contextKey = "source"

	// ContextKeyStage identifies the processing stage.
	ContextKeyStage contextKey = "stage"
)

// allContextKeys lists all context keys that should be extracted for logging.
var allContextKeys = []contextKey{
	ContextKeyRunID,
	ContextKeyProviderID,
	ContextKeyProviderType,
	ContextKeySource,
	ContextKeyStage,
}

// WithRunID returns a new context with the run ID set.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

// WithProviderID returns a new context with the provider ID set.
func WithProviderID(ctx context.Context, providerID string) context.Context {
	return context.WithValue(ctx, ContextKeyProviderID, providerID)
}

// WithProviderType returns a new context with the provider family set.
func WithProviderType(ctx context.Context, providerType string) context.Context {
	return context.WithValue(ctx, ContextKeyProviderType, providerType)
}

// WithSource returns a new context with the source name set.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, ContextKeySource, source)
}

// WithStage returns a new context with the processing stage set.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, ContextKeyStage, stage)
}

// LogrValues extracts context values and returns them as key-value pairs
// suitable for use with logr.Logger.WithValues().
// Only non-empty values are included.
func LogrValues(ctx context.Context) []interface{} {
	var values []interface{}
	for _, key := range allContextKeys {
		if v := ctx.Value(key); v != nil {
			if s, ok := v.(string); ok && s != "" {
				values = append(values, string(key), s)
			}
		}
	}
	return values
}

// LoggerWithContext returns a logger enriched with all context values.
// This is a convenience function for logr.Logger.
func LoggerWithContext(log logr.Logger, ctx context.Context) logr.Logger {
	values := LogrValues(ctx)
	if len(values) == 0 {
		return log
	}
	return log.WithValues(values...)
}

// RunID extracts the run ID from the context.
func RunID(ctx context.Context) string {
	if v := ctx.Value(ContextKeyRunID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ProviderID extracts the provider ID from the context.
func ProviderID(ctx context.Context) string {
	if v := ctx.Value(ContextKeyProviderID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
