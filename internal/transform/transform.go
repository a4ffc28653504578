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

// Package transform normalizes raw provider records into FOCUS records. A
// provider plugin supplies a Mapper with per-column-group hooks; the shared
// Workflow drives splitting, mapping, defaulting, enum correction and
// validation so every plugin produces uniformly shaped output.
package transform

import (
	"fmt"
	"time"

	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/focus"
)

// Mapping is the per-record mapping context handed to every hook: the raw
// source record, the FOCUS record under construction, and a warning
// collector.
type Mapping struct {
	Raw    extract.RawRecord
	Record *focus.Record

	warnings []string
}

// Warnf records a non-fatal mapping finding.
func (m *Mapping) Warnf(format string, args ...any) {
	m.warnings = append(m.warnings, fmt.Sprintf(format, args...))
}

// Str reads a raw field as a trimmed string, empty when absent.
func (m *Mapping) Str(key string) string {
	return ParseString(m.Raw[key])
}

// StrAny reads the first present raw field among keys.
func (m *Mapping) StrAny(keys ...string) string {
	for _, k := range keys {
		if v, ok := m.Raw[k]; ok {
			if s := ParseString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// Float reads a raw field defensively: empty, null and garbage coerce to
// zero with a warning.
func (m *Mapping) Float(key string) float64 {
	v, ok := m.Raw[key]
	if !ok || v == nil {
		return 0
	}
	f, numeric := ParseFloat(v)
	if !numeric {
		m.Warnf("field %q: non-numeric value %v coerced to 0", key, v)
	}
	return f
}

// FloatPtr reads an optional numeric field, nil when absent or garbage.
func (m *Mapping) FloatPtr(key string) *float64 {
	v, ok := m.Raw[key]
	if !ok || v == nil {
		return nil
	}
	f, numeric := ParseFloat(v)
	if !numeric {
		m.Warnf("field %q: non-numeric value %v dropped", key, v)
		return nil
	}
	return &f
}

// Time reads a raw field as a timestamp; naive values are assumed UTC with
// a warning. The zero time signals absence.
func (m *Mapping) Time(key string) (t timeValue) {
	v, ok := m.Raw[key]
	if !ok || v == nil {
		return timeValue{}
	}
	parsed, parsedOK, naive := ParseTime(v)
	if !parsedOK {
		m.Warnf("field %q: unparseable timestamp %v", key, v)
		return timeValue{}
	}
	if naive {
		m.Warnf("field %q: zone-less timestamp assumed UTC", key)
	}
	return timeValue{T: parsed, OK: true}
}

// Mapper maps one provider's raw records into FOCUS column groups. The five
// methods here are mandatory for every provider; the optional column groups
// live in the narrow interfaces below.
type Mapper interface {
	// ProviderName is the FOCUS provider_name value, e.g. "OpenAI".
	ProviderName() string

	// IsValidRecord filters raw records that cannot map, e.g. summary rows.
	IsValidRecord(raw extract.RawRecord) bool

	// SplitRecord fans one raw record into the records to map separately.
	// Most providers return the input unchanged; token-metered providers
	// split input/output usage into distinct records.
	SplitRecord(raw extract.RawRecord) []extract.RawRecord

	MapCosts(m *Mapping)
	MapAccount(m *Mapping)
	MapPeriods(m *Mapping)
	MapService(m *Mapping)
	MapCharge(m *Mapping)
}

// Optional column-group hooks. The workflow applies each when the mapper
// implements it.
type (
	ResourceMapper interface{ MapResource(m *Mapping) }
	LocationMapper interface{ MapLocation(m *Mapping) }
	SKUMapper      interface{ MapSKU(m *Mapping) }
	// CommitmentMapper fills commitment-discount columns.
	CommitmentMapper interface{ MapCommitment(m *Mapping) }
	UsageMapper      interface{ MapUsage(m *Mapping) }
	TagsMapper       interface{ MapTags(m *Mapping) }
	// ExtensionsMapper fills x_provider_data.
	ExtensionsMapper interface{ MapExtensions(m *Mapping) }
)

// timeValue is a parsed timestamp with a presence flag.
type timeValue struct {
	T  time.Time
	OK bool
}
