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

// Package provider defines the provider configuration entity, the typed
// authentication config union, and provider-type metadata.
package provider

import (
	"errors"
	"time"
)

// ErrNotFound indicates an unknown provider id.
var ErrNotFound = errors.New("provider not found")

// Type tags the provider family a configured provider belongs to.
type Type string

// Provider type tags with in-tree plugins.
const (
	TypeOpenAI Type = "openai"
	TypeAWS    Type = "aws"
	TypeAzure  Type = "azure"
	TypeGCP    Type = "gcp"
)

// Provider is a configured billing data source. Auth material inside
// AuthConfig is sealed at rest; see the crypto package.
type Provider struct {
	ID          string
	Name        string
	Type        Type
	DisplayName string
	// Endpoint overrides the provider family's default API endpoint.
	Endpoint string
	Auth     *AuthConfig
	// AdditionalConfig carries provider-specific knobs (bucket names,
	// export paths, sync schedules). Keys are plugin-defined.
	AdditionalConfig map[string]string
	Active           bool
	Validated        bool
	LastSyncAt       time.Time
	LastSyncStatus   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ConfigKey describes one required or optional additional-config key.
// Descriptive only; the core does not render UIs.
type ConfigKey struct {
	Name        string
	Description string
	Required    bool
}

// Metadata declares what a provider family supports.
type Metadata struct {
	Type              Type
	DisplayName       string
	SupportedAuth     []AuthMethod
	DefaultAuth       AuthMethod
	DefaultSourceType string
	ConfigKeys        []ConfigKey
}

// SupportsAuth reports whether the family accepts the given method.
func (m *Metadata) SupportsAuth(method AuthMethod) bool {
	for _, s := range m.SupportedAuth {
		if s == method {
			return true
		}
	}
	return false
}
