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

package provider

import (
	"errors"
	"fmt"
)

// AuthMethod names a recognized authentication scheme.
type AuthMethod string

// Recognized authentication methods.
const (
	AuthAPIKey             AuthMethod = "api_key"
	AuthBearerToken        AuthMethod = "bearer_token"
	AuthBasic              AuthMethod = "basic"
	AuthOAuth2ClientCreds  AuthMethod = "oauth2_client_credentials"
	AuthOAuth2AuthCode     AuthMethod = "oauth2_authorization_code"
	AuthServiceAccount     AuthMethod = "service_account"
	AuthCertificate        AuthMethod = "certificate"
	AuthManagedIdentity    AuthMethod = "managed_identity"
	AuthDefaultCredentials AuthMethod = "default_credentials"
	AuthCredentialsFile    AuthMethod = "credentials_file"
	AuthMultiFactor        AuthMethod = "multi_factor"
	AuthCustom             AuthMethod = "custom"
)

// Sentinel errors for auth resolution.
var (
	// ErrUnknownAuthMethod indicates a method outside the recognized set.
	// Unknown methods are rejected outright, never coerced to custom.
	ErrUnknownAuthMethod = errors.New("unknown auth method")
	// ErrUnsupportedAuthMethod indicates a recognized method the provider
	// family does not accept.
	ErrUnsupportedAuthMethod = errors.New("unsupported auth method")
)

// MissingAuthFieldError reports a required field absent from an auth config.
type MissingAuthFieldError struct {
	Method AuthMethod
	Field  string
}

func (e *MissingAuthFieldError) Error() string {
	return fmt.Sprintf("auth method %q: missing required field %q", e.Method, e.Field)
}

// UnknownAuthKeyError reports an unrecognized key supplied for a known
// variant. Unknown keys are rejected rather than silently retained.
type UnknownAuthKeyError struct {
	Method AuthMethod
	Key    string
}

func (e *UnknownAuthKeyError) Error() string {
	return fmt.Sprintf("auth method %q: unknown field %q", e.Method, e.Key)
}

// APIKeyAuth carries a static API key, sent in HeaderName (default
// "Authorization" with no scheme when unset).
type APIKeyAuth struct {
	Key        string `json:"key"`
	HeaderName string `json:"header_name,omitempty"`
}

// BearerTokenAuth carries a static bearer token.
type BearerTokenAuth struct {
	Token string `json:"token"`
}

// BasicAuth carries username/password credentials.
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// OAuth2ClientCredsAuth carries an OAuth2 client-credentials grant.
type OAuth2ClientCredsAuth struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes,omitempty"`
}

// OAuth2AuthCodeAuth carries an authorization-code grant with an offline
// refresh token.
type OAuth2AuthCodeAuth struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TokenURL     string `json:"token_url"`
	RefreshToken string `json:"refresh_token"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
}

// ServiceAccountAuth carries inline service-account credentials JSON.
type ServiceAccountAuth struct {
	Credentials string `json:"credentials"`
	ProjectID   string `json:"project_id,omitempty"`
}

// CertificateAuth carries client-certificate material, inline or by path.
// At least one of content/path must be set for both the cert and the key.
type CertificateAuth struct {
	CertContent string `json:"cert_content,omitempty"`
	CertPath    string `json:"cert_path,omitempty"`
	KeyContent  string `json:"key_content,omitempty"`
	KeyPath     string `json:"key_path,omitempty"`
	Passphrase  string `json:"passphrase,omitempty"`
}

// ManagedIdentityAuth selects a cloud-ambient managed identity. The
// credential is obtained from the environment at use time.
type ManagedIdentityAuth struct {
	ClientID string `json:"client_id,omitempty"`
}

// CredentialsFileAuth points at an on-disk credentials file.
type CredentialsFileAuth struct {
	Path    string `json:"path"`
	Profile string `json:"profile,omitempty"`
}

// MultiFactorAuth composes a primary auth config with an optional secondary.
type MultiFactorAuth struct {
	Primary   *AuthConfig `json:"primary"`
	Secondary *AuthConfig `json:"secondary,omitempty"`
}

// AuthConfig is a tagged union over the recognized auth methods. Exactly the
// variant named by Method is populated.
type AuthConfig struct {
	Method AuthMethod `json:"method"`

	APIKey          *APIKeyAuth            `json:"api_key,omitempty"`
	BearerToken     *BearerTokenAuth       `json:"bearer_token,omitempty"`
	Basic           *BasicAuth             `json:"basic,omitempty"`
	OAuth2Client    *OAuth2ClientCredsAuth `json:"oauth2_client_credentials,omitempty"`
	OAuth2AuthCode  *OAuth2AuthCodeAuth    `json:"oauth2_authorization_code,omitempty"`
	ServiceAccount  *ServiceAccountAuth    `json:"service_account,omitempty"`
	Certificate     *CertificateAuth       `json:"certificate,omitempty"`
	ManagedIdentity *ManagedIdentityAuth   `json:"managed_identity,omitempty"`
	CredentialsFile *CredentialsFileAuth   `json:"credentials_file,omitempty"`
	MultiFactor     *MultiFactorAuth       `json:"multi_factor,omitempty"`
	Custom          map[string]string      `json:"custom,omitempty"`
}

// knownMethods is the closed set of recognized methods.
var knownMethods = map[AuthMethod]bool{
	AuthAPIKey:             true,
	AuthBearerToken:        true,
	AuthBasic:              true,
	AuthOAuth2ClientCreds:  true,
	AuthOAuth2AuthCode:     true,
	AuthServiceAccount:     true,
	AuthCertificate:        true,
	AuthManagedIdentity:    true,
	AuthDefaultCredentials: true,
	AuthCredentialsFile:    true,
	AuthMultiFactor:        true,
	AuthCustom:             true,
}

// KnownAuthMethod reports whether m belongs to the recognized set.
func KnownAuthMethod(m AuthMethod) bool { return knownMethods[m] }

// Validate checks the config's structural invariants: a known method, the
// matching variant populated with its required fields, and no stray variant.
func (a *AuthConfig) Validate() error {
	if a == nil {
		return errors.New("auth config is required")
	}
	if a.Method == "" {
		return &MissingAuthFieldError{Field: "method"}
	}
	if !KnownAuthMethod(a.Method) {
		return fmt.Errorf("%w: %q", ErrUnknownAuthMethod, a.Method)
	}

	switch a.Method {
	case AuthAPIKey:
		if a.APIKey == nil || a.APIKey.Key == "" {
			return &MissingAuthFieldError{Method: a.Method, Field: "key"}
		}
	case AuthBearerToken:
		if a.BearerToken == nil || a.BearerToken.Token == "" {
			return &MissingAuthFieldError{Method: a.Method, Field: "token"}
		}
	case AuthBasic:
		if a.Basic == nil || a.Basic.Username == "" {
			return &MissingAuthFieldError{Method: a.Method, Field: "username"}
		}
		if a.Basic.Password == "" {
			return &MissingAuthFieldError{Method: a.Method, Field: "password"}
		}
	case AuthOAuth2ClientCreds:
		return validateOAuth2Client(a.OAuth2Client)
	case AuthOAuth2AuthCode:
		return validateOAuth2AuthCode(a.OAuth2AuthCode)
	case AuthServiceAccount:
		if a.ServiceAccount == nil || a.ServiceAccount.Credentials == "" {
			return &MissingAuthFieldError{Method: a.Method, Field: "credentials"}
		}
	case AuthCertificate:
		return validateCertificate(a.Certificate)
	case AuthManagedIdentity, AuthDefaultCredentials:
		// Ambient credentials; no static fields to check.
	case AuthCredentialsFile:
		if a.CredentialsFile == nil || a.CredentialsFile.Path == "" {
			return &MissingAuthFieldError{Method: a.Method, Field: "path"}
		}
	case AuthMultiFactor:
		return validateMultiFactor(a.MultiFactor)
	case AuthCustom:
		if len(a.Custom) == 0 {
			return &MissingAuthFieldError{Method: a.Method, Field: "custom"}
		}
	}
	return nil
}

func validateOAuth2Client(c *OAuth2ClientCredsAuth) error {
	if c == nil || c.ClientID == "" {
		return &MissingAuthFieldError{Method: AuthOAuth2ClientCreds, Field: "client_id"}
	}
	if c.ClientSecret == "" {
		return &MissingAuthFieldError{Method: AuthOAuth2ClientCreds, Field: "client_secret"}
	}
	if c.TokenURL == "" {
		return &MissingAuthFieldError{Method: AuthOAuth2ClientCreds, Field: "token_url"}
	}
	return nil
}

func validateOAuth2AuthCode(c *OAuth2AuthCodeAuth) error {
	if c == nil || c.ClientID == "" {
		return &MissingAuthFieldError{Method: AuthOAuth2AuthCode, Field: "client_id"}
	}
	if c.ClientSecret == "" {
		return &MissingAuthFieldError{Method: AuthOAuth2AuthCode, Field: "client_secret"}
	}
	if c.TokenURL == "" {
		return &MissingAuthFieldError{Method: AuthOAuth2AuthCode, Field: "token_url"}
	}
	if c.RefreshToken == "" {
		return &MissingAuthFieldError{Method: AuthOAuth2AuthCode, Field: "refresh_token"}
	}
	return nil
}

func validateCertificate(c *CertificateAuth) error {
	if c == nil || (c.CertContent == "" && c.CertPath == "") {
		return &MissingAuthFieldError{Method: AuthCertificate, Field: "cert_content|cert_path"}
	}
	if c.KeyContent == "" && c.KeyPath == "" {
		return &MissingAuthFieldError{Method: AuthCertificate, Field: "key_content|key_path"}
	}
	return nil
}

func validateMultiFactor(c *MultiFactorAuth) error {
	if c == nil || c.Primary == nil {
		return &MissingAuthFieldError{Method: AuthMultiFactor, Field: "primary"}
	}
	if err := c.Primary.Validate(); err != nil {
		return fmt.Errorf("multi_factor primary: %w", err)
	}
	if c.Secondary != nil {
		if err := c.Secondary.Validate(); err != nil {
			return fmt.Errorf("multi_factor secondary: %w", err)
		}
	}
	return nil
}

// Resolve validates a parsed auth config against a provider family's
// metadata and returns it bound for use by extractors.
func Resolve(meta *Metadata, cfg *AuthConfig) (*AuthConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !meta.SupportsAuth(cfg.Method) {
		return nil, fmt.Errorf("%w: %q not accepted by provider type %q",
			ErrUnsupportedAuthMethod, cfg.Method, meta.Type)
	}
	return cfg, nil
}
