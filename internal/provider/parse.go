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
	"fmt"
)

// allowedAuthKeys maps each method to the top-level keys its variant accepts
// (beyond "method"). Anything else is rejected.
var allowedAuthKeys = map[AuthMethod][]string{
	AuthAPIKey:             {"key", "header_name"},
	AuthBearerToken:        {"token"},
	AuthBasic:              {"username", "password"},
	AuthOAuth2ClientCreds:  {"client_id", "client_secret", "token_url", "scopes"},
	AuthOAuth2AuthCode:     {"client_id", "client_secret", "token_url", "refresh_token", "redirect_uri"},
	AuthServiceAccount:     {"credentials", "project_id"},
	AuthCertificate:        {"cert_content", "cert_path", "key_content", "key_path", "passphrase"},
	AuthManagedIdentity:    {"client_id"},
	AuthDefaultCredentials: {},
	AuthCredentialsFile:    {"path", "profile"},
	AuthMultiFactor:        {"primary", "secondary"},
}

// ParseAuthConfig builds a typed AuthConfig from the raw configuration map
// stored on a provider row. The method field selects the variant; unknown
// methods and unknown keys for known variants are rejected.
func ParseAuthConfig(raw map[string]any) (*AuthConfig, error) {
	if raw == nil {
		return nil, &MissingAuthFieldError{Field: "method"}
	}

	method := AuthMethod(stringAt(raw, "method"))
	if method == "" {
		return nil, &MissingAuthFieldError{Field: "method"}
	}
	if !KnownAuthMethod(method) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAuthMethod, method)
	}

	// Custom keeps every non-method key verbatim; every other variant has a
	// closed key set.
	if method == AuthCustom {
		custom := make(map[string]string, len(raw))
		for k, v := range raw {
			if k == "method" {
				continue
			}
			custom[k] = fmt.Sprintf("%v", v)
		}
		cfg := &AuthConfig{Method: method, Custom: custom}
		return cfg, cfg.Validate()
	}

	if err := rejectUnknownKeys(method, raw); err != nil {
		return nil, err
	}

	cfg := &AuthConfig{Method: method}
	var err error
	switch method {
	case AuthAPIKey:
		cfg.APIKey = &APIKeyAuth{
			Key:        stringAt(raw, "key"),
			HeaderName: stringAt(raw, "header_name"),
		}
	case AuthBearerToken:
		cfg.BearerToken = &BearerTokenAuth{Token: stringAt(raw, "token")}
	case AuthBasic:
		cfg.Basic = &BasicAuth{
			Username: stringAt(raw, "username"),
			Password: stringAt(raw, "password"),
		}
	case AuthOAuth2ClientCreds:
		cfg.OAuth2Client = &OAuth2ClientCredsAuth{
			ClientID:     stringAt(raw, "client_id"),
			ClientSecret: stringAt(raw, "client_secret"),
			TokenURL:     stringAt(raw, "token_url"),
			Scopes:       stringsAt(raw, "scopes"),
		}
	case AuthOAuth2AuthCode:
		cfg.OAuth2AuthCode = &OAuth2AuthCodeAuth{
			ClientID:     stringAt(raw, "client_id"),
			ClientSecret: stringAt(raw, "client_secret"),
			TokenURL:     stringAt(raw, "token_url"),
			RefreshToken: stringAt(raw, "refresh_token"),
			RedirectURI:  stringAt(raw, "redirect_uri"),
		}
	case AuthServiceAccount:
		cfg.ServiceAccount = &ServiceAccountAuth{
			Credentials: stringAt(raw, "credentials"),
			ProjectID:   stringAt(raw, "project_id"),
		}
	case AuthCertificate:
		cfg.Certificate = &CertificateAuth{
			CertContent: stringAt(raw, "cert_content"),
			CertPath:    stringAt(raw, "cert_path"),
			KeyContent:  stringAt(raw, "key_content"),
			KeyPath:     stringAt(raw, "key_path"),
			Passphrase:  stringAt(raw, "passphrase"),
		}
	case AuthManagedIdentity:
		cfg.ManagedIdentity = &ManagedIdentityAuth{ClientID: stringAt(raw, "client_id")}
	case AuthDefaultCredentials:
		// No fields.
	case AuthCredentialsFile:
		cfg.CredentialsFile = &CredentialsFileAuth{
			Path:    stringAt(raw, "path"),
			Profile: stringAt(raw, "profile"),
		}
	case AuthMultiFactor:
		cfg.MultiFactor, err = parseMultiFactor(raw)
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseMultiFactor(raw map[string]any) (*MultiFactorAuth, error) {
	mf := &MultiFactorAuth{}

	primary, ok := raw["primary"].(map[string]any)
	if !ok {
		return nil, &MissingAuthFieldError{Method: AuthMultiFactor, Field: "primary"}
	}
	p, err := ParseAuthConfig(primary)
	if err != nil {
		return nil, fmt.Errorf("multi_factor primary: %w", err)
	}
	mf.Primary = p

	if secondary, ok := raw["secondary"].(map[string]any); ok {
		s, err := ParseAuthConfig(secondary)
		if err != nil {
			return nil, fmt.Errorf("multi_factor secondary: %w", err)
		}
		mf.Secondary = s
	}
	return mf, nil
}

func rejectUnknownKeys(method AuthMethod, raw map[string]any) error {
	allowed := map[string]bool{"method": true}
	for _, k := range allowedAuthKeys[method] {
		allowed[k] = true
	}
	for k := range raw {
		if !allowed[k] {
			return &UnknownAuthKeyError{Method: method, Key: k}
		}
	}
	return nil
}

func stringAt(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

func stringsAt(raw map[string]any, key string) []string {
	switch v := raw[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
