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
	"sort"
	"strings"
)

// sensitivePatterns are substrings that mark a config key as holding secret
// material. Matching is case-insensitive on the key name alone.
var sensitivePatterns = []string{
	"key",
	"secret",
	"password",
	"token",
	"private_key",
	"passphrase",
	"credentials",
	"cert_content",
	"key_content",
}

// IsSensitiveKey reports whether the key name matches a sensitive pattern.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, p := range sensitivePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// SensitivePaths walks a raw configuration tree and returns the dotted paths
// of every string leaf whose key matches a sensitive pattern. These are the
// paths the sealing collaborator encrypts at rest and decrypts only inside a
// running extraction.
func SensitivePaths(raw map[string]any) []string {
	var paths []string
	walkSensitive("", raw, &paths)
	sort.Strings(paths)
	return paths
}

func walkSensitive(prefix string, node map[string]any, paths *[]string) {
	for k, v := range node {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch child := v.(type) {
		case map[string]any:
			walkSensitive(path, child, paths)
		case string:
			if IsSensitiveKey(k) {
				*paths = append(*paths, path)
			}
		}
	}
}

// SealFunc transforms one credential string; used to apply encryption or
// decryption over a config tree in place.
type SealFunc func(string) (string, error)

// ApplyToSensitive applies fn to every sensitive string leaf of raw,
// mutating the tree in place. The walk mirrors SensitivePaths.
func ApplyToSensitive(raw map[string]any, fn SealFunc) error {
	for k, v := range raw {
		switch child := v.(type) {
		case map[string]any:
			if err := ApplyToSensitive(child, fn); err != nil {
				return err
			}
		case string:
			if IsSensitiveKey(k) && child != "" {
				out, err := fn(child)
				if err != nil {
					return err
				}
				raw[k] = out
			}
		}
	}
	return nil
}
