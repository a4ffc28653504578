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

package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFloat(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    float64
		numeric bool
	}{
		{"float", 1.5, 1.5, true},
		{"int", 7, 7, true},
		{"int64", int64(9), 9, true},
		{"numeric string", "3.25", 3.25, true},
		{"padded string", " 2 ", 2, true},
		{"empty string", "", 0, false},
		{"null string", "null", 0, false},
		{"nan string", "NaN", 0, false},
		{"garbage", "12abc", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, numeric := ParseFloat(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.numeric, numeric)
		})
	}
}

func TestParseTime(t *testing.T) {
	utc := time.Date(2024, 3, 2, 15, 4, 5, 0, time.UTC)

	got, ok, naive := ParseTime("2024-03-02T15:04:05Z")
	require.True(t, ok)
	assert.False(t, naive)
	assert.Equal(t, utc, got)

	got, ok, naive = ParseTime("2024-03-02 15:04:05")
	require.True(t, ok)
	assert.True(t, naive, "zone-less timestamps are flagged")
	assert.Equal(t, utc, got)

	got, ok, naive = ParseTime("2024-03-02")
	require.True(t, ok)
	assert.True(t, naive)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), got)

	got, ok, _ = ParseTime(float64(utc.Unix()))
	require.True(t, ok)
	assert.Equal(t, utc, got)

	got, ok, _ = ParseTime(utc.UnixMilli())
	require.True(t, ok)
	assert.Equal(t, utc, got)

	// Offsets normalize to UTC.
	got, ok, naive = ParseTime("2024-03-02T16:04:05+01:00")
	require.True(t, ok)
	assert.False(t, naive)
	assert.Equal(t, utc, got)

	_, ok, _ = ParseTime("not a time")
	assert.False(t, ok)
	_, ok, _ = ParseTime(nil)
	assert.False(t, ok)
	_, ok, _ = ParseTime("")
	assert.False(t, ok)
}

func TestParseString(t *testing.T) {
	assert.Equal(t, "x", ParseString(" x "))
	assert.Equal(t, "", ParseString(nil))
	assert.Equal(t, "42", ParseString(42.0), "whole JSON numbers render without a point")
	assert.Equal(t, "1.5", ParseString(1.5))
	assert.Equal(t, "true", ParseString(true))
}

func TestParseStringMap(t *testing.T) {
	got := ParseStringMap(map[string]any{"team": "ml", "count": 3.0})
	assert.Equal(t, map[string]string{"team": "ml", "count": "3"}, got)

	assert.Nil(t, ParseStringMap("not a map"))
	assert.Nil(t, ParseStringMap(map[string]any{}))
}
