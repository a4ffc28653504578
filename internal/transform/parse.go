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
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeLayouts are tried in order for string timestamps. Layouts without a
// zone produce naive times, flagged for the caller to assume UTC.
var timeLayouts = []struct {
	layout string
	naive  bool
}{
	{time.RFC3339Nano, false},
	{time.RFC3339, false},
	{"2006-01-02T15:04:05", true},
	{"2006-01-02 15:04:05", true},
	{"2006-01-02", true},
	{"2006-01", true},
}

// ParseFloat interprets a raw cell as a float. Empty, null and garbage
// values coerce to zero; the second return reports whether the value was
// genuinely numeric.
func ParseFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "nan") {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ParseTime interprets a raw cell as a timestamp. Strings try RFC3339 then
// common layouts; integers are unix seconds/millis/micros by magnitude.
// naive reports a zone-less value that was assumed UTC.
func ParseTime(v any) (t time.Time, ok bool, naive bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true, false
	case string:
		s := strings.TrimSpace(x)
		if s == "" || strings.EqualFold(s, "null") {
			return time.Time{}, false, false
		}
		for _, l := range timeLayouts {
			if parsed, err := time.Parse(l.layout, s); err == nil {
				return parsed.UTC(), true, l.naive
			}
		}
		// Epoch seconds arriving as strings.
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epochTime(n), true, false
		}
		return time.Time{}, false, false
	case float64:
		if x == 0 {
			return time.Time{}, false, false
		}
		return epochTime(int64(x)), true, false
	case int64:
		if x == 0 {
			return time.Time{}, false, false
		}
		return epochTime(x), true, false
	case int:
		return ParseTime(int64(x))
	default:
		return time.Time{}, false, false
	}
}

// epochTime converts a unix value to a time, choosing the unit by magnitude.
func epochTime(n int64) time.Time {
	switch {
	case n > 1e17:
		return time.Unix(0, n).UTC()
	case n > 1e14:
		return time.UnixMicro(n).UTC()
	case n > 1e11:
		return time.UnixMilli(n).UTC()
	default:
		return time.Unix(n, 0).UTC()
	}
}

// ParseString renders a raw cell as its string form; nil becomes "".
func ParseString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		// JSON numbers decode as float64; render integers without a point.
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ParseStringMap flattens a raw cell into a string-to-string map for tags
// and provider data. Nested values render as their string form.
func ParseStringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = ParseString(val)
	}
	return out
}
