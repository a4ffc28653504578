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
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/altairalabs/costflow/internal/focus"
)

// surrogateNamespace seeds uuid.NewSHA1 so surrogate ids are stable across
// processes and replays. Never change this value: it would re-key every
// previously loaded record.
var surrogateNamespace = uuid.MustParse("8a9a1c3e-4a2f-45f1-9c83-70a1d9f3b0e4")

// SurrogateID derives the deterministic surrogate id for a record from its
// identifying content. Replaying the same raw data reproduces the same id,
// which is what makes the loader's merge idempotent. salt disambiguates
// regenerated ids after a load conflict; pass "" normally.
func SurrogateID(r *focus.Record, salt string) string {
	parts := []string{
		r.XProviderID,
		r.ChargePeriodStart.UTC().Format(time.RFC3339Nano),
		r.ChargePeriodEnd.UTC().Format(time.RFC3339Nano),
		r.SkuID,
		r.SkuPriceID,
		r.ResourceID,
		r.SubAccountID,
		r.ChargeDescription,
		string(r.ChargeCategory),
	}
	// Provider data participates so split records (e.g. input vs output
	// tokens) get distinct ids. Keys are sorted for stability.
	keys := make([]string, 0, len(r.XProviderData))
	for k := range r.XProviderData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+r.XProviderData[k])
	}
	if salt != "" {
		parts = append(parts, "salt="+salt)
	}
	return uuid.NewSHA1(surrogateNamespace, []byte(strings.Join(parts, "\x1f"))).String()
}

// AssignSurrogateIDs stamps every record's surrogate id in place.
func AssignSurrogateIDs(records []focus.Record, salt string) {
	for i := range records {
		records[i].XSurrogateID = SurrogateID(&records[i], salt)
	}
}
