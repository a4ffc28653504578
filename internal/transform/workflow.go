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
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/focus"
)

// strictViolationLimit is the violation count above which strict mode
// rejects a record instead of keeping it.
const strictViolationLimit = 3

// WorkflowConfig tunes the shared transform workflow.
type WorkflowConfig struct {
	// Strict rejects records with more than strictViolationLimit
	// validation violations instead of loading them.
	Strict bool
}

// Workflow drives one provider's mapper over raw batches: filter, split,
// map, default, correct enums, validate, stamp surrogate ids.
type Workflow struct {
	providerID string
	mapper     Mapper
	cfg        WorkflowConfig
	now        func() time.Time
	log        logr.Logger
}

// NewWorkflow builds a workflow around one provider's mapper.
func NewWorkflow(providerID string, mapper Mapper, cfg WorkflowConfig, log logr.Logger) *Workflow {
	return &Workflow{
		providerID: providerID,
		mapper:     mapper,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log.WithName("transform"),
	}
}

// Result summarizes one batch's transformation.
type Result struct {
	Records []focus.Record
	// Skipped counts raw records the mapper declined to map.
	Skipped int
	// Rejected counts records strict mode refused.
	Rejected int
	// Warnings aggregates mapping and validation warnings, capped.
	Warnings []string
}

// maxResultWarnings caps the warnings retained per batch.
const maxResultWarnings = 50

// Run transforms one raw batch. Cancellation is checked per raw record.
func (w *Workflow) Run(ctx context.Context, batch extract.RawBatch) (*Result, error) {
	res := &Result{}

	for _, raw := range batch.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !w.mapper.IsValidRecord(raw) {
			res.Skipped++
			continue
		}
		for _, part := range w.mapper.SplitRecord(raw) {
			rec, warnings, ok := w.mapOne(part, batch.BlobID)
			w.collect(res, warnings)
			if !ok {
				res.Rejected++
				continue
			}
			res.Records = append(res.Records, *rec)
		}
	}

	AssignSurrogateIDs(res.Records, "")
	return res, nil
}

// mapOne builds a single FOCUS record through the mapper's hooks.
func (w *Workflow) mapOne(raw extract.RawRecord, blobID string) (*focus.Record, []string, bool) {
	m := &Mapping{Raw: raw, Record: &focus.Record{}}
	rec := m.Record
	rec.XProviderID = w.providerID
	rec.XRawBillingDataID = blobID
	rec.ProviderName = w.mapper.ProviderName()

	w.mapper.MapCosts(m)
	w.mapper.MapAccount(m)
	w.mapper.MapPeriods(m)
	w.mapper.MapService(m)
	w.mapper.MapCharge(m)

	if h, ok := w.mapper.(ResourceMapper); ok {
		h.MapResource(m)
	}
	if h, ok := w.mapper.(LocationMapper); ok {
		h.MapLocation(m)
	}
	if h, ok := w.mapper.(SKUMapper); ok {
		h.MapSKU(m)
	}
	if h, ok := w.mapper.(CommitmentMapper); ok {
		h.MapCommitment(m)
	}
	if h, ok := w.mapper.(UsageMapper); ok {
		h.MapUsage(m)
	}
	if h, ok := w.mapper.(TagsMapper); ok {
		h.MapTags(m)
	}
	if h, ok := w.mapper.(ExtensionsMapper); ok {
		h.MapExtensions(m)
	}

	w.applyDefaults(m)
	w.correctEnums(m)

	if w.cfg.Strict {
		v := focus.Validate(rec, w.now())
		if v.Violations() > strictViolationLimit {
			m.Warnf("record rejected with %d violations", v.Violations())
			return nil, m.warnings, false
		}
	}

	return rec, m.warnings, true
}

// applyDefaults fills the absent values every record must carry: USD
// currency and a billing period spanning the charge period's calendar month.
func (w *Workflow) applyDefaults(m *Mapping) {
	rec := m.Record
	if rec.BillingCurrency == "" {
		rec.BillingCurrency = focus.DefaultCurrency
	}
	if rec.BillingPeriodStart.IsZero() && !rec.ChargePeriodStart.IsZero() {
		t := rec.ChargePeriodStart.UTC()
		rec.BillingPeriodStart = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		rec.BillingPeriodEnd = rec.BillingPeriodStart.AddDate(0, 1, 0)
	}
	if rec.ChargePeriodEnd.IsZero() && !rec.ChargePeriodStart.IsZero() {
		// Point-in-time charges cover one day.
		rec.ChargePeriodEnd = rec.ChargePeriodStart.AddDate(0, 0, 1)
	}
}

// correctEnums coerces out-of-vocabulary enum values instead of failing the
// record: service category falls back to Other, charge category to Usage,
// and the optional enums clear to unset.
func (w *Workflow) correctEnums(m *Mapping) {
	rec := m.Record
	if !focus.ValidServiceCategory(rec.ServiceCategory) {
		m.Warnf("service_category %q corrected to %q", rec.ServiceCategory, focus.ServiceCategoryOther)
		rec.ServiceCategory = focus.ServiceCategoryOther
	}
	if !focus.ValidChargeCategory(rec.ChargeCategory) {
		m.Warnf("charge_category %q corrected to %q", rec.ChargeCategory, focus.ChargeCategoryUsage)
		rec.ChargeCategory = focus.ChargeCategoryUsage
	}
	if !focus.ValidChargeClass(rec.ChargeClass) {
		m.Warnf("charge_class %q cleared", rec.ChargeClass)
		rec.ChargeClass = ""
	}
	if !focus.ValidChargeFrequency(rec.ChargeFrequency) {
		m.Warnf("charge_frequency %q cleared", rec.ChargeFrequency)
		rec.ChargeFrequency = ""
	}
	if !focus.ValidCommitmentDiscountStatus(rec.CommitmentDiscountStatus) {
		m.Warnf("commitment_discount_status %q cleared", rec.CommitmentDiscountStatus)
		rec.CommitmentDiscountStatus = ""
	}
}

// collect folds warnings into the result up to the cap.
func (w *Workflow) collect(res *Result, warnings []string) {
	for _, warn := range warnings {
		if len(res.Warnings) >= maxResultWarnings {
			return
		}
		res.Warnings = append(res.Warnings, warn)
		w.log.V(1).Info("mapping warning", "provider", w.providerID, "warning", warn)
	}
}
