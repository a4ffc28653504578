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
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/focus"
)

// testMapper maps a flat raw schema; rows with split=true fan out into an
// input and an output record.
type testMapper struct{}

func (testMapper) ProviderName() string { return "TestCloud" }

func (testMapper) IsValidRecord(raw extract.RawRecord) bool {
	return ParseString(raw["kind"]) != "summary"
}

func (testMapper) SplitRecord(raw extract.RawRecord) []extract.RawRecord {
	if b, _ := raw["split"].(bool); !b {
		return []extract.RawRecord{raw}
	}
	in := extract.RawRecord{}
	out := extract.RawRecord{}
	for k, v := range raw {
		in[k], out[k] = v, v
	}
	in["token_type"] = "input"
	out["token_type"] = "output"
	return []extract.RawRecord{in, out}
}

func (testMapper) MapCosts(m *Mapping) {
	m.Record.BilledCost = m.Float("cost")
	m.Record.EffectiveCost = m.Float("cost")
	m.Record.ListCost = m.Float("cost")
	m.Record.ContractedCost = m.Float("cost")
}

func (testMapper) MapAccount(m *Mapping) {
	m.Record.BillingAccountID = m.Str("account")
}

func (testMapper) MapPeriods(m *Mapping) {
	if t := m.Time("start"); t.OK {
		m.Record.ChargePeriodStart = t.T
	}
	if t := m.Time("end"); t.OK {
		m.Record.ChargePeriodEnd = t.T
	}
}

func (testMapper) MapService(m *Mapping) {
	m.Record.ServiceName = m.Str("service")
	m.Record.ServiceCategory = focus.ServiceCategory(m.Str("category"))
}

func (testMapper) MapCharge(m *Mapping) {
	m.Record.ChargeCategory = focus.ChargeCategory(m.Str("charge"))
	m.Record.ChargeDescription = m.Str("description")
	m.Record.ChargeFrequency = focus.ChargeFrequency(m.Str("frequency"))
}

func (testMapper) MapSKU(m *Mapping) {
	m.Record.SkuID = m.Str("sku")
}

func (testMapper) MapExtensions(m *Mapping) {
	if tt := m.Str("token_type"); tt != "" {
		m.Record.XProviderData = map[string]string{"token_type": tt}
	}
}

func rawUsage() extract.RawRecord {
	return extract.RawRecord{
		"cost":        "1.50",
		"account":     "acct-1",
		"start":       "2024-03-01T00:00:00Z",
		"end":         "2024-03-02T00:00:00Z",
		"service":     "GPT-4o",
		"category":    "AI and Machine Learning",
		"charge":      "Usage",
		"description": "API usage",
		"sku":         "gpt-4o",
	}
}

func newTestWorkflow(strict bool) *Workflow {
	return NewWorkflow("prov-1", testMapper{}, WorkflowConfig{Strict: strict}, logr.Discard())
}

func TestWorkflowMapsRecord(t *testing.T) {
	batch := extract.RawBatch{BlobID: "blob-1", Records: []extract.RawRecord{rawUsage()}}

	res, err := newTestWorkflow(false).Run(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.Equal(t, 1.5, rec.BilledCost)
	assert.Equal(t, "acct-1", rec.BillingAccountID)
	assert.Equal(t, "TestCloud", rec.ProviderName)
	assert.Equal(t, "prov-1", rec.XProviderID)
	assert.Equal(t, "blob-1", rec.XRawBillingDataID)
	assert.NotEmpty(t, rec.XSurrogateID)

	// Defaults: currency and calendar-month billing period.
	assert.Equal(t, "USD", rec.BillingCurrency)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), rec.BillingPeriodStart)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), rec.BillingPeriodEnd)
}

func TestWorkflowSkipsInvalidRecords(t *testing.T) {
	batch := extract.RawBatch{BlobID: "b", Records: []extract.RawRecord{
		rawUsage(),
		{"kind": "summary"},
	}}

	res, err := newTestWorkflow(false).Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 1, res.Skipped)
}

func TestWorkflowSplitRecordsGetDistinctSurrogateIDs(t *testing.T) {
	raw := rawUsage()
	raw["split"] = true
	batch := extract.RawBatch{BlobID: "b", Records: []extract.RawRecord{raw}}

	res, err := newTestWorkflow(false).Run(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	assert.Equal(t, "input", res.Records[0].XProviderData["token_type"])
	assert.Equal(t, "output", res.Records[1].XProviderData["token_type"])
	assert.NotEqual(t, res.Records[0].XSurrogateID, res.Records[1].XSurrogateID)
}

func TestWorkflowSurrogateIDsDeterministic(t *testing.T) {
	batch := extract.RawBatch{BlobID: "b", Records: []extract.RawRecord{rawUsage()}}

	first, err := newTestWorkflow(false).Run(context.Background(), batch)
	require.NoError(t, err)
	second, err := newTestWorkflow(false).Run(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, first.Records[0].XSurrogateID, second.Records[0].XSurrogateID,
		"replays must reproduce the same surrogate id")

	// Regeneration with a salt moves the id.
	regen := []focus.Record{first.Records[0]}
	AssignSurrogateIDs(regen, "retry-1")
	assert.NotEqual(t, first.Records[0].XSurrogateID, regen[0].XSurrogateID)
}

func TestWorkflowEnumCorrection(t *testing.T) {
	raw := rawUsage()
	raw["category"] = "Quantum Widgets"
	raw["charge"] = "Mystery"
	raw["frequency"] = "Sometimes"
	batch := extract.RawBatch{BlobID: "b", Records: []extract.RawRecord{raw}}

	res, err := newTestWorkflow(false).Run(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.Equal(t, focus.ServiceCategoryOther, rec.ServiceCategory)
	assert.Equal(t, focus.ChargeCategoryUsage, rec.ChargeCategory)
	assert.Empty(t, rec.ChargeFrequency)
	assert.NotEmpty(t, res.Warnings)
}

func TestWorkflowDefensiveNumericParsing(t *testing.T) {
	raw := rawUsage()
	raw["cost"] = "not-a-number"
	batch := extract.RawBatch{BlobID: "b", Records: []extract.RawRecord{raw}}

	res, err := newTestWorkflow(false).Run(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Zero(t, res.Records[0].BilledCost)
	assert.NotEmpty(t, res.Warnings)
}

func TestWorkflowStrictRejectsBrokenRecords(t *testing.T) {
	// Missing costs are zero (fine), but no account, no periods, no service
	// name and no description pile up well past the violation limit.
	raw := extract.RawRecord{"service": ""}
	batch := extract.RawBatch{BlobID: "b", Records: []extract.RawRecord{raw}}

	res, err := newTestWorkflow(true).Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.Rejected)

	// The same record passes through when strict mode is off.
	res, err = newTestWorkflow(false).Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
}

func TestWorkflowCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := extract.RawBatch{BlobID: "b", Records: []extract.RawRecord{rawUsage()}}
	_, err := newTestWorkflow(false).Run(ctx, batch)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkflowPointInTimeChargeGetsOneDayPeriod(t *testing.T) {
	raw := rawUsage()
	delete(raw, "end")
	batch := extract.RawBatch{BlobID: "b", Records: []extract.RawRecord{raw}}

	res, err := newTestWorkflow(false).Run(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.Equal(t, rec.ChargePeriodStart.AddDate(0, 0, 1), rec.ChargePeriodEnd)
}
