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

package openai

import (
	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/focus"
	"github.com/altairalabs/costflow/internal/transform"
)

// Mapper normalizes OpenAI usage buckets and cost line items.
//
// Usage buckets carry token counts per model; cost rows carry amounts per
// line item. A usage bucket with both token directions fans out into two
// records, discriminated by token_type in x_provider_data.
type Mapper struct{}

func (*Mapper) ProviderName() string { return "OpenAI" }

// IsValidRecord keeps rows that identify either a model (usage) or a line
// item (costs). Aggregate wrapper rows carry neither.
func (*Mapper) IsValidRecord(raw extract.RawRecord) bool {
	return transform.ParseString(raw["model"]) != "" ||
		transform.ParseString(raw["line_item"]) != ""
}

// SplitRecord fans a usage bucket into per-token-direction records. Cost
// rows and single-direction buckets map as-is.
func (*Mapper) SplitRecord(raw extract.RawRecord) []extract.RawRecord {
	in, hasIn := transform.ParseFloat(raw["input_tokens"])
	out, hasOut := transform.ParseFloat(raw["output_tokens"])
	if !hasIn && !hasOut {
		return []extract.RawRecord{raw}
	}

	var parts []extract.RawRecord
	if hasIn {
		parts = append(parts, tokenPart(raw, "input", in))
	}
	if hasOut {
		parts = append(parts, tokenPart(raw, "output", out))
	}
	return parts
}

// tokenPart copies the bucket with one token direction selected.
func tokenPart(raw extract.RawRecord, direction string, tokens float64) extract.RawRecord {
	part := make(extract.RawRecord, len(raw)+2)
	for k, v := range raw {
		part[k] = v
	}
	part["token_type"] = direction
	part["token_count"] = tokens
	return part
}

func (*Mapper) MapCosts(m *transform.Mapping) {
	// Usage buckets carry no monetary amount; the costs source does, either
	// flat or as {"value": ..., "currency": ...}.
	var amount float64
	if v, ok := m.Raw["amount"].(map[string]any); ok {
		amount, _ = transform.ParseFloat(v["value"])
		if cur := transform.ParseString(v["currency"]); cur != "" {
			m.Record.BillingCurrency = cur
		}
	} else if _, present := m.Raw["amount"]; present {
		amount = m.Float("amount")
	}
	m.Record.BilledCost = amount
	m.Record.EffectiveCost = amount
	m.Record.ListCost = amount
	m.Record.ContractedCost = amount
}

func (*Mapper) MapAccount(m *transform.Mapping) {
	m.Record.BillingAccountID = m.StrAny("organization_id", "organization")
	m.Record.SubAccountID = m.Str("project_id")
	m.Record.SubAccountName = m.Str("project_name")
	if m.Record.SubAccountID != "" {
		m.Record.SubAccountType = "project"
	}
}

func (*Mapper) MapPeriods(m *transform.Mapping) {
	if t := m.Time("bucket_start_time"); t.OK {
		m.Record.ChargePeriodStart = t.T
	} else if t := m.Time("start_time"); t.OK {
		m.Record.ChargePeriodStart = t.T
	}
	if t := m.Time("bucket_end_time"); t.OK {
		m.Record.ChargePeriodEnd = t.T
	} else if t := m.Time("end_time"); t.OK {
		m.Record.ChargePeriodEnd = t.T
	}
}

func (*Mapper) MapService(m *transform.Mapping) {
	m.Record.ServiceCategory = focus.ServiceCategoryAI
	m.Record.PublisherName = "OpenAI"
	m.Record.InvoiceIssuerName = "OpenAI"
	if model := m.Str("model"); model != "" {
		m.Record.ServiceName = model
		return
	}
	m.Record.ServiceName = m.Str("line_item")
}

func (*Mapper) MapCharge(m *transform.Mapping) {
	m.Record.ChargeCategory = focus.ChargeCategoryUsage
	m.Record.ChargeFrequency = focus.ChargeFrequencyUsageBased
	switch m.Str("token_type") {
	case "input":
		m.Record.ChargeDescription = "Input tokens for " + m.Str("model")
	case "output":
		m.Record.ChargeDescription = "Output tokens for " + m.Str("model")
	default:
		m.Record.ChargeDescription = m.StrAny("line_item", "model")
	}
}

func (*Mapper) MapSKU(m *transform.Mapping) {
	m.Record.SkuID = m.StrAny("model", "line_item")
}

func (*Mapper) MapUsage(m *transform.Mapping) {
	if tokens := m.FloatPtr("token_count"); tokens != nil {
		m.Record.ConsumedQuantity = tokens
		m.Record.ConsumedUnit = "tokens"
		m.Record.PricingQuantity = tokens
		m.Record.PricingUnit = "tokens"
	}
}

func (*Mapper) MapExtensions(m *transform.Mapping) {
	data := map[string]string{}
	if tt := m.Str("token_type"); tt != "" {
		data["token_type"] = tt
	}
	if batch := m.Str("batch"); batch != "" {
		data["batch"] = batch
	}
	if len(data) > 0 {
		m.Record.XProviderData = data
	}
}

var (
	_ transform.Mapper           = (*Mapper)(nil)
	_ transform.SKUMapper        = (*Mapper)(nil)
	_ transform.UsageMapper      = (*Mapper)(nil)
	_ transform.ExtensionsMapper = (*Mapper)(nil)
)
