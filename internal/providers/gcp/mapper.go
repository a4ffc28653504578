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

package gcp

import (
	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/focus"
	"github.com/altairalabs/costflow/internal/transform"
)

// Mapper normalizes GCP billing export rows. The export nests service, sku,
// project and location objects; SplitRecord flattens them to dotted keys so
// the hooks read flat fields.
type Mapper struct{}

func (*Mapper) ProviderName() string { return "Google Cloud Platform" }

// IsValidRecord keeps rows that carry a cost and a usage period.
func (*Mapper) IsValidRecord(raw extract.RawRecord) bool {
	return raw["cost"] != nil && raw["usage_start_time"] != nil
}

// SplitRecord flattens one level of nesting into dotted keys: service.id,
// sku.description, project.id, location.region and usage.amount.
func (*Mapper) SplitRecord(raw extract.RawRecord) []extract.RawRecord {
	flat := make(extract.RawRecord, len(raw))
	for k, v := range raw {
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range nested {
				flat[k+"."+nk] = nv
			}
			continue
		}
		flat[k] = v
	}
	return []extract.RawRecord{flat}
}

func (*Mapper) MapCosts(m *transform.Mapping) {
	cost := m.Float("cost")
	m.Record.BilledCost = cost
	m.Record.EffectiveCost = cost + m.Float("credits_total")
	m.Record.ListCost = m.Float("cost_at_list")
	if m.Record.ListCost == 0 {
		m.Record.ListCost = cost
	}
	m.Record.ContractedCost = cost
	m.Record.BillingCurrency = m.Str("currency")
}

func (*Mapper) MapAccount(m *transform.Mapping) {
	m.Record.BillingAccountID = m.Str("billing_account_id")
	m.Record.SubAccountID = m.Str("project.id")
	m.Record.SubAccountName = m.Str("project.name")
	if m.Record.SubAccountID != "" {
		m.Record.SubAccountType = "project"
	}
}

func (*Mapper) MapPeriods(m *transform.Mapping) {
	if t := m.Time("usage_start_time"); t.OK {
		m.Record.ChargePeriodStart = t.T
	}
	if t := m.Time("usage_end_time"); t.OK {
		m.Record.ChargePeriodEnd = t.T
	}
	if t := m.Time("invoice.month"); t.OK {
		m.Record.BillingPeriodStart = t.T
		m.Record.BillingPeriodEnd = t.T.AddDate(0, 1, 0)
	}
}

func (*Mapper) MapService(m *transform.Mapping) {
	m.Record.ServiceName = m.Str("service.description")
	m.Record.ServiceCategory = transform.CanonicalServiceCategory(m.Str("service.category"))
	m.Record.PublisherName = "Google"
	m.Record.InvoiceIssuerName = "Google Cloud"
}

func (*Mapper) MapCharge(m *transform.Mapping) {
	m.Record.ChargeCategory = focus.ChargeCategoryUsage
	switch m.Str("cost_type") {
	case "tax":
		m.Record.ChargeCategory = focus.ChargeCategoryTax
	case "adjustment":
		m.Record.ChargeCategory = focus.ChargeCategoryAdjustment
	}
	m.Record.ChargeFrequency = focus.ChargeFrequencyUsageBased
	m.Record.ChargeDescription = m.Str("sku.description")
	m.Record.PricingQuantity = m.FloatPtr("usage.amount_in_pricing_units")
	m.Record.PricingUnit = m.Str("usage.pricing_unit")
}

func (*Mapper) MapResource(m *transform.Mapping) {
	m.Record.ResourceID = m.Str("resource.global_name")
	m.Record.ResourceName = m.Str("resource.name")
}

func (*Mapper) MapLocation(m *transform.Mapping) {
	m.Record.RegionID = m.Str("location.region")
	m.Record.RegionName = m.Str("location.location")
}

func (*Mapper) MapSKU(m *transform.Mapping) {
	m.Record.SkuID = m.Str("sku.id")
}

func (*Mapper) MapUsage(m *transform.Mapping) {
	m.Record.ConsumedQuantity = m.FloatPtr("usage.amount")
	m.Record.ConsumedUnit = m.Str("usage.unit")
}

func (*Mapper) MapTags(m *transform.Mapping) {
	m.Record.Tags = transform.ParseStringMap(m.Raw["labels"])
}

var (
	_ transform.Mapper         = (*Mapper)(nil)
	_ transform.ResourceMapper = (*Mapper)(nil)
	_ transform.LocationMapper = (*Mapper)(nil)
	_ transform.SKUMapper      = (*Mapper)(nil)
	_ transform.UsageMapper    = (*Mapper)(nil)
	_ transform.TagsMapper     = (*Mapper)(nil)
)
