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

package aws

import (
	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/focus"
	"github.com/altairalabs/costflow/internal/transform"
)

// Mapper normalizes FOCUS-format export rows. The export already speaks
// FOCUS column names, so mapping is mostly a faithful copy with defensive
// parsing; the interesting work is period/number coercion out of parquet
// and warehouse cell types.
type Mapper struct{}

func (*Mapper) ProviderName() string { return "Amazon Web Services" }

// IsValidRecord drops rows with no billed period, which the export uses
// for summary footers.
func (*Mapper) IsValidRecord(raw extract.RawRecord) bool {
	return raw["ChargePeriodStart"] != nil
}

func (*Mapper) SplitRecord(raw extract.RawRecord) []extract.RawRecord {
	return []extract.RawRecord{raw}
}

func (*Mapper) MapCosts(m *transform.Mapping) {
	m.Record.BilledCost = m.Float("BilledCost")
	m.Record.EffectiveCost = m.Float("EffectiveCost")
	m.Record.ListCost = m.Float("ListCost")
	m.Record.ContractedCost = m.Float("ContractedCost")
	m.Record.BillingCurrency = m.Str("BillingCurrency")
	m.Record.PricingCurrency = m.Str("PricingCurrency")
}

func (*Mapper) MapAccount(m *transform.Mapping) {
	m.Record.BillingAccountID = m.Str("BillingAccountId")
	m.Record.BillingAccountName = m.Str("BillingAccountName")
	m.Record.BillingAccountType = m.Str("BillingAccountType")
	m.Record.SubAccountID = m.Str("SubAccountId")
	m.Record.SubAccountName = m.Str("SubAccountName")
	m.Record.SubAccountType = m.Str("SubAccountType")
}

func (*Mapper) MapPeriods(m *transform.Mapping) {
	if t := m.Time("BillingPeriodStart"); t.OK {
		m.Record.BillingPeriodStart = t.T
	}
	if t := m.Time("BillingPeriodEnd"); t.OK {
		m.Record.BillingPeriodEnd = t.T
	}
	if t := m.Time("ChargePeriodStart"); t.OK {
		m.Record.ChargePeriodStart = t.T
	}
	if t := m.Time("ChargePeriodEnd"); t.OK {
		m.Record.ChargePeriodEnd = t.T
	}
}

func (*Mapper) MapService(m *transform.Mapping) {
	m.Record.ServiceName = m.Str("ServiceName")
	m.Record.ServiceCategory = transform.CanonicalServiceCategory(m.Str("ServiceCategory"))
	m.Record.ServiceSubcategory = m.Str("ServiceSubcategory")
	m.Record.PublisherName = m.Str("PublisherName")
	m.Record.InvoiceIssuerName = m.Str("InvoiceIssuerName")
}

func (*Mapper) MapCharge(m *transform.Mapping) {
	m.Record.ChargeCategory = focus.ChargeCategory(m.Str("ChargeCategory"))
	m.Record.ChargeClass = focus.ChargeClass(m.Str("ChargeClass"))
	m.Record.ChargeFrequency = focus.ChargeFrequency(m.Str("ChargeFrequency"))
	m.Record.ChargeDescription = m.Str("ChargeDescription")
	m.Record.PricingQuantity = m.FloatPtr("PricingQuantity")
	m.Record.PricingUnit = m.Str("PricingUnit")
}

func (*Mapper) MapResource(m *transform.Mapping) {
	m.Record.ResourceID = m.Str("ResourceId")
	m.Record.ResourceName = m.Str("ResourceName")
	m.Record.ResourceType = m.Str("ResourceType")
}

func (*Mapper) MapLocation(m *transform.Mapping) {
	m.Record.RegionID = m.Str("RegionId")
	m.Record.RegionName = m.Str("RegionName")
}

func (*Mapper) MapSKU(m *transform.Mapping) {
	m.Record.SkuID = m.Str("SkuId")
	m.Record.SkuPriceID = m.Str("SkuPriceId")
	m.Record.ListUnitPrice = m.FloatPtr("ListUnitPrice")
	m.Record.ContractedUnitPrice = m.FloatPtr("ContractedUnitPrice")
}

func (*Mapper) MapCommitment(m *transform.Mapping) {
	m.Record.CommitmentDiscountID = m.Str("CommitmentDiscountId")
	m.Record.CommitmentDiscountName = m.Str("CommitmentDiscountName")
	m.Record.CommitmentDiscountStatus = focus.CommitmentDiscountStatus(m.Str("CommitmentDiscountStatus"))
	m.Record.CommitmentDiscountQuantity = m.FloatPtr("CommitmentDiscountQuantity")
	m.Record.CommitmentDiscountUnit = m.Str("CommitmentDiscountUnit")
}

func (*Mapper) MapUsage(m *transform.Mapping) {
	m.Record.ConsumedQuantity = m.FloatPtr("ConsumedQuantity")
	m.Record.ConsumedUnit = m.Str("ConsumedUnit")
}

func (*Mapper) MapTags(m *transform.Mapping) {
	m.Record.Tags = transform.ParseStringMap(m.Raw["Tags"])
}

var (
	_ transform.Mapper           = (*Mapper)(nil)
	_ transform.ResourceMapper   = (*Mapper)(nil)
	_ transform.LocationMapper   = (*Mapper)(nil)
	_ transform.SKUMapper        = (*Mapper)(nil)
	_ transform.CommitmentMapper = (*Mapper)(nil)
	_ transform.UsageMapper      = (*Mapper)(nil)
	_ transform.TagsMapper       = (*Mapper)(nil)
)
