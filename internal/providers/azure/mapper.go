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

package azure

import (
	"github.com/altairalabs/costflow/internal/extract"
	"github.com/altairalabs/costflow/internal/focus"
	"github.com/altairalabs/costflow/internal/transform"
)

// Mapper normalizes Azure consumption usage details.
type Mapper struct{}

func (*Mapper) ProviderName() string { return "Microsoft Azure" }

// IsValidRecord keeps rows carrying a properties envelope.
func (*Mapper) IsValidRecord(raw extract.RawRecord) bool {
	_, ok := raw["properties"].(map[string]any)
	return ok
}

// SplitRecord flattens the properties envelope into the record root,
// keeping the ARM id and name fields alongside.
func (*Mapper) SplitRecord(raw extract.RawRecord) []extract.RawRecord {
	props, _ := raw["properties"].(map[string]any)
	flat := make(extract.RawRecord, len(props)+2)
	for k, v := range props {
		flat[k] = v
	}
	flat["id"] = raw["id"]
	flat["name"] = raw["name"]
	return []extract.RawRecord{flat}
}

func (*Mapper) MapCosts(m *transform.Mapping) {
	cost := m.Float("costInBillingCurrency")
	if _, present := m.Raw["costInBillingCurrency"]; !present {
		cost = m.Float("cost")
	}
	m.Record.BilledCost = cost
	m.Record.EffectiveCost = cost
	m.Record.ListCost = m.Float("paygCostInBillingCurrency")
	if m.Record.ListCost == 0 {
		m.Record.ListCost = cost
	}
	m.Record.ContractedCost = cost
	m.Record.BillingCurrency = m.StrAny("billingCurrency", "billingCurrencyCode")
}

func (*Mapper) MapAccount(m *transform.Mapping) {
	m.Record.BillingAccountID = m.Str("billingAccountId")
	m.Record.BillingAccountName = m.Str("billingAccountName")
	m.Record.SubAccountID = m.Str("subscriptionId")
	m.Record.SubAccountName = m.Str("subscriptionName")
	if m.Record.SubAccountID != "" {
		m.Record.SubAccountType = "subscription"
	}
}

func (*Mapper) MapPeriods(m *transform.Mapping) {
	if t := m.Time("billingPeriodStartDate"); t.OK {
		m.Record.BillingPeriodStart = t.T
	}
	if t := m.Time("billingPeriodEndDate"); t.OK {
		m.Record.BillingPeriodEnd = t.T
	}
	if t := m.Time("date"); t.OK {
		m.Record.ChargePeriodStart = t.T
	} else if t := m.Time("usageStart"); t.OK {
		m.Record.ChargePeriodStart = t.T
	}
	if t := m.Time("usageEnd"); t.OK {
		m.Record.ChargePeriodEnd = t.T
	}
}

func (*Mapper) MapService(m *transform.Mapping) {
	m.Record.ServiceName = m.StrAny("meterCategory", "consumedService")
	m.Record.ServiceCategory = transform.CanonicalServiceCategory(m.Str("meterCategory"))
	m.Record.ServiceSubcategory = m.Str("meterSubCategory")
	m.Record.PublisherName = m.StrAny("publisherName", "publisherType")
	m.Record.InvoiceIssuerName = "Microsoft"
}

func (*Mapper) MapCharge(m *transform.Mapping) {
	m.Record.ChargeCategory = focus.ChargeCategoryUsage
	if m.Str("chargeType") == "Purchase" {
		m.Record.ChargeCategory = focus.ChargeCategoryPurchase
	}
	m.Record.ChargeFrequency = focus.ChargeFrequencyUsageBased
	m.Record.ChargeDescription = m.StrAny("meterName", "product")
	m.Record.PricingQuantity = m.FloatPtr("quantity")
	m.Record.PricingUnit = m.StrAny("unitOfMeasure", "meterUnit")
}

func (*Mapper) MapResource(m *transform.Mapping) {
	m.Record.ResourceID = m.StrAny("resourceId", "instanceId")
	m.Record.ResourceName = m.Str("resourceName")
	m.Record.ResourceType = m.Str("resourceType")
}

func (*Mapper) MapLocation(m *transform.Mapping) {
	m.Record.RegionID = m.StrAny("resourceLocation", "location")
	m.Record.RegionName = m.Str("resourceLocationNormalized")
}

func (*Mapper) MapSKU(m *transform.Mapping) {
	m.Record.SkuID = m.Str("meterId")
	m.Record.SkuPriceID = m.Str("productOrderId")
	m.Record.ListUnitPrice = m.FloatPtr("paygPrice")
	m.Record.ContractedUnitPrice = m.FloatPtr("effectivePrice")
}

func (*Mapper) MapUsage(m *transform.Mapping) {
	m.Record.ConsumedQuantity = m.FloatPtr("quantity")
	m.Record.ConsumedUnit = m.StrAny("unitOfMeasure", "meterUnit")
}

func (*Mapper) MapTags(m *transform.Mapping) {
	m.Record.Tags = transform.ParseStringMap(m.Raw["tags"])
}

var (
	_ transform.Mapper         = (*Mapper)(nil)
	_ transform.ResourceMapper = (*Mapper)(nil)
	_ transform.LocationMapper = (*Mapper)(nil)
	_ transform.SKUMapper      = (*Mapper)(nil)
	_ transform.UsageMapper    = (*Mapper)(nil)
	_ transform.TagsMapper     = (*Mapper)(nil)
)
