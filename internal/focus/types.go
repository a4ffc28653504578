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

// Package focus defines the FOCUS 1.2 normalized billing record and its
// validation rules. Records are pure value types; persistence rows live in
// the store package.
package focus

import (
	"time"
)

// ServiceCategory is the FOCUS service category dimension.
type ServiceCategory string

// FOCUS 1.2 service categories.
const (
	ServiceCategoryAI         ServiceCategory = "AI and Machine Learning"
	ServiceCategoryAnalytics  ServiceCategory = "Analytics"
	ServiceCategoryCompute    ServiceCategory = "Compute"
	ServiceCategoryDatabases  ServiceCategory = "Databases"
	ServiceCategoryDevTools   ServiceCategory = "Developer Tools"
	ServiceCategoryManagement ServiceCategory = "Management and Governance"
	ServiceCategoryNetworking ServiceCategory = "Networking"
	ServiceCategorySecurity   ServiceCategory = "Security, Identity, and Compliance"
	ServiceCategoryStorage    ServiceCategory = "Storage"
	ServiceCategoryOther      ServiceCategory = "Other"
)

// ChargeCategory is the FOCUS charge category dimension.
type ChargeCategory string

// FOCUS 1.2 charge categories.
const (
	ChargeCategoryUsage      ChargeCategory = "Usage"
	ChargeCategoryPurchase   ChargeCategory = "Purchase"
	ChargeCategoryTax        ChargeCategory = "Tax"
	ChargeCategoryCredit     ChargeCategory = "Credit"
	ChargeCategoryAdjustment ChargeCategory = "Adjustment"
)

// ChargeClass qualifies a charge; empty means unset.
type ChargeClass string

// ChargeClassCorrection is the only non-null charge class in FOCUS 1.2.
const ChargeClassCorrection ChargeClass = "Correction"

// ChargeFrequency describes how often a charge recurs; empty means unset.
type ChargeFrequency string

// FOCUS 1.2 charge frequencies.
const (
	ChargeFrequencyOneTime    ChargeFrequency = "One-Time"
	ChargeFrequencyRecurring  ChargeFrequency = "Recurring"
	ChargeFrequencyUsageBased ChargeFrequency = "Usage-Based"
)

// CommitmentDiscountStatus describes commitment usage; empty means unset.
type CommitmentDiscountStatus string

// FOCUS 1.2 commitment discount statuses.
const (
	CommitmentDiscountUsed   CommitmentDiscountStatus = "Used"
	CommitmentDiscountUnused CommitmentDiscountStatus = "Unused"
)

// DefaultCurrency is applied when a provider omits the billing currency.
const DefaultCurrency = "USD"

// ValidServiceCategory reports whether c is a recognized category.
func ValidServiceCategory(c ServiceCategory) bool {
	switch c {
	case ServiceCategoryAI, ServiceCategoryAnalytics, ServiceCategoryCompute,
		ServiceCategoryDatabases, ServiceCategoryDevTools, ServiceCategoryManagement,
		ServiceCategoryNetworking, ServiceCategorySecurity, ServiceCategoryStorage,
		ServiceCategoryOther:
		return true
	}
	return false
}

// ValidChargeCategory reports whether c is a recognized category.
func ValidChargeCategory(c ChargeCategory) bool {
	switch c {
	case ChargeCategoryUsage, ChargeCategoryPurchase, ChargeCategoryTax,
		ChargeCategoryCredit, ChargeCategoryAdjustment:
		return true
	}
	return false
}

// ValidChargeClass reports whether c is empty or a recognized class.
func ValidChargeClass(c ChargeClass) bool {
	return c == "" || c == ChargeClassCorrection
}

// ValidChargeFrequency reports whether f is empty or a recognized frequency.
func ValidChargeFrequency(f ChargeFrequency) bool {
	switch f {
	case "", ChargeFrequencyOneTime, ChargeFrequencyRecurring, ChargeFrequencyUsageBased:
		return true
	}
	return false
}

// ValidCommitmentDiscountStatus reports whether s is empty or a recognized status.
func ValidCommitmentDiscountStatus(s CommitmentDiscountStatus) bool {
	return s == "" || s == CommitmentDiscountUsed || s == CommitmentDiscountUnused
}

// Record is one normalized FOCUS 1.2 billing row. String fields use the
// empty string for "not present"; numeric optionals use pointers so that a
// present zero can be distinguished from absence.
type Record struct {
	// Costs. All four are mandatory and non-negative.
	BilledCost     float64
	EffectiveCost  float64
	ListCost       float64
	ContractedCost float64

	// Account.
	BillingAccountID   string
	BillingAccountName string
	BillingAccountType string
	SubAccountID       string
	SubAccountName     string
	SubAccountType     string

	// Periods. All timezone-aware; start strictly before end.
	BillingPeriodStart time.Time
	BillingPeriodEnd   time.Time
	ChargePeriodStart  time.Time
	ChargePeriodEnd    time.Time

	// Currency.
	BillingCurrency string
	PricingCurrency string

	// Service.
	ServiceName        string
	ServiceCategory    ServiceCategory
	ServiceSubcategory string
	ProviderName       string
	PublisherName      string
	InvoiceIssuerName  string

	// Charge.
	ChargeCategory    ChargeCategory
	ChargeClass       ChargeClass
	ChargeFrequency   ChargeFrequency
	ChargeDescription string
	PricingQuantity   *float64
	PricingUnit       string

	// Resource (name/type require id).
	ResourceID   string
	ResourceName string
	ResourceType string

	// Location (name requires id).
	RegionID   string
	RegionName string

	// SKU.
	SkuID      string
	SkuPriceID string

	// Commitment discount.
	CommitmentDiscountID       string
	CommitmentDiscountName     string
	CommitmentDiscountStatus   CommitmentDiscountStatus
	CommitmentDiscountQuantity *float64
	CommitmentDiscountUnit     string

	// Usage.
	ConsumedQuantity *float64
	ConsumedUnit     string

	// Prices denominated in the pricing currency.
	ListUnitPrice       *float64
	ContractedUnitPrice *float64

	// Tags.
	Tags map[string]string

	// Extensions.
	XProviderID       string
	XProviderData     map[string]string
	XRawBillingDataID string
	XSurrogateID      string
	XCreatedAt        time.Time
	XUpdatedAt        time.Time
}

// MergeKey identifies "the same record" across replays. Two records with
// equal merge keys are merged by the loader rather than inserted twice.
type MergeKey struct {
	ProviderID        string
	ChargePeriodStart time.Time
	ChargePeriodEnd   time.Time
	SkuID             string
	SurrogateID       string
}

// Key returns the merge identity of the record.
func (r *Record) Key() MergeKey {
	return MergeKey{
		ProviderID:        r.XProviderID,
		ChargePeriodStart: r.ChargePeriodStart.UTC(),
		ChargePeriodEnd:   r.ChargePeriodEnd.UTC(),
		SkuID:             r.SkuID,
		SurrogateID:       r.XSurrogateID,
	}
}
