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

package focus

import (
	"fmt"
	"time"
)

// ValidationResult collects findings for a single record. Errors reject the
// record in strict mode; warnings and info entries are observed and counted.
type ValidationResult struct {
	Errors   []string
	Warnings []string
	Info     []string
}

// Valid reports whether the record produced no hard errors.
func (v *ValidationResult) Valid() bool { return len(v.Errors) == 0 }

// Violations returns the number of errors plus warnings.
func (v *ValidationResult) Violations() int { return len(v.Errors) + len(v.Warnings) }

func (v *ValidationResult) errf(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func (v *ValidationResult) warnf(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

func (v *ValidationResult) infof(format string, args ...any) {
	v.Info = append(v.Info, fmt.Sprintf(format, args...))
}

// Validate checks a normalized record against the FOCUS 1.2 rules: mandatory
// presence, period ordering, cost sanity, enum membership, and conditional
// field dependencies. now anchors the future-period checks.
func Validate(r *Record, now time.Time) *ValidationResult {
	res := &ValidationResult{}

	validateMandatory(r, res)
	validatePeriods(r, now, res)
	validateCosts(r, res)
	validateEnums(r, res)
	validateConditional(r, res)
	validateQuantities(r, res)

	return res
}

func validateMandatory(r *Record, res *ValidationResult) {
	if r.BillingAccountID == "" {
		res.errf("billing_account_id is required")
	}
	if r.BillingCurrency == "" {
		res.errf("billing_currency is required")
	}
	if r.ServiceName == "" {
		res.errf("service_name is required")
	}
	if r.ProviderName == "" {
		res.errf("provider_name is required")
	}
	if r.PublisherName == "" {
		res.errf("publisher_name is required")
	}
	if r.InvoiceIssuerName == "" {
		res.errf("invoice_issuer_name is required")
	}
	if r.ChargeDescription == "" {
		res.errf("charge_description is required")
	}
	if r.BillingPeriodStart.IsZero() || r.BillingPeriodEnd.IsZero() {
		res.errf("billing period is required")
	}
	if r.ChargePeriodStart.IsZero() || r.ChargePeriodEnd.IsZero() {
		res.errf("charge period is required")
	}
	if len(r.BillingCurrency) != 0 && len(r.BillingCurrency) != 3 {
		res.warnf("billing_currency %q is not a 3-letter code", r.BillingCurrency)
	}
}

func validatePeriods(r *Record, now time.Time, res *ValidationResult) {
	if !r.BillingPeriodStart.IsZero() && !r.BillingPeriodEnd.IsZero() &&
		!r.BillingPeriodEnd.After(r.BillingPeriodStart) {
		res.errf("billing_period_end must be after billing_period_start")
	}
	if !r.ChargePeriodStart.IsZero() && !r.ChargePeriodEnd.IsZero() &&
		!r.ChargePeriodEnd.After(r.ChargePeriodStart) {
		res.errf("charge_period_end must be after charge_period_start")
	}

	// Charge period outside the billing period is suspicious but tolerated.
	if !r.ChargePeriodStart.IsZero() && !r.BillingPeriodStart.IsZero() &&
		r.ChargePeriodStart.Before(r.BillingPeriodStart) {
		res.warnf("charge_period_start precedes billing_period_start")
	}
	if !r.ChargePeriodEnd.IsZero() && !r.BillingPeriodEnd.IsZero() &&
		r.ChargePeriodEnd.After(r.BillingPeriodEnd) {
		res.warnf("charge_period_end exceeds billing_period_end")
	}
	if !r.BillingPeriodEnd.IsZero() && r.BillingPeriodEnd.After(now) {
		res.warnf("billing_period_end is in the future")
	}
	if !r.ChargePeriodEnd.IsZero() && r.ChargePeriodEnd.After(now) {
		res.warnf("charge_period_end is in the future")
	}
}

func validateCosts(r *Record, res *ValidationResult) {
	costs := []struct {
		name  string
		value float64
	}{
		{"billed_cost", r.BilledCost},
		{"effective_cost", r.EffectiveCost},
		{"list_cost", r.ListCost},
		{"contracted_cost", r.ContractedCost},
	}
	for _, c := range costs {
		if c.value < 0 {
			res.warnf("%s is negative: %v", c.name, c.value)
		}
	}
	if r.EffectiveCost > r.ListCost {
		res.warnf("effective_cost %v exceeds list_cost %v", r.EffectiveCost, r.ListCost)
	}
	if r.ContractedCost > r.ListCost {
		res.warnf("contracted_cost %v exceeds list_cost %v", r.ContractedCost, r.ListCost)
	}
}

func validateEnums(r *Record, res *ValidationResult) {
	if !ValidServiceCategory(r.ServiceCategory) {
		res.errf("service_category %q is not a recognized category", r.ServiceCategory)
	}
	if !ValidChargeCategory(r.ChargeCategory) {
		res.errf("charge_category %q is not a recognized category", r.ChargeCategory)
	}
	if !ValidChargeClass(r.ChargeClass) {
		res.errf("charge_class %q is not a recognized class", r.ChargeClass)
	}
	if !ValidChargeFrequency(r.ChargeFrequency) {
		res.errf("charge_frequency %q is not a recognized frequency", r.ChargeFrequency)
	}
	if !ValidCommitmentDiscountStatus(r.CommitmentDiscountStatus) {
		res.errf("commitment_discount_status %q is not a recognized status", r.CommitmentDiscountStatus)
	}
}

func validateConditional(r *Record, res *ValidationResult) {
	if r.SubAccountID != "" {
		if r.SubAccountName == "" {
			res.errf("sub_account_name is required when sub_account_id is set")
		}
		if r.SubAccountType == "" {
			res.errf("sub_account_type is required when sub_account_id is set")
		}
	}
	if r.PricingUnit != "" && r.PricingQuantity == nil {
		res.errf("pricing_quantity is required when pricing_unit is set")
	}
	if r.ResourceID == "" && (r.ResourceName != "" || r.ResourceType != "") {
		res.errf("resource_id is required when resource_name or resource_type is set")
	}
	if r.RegionName != "" && r.RegionID == "" {
		res.errf("region_id is required when region_name is set")
	}
	if r.CommitmentDiscountName != "" && r.CommitmentDiscountID == "" {
		res.errf("commitment_discount_id is required when commitment_discount_name is set")
	}
	if r.CommitmentDiscountQuantity != nil && r.CommitmentDiscountUnit == "" {
		res.errf("commitment_discount_unit is required when commitment_discount_quantity is set")
	}
	if r.ConsumedUnit != "" && r.ConsumedQuantity == nil {
		res.errf("consumed_quantity is required when consumed_unit is set")
	}
}

func validateQuantities(r *Record, res *ValidationResult) {
	if r.PricingQuantity != nil && *r.PricingQuantity > 0 && r.ListCost == 0 {
		res.warnf("pricing_quantity %v with zero list_cost", *r.PricingQuantity)
	}
	if r.ConsumedQuantity != nil && r.PricingQuantity != nil &&
		*r.ConsumedQuantity > *r.PricingQuantity {
		res.infof("consumed_quantity %v exceeds pricing_quantity %v",
			*r.ConsumedQuantity, *r.PricingQuantity)
	}
}

// RecordDetail pairs a record index with its validation findings.
type RecordDetail struct {
	Index  int
	Result *ValidationResult
}

// maxSummaryDetails caps the detailed entries carried on a batch summary.
const maxSummaryDetails = 10

// ComplianceSummary aggregates validation over a batch of records.
type ComplianceSummary struct {
	Total          int
	Valid          int
	TotalErrors    int
	TotalWarnings  int
	ComplianceRate float64
	Details        []RecordDetail
}

// ValidateBatch validates every record and returns the aggregate summary.
// The compliance rate is zero-guarded: an empty batch is 100% compliant.
func ValidateBatch(records []*Record, now time.Time) *ComplianceSummary {
	s := &ComplianceSummary{Total: len(records)}

	for i, r := range records {
		res := Validate(r, now)
		s.TotalErrors += len(res.Errors)
		s.TotalWarnings += len(res.Warnings)
		if res.Valid() {
			s.Valid++
			continue
		}
		if len(s.Details) < maxSummaryDetails {
			s.Details = append(s.Details, RecordDetail{Index: i, Result: res})
		}
	}

	if s.Total == 0 {
		s.ComplianceRate = 1.0
	} else {
		s.ComplianceRate = float64(s.Valid) / float64(s.Total)
	}
	return s
}
