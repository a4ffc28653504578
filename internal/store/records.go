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

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/altairalabs/costflow/internal/focus"
	"github.com/altairalabs/costflow/internal/pgutil"
	"github.com/altairalabs/costflow/internal/pipeline"
)

// surrogateIndexName is the unique index whose violation means two distinct
// merge keys produced the same surrogate id.
const surrogateIndexName = "uq_billing_data_surrogate"

const upsertRecordQuery = `INSERT INTO billing_data (
	id,
	billed_cost, effective_cost, list_cost, contracted_cost,
	billing_account_id, billing_account_name, billing_account_type,
	sub_account_id, sub_account_name, sub_account_type,
	billing_period_start, billing_period_end, charge_period_start, charge_period_end,
	billing_currency, pricing_currency,
	service_name, service_category, service_subcategory,
	provider_name, publisher_name, invoice_issuer_name,
	charge_category, charge_class, charge_frequency, charge_description,
	pricing_quantity, pricing_unit,
	resource_id, resource_name, resource_type,
	region_id, region_name,
	sku_id, sku_price_id,
	commitment_discount_id, commitment_discount_name, commitment_discount_status,
	commitment_discount_quantity, commitment_discount_unit,
	consumed_quantity, consumed_unit,
	list_unit_price, contracted_unit_price,
	tags,
	x_provider_id, x_provider_data, x_raw_billing_data_id, x_surrogate_id,
	x_created_at, x_updated_at
) VALUES (
	$1,
	$2,$3,$4,$5,
	$6,$7,$8,
	$9,$10,$11,
	$12,$13,$14,$15,
	$16,$17,
	$18,$19,$20,
	$21,$22,$23,
	$24,$25,$26,$27,
	$28,$29,
	$30,$31,$32,
	$33,$34,
	$35,$36,
	$37,$38,$39,
	$40,$41,
	$42,$43,
	$44,$45,
	$46,
	$47,$48,$49,$50,
	$51,$52
)
ON CONFLICT (x_provider_id, charge_period_start, charge_period_end, sku_id, x_surrogate_id)
DO UPDATE SET
	billed_cost=EXCLUDED.billed_cost, effective_cost=EXCLUDED.effective_cost,
	list_cost=EXCLUDED.list_cost, contracted_cost=EXCLUDED.contracted_cost,
	billing_account_id=EXCLUDED.billing_account_id,
	billing_account_name=EXCLUDED.billing_account_name,
	billing_account_type=EXCLUDED.billing_account_type,
	sub_account_id=EXCLUDED.sub_account_id, sub_account_name=EXCLUDED.sub_account_name,
	sub_account_type=EXCLUDED.sub_account_type,
	billing_period_start=EXCLUDED.billing_period_start,
	billing_period_end=EXCLUDED.billing_period_end,
	billing_currency=EXCLUDED.billing_currency, pricing_currency=EXCLUDED.pricing_currency,
	service_name=EXCLUDED.service_name, service_category=EXCLUDED.service_category,
	service_subcategory=EXCLUDED.service_subcategory,
	provider_name=EXCLUDED.provider_name, publisher_name=EXCLUDED.publisher_name,
	invoice_issuer_name=EXCLUDED.invoice_issuer_name,
	charge_category=EXCLUDED.charge_category, charge_class=EXCLUDED.charge_class,
	charge_frequency=EXCLUDED.charge_frequency, charge_description=EXCLUDED.charge_description,
	pricing_quantity=EXCLUDED.pricing_quantity, pricing_unit=EXCLUDED.pricing_unit,
	resource_id=EXCLUDED.resource_id, resource_name=EXCLUDED.resource_name,
	resource_type=EXCLUDED.resource_type,
	region_id=EXCLUDED.region_id, region_name=EXCLUDED.region_name,
	sku_price_id=EXCLUDED.sku_price_id,
	commitment_discount_id=EXCLUDED.commitment_discount_id,
	commitment_discount_name=EXCLUDED.commitment_discount_name,
	commitment_discount_status=EXCLUDED.commitment_discount_status,
	commitment_discount_quantity=EXCLUDED.commitment_discount_quantity,
	commitment_discount_unit=EXCLUDED.commitment_discount_unit,
	consumed_quantity=EXCLUDED.consumed_quantity, consumed_unit=EXCLUDED.consumed_unit,
	list_unit_price=EXCLUDED.list_unit_price, contracted_unit_price=EXCLUDED.contracted_unit_price,
	tags=EXCLUDED.tags,
	x_provider_data=EXCLUDED.x_provider_data,
	x_raw_billing_data_id=EXCLUDED.x_raw_billing_data_id,
	x_updated_at=EXCLUDED.x_updated_at
RETURNING (xmax = 0)`

// recordArgs flattens a FOCUS record into the upsert's bind parameters.
// Conversion from domain value to row shape happens only here.
func recordArgs(r *focus.Record, now time.Time) []any {
	createdAt := r.XCreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return []any{
		uuid.NewString(),
		r.BilledCost, r.EffectiveCost, r.ListCost, r.ContractedCost,
		r.BillingAccountID, pgutil.NullString(r.BillingAccountName), pgutil.NullString(r.BillingAccountType),
		pgutil.NullString(r.SubAccountID), pgutil.NullString(r.SubAccountName), pgutil.NullString(r.SubAccountType),
		r.BillingPeriodStart.UTC(), r.BillingPeriodEnd.UTC(), r.ChargePeriodStart.UTC(), r.ChargePeriodEnd.UTC(),
		r.BillingCurrency, pgutil.NullString(r.PricingCurrency),
		r.ServiceName, string(r.ServiceCategory), pgutil.NullString(r.ServiceSubcategory),
		r.ProviderName, r.PublisherName, r.InvoiceIssuerName,
		string(r.ChargeCategory), pgutil.NullString(string(r.ChargeClass)),
		pgutil.NullString(string(r.ChargeFrequency)), r.ChargeDescription,
		r.PricingQuantity, pgutil.NullString(r.PricingUnit),
		pgutil.NullString(r.ResourceID), pgutil.NullString(r.ResourceName), pgutil.NullString(r.ResourceType),
		pgutil.NullString(r.RegionID), pgutil.NullString(r.RegionName),
		r.SkuID, pgutil.NullString(r.SkuPriceID),
		pgutil.NullString(r.CommitmentDiscountID), pgutil.NullString(r.CommitmentDiscountName),
		pgutil.NullString(string(r.CommitmentDiscountStatus)),
		r.CommitmentDiscountQuantity, pgutil.NullString(r.CommitmentDiscountUnit),
		r.ConsumedQuantity, pgutil.NullString(r.ConsumedUnit),
		r.ListUnitPrice, r.ContractedUnitPrice,
		pgutil.MarshalJSONB(r.Tags),
		r.XProviderID, pgutil.MarshalJSONB(r.XProviderData), r.XRawBillingDataID, r.XSurrogateID,
		createdAt.UTC(), now,
	}
}

// UpsertRecords merges one batch in a single transaction. Matching merge
// keys update in place; a surrogate-id collision across different merge keys
// rolls the whole batch back and reports ErrLoadConflict so the loader can
// retry with regenerated surrogate ids.
func (s *Store) UpsertRecords(ctx context.Context, records []focus.Record) (pipeline.UpsertResult, error) {
	var res pipeline.UpsertResult
	if len(records) == 0 {
		return res, nil
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	for i := range records {
		var inserted bool
		err := tx.QueryRow(ctx, upsertRecordQuery, recordArgs(&records[i], now)...).Scan(&inserted)
		if err != nil {
			if isSurrogateConflict(err) {
				return pipeline.UpsertResult{}, fmt.Errorf("store: upsert record: %w", pipeline.ErrLoadConflict)
			}
			return pipeline.UpsertResult{}, fmt.Errorf("store: upsert record: %w", err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return pipeline.UpsertResult{}, fmt.Errorf("store: commit upsert batch: %w", err)
	}
	return res, nil
}

// isSurrogateConflict reports whether err is a unique violation on the
// surrogate-id index.
func isSurrogateConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == surrogateIndexName
}

// CostStats sums billed cost per provider and service category over a charge
// period window.
func (s *Store) CostStats(ctx context.Context, providerID string, since time.Time) ([]pipeline.CostSummary, error) {
	qb := &pgutil.QueryBuilder{}
	qb.Add("charge_period_start >= $?", since)
	if providerID != "" {
		qb.Add("x_provider_id=$?", providerID)
	}

	query := `SELECT x_provider_id, service_category,
		count(*), coalesce(sum(billed_cost), 0), coalesce(sum(list_cost), 0),
		min(charge_period_start), max(charge_period_end)
	FROM billing_data WHERE 1=1` + qb.Where() + `
	GROUP BY x_provider_id, service_category ORDER BY x_provider_id, service_category`

	rows, err := s.pool.Query(ctx, query, qb.Args()...)
	if err != nil {
		return nil, fmt.Errorf("store: cost stats: %w", err)
	}
	defer rows.Close()

	byProvider := map[string]*pipeline.CostSummary{}
	var order []string
	for rows.Next() {
		var pid, category string
		var count int64
		var billed, listed float64
		var start, end time.Time
		if err := rows.Scan(&pid, &category, &count, &billed, &listed, &start, &end); err != nil {
			return nil, fmt.Errorf("store: scan cost stats: %w", err)
		}

		sum := byProvider[pid]
		if sum == nil {
			sum = &pipeline.CostSummary{ProviderID: pid, ByCategory: map[string]float64{}, WindowsStart: start, WindowsEnd: end}
			byProvider[pid] = sum
			order = append(order, pid)
		}
		sum.RecordCount += count
		sum.TotalBilled += billed
		sum.TotalListed += listed
		sum.ByCategory[category] += billed
		if start.Before(sum.WindowsStart) {
			sum.WindowsStart = start
		}
		if end.After(sum.WindowsEnd) {
			sum.WindowsEnd = end
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate cost stats: %w", err)
	}

	out := make([]pipeline.CostSummary, 0, len(order))
	for _, pid := range order {
		out = append(out, *byProvider[pid])
	}
	return out, nil
}
