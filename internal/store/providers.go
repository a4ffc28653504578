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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/altairalabs/costflow/internal/pgutil"
	"github.com/altairalabs/costflow/internal/provider"
)

// providerColumns is the SELECT column list for providers (no trailing comma).
const providerColumns = `id, name, type, display_name, endpoint, auth,
	additional_config, active, validated, last_sync_at, last_sync_status,
	created_at, updated_at`

// sealAuth serializes an auth config with its sensitive leaves encrypted.
// Returns nil for a nil config so the column stays NULL.
func (s *Store) sealAuth(auth *provider.AuthConfig) ([]byte, error) {
	if auth == nil {
		return nil, nil
	}

	raw, err := authToTree(auth)
	if err != nil {
		return nil, err
	}
	if err := provider.ApplyToSensitive(raw, s.sealer.Encrypt); err != nil {
		return nil, fmt.Errorf("store: sealing auth config: %w", err)
	}
	return json.Marshal(raw)
}

// openAuth deserializes a sealed auth column back into a typed config with
// cleartext credentials.
func (s *Store) openAuth(data []byte) (*provider.AuthConfig, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("store: decoding auth config: %w", err)
	}
	if err := provider.ApplyToSensitive(raw, s.sealer.Decrypt); err != nil {
		return nil, fmt.Errorf("store: opening auth config: %w", err)
	}
	return treeToAuth(raw)
}

func authToTree(auth *provider.AuthConfig) (map[string]any, error) {
	b, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("store: encoding auth config: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("store: encoding auth config: %w", err)
	}
	return raw, nil
}

func treeToAuth(raw map[string]any) (*provider.AuthConfig, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("store: decoding auth config: %w", err)
	}
	var auth provider.AuthConfig
	if err := json.Unmarshal(b, &auth); err != nil {
		return nil, fmt.Errorf("store: decoding auth config: %w", err)
	}
	return &auth, nil
}

func (s *Store) scanProvider(row pgx.Row) (*provider.Provider, error) {
	var p provider.Provider
	var displayName, endpoint, syncStatus *string
	var lastSyncAt *time.Time
	var authJSON, configJSON []byte

	err := row.Scan(
		&p.ID, &p.Name, &p.Type, &displayName, &endpoint, &authJSON,
		&configJSON, &p.Active, &p.Validated, &lastSyncAt, &syncStatus,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, provider.ErrNotFound
		}
		return nil, fmt.Errorf("store: scan provider: %w", err)
	}

	p.DisplayName = pgutil.DerefString(displayName)
	p.Endpoint = pgutil.DerefString(endpoint)
	p.LastSyncAt = pgutil.TimeOrZero(lastSyncAt)
	p.LastSyncStatus = pgutil.DerefString(syncStatus)
	p.AdditionalConfig = pgutil.UnmarshalJSONB(configJSON)

	auth, err := s.openAuth(authJSON)
	if err != nil {
		return nil, err
	}
	p.Auth = auth
	return &p, nil
}

// CreateProvider persists a new provider. A zero ID is assigned; credential
// fields are sealed before they reach the database.
func (s *Store) CreateProvider(ctx context.Context, p *provider.Provider) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	authJSON, err := s.sealAuth(p.Auth)
	if err != nil {
		return err
	}

	query := `INSERT INTO providers (
		id, name, type, display_name, endpoint, auth,
		additional_config, active, validated, last_sync_at, last_sync_status,
		created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Name, p.Type, pgutil.NullString(p.DisplayName), pgutil.NullString(p.Endpoint), authJSON,
		pgutil.MarshalJSONB(p.AdditionalConfig), p.Active, p.Validated,
		pgutil.NullTime(p.LastSyncAt), pgutil.NullString(p.LastSyncStatus),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create provider: %w", err)
	}
	return nil
}

// GetProvider loads one provider by id with credentials opened.
func (s *Store) GetProvider(ctx context.Context, id string) (*provider.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE id=$1 LIMIT 1`
	return s.scanProvider(s.pool.QueryRow(ctx, query, id))
}

// GetProviderByName loads one provider by its unique name.
func (s *Store) GetProviderByName(ctx context.Context, name string) (*provider.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE name=$1 LIMIT 1`
	return s.scanProvider(s.pool.QueryRow(ctx, query, name))
}

// ListProviders returns all providers, active and inactive, by name.
func (s *Store) ListProviders(ctx context.Context) ([]*provider.Provider, error) {
	return s.listProviders(ctx, `SELECT `+providerColumns+` FROM providers ORDER BY name`)
}

// ListActiveProviders returns providers eligible for scheduled syncs.
func (s *Store) ListActiveProviders(ctx context.Context) ([]*provider.Provider, error) {
	return s.listProviders(ctx, `SELECT `+providerColumns+` FROM providers WHERE active ORDER BY name`)
}

func (s *Store) listProviders(ctx context.Context, query string) ([]*provider.Provider, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list providers: %w", err)
	}
	defer rows.Close()

	var out []*provider.Provider
	for rows.Next() {
		p, err := s.scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate providers: %w", err)
	}
	if out == nil {
		out = []*provider.Provider{}
	}
	return out, nil
}

// UpdateProvider rewrites a provider in place. Auth changes clear the
// validated flag; callers re-validate before the next sync.
func (s *Store) UpdateProvider(ctx context.Context, p *provider.Provider) error {
	p.UpdatedAt = time.Now().UTC()

	authJSON, err := s.sealAuth(p.Auth)
	if err != nil {
		return err
	}

	query := `UPDATE providers SET
		name=$2, type=$3, display_name=$4, endpoint=$5, auth=$6,
		additional_config=$7, active=$8, validated=$9, updated_at=$10
	WHERE id=$1`

	res, err := s.pool.Exec(ctx, query,
		p.ID, p.Name, p.Type, pgutil.NullString(p.DisplayName), pgutil.NullString(p.Endpoint), authJSON,
		pgutil.MarshalJSONB(p.AdditionalConfig), p.Active, p.Validated, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: update provider: %w", err)
	}
	if res.RowsAffected() == 0 {
		return provider.ErrNotFound
	}
	return nil
}

// DeactivateProvider soft-deletes a provider by clearing its active flag.
func (s *Store) DeactivateProvider(ctx context.Context, id string) error {
	res, err := s.pool.Exec(ctx,
		`UPDATE providers SET active=FALSE, updated_at=$2 WHERE id=$1`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: deactivate provider: %w", err)
	}
	if res.RowsAffected() == 0 {
		return provider.ErrNotFound
	}
	return nil
}

// SetProviderValidated records the outcome of provider validation.
func (s *Store) SetProviderValidated(ctx context.Context, id string, validated bool) error {
	res, err := s.pool.Exec(ctx,
		`UPDATE providers SET validated=$2, updated_at=$3 WHERE id=$1`,
		id, validated, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: set provider validated: %w", err)
	}
	if res.RowsAffected() == 0 {
		return provider.ErrNotFound
	}
	return nil
}

// RecordProviderSync stamps the last sync outcome on the provider row.
func (s *Store) RecordProviderSync(ctx context.Context, id, status string, at time.Time) error {
	res, err := s.pool.Exec(ctx,
		`UPDATE providers SET last_sync_at=$2, last_sync_status=$3, updated_at=$4 WHERE id=$1`,
		id, at, status, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: record provider sync: %w", err)
	}
	if res.RowsAffected() == 0 {
		return provider.ErrNotFound
	}
	return nil
}
