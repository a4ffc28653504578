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

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/altairalabs/costflow/internal/provider"
)

// providerView is the external shape of a provider. Auth material is never
// echoed back; only the method is.
type providerView struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	DisplayName      string            `json:"display_name,omitempty"`
	Endpoint         string            `json:"endpoint,omitempty"`
	AuthMethod       string            `json:"auth_method"`
	AdditionalConfig map[string]string `json:"additional_config,omitempty"`
	Active           bool              `json:"active"`
	Validated        bool              `json:"validated"`
	LastSyncAt       *time.Time        `json:"last_sync_at,omitempty"`
	LastSyncStatus   string            `json:"last_sync_status,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func toProviderView(p *provider.Provider) providerView {
	v := providerView{
		ID:               p.ID,
		Name:             p.Name,
		Type:             string(p.Type),
		DisplayName:      p.DisplayName,
		Endpoint:         p.Endpoint,
		AdditionalConfig: p.AdditionalConfig,
		Active:           p.Active,
		Validated:        p.Validated,
		LastSyncStatus:   p.LastSyncStatus,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if p.Auth != nil {
		v.AuthMethod = string(p.Auth.Method)
	}
	if !p.LastSyncAt.IsZero() {
		t := p.LastSyncAt
		v.LastSyncAt = &t
	}
	return v
}

// providerRequest is the create/update body. Auth is the raw method-tagged
// map; it is parsed and validated before anything is stored.
type providerRequest struct {
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	DisplayName      string            `json:"display_name"`
	Endpoint         string            `json:"endpoint"`
	Auth             map[string]any    `json:"auth"`
	AdditionalConfig map[string]string `json:"additional_config"`
	Active           *bool             `json:"active"`
}

// handleProviders lists all providers or creates a new one.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listProviders(w, r)
	case http.MethodPost:
		s.createProvider(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.providers.ListProviders(r.Context())
	if err != nil {
		s.log.Error(err, "failed to list providers")
		s.writeError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}

	views := make([]providerView, 0, len(providers))
	for _, p := range providers {
		views = append(views, toProviderView(p))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) createProvider(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Type == "" {
		s.writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	auth, err := provider.ParseAuthConfig(req.Auth)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid auth config: "+err.Error())
		return
	}

	p := &provider.Provider{
		Name:             req.Name,
		Type:             provider.Type(req.Type),
		DisplayName:      req.DisplayName,
		Endpoint:         req.Endpoint,
		Auth:             auth,
		AdditionalConfig: req.AdditionalConfig,
		Active:           true,
	}
	if req.Active != nil {
		p.Active = *req.Active
	}

	if err := s.providers.CreateProvider(r.Context(), p); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			s.writeError(w, http.StatusConflict, "provider name already exists")
			return
		}
		s.log.Error(err, "failed to create provider", "name", req.Name)
		s.writeError(w, http.StatusInternalServerError, "failed to create provider")
		return
	}

	s.log.Info("created provider", "id", p.ID, "name", p.Name, "type", p.Type)
	s.writeJSON(w, http.StatusCreated, toProviderView(p))
}

// handleProvider routes /api/v1/providers/{id} and
// /api/v1/providers/{id}/validate.
func (s *Server) handleProvider(w http.ResponseWriter, r *http.Request) {
	suffix := pathSuffix(r.URL.Path, "/api/v1/providers")
	parts := strings.Split(suffix, "/")

	if len(parts) == 2 && parts[1] == "validate" {
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.validateProvider(w, r, parts[0])
		return
	}
	if len(parts) != 1 || parts[0] == "" {
		s.writeError(w, http.StatusBadRequest, "invalid path, expected /api/v1/providers/{id}")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getProvider(w, r, parts[0])
	case http.MethodPut:
		s.updateProvider(w, r, parts[0])
	case http.MethodDelete:
		s.deactivateProvider(w, r, parts[0])
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getProvider(w http.ResponseWriter, r *http.Request, id string) {
	p, err := s.providers.GetProvider(r.Context(), id)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "provider not found")
			return
		}
		s.log.Error(err, "failed to get provider", "id", id)
		s.writeError(w, http.StatusInternalServerError, "failed to get provider")
		return
	}
	s.writeJSON(w, http.StatusOK, toProviderView(p))
}

func (s *Server) updateProvider(w http.ResponseWriter, r *http.Request, id string) {
	var req providerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, err := s.providers.GetProvider(r.Context(), id)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "provider not found")
			return
		}
		s.log.Error(err, "failed to get provider", "id", id)
		s.writeError(w, http.StatusInternalServerError, "failed to get provider")
		return
	}

	if req.DisplayName != "" {
		p.DisplayName = req.DisplayName
	}
	if req.Endpoint != "" {
		p.Endpoint = req.Endpoint
	}
	if req.AdditionalConfig != nil {
		p.AdditionalConfig = req.AdditionalConfig
	}
	if req.Active != nil {
		p.Active = *req.Active
	}
	if req.Auth != nil {
		auth, err := provider.ParseAuthConfig(req.Auth)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid auth config: "+err.Error())
			return
		}
		p.Auth = auth
		// New credentials need re-validation.
		p.Validated = false
	}

	if err := s.providers.UpdateProvider(r.Context(), p); err != nil {
		s.log.Error(err, "failed to update provider", "id", id)
		s.writeError(w, http.StatusInternalServerError, "failed to update provider")
		return
	}

	s.log.Info("updated provider", "id", p.ID, "name", p.Name)
	s.writeJSON(w, http.StatusOK, toProviderView(p))
}

func (s *Server) deactivateProvider(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.providers.DeactivateProvider(r.Context(), id); err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "provider not found")
			return
		}
		s.log.Error(err, "failed to deactivate provider", "id", id)
		s.writeError(w, http.StatusInternalServerError, "failed to deactivate provider")
		return
	}
	s.log.Info("deactivated provider", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) validateProvider(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.syncs.ValidateProvider(r.Context(), id); err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "provider not found")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}
