// Copyright 2026 The StagePass Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stagepass/stagepass/internal/observability/logger"
	"github.com/stagepass/stagepass/internal/production"
)

// ResolveProduction maps a storefront slug to its production. Inactive
// and unknown slugs are indistinguishable to the caller.
func (h *Handler) ResolveProduction(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	prod, err := h.productionService.ResolveBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, production.ErrProductionNotFound) || errors.Is(err, production.ErrInvalidSlug) {
			respondError(w, http.StatusNotFound, "production not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to resolve production",
			logger.Error(err),
			logger.Slug(slug),
		)
		respondError(w, http.StatusInternalServerError, "failed to resolve production")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"id":    prod.ID,
		"title": prod.Title,
		"slug":  prod.Slug,
	})
}

// TenantMe returns the authenticated identity in the current production's
// scope.
func (h *Handler) TenantMe(w http.ResponseWriter, r *http.Request) {
	claims := GetLoginClaims(r.Context())
	productionID := GetProductionID(r.Context())

	user, err := h.identityService.GetUser(r.Context(), claims.IdentityID)
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":       user.ID,
		"email":         user.Email,
		"display_name":  user.DisplayName,
		"memberships":   user.Memberships,
		"production_id": productionID,
	})
}

// ListMembers lists the identities holding a membership for the current
// production.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	productionID := GetProductionID(r.Context())

	members, err := h.identityService.ListMembers(r.Context(), productionID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list members",
			logger.Error(err),
			logger.ProductionID(productionID),
		)
		respondError(w, http.StatusInternalServerError, "failed to list members")
		return
	}

	out := make([]map[string]any, 0, len(members))
	for _, m := range members {
		out = append(out, map[string]any{
			"user_id":      m.ID,
			"email":        m.Email,
			"display_name": m.DisplayName,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"production_id": productionID,
		"members":       out,
	})
}
