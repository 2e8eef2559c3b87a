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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stagepass/stagepass/internal/audit"
	"github.com/stagepass/stagepass/internal/identity"
	"github.com/stagepass/stagepass/internal/observability/logger"
)

// RegisterRequest represents registration data
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// Register handles local account registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.identityService.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUserAlreadyExists):
			respondError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, identity.ErrInvalidEmail):
			respondError(w, http.StatusBadRequest, "invalid email address")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, "password does not meet security requirements")
		default:
			slog.ErrorContext(r.Context(), "failed to register user", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to register")
		}
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeUserCreated,
		ActorID:   user.ID,
		Resource:  "identity",
		IPAddress: getIPAddress(r),
		Metadata:  map[string]any{"email": user.Email},
	})

	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates local credentials and issues a fresh login token
// carrying the identity's current membership set.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.identityService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrAccountLocked) {
			respondError(w, http.StatusForbidden, "account is locked")
			return
		}
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.issueAndRespond(w, r, user)
}

// GetCurrentUser returns the authenticated identity
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims := GetLoginClaims(r.Context())

	user, err := h.identityService.GetUser(r.Context(), claims.IdentityID)
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":      user.ID,
		"email":        user.Email,
		"display_name": user.DisplayName,
		"memberships":  user.Memberships,
	})
}

// OAuthStart begins the external login flow. The tenant slug and return
// path ride through the provider round-trip inside the signed state.
func (h *Handler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if !h.oauthService.Has(provider) {
		respondError(w, http.StatusNotFound, "unknown provider")
		return
	}

	slug := r.URL.Query().Get("slug")
	returnPath := r.URL.Query().Get("return_path")

	state, err := h.tokenService.IssueState(slug, returnPath)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue transit state", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to start login")
		return
	}

	authURL, err := h.oauthService.AuthCodeURL(provider, h.callbackURL(provider), state)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown provider")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// OAuthCallback finishes the external login flow. A state that fails
// verification is rejected wholly; the login proceeds without tenant
// context rather than trusting any part of it.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	query := r.URL.Query()

	slug := ""
	returnPath := ""
	if state, err := h.tokenService.VerifyState(query.Get("state")); err == nil {
		slug = state.Slug
		returnPath = state.ReturnPath
	} else {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeStateRejected,
			Resource:  "transit_state",
			IPAddress: getIPAddress(r),
			Metadata:  map[string]any{audit.AttrReason: "verification_failed", "provider": provider},
		})
	}

	if errParam := query.Get("error"); errParam != "" {
		http.Redirect(w, r, h.clientRedirect(slug, returnPath, url.Values{"err": {"auth-failed"}}), http.StatusFound)
		return
	}

	profile, err := h.oauthService.Exchange(r.Context(), provider, query.Get("code"), h.callbackURL(provider))
	if err != nil {
		slog.WarnContext(r.Context(), "oauth code exchange failed",
			logger.Error(err),
			logger.Provider(provider),
		)
		http.Redirect(w, r, h.clientRedirect(slug, returnPath, url.Values{"err": {"auth-failed"}}), http.StatusFound)
		return
	}

	user, err := h.identityService.LoginFromProfile(r.Context(), profile)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to resolve identity from profile",
			logger.Error(err),
			logger.Provider(provider),
		)
		http.Redirect(w, r, h.clientRedirect(slug, returnPath, url.Values{"err": {"auth-failed"}}), http.StatusFound)
		return
	}

	signed, err := h.tokenService.IssueLogin(user.ID, user.Email, user.Memberships)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue login token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeTokenIssued,
		ActorID:   user.ID,
		Resource:  "login_token",
		IPAddress: getIPAddress(r),
		Metadata:  map[string]any{"provider": provider},
	})

	http.Redirect(w, r, h.clientRedirect(slug, returnPath, url.Values{"token": {signed}}), http.StatusFound)
}

func (h *Handler) issueAndRespond(w http.ResponseWriter, r *http.Request, user *identity.User) {
	signed, err := h.tokenService.IssueLogin(user.ID, user.Email, user.Memberships)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue login token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeLoginSuccess,
		ActorID:   user.ID,
		Resource:  "login_token",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, map[string]any{
		"token":        signed,
		"user_id":      user.ID,
		"email":        user.Email,
		"display_name": user.DisplayName,
		"memberships":  user.Memberships,
	})
}

func (h *Handler) callbackURL(provider string) string {
	return strings.TrimRight(h.checkout.CallbackBase, "/") + "/api/v1/auth/" + provider + "/callback"
}

// clientRedirect builds the landing URL inside the client app. An empty
// return path falls back to the tenant home, or the platform root when
// no tenant context survived.
func (h *Handler) clientRedirect(slug, returnPath string, extra url.Values) string {
	path := returnPath
	if path == "" || !strings.HasPrefix(path, "/") {
		if slug != "" {
			path = "/" + slug
		} else {
			path = "/"
		}
	}

	target := strings.TrimRight(h.checkout.ClientOrigin, "/") + path
	if len(extra) > 0 {
		if strings.Contains(target, "?") {
			target += "&" + extra.Encode()
		} else {
			target += "?" + extra.Encode()
		}
	}
	return target
}
