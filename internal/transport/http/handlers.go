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
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stagepass/stagepass/internal/audit"
	"github.com/stagepass/stagepass/internal/identity"
	"github.com/stagepass/stagepass/internal/identity/oauth"
	"github.com/stagepass/stagepass/internal/observability/metrics"
	"github.com/stagepass/stagepass/internal/payment"
	"github.com/stagepass/stagepass/internal/production"
	"github.com/stagepass/stagepass/internal/reconcile"
	"github.com/stagepass/stagepass/internal/token"
)

// CheckoutConfig holds storefront checkout settings for the handlers
type CheckoutConfig struct {
	PriceCents   int64
	Currency     string
	ClientOrigin string
	CallbackBase string
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService   *identity.Service
	productionService *production.Service
	reconcileService  *reconcile.Service
	tokenService      *token.Service
	oauthService      *oauth.Service
	paymentClient     payment.Client
	webhookAdapter    payment.WebhookAdapter
	auditLogger       audit.Logger
	instruments       *metrics.Instruments
	checkout          CheckoutConfig
}

// NewHandler creates a new HTTP handler
func NewHandler(
	identityService *identity.Service,
	productionService *production.Service,
	reconcileService *reconcile.Service,
	tokenService *token.Service,
	oauthService *oauth.Service,
	paymentClient payment.Client,
	webhookAdapter payment.WebhookAdapter,
	auditLogger audit.Logger,
	instruments *metrics.Instruments,
	checkout CheckoutConfig,
) *Handler {
	return &Handler{
		identityService:   identityService,
		productionService: productionService,
		reconcileService:  reconcileService,
		tokenService:      tokenService,
		oauthService:      oauthService,
		paymentClient:     paymentClient,
		webhookAdapter:    webhookAdapter,
		auditLogger:       auditLogger,
		instruments:       instruments,
		checkout:          checkout,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter, staticFS fs.FS) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// Payment provider push path; raw body, no auth
	r.Post("/webhooks/stripe", h.StripeWebhook)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints
		r.Post("/checkout/sessions", h.CreateCheckoutSession)
		r.Get("/checkout/sessions/{sessionID}", h.GetCheckoutSession)
		r.Get("/productions/by-slug/{slug}", h.ResolveProduction)

		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)
		r.Get("/auth/{provider}", h.OAuthStart)
		r.Get("/auth/{provider}/callback", h.OAuthCallback)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/auth/me", h.GetCurrentUser)

			// Production-scoped routes
			r.Group(func(r chi.Router) {
				r.Use(h.RequireMembership)

				r.Get("/tenant/me", h.TenantMe)
				r.Get("/tenant/members", h.ListMembers)
			})
		})
	})

	// The client app handles per-production routing itself; anything that
	// is not an API path falls through to it.
	if staticFS != nil {
		r.NotFound(SPAHandler{StaticFS: staticFS}.ServeHTTP)
	}

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "stagepass",
	})
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
