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
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stagepass/stagepass/internal/audit"
	"github.com/stagepass/stagepass/internal/observability/logger"
	"github.com/stagepass/stagepass/internal/payment"
	"github.com/stagepass/stagepass/internal/production"
)

const maxWebhookBody = 1 << 20

// CreateCheckoutRequest represents a purchase intent
type CreateCheckoutRequest struct {
	Title       string `json:"title"`
	DesiredSlug string `json:"desired_slug"`
}

// CreateCheckoutSession opens a provider checkout session for a new
// production. The slug is reserved optimistically: a 409 here is advisory,
// the webhook still decides the real winner.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}

	desired := req.DesiredSlug
	if strings.TrimSpace(desired) == "" {
		desired = req.Title
	}
	canonical, err := h.productionService.CheckSlugAvailable(r.Context(), desired)
	if err != nil {
		switch {
		case errors.Is(err, production.ErrInvalidSlug):
			respondError(w, http.StatusBadRequest, "title or slug yields no usable address")
		case errors.Is(err, production.ErrSlugTaken):
			respondError(w, http.StatusConflict, "slug already in use")
		default:
			respondError(w, http.StatusInternalServerError, "failed to check slug")
		}
		return
	}

	origin := strings.TrimRight(h.checkout.ClientOrigin, "/")
	session, err := h.paymentClient.CreateCheckoutSession(r.Context(), payment.CheckoutParams{
		Title:       req.Title,
		DesiredSlug: canonical,
		AmountCents: h.checkout.PriceCents,
		Currency:    h.checkout.Currency,
		SuccessURL:  origin + "/thank-you?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   origin + "/?checkout=cancelled",
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create checkout session",
			logger.Error(err),
			logger.Slug(canonical),
		)
		respondError(w, http.StatusBadGateway, "failed to create checkout session")
		return
	}

	h.instruments.CheckoutsCreated.Add(r.Context(), 1)
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeCheckoutCreated,
		Resource:  "checkout_session",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"checkout_session_id": session.ID, "slug": canonical},
	})

	respondJSON(w, http.StatusCreated, map[string]any{
		"session_id": session.ID,
		"url":        session.URL,
	})
}

// GetCheckoutSession is the pull half of reconciliation: the success
// redirect lands here before the webhook may have arrived.
func (h *Handler) GetCheckoutSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.paymentClient.GetCheckoutSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, payment.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "checkout session not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to fetch checkout session",
			logger.Error(err),
			logger.CheckoutSessionID(sessionID),
		)
		respondError(w, http.StatusBadGateway, "failed to fetch checkout session")
		return
	}

	response := map[string]any{
		"status":         session.Status,
		"payment_status": session.PaymentStatus,
		"title":          session.Metadata["title"],
	}

	if session.PaymentStatus == "paid" {
		outcome, err := h.reconcileService.Reconcile(r.Context(), payment.EventFromSession(session))
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to reconcile checkout session",
				logger.Error(err),
				logger.CheckoutSessionID(sessionID),
			)
			respondError(w, http.StatusInternalServerError, "failed to reconcile payment")
			return
		}
		response["slug"] = outcome.Production.Slug
		response["title"] = outcome.Production.Title
	}

	respondJSON(w, http.StatusOK, response)
}

// StripeWebhook is the push half of reconciliation. A bad signature
// rejects the whole delivery before any state changes.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if err := h.webhookAdapter.Verify(body, r.Header); err != nil {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeWebhookRejected,
			Resource:  "webhook",
			IPAddress: getIPAddress(r),
			Metadata:  map[string]any{"reason": "invalid_signature"},
		})
		respondError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	h.instruments.WebhookEvents.Add(r.Context(), 1)

	event, err := h.webhookAdapter.Parse(body)
	if err != nil {
		if errors.Is(err, payment.ErrEventIgnored) {
			respondJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	start := time.Now()
	outcome, err := h.reconcileService.Reconcile(r.Context(), *event)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to reconcile webhook event",
			logger.Error(err),
			logger.CheckoutSessionID(event.CheckoutSessionID),
		)
		respondError(w, http.StatusInternalServerError, "failed to process event")
		return
	}
	h.instruments.ReconcileDurationSec.Record(r.Context(), time.Since(start).Seconds())
	// A replayed event converges on an existing row; only the delivery
	// whose payment ref stuck actually provisioned.
	if outcome.Production.PaymentRef.CheckoutSessionID == event.CheckoutSessionID {
		h.instruments.ProductionsCreated.Add(r.Context(), 1)
	}

	slog.InfoContext(r.Context(), "webhook event reconciled",
		logger.CheckoutSessionID(event.CheckoutSessionID),
		logger.ProductionID(outcome.Production.ID),
		logger.Slug(outcome.Production.Slug),
	)

	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
