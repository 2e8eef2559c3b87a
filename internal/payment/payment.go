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

// Package payment defines the boundary to the external payment provider.
// The provider's checkout lifecycle is not modeled here; only the two
// delivery paths the reconciler consumes (signed webhook push, session
// pull) and the checkout-creation call the storefront needs.
package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/stagepass/stagepass/internal/reconcile"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrEventIgnored     = errors.New("event type not handled")
	ErrSessionNotFound  = errors.New("checkout session not found")
)

// CheckoutSession is the provider's session object reduced to the fields
// this system consumes.
type CheckoutSession struct {
	ID              string
	URL             string
	Status          string
	PaymentStatus   string
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
	CustomerEmail   string
	// Metadata round-trips the purchase intent (title, desired slug)
	// through the provider.
	Metadata map[string]string
}

// CheckoutParams describes a new checkout session for a workspace purchase.
type CheckoutParams struct {
	Title       string
	DesiredSlug string
	AmountCents int64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// WebhookAdapter verifies and parses provider push notifications. Verify
// must reject before Parse sees untrusted bytes; a payload that fails
// verification is never partially processed.
type WebhookAdapter interface {
	Verify(payload []byte, headers http.Header) error
	Parse(payload []byte) (*reconcile.PaymentEvent, error)
}

// Client is the synchronous pull path to the provider.
type Client interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
}

// EventFromSession maps a fetched checkout session to the reconciler's
// event shape. Both delivery paths funnel through this mapping so they
// cannot drift apart.
func EventFromSession(s *CheckoutSession) reconcile.PaymentEvent {
	return reconcile.PaymentEvent{
		Title:             s.Metadata["title"],
		DesiredSlug:       s.Metadata["desired_slug"],
		PurchaserEmail:    s.CustomerEmail,
		CheckoutSessionID: s.ID,
		PaymentIntentID:   s.PaymentIntentID,
		AmountTotal:       s.AmountTotal,
		Currency:          s.Currency,
	}
}
