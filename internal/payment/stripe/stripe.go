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

// Package stripe adapts Stripe's webhook and Checkout Session API to the
// payment boundary types.
package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stagepass/stagepass/internal/payment"
	"github.com/stagepass/stagepass/internal/reconcile"
)

const eventCheckoutCompleted = "checkout.session.completed"

// signatureTolerance bounds how old a signed webhook timestamp may be.
const signatureTolerance = 5 * time.Minute

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeSession struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	Status          string            `json:"status"`
	PaymentStatus   string            `json:"payment_status"`
	PaymentIntent   string            `json:"payment_intent"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

func (s *stripeSession) purchaserEmail() string {
	if s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

func (s *stripeSession) toCheckoutSession() *payment.CheckoutSession {
	meta := s.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return &payment.CheckoutSession{
		ID:              s.ID,
		URL:             s.URL,
		Status:          s.Status,
		PaymentStatus:   s.PaymentStatus,
		PaymentIntentID: s.PaymentIntent,
		AmountTotal:     s.AmountTotal,
		Currency:        strings.ToLower(s.Currency),
		CustomerEmail:   s.purchaserEmail(),
		Metadata:        meta,
	}
}

// WebhookAdapter verifies Stripe-Signature headers and parses
// checkout.session.completed notifications.
type WebhookAdapter struct {
	secret string
	now    func() time.Time
}

// NewWebhookAdapter creates a webhook adapter for the given endpoint secret.
func NewWebhookAdapter(secret string) *WebhookAdapter {
	return &WebhookAdapter{secret: secret, now: time.Now}
}

// Verify checks the v1 HMAC scheme: the signed payload is
// "<timestamp>.<body>" keyed with the endpoint secret. Stale timestamps
// are rejected alongside bad signatures.
func (a *WebhookAdapter) Verify(payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return payment.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return payment.ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return payment.ErrInvalidSignature
	}
	age := a.now().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return payment.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return payment.ErrInvalidSignature
}

// Parse extracts the completed-payment event. Event types other than
// checkout.session.completed are ignored, not errors worth retrying.
func (a *WebhookAdapter) Parse(payload []byte) (*reconcile.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, payment.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, payment.ErrInvalidPayload
	}
	if strings.TrimSpace(event.Type) != eventCheckoutCompleted {
		return nil, payment.ErrEventIgnored
	}

	var session stripeSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, payment.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, payment.ErrInvalidPayload
	}

	evt := payment.EventFromSession(session.toCheckoutSession())
	return &evt, nil
}

func parseSignatureHeader(header string) (timestamp string, signatures []string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, payment.ErrInvalidSignature
	}
	return timestamp, signatures, nil
}
