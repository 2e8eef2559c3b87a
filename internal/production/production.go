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

package production

import (
	"time"
)

// Production represents a purchased tenant workspace, addressed by its slug.
type Production struct {
	ID         string     `json:"id"`
	Slug       string     `json:"slug"`
	Title      string     `json:"title"`
	PaymentRef PaymentRef `json:"payment_ref"`
	IsActive   bool       `json:"is_active"`
	// OwnerIdentityID is unset until the first reconciliation resolves a
	// purchaser. Once set it is never overwritten.
	OwnerIdentityID string    `json:"owner_identity_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PaymentRef records the originating payment. Write-once at creation: a
// duplicate event for the same slug never replaces the first-seen reference.
type PaymentRef struct {
	CheckoutSessionID string `json:"checkout_session_id"`
	PaymentIntentID   string `json:"payment_intent_id"`
	AmountTotal       int64  `json:"amount_total"`
	Currency          string `json:"currency"`
}
