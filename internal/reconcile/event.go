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

// Package reconcile converges completed-payment events into tenant and
// membership state. The same logical payment may be observed through an
// asynchronous webhook push and a synchronous session-status pull, in any
// order and any number of times; reconciliation is idempotent so both
// paths may run it blindly.
package reconcile

// PaymentEvent is a completed payment as resolved by either delivery path.
// Provider payloads never reach this package; the payment adapters produce
// this shape.
type PaymentEvent struct {
	// Title is the display name of the purchased production.
	Title string
	// DesiredSlug is the purchaser's requested slug. When empty, the slug
	// is derived from Title.
	DesiredSlug string
	// PurchaserEmail is optional; without it the production is still
	// provisioned but membership attachment is skipped.
	PurchaserEmail string

	CheckoutSessionID string
	PaymentIntentID   string
	AmountTotal       int64
	Currency          string
}
