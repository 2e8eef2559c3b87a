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

package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stagepass/stagepass/internal/audit"
	"github.com/stagepass/stagepass/internal/id"
	"github.com/stagepass/stagepass/internal/identity"
	"github.com/stagepass/stagepass/internal/observability/logger"
	"github.com/stagepass/stagepass/internal/production"
	"github.com/stagepass/stagepass/internal/slug"
)

// Outcome is the converged state a reconciliation produced or confirmed.
type Outcome struct {
	Production *production.Production
	// Identity is nil when the event carried no resolvable purchaser email.
	Identity *identity.User
	// MembershipAttached is false when Identity is nil; the production is
	// provisioned regardless, and a later event or login can bind the
	// membership.
	MembershipAttached bool
}

// Service converts completed-payment events into exactly one production
// record and a consistent membership link. Every store mutation it issues
// is an atomic create-or-noop or set-add, so replays and concurrent
// duplicate deliveries converge to the same state as a single call.
type Service struct {
	productions production.Repository
	identities  identity.UserRepository
	auditLogger audit.Logger
}

// NewService creates a new reconciliation service.
func NewService(productions production.Repository, identities identity.UserRepository, auditLogger audit.Logger) *Service {
	return &Service{
		productions: productions,
		identities:  identities,
		auditLogger: auditLogger,
	}
}

// Reconcile provisions tenant state for a completed payment:
//
//  1. Canonicalize the slug hint; an empty result rejects the event.
//  2. Create the production if absent; an existing row keeps its original
//     payment reference untouched.
//  3. If a purchaser email is present, ensure the identity and add the
//     production to its membership set.
//  4. Backfill the production owner only if no owner is recorded yet.
//
// A failed reconciliation is safe to retry via re-delivery; a duplicate
// delivery of a completed one is a no-op success, not a conflict.
func (s *Service) Reconcile(ctx context.Context, event PaymentEvent) (*Outcome, error) {
	hint := event.DesiredSlug
	if hint == "" {
		hint = event.Title
	}
	canonical := slug.Normalize(hint)
	if canonical == "" {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypePaymentRejected,
			Resource: event.CheckoutSessionID,
			Metadata: map[string]any{audit.AttrReason: "empty_slug"},
		})
		return nil, production.ErrInvalidSlug
	}

	title := event.Title
	if title == "" {
		title = canonical
	}

	prod, err := s.productions.CreateIfAbsent(ctx, &production.Production{
		ID:    id.NewUUIDv7(),
		Slug:  canonical,
		Title: title,
		PaymentRef: production.PaymentRef{
			CheckoutSessionID: event.CheckoutSessionID,
			PaymentIntentID:   event.PaymentIntentID,
			AmountTotal:       event.AmountTotal,
			Currency:          event.Currency,
		},
		IsActive: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert production: %w", err)
	}
	if prod.PaymentRef.CheckoutSessionID == event.CheckoutSessionID {
		s.auditLogger.Log(ctx, audit.Event{
			Type:         audit.TypeProductionProvisioned,
			ProductionID: prod.ID,
			Resource:     prod.Slug,
			Metadata:     map[string]any{"checkout_session_id": event.CheckoutSessionID},
		})
	}

	outcome := &Outcome{Production: prod}

	if event.PurchaserEmail == "" {
		// Recoverable: the workspace exists, membership can be bound later.
		slog.WarnContext(ctx, "payment completed without purchaser email; membership attachment skipped",
			logger.Slug(prod.Slug),
			logger.CheckoutSessionID(event.CheckoutSessionID),
		)
		return outcome, nil
	}

	email, err := identity.CanonicalEmail(event.PurchaserEmail)
	if err != nil {
		slog.WarnContext(ctx, "purchaser email unparseable; membership attachment skipped",
			logger.Slug(prod.Slug),
			logger.CheckoutSessionID(event.CheckoutSessionID),
		)
		return outcome, nil
	}

	user, err := s.identities.EnsureByEmail(ctx, &identity.User{
		ID:    id.NewUUIDv7(),
		Email: email,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert identity: %w", err)
	}

	if err := s.identities.AddMembership(ctx, user.ID, prod.ID); err != nil {
		return nil, fmt.Errorf("failed to attach membership: %w", err)
	}
	if !user.IsMemberOf(prod.ID) {
		user.Memberships = append(user.Memberships, prod.ID)
		s.auditLogger.Log(ctx, audit.Event{
			Type:         audit.TypeMembershipAttached,
			ProductionID: prod.ID,
			ActorID:      user.ID,
			Resource:     prod.Slug,
		})
	}

	// Ownership backfill comes last: it depends on the resolved identity and
	// must never displace an owner recorded by an earlier reconciliation.
	if prod.OwnerIdentityID == "" {
		assigned, err := s.productions.SetOwnerIfUnset(ctx, prod.ID, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to assign owner: %w", err)
		}
		if assigned {
			prod.OwnerIdentityID = user.ID
			s.auditLogger.Log(ctx, audit.Event{
				Type:         audit.TypeOwnerAssigned,
				ProductionID: prod.ID,
				ActorID:      user.ID,
				Resource:     prod.Slug,
			})
		} else if refreshed, err := s.productions.GetByID(ctx, prod.ID); err == nil {
			// Lost the race to a concurrent reconciliation; report whoever won.
			prod.OwnerIdentityID = refreshed.OwnerIdentityID
		}
	}

	outcome.Identity = user
	outcome.MembershipAttached = true
	return outcome, nil
}
