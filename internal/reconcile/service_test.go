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
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepass/stagepass/internal/audit"
	"github.com/stagepass/stagepass/internal/identity"
	"github.com/stagepass/stagepass/internal/production"
)

// MockProductionRepository is an in-memory production.Repository with the
// same conditional-write semantics the postgres implementation provides.
type MockProductionRepository struct {
	bySlug map[string]*production.Production
}

func NewMockProductionRepository() *MockProductionRepository {
	return &MockProductionRepository{bySlug: make(map[string]*production.Production)}
}

func (m *MockProductionRepository) CreateIfAbsent(ctx context.Context, p *production.Production) (*production.Production, error) {
	if existing, ok := m.bySlug[p.Slug]; ok {
		cp := *existing
		return &cp, nil
	}
	stored := *p
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	m.bySlug[p.Slug] = &stored
	cp := stored
	return &cp, nil
}

func (m *MockProductionRepository) GetBySlug(ctx context.Context, slug string) (*production.Production, error) {
	p, ok := m.bySlug[slug]
	if !ok {
		return nil, production.ErrProductionNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockProductionRepository) GetByID(ctx context.Context, id string) (*production.Production, error) {
	for _, p := range m.bySlug {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, production.ErrProductionNotFound
}

func (m *MockProductionRepository) SetOwnerIfUnset(ctx context.Context, productionID, identityID string) (bool, error) {
	for _, p := range m.bySlug {
		if p.ID == productionID {
			if p.OwnerIdentityID != "" {
				return false, nil
			}
			p.OwnerIdentityID = identityID
			return true, nil
		}
	}
	return false, production.ErrProductionNotFound
}

func (m *MockProductionRepository) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	_, ok := m.bySlug[slug]
	return ok, nil
}

// MockUserRepository is an in-memory identity.UserRepository.
type MockUserRepository struct {
	byEmail map[string]*identity.User
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{byEmail: make(map[string]*identity.User)}
}

func (m *MockUserRepository) EnsureByEmail(ctx context.Context, user *identity.User) (*identity.User, error) {
	if existing, ok := m.byEmail[user.Email]; ok {
		cp := *existing
		cp.Memberships = append([]string(nil), existing.Memberships...)
		return &cp, nil
	}
	stored := *user
	m.byEmail[user.Email] = &stored
	cp := stored
	return &cp, nil
}

func (m *MockUserRepository) AddMembership(ctx context.Context, userID, productionID string) error {
	for _, u := range m.byEmail {
		if u.ID == userID {
			for _, existing := range u.Memberships {
				if existing == productionID {
					return nil
				}
			}
			u.Memberships = append(u.Memberships, productionID)
			return nil
		}
	}
	return identity.ErrUserNotFound
}

func (m *MockUserRepository) LinkProvider(ctx context.Context, userID, provider, providerID string) error {
	for _, u := range m.byEmail {
		if u.ID == userID {
			if u.ProviderLinks == nil {
				u.ProviderLinks = make(map[string]string)
			}
			if _, ok := u.ProviderLinks[provider]; !ok {
				u.ProviderLinks[provider] = providerID
			}
			return nil
		}
	}
	return identity.ErrUserNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	cp := *u
	cp.Memberships = append([]string(nil), u.Memberships...)
	return &cp, nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	for _, u := range m.byEmail {
		if u.ID == id {
			cp := *u
			cp.Memberships = append([]string(nil), u.Memberships...)
			return &cp, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *MockUserRepository) ListByProduction(ctx context.Context, productionID string) ([]*identity.User, error) {
	var out []*identity.User
	for _, u := range m.byEmail {
		for _, pid := range u.Memberships {
			if pid == productionID {
				cp := *u
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (m *MockUserRepository) AddCredentials(ctx context.Context, credentials *identity.Credentials) error {
	return nil
}

func (m *MockUserRepository) GetCredentials(ctx context.Context, userID string) (*identity.Credentials, error) {
	return nil, identity.ErrUserNotFound
}

func (m *MockUserRepository) UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	return nil
}

func newTestService() (*Service, *MockProductionRepository, *MockUserRepository) {
	prods := NewMockProductionRepository()
	users := NewMockUserRepository()
	return NewService(prods, users, audit.NewSlogLogger()), prods, users
}

func completedPayment() PaymentEvent {
	return PaymentEvent{
		Title:             "My Show!",
		CheckoutSessionID: "cs_test_123",
		PaymentIntentID:   "pi_test_123",
		AmountTotal:       9900,
		Currency:          "usd",
		PurchaserEmail:    "Buyer@Example.com",
	}
}

func TestReconcile_DerivesCanonicalSlug(t *testing.T) {
	svc, _, _ := newTestService()

	outcome, err := svc.Reconcile(context.Background(), completedPayment())
	require.NoError(t, err)

	assert.Equal(t, "my-show", outcome.Production.Slug)
	assert.Equal(t, "My Show!", outcome.Production.Title)
	assert.True(t, outcome.Production.IsActive)
	assert.Equal(t, "buyer@example.com", outcome.Identity.Email)
	assert.True(t, outcome.MembershipAttached)
	assert.Equal(t, outcome.Identity.ID, outcome.Production.OwnerIdentityID)
}

func TestReconcile_Idempotent(t *testing.T) {
	svc, prods, users := newTestService()
	ctx := context.Background()
	event := completedPayment()

	first, err := svc.Reconcile(ctx, event)
	require.NoError(t, err)

	second, err := svc.Reconcile(ctx, event)
	require.NoError(t, err)

	assert.Equal(t, first.Production.ID, second.Production.ID)
	assert.Equal(t, first.Production.PaymentRef, second.Production.PaymentRef)
	assert.Equal(t, first.Production.OwnerIdentityID, second.Production.OwnerIdentityID)
	assert.Equal(t, first.Identity.ID, second.Identity.ID)

	// Exactly one production and one single-membership identity remain.
	assert.Len(t, prods.bySlug, 1)
	stored, err := users.GetByEmail(ctx, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{first.Production.ID}, stored.Memberships)
}

func TestReconcile_DuplicatePathConvergence(t *testing.T) {
	// The webhook push and the session-status pull deliver the same logical
	// payment. Either order must land on the same final state.
	orders := map[string][2]PaymentEvent{
		"push_then_pull": {completedPayment(), completedPayment()},
		"pull_then_push": {completedPayment(), completedPayment()},
	}

	var canonical *Outcome
	for name, pair := range orders {
		t.Run(name, func(t *testing.T) {
			svc, prods, users := newTestService()
			ctx := context.Background()

			_, err := svc.Reconcile(ctx, pair[0])
			require.NoError(t, err)
			outcome, err := svc.Reconcile(ctx, pair[1])
			require.NoError(t, err)

			assert.Len(t, prods.bySlug, 1)
			stored, err := users.GetByEmail(ctx, "buyer@example.com")
			require.NoError(t, err)
			assert.Len(t, stored.Memberships, 1)

			if canonical == nil {
				canonical = outcome
			} else {
				assert.Equal(t, canonical.Production.Slug, outcome.Production.Slug)
				assert.Equal(t, canonical.Production.PaymentRef, outcome.Production.PaymentRef)
			}
		})
	}
}

func TestReconcile_SlugUniqueness_FirstPaymentRefWins(t *testing.T) {
	svc, prods, _ := newTestService()
	ctx := context.Background()

	first := completedPayment()
	second := completedPayment()
	second.CheckoutSessionID = "cs_test_456"
	second.PaymentIntentID = "pi_test_456"

	_, err := svc.Reconcile(ctx, first)
	require.NoError(t, err)
	outcome, err := svc.Reconcile(ctx, second)
	require.NoError(t, err)

	assert.Len(t, prods.bySlug, 1)
	assert.Equal(t, "cs_test_123", outcome.Production.PaymentRef.CheckoutSessionID)
	assert.Equal(t, "pi_test_123", outcome.Production.PaymentRef.PaymentIntentID)
}

func TestReconcile_OwnershipStable(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Reconcile(ctx, completedPayment())
	require.NoError(t, err)

	// A later event for the same slug with a different purchaser gains a
	// membership but never the ownership.
	later := completedPayment()
	later.CheckoutSessionID = "cs_test_789"
	later.PurchaserEmail = "second@example.com"

	outcome, err := svc.Reconcile(ctx, later)
	require.NoError(t, err)

	assert.Equal(t, first.Identity.ID, outcome.Production.OwnerIdentityID)
	assert.NotEqual(t, outcome.Identity.ID, outcome.Production.OwnerIdentityID)
	assert.True(t, outcome.MembershipAttached)
}

func TestReconcile_BothPurchasersBecomeMembers(t *testing.T) {
	svc, _, users := newTestService()
	ctx := context.Background()

	first, err := svc.Reconcile(ctx, completedPayment())
	require.NoError(t, err)

	later := completedPayment()
	later.PurchaserEmail = "second@example.com"
	_, err = svc.Reconcile(ctx, later)
	require.NoError(t, err)

	members, err := users.ListByProduction(ctx, first.Production.ID)
	require.NoError(t, err)

	emails := make([]string, 0, len(members))
	for _, m := range members {
		emails = append(emails, m.Email)
	}
	sort.Strings(emails)
	assert.Equal(t, []string{"buyer@example.com", "second@example.com"}, emails)
}

func TestReconcile_MissingEmailStillProvisions(t *testing.T) {
	svc, prods, users := newTestService()
	ctx := context.Background()

	event := completedPayment()
	event.PurchaserEmail = ""

	outcome, err := svc.Reconcile(ctx, event)
	require.NoError(t, err)

	assert.NotNil(t, outcome.Production)
	assert.Nil(t, outcome.Identity)
	assert.False(t, outcome.MembershipAttached)
	assert.Empty(t, outcome.Production.OwnerIdentityID)
	assert.Len(t, prods.bySlug, 1)
	assert.Empty(t, users.byEmail)

	// A re-delivery that does carry the email binds membership and owner.
	retry := completedPayment()
	bound, err := svc.Reconcile(ctx, retry)
	require.NoError(t, err)
	assert.True(t, bound.MembershipAttached)
	assert.Equal(t, bound.Identity.ID, bound.Production.OwnerIdentityID)
}

func TestReconcile_EmptySlugRejected(t *testing.T) {
	svc, prods, _ := newTestService()

	event := completedPayment()
	event.Title = "!?!"
	event.DesiredSlug = ""

	_, err := svc.Reconcile(context.Background(), event)
	assert.ErrorIs(t, err, production.ErrInvalidSlug)
	assert.Empty(t, prods.bySlug)
}

func TestReconcile_DesiredSlugPreferredOverTitle(t *testing.T) {
	svc, _, _ := newTestService()

	event := completedPayment()
	event.DesiredSlug = "The Real Name"

	outcome, err := svc.Reconcile(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, "the-real-name", outcome.Production.Slug)
}
