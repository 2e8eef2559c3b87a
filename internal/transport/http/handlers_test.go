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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepass/stagepass/internal/audit"
	"github.com/stagepass/stagepass/internal/identity"
	"github.com/stagepass/stagepass/internal/identity/oauth"
	"github.com/stagepass/stagepass/internal/observability/metrics"
	"github.com/stagepass/stagepass/internal/payment"
	"github.com/stagepass/stagepass/internal/production"
	"github.com/stagepass/stagepass/internal/reconcile"
	"github.com/stagepass/stagepass/internal/token"
)

// ---- in-memory fakes ----

type memProductions struct {
	mu     sync.Mutex
	bySlug map[string]*production.Production
}

func newMemProductions() *memProductions {
	return &memProductions{bySlug: make(map[string]*production.Production)}
}

func (m *memProductions) CreateIfAbsent(ctx context.Context, p *production.Production) (*production.Production, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.bySlug[p.Slug]; ok {
		clone := *existing
		return &clone, nil
	}
	stored := *p
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	m.bySlug[p.Slug] = &stored
	clone := stored
	return &clone, nil
}

func (m *memProductions) GetBySlug(ctx context.Context, slug string) (*production.Production, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.bySlug[slug]; ok {
		clone := *existing
		return &clone, nil
	}
	return nil, production.ErrProductionNotFound
}

func (m *memProductions) GetByID(ctx context.Context, id string) (*production.Production, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.bySlug {
		if p.ID == id {
			clone := *p
			return &clone, nil
		}
	}
	return nil, production.ErrProductionNotFound
}

func (m *memProductions) SetOwnerIfUnset(ctx context.Context, productionID, identityID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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

func (m *memProductions) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bySlug[slug]
	return ok, nil
}

type memIdentities struct {
	mu          sync.Mutex
	byEmail     map[string]*identity.User
	credentials map[string]*identity.Credentials
}

func newMemIdentities() *memIdentities {
	return &memIdentities{
		byEmail:     make(map[string]*identity.User),
		credentials: make(map[string]*identity.Credentials),
	}
}

func (m *memIdentities) EnsureByEmail(ctx context.Context, user *identity.User) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byEmail[user.Email]; ok {
		clone := *existing
		return &clone, nil
	}
	stored := *user
	if stored.ProviderLinks == nil {
		stored.ProviderLinks = map[string]string{}
	}
	m.byEmail[user.Email] = &stored
	clone := stored
	return &clone, nil
}

func (m *memIdentities) AddMembership(ctx context.Context, userID, productionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.ID != userID {
			continue
		}
		for _, existing := range u.Memberships {
			if existing == productionID {
				return nil
			}
		}
		u.Memberships = append(u.Memberships, productionID)
		return nil
	}
	return identity.ErrUserNotFound
}

func (m *memIdentities) LinkProvider(ctx context.Context, userID, provider, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.ID != userID {
			continue
		}
		if u.ProviderLinks == nil {
			u.ProviderLinks = map[string]string{}
		}
		if _, linked := u.ProviderLinks[provider]; !linked {
			u.ProviderLinks[provider] = providerID
		}
		return nil
	}
	return identity.ErrUserNotFound
}

func (m *memIdentities) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byEmail[email]; ok {
		clone := *existing
		return &clone, nil
	}
	return nil, identity.ErrUserNotFound
}

func (m *memIdentities) GetByID(ctx context.Context, id string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.ID == id {
			clone := *u
			return &clone, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *memIdentities) ListByProduction(ctx context.Context, productionID string) ([]*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*identity.User
	for _, u := range m.byEmail {
		for _, p := range u.Memberships {
			if p == productionID {
				clone := *u
				out = append(out, &clone)
				break
			}
		}
	}
	return out, nil
}

func (m *memIdentities) AddCredentials(ctx context.Context, credentials *identity.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *credentials
	m.credentials[credentials.UserID] = &clone
	return nil
}

func (m *memIdentities) GetCredentials(ctx context.Context, userID string) (*identity.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.credentials[userID]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, identity.ErrInvalidCredentials
}

func (m *memIdentities) UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.ID == userID {
			u.FailedLoginAttempts = failedAttempts
			u.LockedUntil = lockedUntil
			return nil
		}
	}
	return identity.ErrUserNotFound
}

type fakePaymentClient struct {
	sessions map[string]*payment.CheckoutSession
	created  []payment.CheckoutParams
}

func (f *fakePaymentClient) CreateCheckoutSession(ctx context.Context, params payment.CheckoutParams) (*payment.CheckoutSession, error) {
	f.created = append(f.created, params)
	return &payment.CheckoutSession{
		ID:     "cs_fake_1",
		URL:    "https://checkout.test/pay/cs_fake_1",
		Status: "open",
	}, nil
}

func (f *fakePaymentClient) GetCheckoutSession(ctx context.Context, id string) (*payment.CheckoutSession, error) {
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return nil, payment.ErrSessionNotFound
}

type fakeWebhookAdapter struct {
	verifyErr error
	event     *reconcile.PaymentEvent
	parseErr  error
}

func (f *fakeWebhookAdapter) Verify(payload []byte, headers http.Header) error {
	return f.verifyErr
}

func (f *fakeWebhookAdapter) Parse(payload []byte) (*reconcile.PaymentEvent, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.event, nil
}

// ---- harness ----

type testEnv struct {
	handler     *Handler
	router      http.Handler
	productions *memProductions
	identities  *memIdentities
	payments    *fakePaymentClient
	webhook     *fakeWebhookAdapter
	tokens      *token.Service
	idService   *identity.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	productions := newMemProductions()
	identities := newMemIdentities()
	payments := &fakePaymentClient{sessions: map[string]*payment.CheckoutSession{}}
	webhook := &fakeWebhookAdapter{}

	auditLogger := audit.NewSlogLogger()
	hasher := identity.NewPasswordHasher(65536, 3, 4, 16, 32)
	identityService := identity.NewService(identities, hasher, auditLogger, 5, 15*time.Minute)
	productionService := production.NewService(productions)
	reconcileService := reconcile.NewService(productions, identities, auditLogger)
	tokenService := token.NewService([]byte("test-secret"), "stagepass", time.Hour, 10*time.Minute)
	oauthService := oauth.NewService()

	meter, err := metrics.New(context.Background(), metrics.Config{Enabled: false}, "test")
	require.NoError(t, err)
	instruments, err := metrics.NewInstruments(meter)
	require.NoError(t, err)

	h := NewHandler(
		identityService,
		productionService,
		reconcileService,
		tokenService,
		oauthService,
		payments,
		webhook,
		auditLogger,
		instruments,
		CheckoutConfig{
			PriceCents:   9900,
			Currency:     "usd",
			ClientOrigin: "https://app.test",
			CallbackBase: "https://api.test",
		},
	)

	return &testEnv{
		handler:     h,
		router:      NewRouter(h, NewRateLimiter(1000, 1000), nil),
		productions: productions,
		identities:  identities,
		payments:    payments,
		webhook:     webhook,
		tokens:      tokenService,
		idService:   identityService,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, fn := range mutate {
		fn(req)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// ---- tests ----

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestCreateCheckoutSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/checkout/sessions", map[string]string{
		"title":        "Spring Gala!",
		"desired_slug": "",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "cs_fake_1", body["session_id"])
	assert.Equal(t, "https://checkout.test/pay/cs_fake_1", body["url"])

	require.Len(t, env.payments.created, 1)
	params := env.payments.created[0]
	assert.Equal(t, "spring-gala", params.DesiredSlug)
	assert.Equal(t, int64(9900), params.AmountCents)
	assert.Contains(t, params.SuccessURL, "https://app.test/thank-you")
}

func TestCreateCheckoutSession_Validation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing title", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/checkout/sessions", map[string]string{"title": "  "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unusable slug", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/checkout/sessions", map[string]string{"title": "!!!"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("slug conflict", func(t *testing.T) {
		_, err := env.productions.CreateIfAbsent(context.Background(), &production.Production{
			ID: "prod-1", Slug: "taken-show", Title: "Taken", IsActive: true,
		})
		require.NoError(t, err)

		rec := env.do(t, http.MethodPost, "/api/v1/checkout/sessions", map[string]string{
			"title":        "Anything",
			"desired_slug": "Taken Show",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "slug already in use", decodeBody(t, rec)["error"])
	})
}

func TestGetCheckoutSession_PullReconciliation(t *testing.T) {
	env := newTestEnv(t)
	env.payments.sessions["cs_paid"] = &payment.CheckoutSession{
		ID:            "cs_paid",
		Status:        "complete",
		PaymentStatus: "paid",
		CustomerEmail: "buyer@example.com",
		AmountTotal:   9900,
		Currency:      "usd",
		Metadata:      map[string]string{"title": "Night Show", "desired_slug": "night-show"},
	}

	rec := env.do(t, http.MethodGet, "/api/v1/checkout/sessions/cs_paid", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "paid", body["payment_status"])
	assert.Equal(t, "night-show", body["slug"])
	assert.Equal(t, "Night Show", body["title"])

	// Pull path provisions just like the webhook would.
	prod, err := env.productions.GetBySlug(context.Background(), "night-show")
	require.NoError(t, err)
	user, err := env.identities.GetByEmail(context.Background(), "buyer@example.com")
	require.NoError(t, err)
	assert.Contains(t, user.Memberships, prod.ID)
	assert.Equal(t, user.ID, prod.OwnerIdentityID)
}

func TestGetCheckoutSession_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/checkout/sessions/cs_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCheckoutSession_UnpaidDoesNotProvision(t *testing.T) {
	env := newTestEnv(t)
	env.payments.sessions["cs_open"] = &payment.CheckoutSession{
		ID:            "cs_open",
		Status:        "open",
		PaymentStatus: "unpaid",
		Metadata:      map[string]string{"title": "Pending Show"},
	}

	rec := env.do(t, http.MethodGet, "/api/v1/checkout/sessions/cs_open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unpaid", decodeBody(t, rec)["payment_status"])

	exists, err := env.productions.ExistsBySlug(context.Background(), "pending-show")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStripeWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.webhook.event = &reconcile.PaymentEvent{
		Title:             "Webhook Show",
		PurchaserEmail:    "hook@example.com",
		CheckoutSessionID: "cs_hook",
		AmountTotal:       9900,
		Currency:          "usd",
	}

	rec := env.do(t, http.MethodPost, "/webhooks/stripe", map[string]string{"any": "payload"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["received"])

	prod, err := env.productions.GetBySlug(context.Background(), "webhook-show")
	require.NoError(t, err)
	assert.Equal(t, "cs_hook", prod.PaymentRef.CheckoutSessionID)
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	env := newTestEnv(t)
	env.webhook.verifyErr = payment.ErrInvalidSignature
	env.webhook.event = &reconcile.PaymentEvent{Title: "Should Not Exist"}

	rec := env.do(t, http.MethodPost, "/webhooks/stripe", map[string]string{"any": "payload"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	exists, err := env.productions.ExistsBySlug(context.Background(), "should-not-exist")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStripeWebhook_IgnoredEventType(t *testing.T) {
	env := newTestEnv(t)
	env.webhook.parseErr = payment.ErrEventIgnored

	rec := env.do(t, http.MethodPost, "/webhooks/stripe", map[string]string{"type": "invoice.paid"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["received"])
}

func TestResolveProduction(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.productions.CreateIfAbsent(context.Background(), &production.Production{
		ID: "prod-live", Slug: "live-show", Title: "Live Show", IsActive: true,
	})
	require.NoError(t, err)
	_, err = env.productions.CreateIfAbsent(context.Background(), &production.Production{
		ID: "prod-dark", Slug: "dark-show", Title: "Dark Show", IsActive: false,
	})
	require.NoError(t, err)

	t.Run("active slug resolves", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/productions/by-slug/live-show", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "prod-live", body["id"])
		assert.Equal(t, "live-show", body["slug"])
	})

	t.Run("inactive slug hidden", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/productions/by-slug/dark-show", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown slug", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/productions/by-slug/ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":        "New@Example.com",
		"password":     "a-strong-password",
		"display_name": "New Person",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "new@example.com", decodeBody(t, rec)["email"])

	t.Run("duplicate registration conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
			"email":    "new@example.com",
			"password": "a-strong-password",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("login returns token with memberships", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
			"email":    "new@example.com",
			"password": "a-strong-password",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		raw, ok := body["token"].(string)
		require.True(t, ok)

		claims, err := env.tokens.VerifyLogin(raw)
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", claims.Email)
		assert.Empty(t, claims.Memberships)
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
			"email":    "new@example.com",
			"password": "wrong-password",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)
	user, err := env.idService.Register(context.Background(), "me@example.com", "a-strong-password", "Me")
	require.NoError(t, err)
	signed, err := env.tokens.IssueLogin(user.ID, user.Email, nil)
	require.NoError(t, err)

	t.Run("no token", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/auth/me", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/auth/me", nil, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer not-a-jwt")
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/auth/me", nil, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signed)
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "me@example.com", decodeBody(t, rec)["email"])
	})
}

func TestMembershipGate(t *testing.T) {
	env := newTestEnv(t)

	prod, err := env.productions.CreateIfAbsent(context.Background(), &production.Production{
		ID: "prod-m", Slug: "member-show", Title: "Member Show", IsActive: true,
	})
	require.NoError(t, err)

	member, err := env.idService.Register(context.Background(), "member@example.com", "a-strong-password", "Member")
	require.NoError(t, err)
	require.NoError(t, env.identities.AddMembership(context.Background(), member.ID, prod.ID))

	outsider, err := env.idService.Register(context.Background(), "outsider@example.com", "a-strong-password", "Outsider")
	require.NoError(t, err)

	memberToken, err := env.tokens.IssueLogin(member.ID, member.Email, []string{prod.ID})
	require.NoError(t, err)
	outsiderToken, err := env.tokens.IssueLogin(outsider.ID, outsider.Email, nil)
	require.NoError(t, err)

	t.Run("missing production header", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/tenant/me", nil, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+memberToken)
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-member forbidden", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/tenant/me", nil, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+outsiderToken)
			r.Header.Set("X-Production-ID", prod.ID)
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("member allowed", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/tenant/me", nil, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+memberToken)
			r.Header.Set("X-Production-ID", prod.ID)
		})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, prod.ID, body["production_id"])
		assert.Equal(t, "member@example.com", body["email"])
	})

	t.Run("member list", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/tenant/members", nil, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+memberToken)
			r.Header.Set("X-Production-ID", prod.ID)
		})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		members, ok := body["members"].([]any)
		require.True(t, ok)
		require.Len(t, members, 1)
	})
}

func TestOAuthStart(t *testing.T) {
	envWith := func(p oauth.Provider) *testEnv {
		env := newTestEnv(t)
		env.handler.oauthService = oauth.NewService(p)
		return env
	}

	t.Run("unknown provider", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodGet, "/api/v1/auth/google", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("redirects to provider with state", func(t *testing.T) {
		env := envWith(oauth.Google("client-id", "client-secret"))
		rec := env.do(t, http.MethodGet, "/api/v1/auth/google?slug=acme&return_path=%2Facme%2Fdashboard", nil)
		require.Equal(t, http.StatusFound, rec.Code)

		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "accounts.google.com", location.Host)
		assert.Equal(t, "https://api.test/api/v1/auth/google/callback", location.Query().Get("redirect_uri"))

		state, err := env.tokens.VerifyState(location.Query().Get("state"))
		require.NoError(t, err)
		assert.Equal(t, "acme", state.Slug)
		assert.Equal(t, "/acme/dashboard", state.ReturnPath)
	})
}

func TestOAuthCallback(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"at_cb"}`)
		case "/userinfo":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"sub":"g-cb-1","email":"oauth@example.com","name":"OAuth Person"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer provider.Close()

	newOAuthEnv := func(t *testing.T) *testEnv {
		env := newTestEnv(t)
		p := oauth.Google("client-id", "client-secret")
		p.TokenURL = provider.URL + "/token"
		p.UserInfoURL = provider.URL + "/userinfo"
		env.handler.oauthService = oauth.NewService(p)
		return env
	}

	t.Run("valid state lands inside tenant with token", func(t *testing.T) {
		env := newOAuthEnv(t)
		state, err := env.tokens.IssueState("acme", "/acme/dashboard")
		require.NoError(t, err)

		rec := env.do(t, http.MethodGet, "/api/v1/auth/google/callback?code=ok&state="+url.QueryEscape(state), nil)
		require.Equal(t, http.StatusFound, rec.Code)

		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "app.test", location.Host)
		assert.Equal(t, "/acme/dashboard", location.Path)

		claims, err := env.tokens.VerifyLogin(location.Query().Get("token"))
		require.NoError(t, err)
		assert.Equal(t, "oauth@example.com", claims.Email)

		// Provider link recorded on first login.
		user, err := env.identities.GetByEmail(context.Background(), "oauth@example.com")
		require.NoError(t, err)
		assert.Equal(t, "g-cb-1", user.ProviderLinks["google"])
	})

	t.Run("tampered state falls back to platform root", func(t *testing.T) {
		env := newOAuthEnv(t)

		rec := env.do(t, http.MethodGet, "/api/v1/auth/google/callback?code=ok&state=tampered", nil)
		require.Equal(t, http.StatusFound, rec.Code)

		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "/", location.Path)
		assert.NotEmpty(t, location.Query().Get("token"))
	})

	t.Run("provider error redirects without token", func(t *testing.T) {
		env := newOAuthEnv(t)
		state, err := env.tokens.IssueState("acme", "")
		require.NoError(t, err)

		rec := env.do(t, http.MethodGet, "/api/v1/auth/google/callback?error=access_denied&state="+url.QueryEscape(state), nil)
		require.Equal(t, http.StatusFound, rec.Code)

		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "/acme", location.Path)
		assert.Equal(t, "auth-failed", location.Query().Get("err"))
		assert.Empty(t, location.Query().Get("token"))
	})
}
