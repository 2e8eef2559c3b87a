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

// Package oauth implements the authorization-code login flow against
// external providers. The transit state parameter is opaque to this
// package; callers mint and verify it themselves.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stagepass/stagepass/internal/identity"
)

var (
	ErrProviderNotFound = errors.New("oauth provider not found")
	ErrExchangeFailed   = errors.New("oauth code exchange failed")
	ErrNoEmail          = errors.New("oauth provider returned no email")
)

// Provider holds one external provider's endpoints and credentials.
type Provider struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}

// Google returns the Google provider configuration.
func Google(clientID, clientSecret string) Provider {
	return Provider{
		Name:         "google",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
		Scopes:       []string{"openid", "email", "profile"},
	}
}

// Facebook returns the Facebook provider configuration.
func Facebook(clientID, clientSecret string) Provider {
	return Provider{
		Name:         "facebook",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthURL:      "https://www.facebook.com/v19.0/dialog/oauth",
		TokenURL:     "https://graph.facebook.com/v19.0/oauth/access_token",
		UserInfoURL:  "https://graph.facebook.com/v19.0/me?fields=id,name,email",
		Scopes:       []string{"email", "public_profile"},
	}
}

// Service drives the code flow for a set of configured providers.
type Service struct {
	providers  map[string]Provider
	httpClient *http.Client
}

// NewService builds a service from the providers that have credentials.
// Providers without a client id are left unregistered.
func NewService(providers ...Provider) *Service {
	registered := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if strings.TrimSpace(p.ClientID) == "" {
			continue
		}
		registered[strings.ToLower(p.Name)] = p
	}
	return &Service{
		providers:  registered,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Has reports whether a provider is configured.
func (s *Service) Has(name string) bool {
	_, ok := s.providers[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// AuthCodeURL builds the provider's consent page URL. state travels
// round-trip and comes back on the callback.
func (s *Service) AuthCodeURL(providerName, redirectURI, state string) (string, error) {
	p, ok := s.providers[strings.ToLower(strings.TrimSpace(providerName))]
	if !ok {
		return "", ErrProviderNotFound
	}

	parsed, err := url.Parse(p.AuthURL)
	if err != nil {
		return "", fmt.Errorf("parse auth url: %w", err)
	}
	query := parsed.Query()
	query.Set("response_type", "code")
	query.Set("client_id", p.ClientID)
	query.Set("redirect_uri", redirectURI)
	query.Set("scope", strings.Join(p.Scopes, " "))
	query.Set("state", state)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Exchange trades the callback code for an access token, fetches the
// provider profile, and normalizes it for identity resolution.
func (s *Service) Exchange(ctx context.Context, providerName, code, redirectURI string) (identity.Profile, error) {
	p, ok := s.providers[strings.ToLower(strings.TrimSpace(providerName))]
	if !ok {
		return identity.Profile{}, ErrProviderNotFound
	}
	if strings.TrimSpace(code) == "" {
		return identity.Profile{}, ErrExchangeFailed
	}

	accessToken, err := s.exchangeCode(ctx, p, code, redirectURI)
	if err != nil {
		return identity.Profile{}, err
	}

	return s.fetchProfile(ctx, p, accessToken)
}

func (s *Service) exchangeCode(ctx context.Context, p Provider, code, redirectURI string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", p.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", ErrExchangeFailed
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &token); err == nil && token.AccessToken != "" {
		return token.AccessToken, nil
	}

	// Facebook historically answered form-encoded.
	values, err := url.ParseQuery(string(body))
	if err != nil || values.Get("access_token") == "" {
		return "", ErrExchangeFailed
	}
	return values.Get("access_token"), nil
}

func (s *Service) fetchProfile(ctx context.Context, p Provider, accessToken string) (identity.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return identity.Profile{}, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return identity.Profile{}, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return identity.Profile{}, fmt.Errorf("read userinfo response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return identity.Profile{}, ErrExchangeFailed
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return identity.Profile{}, ErrExchangeFailed
	}

	profile := identity.Profile{
		Provider:    p.Name,
		ProviderID:  firstClaim(payload, "sub", "id"),
		Email:       firstClaim(payload, "email"),
		DisplayName: firstClaim(payload, "name"),
	}
	if profile.DisplayName == "" {
		profile.DisplayName = profile.Email
	}
	if profile.ProviderID == "" {
		return identity.Profile{}, ErrExchangeFailed
	}
	if profile.Email == "" {
		return identity.Profile{}, ErrNoEmail
	}
	return profile, nil
}

func firstClaim(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := payload[key]; ok {
			if str, ok := value.(string); ok && strings.TrimSpace(str) != "" {
				return strings.TrimSpace(str)
			}
		}
	}
	return ""
}
