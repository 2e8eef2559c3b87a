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

// Package token issues and verifies the two signed, self-contained token
// kinds the service relies on: login tokens carrying an identity and its
// membership set, and short-lived transit state carrying tenant context
// through an external identity redirect. No server-side session store is
// consulted inside a token's validity window.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
)

// LoginClaims is the payload of a login token. Memberships reflect the
// identity's set at issuance; a membership granted later becomes visible
// only on the next login, when the token is re-issued rather than
// refreshed in place.
type LoginClaims struct {
	IdentityID  string   `json:"identity_id"`
	Email       string   `json:"email"`
	Memberships []string `json:"memberships"`
	jwt.RegisteredClaims
}

// StateClaims is the payload of an OAuth transit state: the only channel
// carrying tenant context across the provider round trip.
type StateClaims struct {
	Slug       string `json:"slug,omitempty"`
	ReturnPath string `json:"return_path,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies both token kinds with a single HMAC secret.
type Service struct {
	secret   []byte
	issuer   string
	loginTTL time.Duration
	stateTTL time.Duration
	now      func() time.Time
}

// NewService creates a token service. loginTTL governs login tokens
// (hours), stateTTL the transit state (minutes).
func NewService(secret []byte, issuer string, loginTTL, stateTTL time.Duration) *Service {
	return &Service{
		secret:   secret,
		issuer:   issuer,
		loginTTL: loginTTL,
		stateTTL: stateTTL,
		now:      time.Now,
	}
}

// IssueLogin signs a fresh login token embedding the identity's current
// membership set.
func (s *Service) IssueLogin(identityID, email string, memberships []string) (string, error) {
	now := s.now()
	claims := LoginClaims{
		IdentityID:  identityID,
		Email:       email,
		Memberships: memberships,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.loginTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyLogin verifies signature and expiry together; any failure rejects
// the token wholesale.
func (s *Service) VerifyLogin(raw string) (*LoginClaims, error) {
	claims := &LoginClaims{}
	if err := s.verify(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// IssueState signs a short-lived transit state for the round trip through
// an external identity provider.
func (s *Service) IssueState(slug, returnPath string) (string, error) {
	now := s.now()
	claims := StateClaims{
		Slug:       slug,
		ReturnPath: returnPath,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.stateTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyState verifies a returned transit state. Callers must treat an
// error as "no context" and discard the state entirely; a state that fails
// signature or expiry is never partially trusted.
func (s *Service) VerifyState(raw string) (*StateClaims, error) {
	claims := &StateClaims{}
	if err := s.verify(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Service) verify(raw string, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	parsed, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
