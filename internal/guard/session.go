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

package guard

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stagepass/stagepass/internal/token"
)

// Session is the explicit client session context: the one place the login
// token, the remembered tenant and the cached membership snapshot live
// between navigations. All of it is advisory; the server re-verifies on
// every authenticated call. The guard enforces only what it can check
// locally, which is token presence, shape and expiry.
type Session struct {
	// RawToken is the login token as persisted client-side.
	RawToken string
	// Claims is the locally decoded payload of RawToken. Decoding does not
	// re-verify the signature; expiry is still enforced on every
	// evaluation.
	Claims *token.LoginClaims
	// LastSlug is the most recently resolved production slug.
	LastSlug string
	// CurrentProductionID is the ID of the production LastSlug resolved to.
	CurrentProductionID string

	now func() time.Time
}

// NewSession builds a session context from persisted client state. A raw
// token that does not decode as a login token is discarded rather than
// carried around half-trusted.
func NewSession(rawToken, lastSlug, currentProductionID string) *Session {
	s := &Session{
		LastSlug:            lastSlug,
		CurrentProductionID: currentProductionID,
		now:                 time.Now,
	}
	if rawToken == "" {
		return s
	}

	claims := &token.LoginClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return s
	}
	s.RawToken = rawToken
	s.Claims = claims
	return s
}

// IsAuthenticated reports whether the session holds a decodable,
// unexpired login token. Expiry is checked synchronously against the
// local clock; no network round trip is involved.
func (s *Session) IsAuthenticated() bool {
	if s.Claims == nil || s.Claims.ExpiresAt == nil {
		return false
	}
	return s.now().Before(s.Claims.ExpiresAt.Time)
}

// StateFor derives the authorization state relative to a production.
func (s *Session) StateFor(productionID string) AuthState {
	if !s.IsAuthenticated() {
		return Anonymous
	}
	if productionID == "" {
		return AuthenticatedNonMember
	}
	for _, m := range s.Claims.Memberships {
		if m == productionID {
			return AuthenticatedMember
		}
	}
	return AuthenticatedNonMember
}

// Clear drops the token and the cached user context, as a logout or a
// failed local decode does client-side.
func (s *Session) Clear() {
	s.RawToken = ""
	s.Claims = nil
}

// RememberProduction records the outcome of a successful tenant
// resolution. This is the single write point for the cached tenant
// context.
func (s *Session) RememberProduction(slug, productionID string) {
	s.LastSlug = slug
	s.CurrentProductionID = productionID
}
