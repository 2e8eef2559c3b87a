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

package identity

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
	ErrAccountLocked      = errors.New("account is locked")
	ErrNoProfileEmail     = errors.New("provider profile carries no email")
)

// User represents a purchaser or member identity. Email is the unique
// lookup key and is stored lower-cased. Memberships is the set of
// production IDs the identity may access; reconciliation only ever adds
// to it, never removes.
type User struct {
	ID                  string
	Email               string
	DisplayName         string
	ProviderLinks       map[string]string // provider name -> external provider id
	Memberships         []string          // production IDs, unordered, unique
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsMemberOf reports whether the identity holds a membership for the
// given production.
func (u *User) IsMemberOf(productionID string) bool {
	for _, m := range u.Memberships {
		if m == productionID {
			return true
		}
	}
	return false
}

// Credentials represents local password credentials.
type Credentials struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}

// Profile is the single normalized record an external identity provider's
// profile is adapted into before it reaches identity logic. Provider
// specific shapes never cross this boundary.
type Profile struct {
	Email       string
	Provider    string
	ProviderID  string
	DisplayName string
}

// UserRepository defines the interface for identity persistence.
//
// EnsureByEmail and AddMembership must be atomic at the store level
// (conditional insert, set-add); reconciliation relies on that to stay
// idempotent under concurrent duplicate delivery.
type UserRepository interface {
	// EnsureByEmail creates the identity keyed by lower-cased email if it
	// does not exist and returns the stored row either way.
	EnsureByEmail(ctx context.Context, user *User) (*User, error)

	// AddMembership adds the production to the identity's membership set.
	// Repeats are no-ops.
	AddMembership(ctx context.Context, userID, productionID string) error

	// LinkProvider records the external provider id for the identity,
	// at most one per provider. An existing link is left untouched.
	LinkProvider(ctx context.Context, userID, provider, providerID string) error

	// GetByEmail retrieves an identity by lower-cased email, memberships
	// and provider links included.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByID retrieves an identity by ID, memberships and provider links
	// included.
	GetByID(ctx context.Context, id string) (*User, error)

	// ListByProduction lists identities holding a membership for the
	// production.
	ListByProduction(ctx context.Context, productionID string) ([]*User, error)

	// AddCredentials adds local credentials for an identity.
	AddCredentials(ctx context.Context, credentials *Credentials) error

	// GetCredentials retrieves local credentials.
	GetCredentials(ctx context.Context, userID string) (*Credentials, error)

	// UpdateLockout updates the failed-attempt counter and lockout deadline.
	UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error
}
