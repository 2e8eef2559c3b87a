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
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/stagepass/stagepass/internal/audit"
	"github.com/stagepass/stagepass/internal/id"
)

// PasswordHasher handles password hashing using Argon2id
type PasswordHasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// NewPasswordHasher creates a new password hasher with Argon2id
func NewPasswordHasher(memory, iterations uint32, parallelism uint8, saltLength, keyLength uint32) *PasswordHasher {
	return &PasswordHasher{
		memory:      memory,
		iterations:  iterations,
		parallelism: parallelism,
		saltLength:  saltLength,
		keyLength:   keyLength,
	}
}

// Hash hashes a password using Argon2id
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		h.iterations,
		h.memory,
		h.parallelism,
		h.keyLength,
	)

	// Encoded as: $argon2id$v=19$m=memory,t=iterations,p=parallelism$salt$hash
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.iterations,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return encoded, nil
}

// Verify verifies a password against an encoded hash
func (h *PasswordHasher) Verify(password, encodedHash string) (bool, error) {
	sections := strings.Split(strings.TrimPrefix(encodedHash, "$"), "$")

	// Expected 5 sections: ["argon2id", "v=19", "m=65536,t=3,p=4", "salt", "hash"]
	if len(sections) != 5 || sections[0] != "argon2id" {
		return false, fmt.Errorf("invalid hash format: got %d sections", len(sections))
	}

	var version int
	if _, err := fmt.Sscanf(sections[1], "v=%d", &version); err != nil {
		return false, fmt.Errorf("invalid version: %w", err)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(sections[2], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("invalid parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[3])
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	actualHash := argon2.IDKey(
		[]byte(password),
		salt,
		iterations,
		memory,
		parallelism,
		uint32(len(expectedHash)),
	)

	return subtle.ConstantTimeCompare(actualHash, expectedHash) == 1, nil
}

// Service provides identity-related business logic
type Service struct {
	repo               UserRepository
	hasher             *PasswordHasher
	auditLogger        audit.Logger
	lockoutMaxAttempts int
	lockoutDuration    time.Duration
}

// NewService creates a new identity service
func NewService(
	repo UserRepository,
	hasher *PasswordHasher,
	auditLogger audit.Logger,
	lockoutMaxAttempts int,
	lockoutDuration time.Duration,
) *Service {
	return &Service{
		repo:               repo,
		hasher:             hasher,
		auditLogger:        auditLogger,
		lockoutMaxAttempts: lockoutMaxAttempts,
		lockoutDuration:    lockoutDuration,
	}
}

// EnsureIdentity creates the identity for the lower-cased email if it does
// not exist and returns the stored identity either way. Safe to repeat.
func (s *Service) EnsureIdentity(ctx context.Context, email, displayName string) (*User, error) {
	canonical, err := CanonicalEmail(email)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.EnsureByEmail(ctx, &User{
		ID:          id.NewUUIDv7(),
		Email:       canonical,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure identity: %w", err)
	}
	return user, nil
}

// Register creates a new identity with local credentials. An existing email
// is a conflict here, unlike EnsureIdentity.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*User, error) {
	canonical, err := CanonicalEmail(email)
	if err != nil {
		return nil, err
	}
	if !isStrongPassword(password) {
		return nil, ErrWeakPassword
	}

	if existing, err := s.repo.GetByEmail(ctx, canonical); err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}

	user, err := s.repo.EnsureByEmail(ctx, &User{
		ID:          id.NewUUIDv7(),
		Email:       canonical,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.repo.AddCredentials(ctx, &Credentials{
		UserID:       user.ID,
		PasswordHash: passwordHash,
	}); err != nil {
		return nil, fmt.Errorf("failed to add credentials: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserCreated,
		ActorID:  user.ID,
		Resource: "identity",
		Metadata: map[string]any{"email": user.Email},
	})

	return user, nil
}

// Authenticate authenticates an identity with email and password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	canonical, err := CanonicalEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := s.repo.GetByEmail(ctx, canonical)
	if err != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: canonical,
			Metadata: map[string]any{audit.AttrReason: "user_not_found"},
		})
		return nil, ErrInvalidCredentials
	}

	if user.LockedUntil != nil && user.LockedUntil.After(time.Now()) {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: "locked_out"},
		})
		return nil, ErrAccountLocked
	}

	credentials, err := s.repo.GetCredentials(ctx, user.ID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	valid, err := s.hasher.Verify(password, credentials.PasswordHash)
	if err != nil || !valid {
		newAttempts := user.FailedLoginAttempts + 1
		var newLockedUntil *time.Time

		if newAttempts >= s.lockoutMaxAttempts {
			until := time.Now().Add(s.lockoutDuration)
			newLockedUntil = &until
			s.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeUserLocked,
				ActorID:  user.ID,
				Resource: "login",
				Metadata: map[string]any{audit.AttrAttempts: newAttempts},
			})
		}

		_ = s.repo.UpdateLockout(ctx, user.ID, newAttempts, newLockedUntil)

		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{
				audit.AttrReason:   "invalid_password",
				audit.AttrAttempts: newAttempts,
			},
		})

		return nil, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		_ = s.repo.UpdateLockout(ctx, user.ID, 0, nil)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		ActorID:  user.ID,
		Resource: "login",
	})

	return user, nil
}

// LoginFromProfile resolves an identity from a normalized external-provider
// profile: the identity is created for a previously-unseen email, and the
// provider link is recorded if the identity has none for that provider.
func (s *Service) LoginFromProfile(ctx context.Context, profile Profile) (*User, error) {
	if profile.Email == "" {
		return nil, ErrNoProfileEmail
	}

	user, err := s.EnsureIdentity(ctx, profile.Email, profile.DisplayName)
	if err != nil {
		return nil, err
	}

	if _, linked := user.ProviderLinks[profile.Provider]; !linked {
		if err := s.repo.LinkProvider(ctx, user.ID, profile.Provider, profile.ProviderID); err != nil {
			return nil, fmt.Errorf("failed to link provider: %w", err)
		}
		if user.ProviderLinks == nil {
			user.ProviderLinks = make(map[string]string)
		}
		user.ProviderLinks[profile.Provider] = profile.ProviderID

		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeProviderLinked,
			ActorID:  user.ID,
			Resource: profile.Provider,
		})
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		ActorID:  user.ID,
		Resource: "oauth_login",
		Metadata: map[string]any{"provider": profile.Provider},
	})

	return user, nil
}

// GetUser retrieves an identity by ID.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ListMembers lists identities holding a membership for the production.
func (s *Service) ListMembers(ctx context.Context, productionID string) ([]*User, error) {
	return s.repo.ListByProduction(ctx, productionID)
}

// CanonicalEmail lower-cases and validates an email address.
func CanonicalEmail(email string) (string, error) {
	canonical := strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(canonical); err != nil {
		return "", ErrInvalidEmail
	}
	return canonical, nil
}

func isStrongPassword(password string) bool {
	return len(password) >= 8
}
