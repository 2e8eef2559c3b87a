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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stagepass/stagepass/internal/identity"
)

// IdentityRepository implements identity.UserRepository
type IdentityRepository struct {
	db *DB
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(db *DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// EnsureByEmail inserts the identity unless the email is already taken
// and returns the stored row either way.
func (r *IdentityRepository) EnsureByEmail(ctx context.Context, user *identity.User) (*identity.User, error) {
	now := time.Now()

	var stored identity.User
	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO identities (id, email, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO NOTHING
		RETURNING id, email, display_name, failed_login_attempts, locked_until, created_at, updated_at
	`, user.ID, user.Email, user.DisplayName, now, now).Scan(
		&stored.ID, &stored.Email, &stored.DisplayName,
		&stored.FailedLoginAttempts, &stored.LockedUntil,
		&stored.CreatedAt, &stored.UpdatedAt,
	)
	if err == nil {
		stored.ProviderLinks = map[string]string{}
		return &stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to insert identity: %w", err)
	}

	// Email already registered; return the existing identity.
	return r.GetByEmail(ctx, user.Email)
}

// AddMembership adds the production to the identity's membership set
func (r *IdentityRepository) AddMembership(ctx context.Context, userID, productionID string) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO memberships (identity_id, production_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity_id, production_id) DO NOTHING
	`, userID, productionID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

// LinkProvider records the external provider id, at most one per provider
func (r *IdentityRepository) LinkProvider(ctx context.Context, userID, provider, providerID string) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO provider_links (identity_id, provider, provider_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity_id, provider) DO NOTHING
	`, userID, provider, providerID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to link provider: %w", err)
	}
	return nil
}

// GetByEmail retrieves an identity by email
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	return r.getOne(ctx, `WHERE email = $1`, email)
}

// GetByID retrieves an identity by ID
func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *IdentityRepository) getOne(ctx context.Context, where string, arg any) (*identity.User, error) {
	var user identity.User
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, email, display_name, failed_login_attempts, locked_until, created_at, updated_at
		FROM identities `+where,
		arg,
	).Scan(
		&user.ID, &user.Email, &user.DisplayName,
		&user.FailedLoginAttempts, &user.LockedUntil,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}

	if err := r.loadAssociations(ctx, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *IdentityRepository) loadAssociations(ctx context.Context, user *identity.User) error {
	rows, err := r.db.pool.Query(ctx, `
		SELECT production_id FROM memberships WHERE identity_id = $1
	`, user.ID)
	if err != nil {
		return fmt.Errorf("failed to load memberships: %w", err)
	}
	defer rows.Close()

	user.Memberships = nil
	for rows.Next() {
		var productionID string
		if err := rows.Scan(&productionID); err != nil {
			return fmt.Errorf("failed to scan membership: %w", err)
		}
		user.Memberships = append(user.Memberships, productionID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate memberships: %w", err)
	}

	links, err := r.db.pool.Query(ctx, `
		SELECT provider, provider_id FROM provider_links WHERE identity_id = $1
	`, user.ID)
	if err != nil {
		return fmt.Errorf("failed to load provider links: %w", err)
	}
	defer links.Close()

	user.ProviderLinks = map[string]string{}
	for links.Next() {
		var provider, providerID string
		if err := links.Scan(&provider, &providerID); err != nil {
			return fmt.Errorf("failed to scan provider link: %w", err)
		}
		user.ProviderLinks[provider] = providerID
	}
	if err := links.Err(); err != nil {
		return fmt.Errorf("failed to iterate provider links: %w", err)
	}

	return nil
}

// ListByProduction lists identities holding a membership for the production
func (r *IdentityRepository) ListByProduction(ctx context.Context, productionID string) ([]*identity.User, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT i.id, i.email, i.display_name, i.failed_login_attempts, i.locked_until, i.created_at, i.updated_at
		FROM identities i
		JOIN memberships m ON m.identity_id = i.id
		WHERE m.production_id = $1
		ORDER BY i.created_at
	`, productionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var users []*identity.User
	for rows.Next() {
		var user identity.User
		if err := rows.Scan(
			&user.ID, &user.Email, &user.DisplayName,
			&user.FailedLoginAttempts, &user.LockedUntil,
			&user.CreatedAt, &user.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}

	for _, user := range users {
		if err := r.loadAssociations(ctx, user); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// AddCredentials adds local credentials for an identity
func (r *IdentityRepository) AddCredentials(ctx context.Context, credentials *identity.Credentials) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO identity_credentials (identity_id, password_hash, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity_id) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at
	`, credentials.UserID, credentials.PasswordHash, now)
	if err != nil {
		return fmt.Errorf("failed to upsert credentials: %w", err)
	}
	credentials.UpdatedAt = now
	return nil
}

// GetCredentials retrieves local credentials
func (r *IdentityRepository) GetCredentials(ctx context.Context, userID string) (*identity.Credentials, error) {
	var credentials identity.Credentials
	err := r.db.pool.QueryRow(ctx, `
		SELECT identity_id, password_hash, updated_at
		FROM identity_credentials
		WHERE identity_id = $1
	`, userID).Scan(&credentials.UserID, &credentials.PasswordHash, &credentials.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return &credentials, nil
}

// UpdateLockout updates the failed-attempt counter and lockout deadline
func (r *IdentityRepository) UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE identities
		SET failed_login_attempts = $2, locked_until = $3, updated_at = $4
		WHERE id = $1
	`, userID, failedAttempts, lockedUntil, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update lockout: %w", err)
	}
	return nil
}
