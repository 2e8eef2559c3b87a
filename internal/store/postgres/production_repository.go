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
	"github.com/stagepass/stagepass/internal/production"
)

// ProductionRepository implements production.Repository
type ProductionRepository struct {
	db *DB
}

// NewProductionRepository creates a new production repository
func NewProductionRepository(db *DB) *ProductionRepository {
	return &ProductionRepository{db: db}
}

const productionColumns = `
	id, slug, title, checkout_session_id, payment_intent_id,
	amount_total, currency, is_active, owner_identity_id,
	created_at, updated_at`

// CreateIfAbsent inserts the production unless its slug is already taken.
// ON CONFLICT DO NOTHING makes concurrent duplicate inserts converge on
// the first writer's row.
func (r *ProductionRepository) CreateIfAbsent(ctx context.Context, p *production.Production) (*production.Production, error) {
	now := time.Now()

	var stored production.Production
	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO productions (
			id, slug, title, checkout_session_id, payment_intent_id,
			amount_total, currency, is_active, owner_identity_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (slug) DO NOTHING
		RETURNING`+productionColumns,
		p.ID, p.Slug, p.Title,
		p.PaymentRef.CheckoutSessionID, p.PaymentRef.PaymentIntentID,
		p.PaymentRef.AmountTotal, p.PaymentRef.Currency,
		p.IsActive, p.OwnerIdentityID,
		now, now,
	).Scan(scanTargets(&stored)...)
	if err == nil {
		return &stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to insert production: %w", err)
	}

	// Slug already held; return the winner's row.
	return r.GetBySlug(ctx, p.Slug)
}

// GetBySlug retrieves a production by slug
func (r *ProductionRepository) GetBySlug(ctx context.Context, slug string) (*production.Production, error) {
	var stored production.Production
	err := r.db.pool.QueryRow(ctx, `
		SELECT`+productionColumns+`
		FROM productions
		WHERE slug = $1
	`, slug).Scan(scanTargets(&stored)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, production.ErrProductionNotFound
		}
		return nil, fmt.Errorf("failed to get production by slug: %w", err)
	}
	return &stored, nil
}

// GetByID retrieves a production by ID
func (r *ProductionRepository) GetByID(ctx context.Context, id string) (*production.Production, error) {
	var stored production.Production
	err := r.db.pool.QueryRow(ctx, `
		SELECT`+productionColumns+`
		FROM productions
		WHERE id = $1
	`, id).Scan(scanTargets(&stored)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, production.ErrProductionNotFound
		}
		return nil, fmt.Errorf("failed to get production by id: %w", err)
	}
	return &stored, nil
}

// SetOwnerIfUnset assigns the owner only when none is recorded yet
func (r *ProductionRepository) SetOwnerIfUnset(ctx context.Context, productionID, identityID string) (bool, error) {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE productions
		SET owner_identity_id = $2, updated_at = $3
		WHERE id = $1 AND owner_identity_id = ''
	`, productionID, identityID, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to set production owner: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExistsBySlug reports whether any production holds the slug
func (r *ProductionRepository) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM productions WHERE slug = $1)
	`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check slug existence: %w", err)
	}
	return exists, nil
}

func scanTargets(p *production.Production) []any {
	return []any{
		&p.ID, &p.Slug, &p.Title,
		&p.PaymentRef.CheckoutSessionID, &p.PaymentRef.PaymentIntentID,
		&p.PaymentRef.AmountTotal, &p.PaymentRef.Currency,
		&p.IsActive, &p.OwnerIdentityID,
		&p.CreatedAt, &p.UpdatedAt,
	}
}
