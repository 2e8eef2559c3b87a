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

package production

import (
	"context"
	"fmt"

	"github.com/stagepass/stagepass/internal/slug"
)

// Service provides the consumer-facing read path and the purchase-time
// claim check over the production store.
type Service struct {
	repo Repository
}

// NewService creates a new production service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ResolveBySlug resolves an active production by its canonical slug. The
// raw input is normalized first so that lookups tolerate the same inputs
// provisioning does. Inactive productions resolve as not found.
func (s *Service) ResolveBySlug(ctx context.Context, raw string) (*Production, error) {
	canonical := slug.Normalize(raw)
	if canonical == "" {
		return nil, ErrProductionNotFound
	}

	p, err := s.repo.GetBySlug(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, ErrProductionNotFound
	}
	return p, nil
}

// GetByID retrieves a production by ID.
func (s *Service) GetByID(ctx context.Context, id string) (*Production, error) {
	return s.repo.GetByID(ctx, id)
}

// CheckSlugAvailable validates a desired slug ahead of checkout. A taken
// slug is a distinct conflict, not to be confused with the idempotent
// no-op that re-reconciling an already provisioned production produces.
func (s *Service) CheckSlugAvailable(ctx context.Context, raw string) (string, error) {
	canonical := slug.Normalize(raw)
	if canonical == "" {
		return "", ErrInvalidSlug
	}

	exists, err := s.repo.ExistsBySlug(ctx, canonical)
	if err != nil {
		return "", fmt.Errorf("failed to check slug: %w", err)
	}
	if exists {
		return "", ErrSlugTaken
	}
	return canonical, nil
}
