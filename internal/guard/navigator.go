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
	"context"

	"github.com/stagepass/stagepass/internal/production"
)

// Resolver is the read path the navigator consults before any tenant
// route evaluates. Only active productions resolve.
type Resolver interface {
	ResolveBySlug(ctx context.Context, slug string) (*production.Production, error)
}

// Navigator runs the full per-navigation pipeline: resolve the tenant
// context, then apply the guard. Navigations run to completion one at a
// time; the decision returned for a navigation is the only one applied
// for it.
type Navigator struct {
	resolver Resolver
}

// NewNavigator creates a navigator over the given resolver.
func NewNavigator(resolver Resolver) *Navigator {
	return &Navigator{resolver: resolver}
}

// Navigate evaluates one navigation attempt to a tenant-scoped route.
// Tenant resolution happens first: an unknown or inactive slug, or a
// resolution failure of any kind, redirects to the marketing root and
// short-circuits every further check. A successful resolution updates the
// session's cached tenant context before the guard runs.
func (n *Navigator) Navigate(ctx context.Context, route Route, slug, requestedPath string, session *Session) Decision {
	if !route.TenantScoped {
		return allow()
	}

	prod, err := n.resolver.ResolveBySlug(ctx, slug)
	if err != nil {
		return redirect("/", nil)
	}
	session.RememberProduction(prod.Slug, prod.ID)

	return Evaluate(route, prod.Slug, prod.ID, requestedPath, session)
}
