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

// Package guard is the per-navigation authorization state machine gating
// tenant-scoped routes. It is a pure decision function of (route metadata,
// session state, current production): it performs no I/O and must be
// re-evaluated on every navigation, never cached.
package guard

import (
	"net/url"
)

// AuthState is the visitor's standing relative to the current production.
type AuthState int

const (
	Anonymous AuthState = iota
	AuthenticatedNonMember
	AuthenticatedMember
)

func (s AuthState) String() string {
	switch s {
	case AuthenticatedNonMember:
		return "authenticated_non_member"
	case AuthenticatedMember:
		return "authenticated_member"
	default:
		return "anonymous"
	}
}

// Route describes the authorization metadata of a navigation target.
type Route struct {
	// TenantScoped marks routes under /<slug>; everything else is always
	// allowed.
	TenantScoped bool
	// GuestOnly marks the tenant's own login page: members are bounced to
	// the tenant home instead.
	GuestOnly          bool
	RequiresAuth       bool
	RequiresMembership bool
}

// Action is the outcome kind of a guard evaluation.
type Action int

const (
	Allow Action = iota
	Redirect
)

// Decision is the guard's verdict for one navigation attempt.
type Decision struct {
	Action Action
	// Path and Query describe the redirect target when Action is Redirect.
	Path  string
	Query url.Values
}

// Target renders the redirect destination including query parameters.
func (d Decision) Target() string {
	if d.Action != Redirect {
		return ""
	}
	if len(d.Query) == 0 {
		return d.Path
	}
	return d.Path + "?" + d.Query.Encode()
}

func allow() Decision {
	return Decision{Action: Allow}
}

func redirect(path string, query url.Values) Decision {
	return Decision{Action: Redirect, Path: path, Query: query}
}

// Evaluate decides whether the navigation to route within the production
// identified by slug/productionID may proceed. requestedPath is carried
// into the login redirect so the visitor returns where they were headed.
//
// The redirect target is always the current tenant's login, never another
// tenant's, even when the session is valid for a different production.
func Evaluate(route Route, slug, productionID, requestedPath string, session *Session) Decision {
	if !route.TenantScoped {
		return allow()
	}

	state := session.StateFor(productionID)

	if route.GuestOnly {
		if state == AuthenticatedMember {
			return redirect("/"+slug, nil)
		}
		return allow()
	}

	if route.RequiresAuth && state == Anonymous {
		return redirect("/"+slug+"/login", url.Values{"r": {requestedPath}})
	}

	if route.RequiresMembership && state != AuthenticatedMember {
		return redirect("/"+slug+"/login", url.Values{
			"r":   {requestedPath},
			"err": {"not-authorized"},
		})
	}

	return allow()
}
