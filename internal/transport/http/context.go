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

package http

import (
	"context"

	"github.com/stagepass/stagepass/internal/token"
)

type contextKey string

const (
	claimsKey       contextKey = "login_claims"
	productionIDKey contextKey = "production_id"
)

// GetLoginClaims retrieves the verified login token claims from context.
func GetLoginClaims(ctx context.Context) *token.LoginClaims {
	if val, ok := ctx.Value(claimsKey).(*token.LoginClaims); ok {
		return val
	}
	return nil
}

// GetProductionID retrieves the current production scope from context.
func GetProductionID(ctx context.Context) string {
	if val, ok := ctx.Value(productionIDKey).(string); ok {
		return val
	}
	return ""
}
