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

// Package slug canonicalizes human-entered production titles and desired
// slugs into URL-safe tenant identifiers.
package slug

import (
	"strings"

	goslug "github.com/gosimple/slug"
)

// Normalize converts arbitrary text into a canonical production slug:
// lower-cased, transliterated to ASCII, punctuation stripped, runs of
// whitespace and separators collapsed to single hyphens.
//
// Normalize is total: it never fails. An empty result means the input could
// not produce a valid identifier, and callers must treat that as invalid.
func Normalize(input string) string {
	return goslug.Make(strings.TrimSpace(input))
}

// IsValid reports whether s is already in canonical form.
func IsValid(s string) bool {
	return s != "" && s == Normalize(s)
}
