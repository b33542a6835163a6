// Copyright (c) 2025 Tigera, Inc. All rights reserved.

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

package apiversion

import (
	"sort"
)

// Tier is the stability tier of an API version identifier.  Stable versions
// outrank beta, beta outranks alpha, and identifiers that do not match the
// v<major>[(alpha|beta)<stage>] pattern sort after everything else.
type Tier uint8

const (
	TierMalformed Tier = iota
	TierAlpha
	TierBeta
	TierStable
)

func (t Tier) String() string {
	switch t {
	case TierStable:
		return "stable"
	case TierBeta:
		return "beta"
	case TierAlpha:
		return "alpha"
	default:
		return "malformed"
	}
}

// Version is the parsed form of an API version identifier such as "v1",
// "v1beta1" or "v2alpha3".  It is immutable once parsed; two Versions are
// equal iff their Raw strings are equal.
type Version struct {
	Raw   string
	Tier  Tier
	Major int
	Stage int
}

// Parse parses a version identifier.  Parse never fails: identifiers that do
// not match the expected pattern are returned with TierMalformed so that they
// can still be ordered deterministically.
func Parse(s string) Version {
	v := Version{Raw: s}
	if len(s) < 2 || s[0] != 'v' {
		return v
	}

	i := 1
	major, n := parseNumber(s, i)
	if n == 0 {
		return v
	}
	i += n

	if i == len(s) {
		v.Tier = TierStable
		v.Major = major
		return v
	}

	var tier Tier
	switch {
	case hasPrefixAt(s, i, "alpha"):
		tier = TierAlpha
		i += len("alpha")
	case hasPrefixAt(s, i, "beta"):
		tier = TierBeta
		i += len("beta")
	default:
		return v
	}

	stage, n := parseNumber(s, i)
	if n == 0 || i+n != len(s) {
		return v
	}

	v.Tier = tier
	v.Major = major
	v.Stage = stage
	return v
}

// parseNumber reads a decimal number from s starting at offset i, returning
// the value and the number of bytes consumed (0 if s[i] is not a digit).
func parseNumber(s string, i int) (value, consumed int) {
	for i+consumed < len(s) {
		c := s[i+consumed]
		if c < '0' || c > '9' {
			break
		}
		value = value*10 + int(c-'0')
		consumed++
	}
	return
}

func hasPrefixAt(s string, i int, prefix string) bool {
	return len(s)-i >= len(prefix) && s[i:i+len(prefix)] == prefix
}

// Compare returns -1, 0 or +1 as a orders before, the same as, or after b.
// The order is total: stable versions first, then beta, then alpha (numeric
// major then stage within a tier, so "v10" sorts above "v2"), and finally
// malformed identifiers ordered lexicographically among themselves.  Compare
// does not allocate.
func Compare(a, b string) int {
	return CompareParsed(Parse(a), Parse(b))
}

// CompareParsed is Compare over already-parsed Versions.  Callers that sort
// repeatedly should parse once and use this.
func CompareParsed(a, b Version) int {
	if a.Raw == b.Raw {
		return 0
	}
	if a.Tier != b.Tier {
		if a.Tier > b.Tier {
			return 1
		}
		return -1
	}
	if a.Tier == TierMalformed {
		// Lexicographic among malformed identifiers; never an error.
		if a.Raw > b.Raw {
			return 1
		}
		return -1
	}
	if a.Major != b.Major {
		if a.Major > b.Major {
			return 1
		}
		return -1
	}
	if a.Stage != b.Stage {
		if a.Stage > b.Stage {
			return 1
		}
		return -1
	}
	// Same numeric fields but different raw strings (e.g. "v01" vs "v1").
	// Fall back to lexicographic so the order stays strict.
	if a.Raw > b.Raw {
		return 1
	}
	return -1
}

// SortDescending sorts version identifiers in place, highest-ordered first.
// This is the presentation order: stable versions, newest first, then betas,
// then alphas, then anything unparseable.
func SortDescending(versions []string) {
	parsed := make([]Version, len(versions))
	for i, s := range versions {
		parsed[i] = Parse(s)
	}
	sort.SliceStable(parsed, func(i, j int) bool {
		return CompareParsed(parsed[i], parsed[j]) > 0
	})
	for i := range parsed {
		versions[i] = parsed[i].Raw
	}
}
