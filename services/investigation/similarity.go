// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package investigation

import (
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Similarity scores two normalized requirement texts in [0, 1].
type Similarity func(a, b string) float64

var (
	parenRe   = regexp.MustCompile(`\([^)]*\)`)
	nonWordRe = regexp.MustCompile(`[^가-힣a-zA-Z0-9]`)
)

// Normalize reduces a requirement to its comparable core: parenthesized
// asides, symbols, spaces and a trailing "여부" are removed and Latin
// letters are lowercased.
func Normalize(s string) string {
	s = parenRe.ReplaceAllString(s, "")
	s = nonWordRe.ReplaceAllString(s, "")
	s = strings.TrimSuffix(s, "여부")
	return strings.ToLower(s)
}

// RatcliffObershelp is the gestalt pattern-matching ratio 2·M/T over runes,
// where M counts characters in matching blocks and T is the total length.
func RatcliffObershelp(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	return difflib.NewMatcher(runes(a), runes(b)).Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
