// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package article parses statute markdown into article-level units.
//
// Statute sources are markdown files named "{law}({법률|시행령|시행규칙}).md".
// Each article starts with a heading such as
//
//	#### [법률] 제43조(임금 지급)
//	#### [시행령] 제23조의2(임금의 지급)
//
// Chapter and section headings ("## 제3장 임금") carry no article number and
// are kept only as structural context.
package article

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var numberRe = regexp.MustCompile(`(\d+)\s*조?\s*(?:의\s*(\d+))?`)

// =============================================================================
// Tier
// =============================================================================

// Tier is the level of a statute in the Act → Decree → Rule hierarchy.
type Tier string

const (
	// Act is the statute itself (법률).
	Act Tier = "Act"

	// Decree is the enforcement decree (시행령).
	Decree Tier = "Decree"

	// Rule is the enforcement rule (시행규칙).
	Rule Tier = "Rule"
)

// Tiers lists all tiers in hierarchy order.
var Tiers = []Tier{Act, Decree, Rule}

// Short returns the one-letter Korean tier marker used in citations: 법, 령, 규.
func (t Tier) Short() string {
	switch t {
	case Act:
		return "법"
	case Decree:
		return "령"
	case Rule:
		return "규"
	default:
		return ""
	}
}

// FileWord returns the tier word used in source file names and headings:
// 법률, 시행령, 시행규칙.
func (t Tier) FileWord() string {
	switch t {
	case Act:
		return "법률"
	case Decree:
		return "시행령"
	case Rule:
		return "시행규칙"
	default:
		return ""
	}
}

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	return t == Act || t == Decree || t == Rule
}

// ParseTier accepts the English name, the short marker, or the file word.
func ParseTier(s string) (Tier, error) {
	switch strings.TrimSpace(s) {
	case "Act", "act", "법", "법률":
		return Act, nil
	case "Decree", "decree", "령", "시행령":
		return Decree, nil
	case "Rule", "rule", "규", "규칙", "시행규칙":
		return Rule, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// UnmarshalJSON accepts every spelling ParseTier does, so indices written
// with Korean short markers still load.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// =============================================================================
// Article
// =============================================================================

// Article is one numbered statutory clause. Identity is (Number, Tier).
type Article struct {
	// Number is "N" or the branch form "N의M".
	Number string

	Tier Tier

	// Title is the parenthesized caption after the number, if any.
	Title string

	// Header is the heading line without leading #'s.
	Header string

	// Text is the full block: heading line plus body.
	Text string

	// Body is Text without the heading line.
	Body string

	// Addendum marks articles that appear under a 부칙 heading. They repeat
	// main-text numbers and are excluded from the checklist.
	Addendum bool

	// Source is the file the article was read from.
	Source string
}

// Ref is the (number, tier) pair stored in the index.
type Ref struct {
	Num  string `json:"num"`
	Type Tier   `json:"type"`
}

// Ref returns the article's identity.
func (a Article) Ref() Ref {
	return Ref{Num: a.Number, Type: a.Tier}
}

// Label formats the article the way statutes cite it, e.g. "제76조의2".
func Label(num string) string {
	if main, branch, ok := strings.Cut(num, "의"); ok {
		return "제" + main + "조의" + branch
	}
	return "제" + num + "조"
}

// JoinNumber builds "N" or "N의M" from a main and an optional branch number.
func JoinNumber(main, branch string) string {
	if branch == "" {
		return main
	}
	return main + "의" + branch
}

// CleanNumber reduces "제43조의2", "43조의 2" or "43의2" to "43의2".
// It returns "" when s holds no number.
func CleanNumber(s string) string {
	m := numberRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return JoinNumber(m[1], m[2])
}

// MainNumber returns the integer main number of "N" or "N의M".
func MainNumber(num string) (int, error) {
	end := 0
	for end < len(num) && num[end] >= '0' && num[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("article number %q has no leading digits", num)
	}
	return strconv.Atoi(num[:end])
}

// branchNumber returns M for "N의M", or 0.
func branchNumber(num string) int {
	_, branch, ok := strings.Cut(num, "의")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(branch)
	if err != nil {
		return 0
	}
	return n
}

// Compare orders article numbers the way statutes do: 10 < 10의2 < 11.
// Numbers without digits sort last, lexically.
func Compare(a, b string) int {
	am, aerr := MainNumber(a)
	bm, berr := MainNumber(b)
	switch {
	case aerr != nil && berr != nil:
		return strings.Compare(a, b)
	case aerr != nil:
		return 1
	case berr != nil:
		return -1
	}
	if am != bm {
		if am < bm {
			return -1
		}
		return 1
	}
	ab, bb := branchNumber(a), branchNumber(b)
	switch {
	case ab < bb:
		return -1
	case ab > bb:
		return 1
	default:
		return 0
	}
}

// Excerpt returns the heading followed by up to n non-empty body lines,
// each cut to width runes. n < 0 keeps the whole body.
func (a Article) Excerpt(n, width int) string {
	var b strings.Builder
	b.WriteString(a.Header)
	b.WriteString(" (")
	b.WriteString(a.Tier.FileWord())
	b.WriteString(")\n")
	kept := 0
	for _, line := range strings.Split(a.Body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if n >= 0 && kept >= n {
			break
		}
		if width > 0 {
			if r := []rune(line); len(r) > width {
				line = string(r[:width])
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
		kept++
	}
	return b.String()
}
