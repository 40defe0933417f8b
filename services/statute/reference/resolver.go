// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reference extracts cross-tier citations from statute text.
//
// A Decree or Rule article links to its parent Act articles by citing them:
// "법 제5조", "근로기준법 제43조". Citations of other tiers ("영 제3조",
// "규칙 제2조"), bare "제N조" (which refers to the citing tier itself) and
// citations of other laws ("남녀고용평등법 제3조") do not produce parents.
package reference

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianLex/services/statute/article"
)

var (
	citationRe = regexp.MustCompile(`([가-힣\s]*?)(법|령|규칙)?\s*제\s*(\d+)조(?:의(\d+))?`)

	// Statutes quote law names with corner brackets: 「근로기준법」 제43조.
	quoteStripper = strings.NewReplacer("「", "", "」", "")
)

// Kind classifies a citation relative to the law being indexed.
type Kind int

const (
	// SameLaw is an Act-tier citation of the indexed law: a parent candidate.
	SameLaw Kind = iota

	// OtherLaw is an Act-tier citation naming a different law.
	OtherLaw

	// OtherTier is a citation of a Decree, a Rule, or the citing tier itself.
	OtherTier
)

func (k Kind) String() string {
	switch k {
	case SameLaw:
		return "same_law"
	case OtherLaw:
		return "other_law"
	case OtherTier:
		return "other_tier"
	default:
		return "unknown"
	}
}

// Citation is one "(prefix)(suffix) 제N조" occurrence.
type Citation struct {
	// LawName is the name attached to the suffix, e.g. "근로기준" in
	// "근로기준법". A multi-word name of the indexed law is kept whole
	// ("근로자퇴직급여 보장"); other names are cut to their last word.
	// Empty for "법 제5조" and for "이 영은 법 제5조".
	LawName string

	// Suffix is "법", "령", "규칙", or empty.
	Suffix string

	Number string
	Kind   Kind
}

// Resolver finds parent Act articles for one law.
type Resolver struct {
	law  string
	stem string
}

// New creates a Resolver for law, e.g. "근로기준법".
func New(law string) *Resolver {
	return &Resolver{law: law, stem: Stem(law)}
}

// Stem strips the trailing tier word from a law name: "근로기준법" → "근로기준".
func Stem(law string) string {
	return strings.TrimSuffix(strings.TrimSpace(law), "법")
}

// Law returns the law this resolver was built for.
func (r *Resolver) Law() string {
	return r.law
}

// Citations returns every citation in text, in order of appearance.
func (r *Resolver) Citations(text string) []Citation {
	matches := citationRe.FindAllStringSubmatch(quoteStripper.Replace(text), -1)
	out := make([]Citation, 0, len(matches))
	for _, m := range matches {
		c := Citation{
			LawName: r.lawName(m[1]),
			Suffix:  m[2],
			Number:  article.JoinNumber(m[3], m[4]),
		}
		c.Kind = r.classify(c)
		out = append(out, c)
	}
	return out
}

// Parents returns the distinct Act article numbers text cites as the same
// law, in first-seen order.
func (r *Resolver) Parents(text string) []string {
	var (
		out  []string
		seen = make(map[string]bool)
	)
	for _, c := range r.Citations(text) {
		if c.Kind != SameLaw || seen[c.Number] {
			continue
		}
		seen[c.Number] = true
		out = append(out, c.Number)
	}
	return out
}

func (r *Resolver) classify(c Citation) Kind {
	if c.Suffix != "법" {
		return OtherTier
	}
	if c.LawName == "" {
		return SameLaw
	}
	if r.stem != "" && strings.Contains(c.LawName, r.stem) {
		return SameLaw
	}
	return OtherLaw
}

// lawName returns the name attached to the suffix. The stem of the indexed
// law is matched against the end of the whole prefix so that names with
// spaces resolve.
func (r *Resolver) lawName(prefix string) string {
	name := attachedName(prefix)
	if name == "" || r.stem == "" {
		return name
	}
	if strings.HasSuffix(collapse(prefix), collapse(r.stem)) {
		return r.stem
	}
	return name
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// attachedName returns the last word of prefix when it touches the suffix.
// A prefix ending in whitespace means the suffix stands alone ("이 영은 법").
func attachedName(prefix string) string {
	if prefix == "" {
		return ""
	}
	last := []rune(prefix)[len([]rune(prefix))-1]
	if unicode.IsSpace(last) {
		return ""
	}
	fields := strings.Fields(prefix)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
