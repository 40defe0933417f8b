// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package article

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	headingRe        = regexp.MustCompile(`^#{1,6}\s`)
	articleHeadingRe = regexp.MustCompile(`^#{2,6}\s+\[[^\]]*\]\s*제(\d+)조(?:의(\d+))?`)
	taggedHeadingRe  = regexp.MustCompile(`^#{2,6}\s+\[[^\]]*\]`)
	titleRe          = regexp.MustCompile(`조(?:의\d+)?\s*\(([^)]*)\)`)
	fileNameRe       = regexp.MustCompile(`^(.+)\((법률|시행령|시행규칙)\)\.md$`)
)

// ParseResult is the ordered output of parsing one tier of one law.
type ParseResult struct {
	Tier Tier

	// Articles holds every article block in document order, addenda included.
	Articles []Article

	// Context holds structural headings (chapters, sections) in order.
	Context []string

	// Errors holds blocks that were skipped.
	Errors []*SourceParseError

	index map[string]int
}

func newResult(tier Tier) *ParseResult {
	return &ParseResult{Tier: tier, index: make(map[string]int)}
}

// Parse splits text into articles. It never fails: malformed article
// headings become SourceParseErrors in the result.
func Parse(text string, tier Tier, source string) *ParseResult {
	r := newResult(tier)
	r.parse(text, source)
	return r
}

// Checklist returns the articles eligible for indexing: main-text articles,
// first occurrence of each number, in document order.
func (r *ParseResult) Checklist() []Article {
	positions := make([]int, 0, len(r.index))
	for _, pos := range r.index {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	out := make([]Article, len(positions))
	for i, pos := range positions {
		out[i] = r.Articles[pos]
	}
	return out
}

// Get returns the checklist article with the given number.
func (r *ParseResult) Get(num string) (Article, bool) {
	pos, ok := r.index[num]
	if !ok {
		return Article{}, false
	}
	return r.Articles[pos], true
}

// Text returns the full block text of a checklist article.
func (r *ParseResult) Text(num string) (string, bool) {
	a, ok := r.Get(num)
	return a.Text, ok
}

// Index returns the number → text map of checklist articles.
func (r *ParseResult) Index() map[string]string {
	out := make(map[string]string, len(r.index))
	for num, pos := range r.index {
		out[num] = r.Articles[pos].Text
	}
	return out
}

// Numbers returns checklist article numbers in document order.
func (r *ParseResult) Numbers() []string {
	list := r.Checklist()
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Number
	}
	return out
}

type block struct {
	header string
	line   int
	lines  []string
}

func (r *ParseResult) parse(text, source string) {
	var (
		blocks  []block
		current *block
	)
	for i, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if headingRe.MatchString(line) {
			blocks = append(blocks, block{header: strings.TrimSpace(line), line: i + 1})
			current = &blocks[len(blocks)-1]
			continue
		}
		if current != nil {
			current.lines = append(current.lines, line)
		}
	}

	inAddendum := false
	for _, b := range blocks {
		m := articleHeadingRe.FindStringSubmatch(b.header)
		if m == nil {
			if taggedHeadingRe.MatchString(b.header) {
				r.Errors = append(r.Errors, &SourceParseError{
					File:    source,
					Line:    b.line,
					Heading: b.header,
					Reason:  "article heading without a number",
				})
				continue
			}
			heading := strings.TrimSpace(strings.TrimLeft(b.header, "#"))
			if strings.Contains(heading, "부칙") {
				inAddendum = true
			}
			r.Context = append(r.Context, heading)
			continue
		}

		body := strings.TrimSpace(strings.Join(b.lines, "\n"))
		header := strings.TrimSpace(strings.TrimLeft(b.header, "#"))
		a := Article{
			Number:   JoinNumber(m[1], m[2]),
			Tier:     r.Tier,
			Header:   header,
			Text:     strings.TrimSpace(b.header + "\n" + body),
			Body:     body,
			Addendum: inAddendum,
			Source:   source,
		}
		if t := titleRe.FindStringSubmatch(header); t != nil {
			a.Title = t[1]
		}

		if !a.Addendum {
			if _, dup := r.index[a.Number]; dup {
				r.Errors = append(r.Errors, &SourceParseError{
					File:    source,
					Line:    b.line,
					Heading: b.header,
					Reason:  "duplicate article number",
				})
				continue
			}
			r.index[a.Number] = len(r.Articles)
		}
		r.Articles = append(r.Articles, a)
	}
}

// =============================================================================
// Files
// =============================================================================

// ParseFileName splits "{law}({tier word}).md" into its law and tier.
func ParseFileName(name string) (law string, tier Tier, ok bool) {
	m := fileNameRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", "", false
	}
	t, err := ParseTier(m[2])
	if err != nil {
		return "", "", false
	}
	return m[1], t, true
}

// LoadLaw parses every source file in dir belonging to law and tier, in
// sorted filename order. A missing tier yields an empty result.
func LoadLaw(dir, law string, tier Tier) (*ParseResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read laws dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fileLaw, fileTier, ok := ParseFileName(e.Name())
		if ok && fileLaw == law && fileTier == tier {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	r := newResult(tier)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		r.parse(string(data), name)
	}
	return r, nil
}

// Laws lists the distinct law names that have at least one source file in dir.
func Laws(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read laws dir %s: %w", dir, err)
	}
	seen := make(map[string]bool)
	var laws []string
	for _, e := range entries {
		if law, _, ok := ParseFileName(e.Name()); ok && !seen[law] {
			seen[law] = true
			laws = append(laws, law)
		}
	}
	sort.Strings(laws)
	return laws, nil
}
