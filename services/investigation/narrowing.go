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
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianLex/services/llm"
	"github.com/AleutianAI/AleutianLex/services/statute/article"
)

// ErrAmbiguousAnswer is returned when a narrowing answer matches no option.
var ErrAmbiguousAnswer = errors.New("narrowing answer matches no option")

// Resolution methods, as recorded in metrics.
const (
	ResolvedNumeric  = "numeric"
	ResolvedKeyword  = "keyword"
	ResolvedSemantic = "semantic"
	ResolvedNone     = "ambiguous"
	NarrowingSkipped = "skipped"
)

const leftoverLabel = "기타 조항"

var firstIntRe = regexp.MustCompile(`\d+`)

// SanitizeOptions makes options a partition of current.
//
// # Description
//
// Article numbers are cleaned and intersected with current. An article
// already claimed by an earlier option is dropped from later ones. Articles
// of current claimed by no option are collected into a final leftover
// option. Options left empty are removed.
func SanitizeOptions(options []Option, current []string) []Option {
	inScope := make(map[string]bool, len(current))
	for _, n := range current {
		inScope[n] = true
	}
	claimed := make(map[string]bool, len(current))

	var out []Option
	for _, o := range options {
		var nums []string
		for _, raw := range o.ArticleNumbers {
			n := article.CleanNumber(raw)
			if n == "" || !inScope[n] || claimed[n] {
				continue
			}
			claimed[n] = true
			nums = append(nums, n)
		}
		if len(nums) == 0 {
			continue
		}
		out = append(out, Option{
			Label:          strings.TrimSpace(o.Label),
			Keywords:       o.Keywords,
			ArticleNumbers: nums,
		})
	}

	var rest []string
	for _, n := range current {
		if !claimed[n] {
			claimed[n] = true
			rest = append(rest, n)
		}
	}
	if len(rest) > 0 {
		out = append(out, Option{Label: leftoverLabel, ArticleNumbers: rest})
	}
	return out
}

// Resolver maps a narrowing answer onto one of the offered options.
type Resolver struct {
	client llm.LLMClient
}

// Resolve tries, in order, an explicit option number, a label or keyword
// contained in the answer, and finally asks the model for the closest
// label. It returns the option index and the method that matched, or
// ErrAmbiguousAnswer.
func (r Resolver) Resolve(ctx context.Context, answer string, options []Option) (int, string, error) {
	if len(options) == 0 {
		return -1, ResolvedNone, ErrAmbiguousAnswer
	}

	if m := firstIntRe.FindString(answer); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n >= 1 && n <= len(options) {
			return n - 1, ResolvedNumeric, nil
		}
	}

	norm := Normalize(answer)
	if norm != "" {
		for i, o := range options {
			if l := Normalize(o.Label); l != "" && strings.Contains(norm, l) {
				return i, ResolvedKeyword, nil
			}
			for _, kw := range o.Keywords {
				if k := Normalize(kw); k != "" && strings.Contains(norm, k) {
					return i, ResolvedKeyword, nil
				}
			}
		}
	}

	if r.client == nil {
		return -1, ResolvedNone, ErrAmbiguousAnswer
	}
	prompt, err := llm.Render(narrowingMatchPrompt, map[string]any{"Answer": answer, "Options": options})
	if err != nil {
		return -1, ResolvedNone, err
	}
	raw, err := r.client.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		return -1, ResolvedNone, errors.Join(ErrAmbiguousAnswer,
			&llm.ExternalServiceError{Service: "llm", Op: "narrowing_match", Err: err})
	}
	label := strings.Trim(strings.TrimSpace(raw), "\"'`.")
	for i, o := range options {
		if o.Label == label {
			return i, ResolvedSemantic, nil
		}
	}
	return -1, ResolvedNone, ErrAmbiguousAnswer
}

// optionLabels renders options as a numbered list.
func optionLabels(options []Option) []string {
	out := make([]string, len(options))
	for i, o := range options {
		out[i] = strconv.Itoa(i+1) + ". " + o.Label
	}
	return out
}
