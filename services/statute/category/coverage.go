// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package category

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianLex/services/statute/article"
)

// CoverageGapError reports Act articles left without a category after
// coverage correction. It is a soft failure: the index is still usable.
type CoverageGapError struct {
	Law     string
	Missing []string
}

func (e *CoverageGapError) Error() string {
	return fmt.Sprintf("coverage gap in %s: %d act articles unmapped (%s)",
		e.Law, len(e.Missing), strings.Join(e.Missing, ", "))
}

// Coverage is the result of auditing an index against its Act articles.
type Coverage struct {
	Total int

	// Unmapped are checklist articles found in no category.
	Unmapped []string

	// Duplicated maps an article number to every category holding it, for
	// articles held by more than one.
	Duplicated map[string][]string

	// Unknown are core articles that do not exist in the Act text.
	Unknown []string
}

// OK reports whether every article is mapped exactly once.
func (c Coverage) OK() bool {
	return len(c.Unmapped) == 0 && len(c.Duplicated) == 0
}

// Audit checks the zero-loss property of idx against acts.
func Audit(idx *LawIndex, acts []article.Article) Coverage {
	owners := make(map[string][]string)
	for _, c := range idx.Categories {
		for _, n := range c.CoreArticles {
			owners[n.Num] = append(owners[n.Num], c.Key)
		}
	}

	cov := Coverage{Total: len(acts), Duplicated: make(map[string][]string)}
	known := make(map[string]bool, len(acts))
	for _, a := range acts {
		known[a.Number] = true
		switch keys := owners[a.Number]; {
		case len(keys) == 0:
			cov.Unmapped = append(cov.Unmapped, a.Number)
		case len(keys) > 1:
			cov.Duplicated[a.Number] = keys
		}
	}
	for num := range owners {
		if !known[num] {
			cov.Unknown = append(cov.Unknown, num)
		}
	}
	sort.Slice(cov.Unknown, func(i, j int) bool {
		return article.Compare(cov.Unknown[i], cov.Unknown[j]) < 0
	})
	return cov
}

// gapSet returns the checklist articles absent from every category.
func gapSet(idx *LawIndex, acts []article.Article) []article.Article {
	mapped := idx.ActMap()
	var gap []article.Article
	for _, a := range acts {
		if _, ok := mapped[a.Number]; !ok {
			gap = append(gap, a)
		}
	}
	return gap
}
