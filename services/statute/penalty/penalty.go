// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package penalty links penalty clauses to the categories of the articles
// they punish.
package penalty

import (
	"log/slog"
	"regexp"

	"github.com/AleutianAI/AleutianLex/services/statute/article"
	"github.com/AleutianAI/AleutianLex/services/statute/category"
)

var mentionRe = regexp.MustCompile(`제\s*(\d+)\s*조(?:\s*의\s*(\d+))?`)

// Report summarizes one distribution pass.
type Report struct {
	// Clauses counts Act articles treated as penalty clauses.
	Clauses int

	// Links counts new (category, clause) pairs.
	Links int

	// Dropped lists "clause→article" mentions that matched no category.
	Dropped []string
}

// Distributor attaches penalty clauses to categories.
type Distributor struct {
	cutoff int
	logger *slog.Logger
}

// New creates a Distributor. Act articles whose main number is at least
// cutoff are penalty clauses. A cutoff of zero or less disables distribution.
func New(cutoff int, logger *slog.Logger) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{cutoff: cutoff, logger: logger}
}

// Mentions returns the distinct article numbers cited in text, in first-seen
// order.
func Mentions(text string) []string {
	var (
		out  []string
		seen = make(map[string]bool)
	)
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		num := m[1]
		if m[2] != "" {
			num += "의" + m[2]
		}
		if !seen[num] {
			seen[num] = true
			out = append(out, num)
		}
	}
	return out
}

// IsPenalty reports whether num is at or past the cutoff.
func (d *Distributor) IsPenalty(num string) bool {
	if d.cutoff <= 0 {
		return false
	}
	main, err := article.MainNumber(num)
	return err == nil && main >= d.cutoff
}

// Distribute appends each penalty clause to the penalty list of every
// category owning an article the clause mentions. Mentions of the clause
// itself and of unknown articles are skipped.
func (d *Distributor) Distribute(idx *category.LawIndex, acts []article.Article) Report {
	var report Report
	if d.cutoff <= 0 {
		return report
	}
	owners := idx.ActMap()
	for _, a := range acts {
		if !d.IsPenalty(a.Number) {
			continue
		}
		report.Clauses++
		for _, num := range Mentions(a.Body) {
			if num == a.Number {
				continue
			}
			key, ok := owners[num]
			if !ok {
				report.Dropped = append(report.Dropped, a.Number+"→"+num)
				continue
			}
			c, _ := idx.Category(key)
			if c.AddPenalty(a.Number) {
				report.Links++
			}
		}
	}
	d.logger.Info("Distributed penalty clauses",
		"cutoff", d.cutoff,
		"clauses", report.Clauses,
		"links", report.Links,
		"dropped", len(report.Dropped))
	return report
}
