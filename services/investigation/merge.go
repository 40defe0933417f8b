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

// Merge outcomes, as recorded in metrics.
const (
	MergeInserted = "inserted"
	MergeUpdated  = "updated"
	MergeKept     = "kept"
)

const factSyncReason = "확인된 사실에서 동기화됨"

// Merger folds a proposed checklist into an existing one.
//
// # Description
//
// Each proposed item is matched to an existing item by exact normalized
// requirement, else by the best fuzzy score at or above Threshold. A match
// takes the proposed status and reason unless that would replace a resolved
// status with UNKNOWN. Unmatched items are appended. Existing items are never
// removed, so the result is always a superset of the input.
type Merger struct {
	Similarity Similarity
	Threshold  float64
}

// MergeStats counts what happened to each proposed item.
type MergeStats struct {
	Inserted int
	Updated  int
	Kept     int
}

// Merge returns the merged list. existing is not modified.
func (m Merger) Merge(existing, proposed []ChecklistItem) ([]ChecklistItem, MergeStats) {
	var stats MergeStats
	out := append([]ChecklistItem(nil), existing...)
	keys := make([]string, len(out))
	for i, it := range out {
		keys[i] = Normalize(it.Requirement)
	}

	for _, p := range proposed {
		if p.Status == "" {
			p.Status = StatusUnknown
		}
		norm := Normalize(p.Requirement)
		if norm == "" {
			continue
		}
		target := m.find(keys, norm)
		if target < 0 {
			out = append(out, p)
			keys = append(keys, norm)
			stats.Inserted++
			continue
		}
		t := &out[target]
		if p.Status != StatusUnknown || t.Status == StatusUnknown {
			t.Status = p.Status
			t.Reason = p.Reason
			stats.Updated++
		} else {
			stats.Kept++
		}
	}
	return out, stats
}

// find returns the index of the exact match, else of the best fuzzy match
// scoring at least the threshold, else -1.
func (m Merger) find(keys []string, norm string) int {
	for i, k := range keys {
		if k == norm {
			return i
		}
	}
	sim := m.Similarity
	if sim == nil {
		sim = RatcliffObershelp
	}
	best, bestScore := -1, 0.0
	for i, k := range keys {
		if score := sim(norm, k); score >= m.Threshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// ForceFromFacts overrides the status of proposed items whose requirement
// scores above threshold against a recorded fact. It returns the number of
// items changed.
func ForceFromFacts(proposed []ChecklistItem, facts map[string]Status, sim Similarity, threshold float64) int {
	if len(facts) == 0 {
		return 0
	}
	if sim == nil {
		sim = RatcliffObershelp
	}
	normFacts := make(map[string]Status, len(facts))
	for name, st := range facts {
		normFacts[Normalize(name)] = st
	}
	changed := 0
	for i := range proposed {
		norm := Normalize(proposed[i].Requirement)
		var (
			bestName  string
			bestScore float64
		)
		for name, st := range normFacts {
			if !st.Resolved() {
				continue
			}
			score := 1.0
			if name != norm {
				score = sim(norm, name)
			}
			if score <= threshold {
				continue
			}
			if score > bestScore || (score == bestScore && name < bestName) {
				bestName, bestScore = name, score
			}
		}
		if bestScore > 0 {
			proposed[i].Status = normFacts[bestName]
			proposed[i].Reason = factSyncReason
			changed++
		}
	}
	return changed
}
