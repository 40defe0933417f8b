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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(req string, st Status) ChecklistItem {
	return ChecklistItem{Requirement: req, Type: TypeExistence, Status: st}
}

func TestMerge(t *testing.T) {
	m := Merger{Similarity: RatcliffObershelp, Threshold: 0.65}

	t.Run("resolved status is not regressed to unknown", func(t *testing.T) {
		existing := []ChecklistItem{item("근로자 해당 여부", StatusYes)}
		out, stats := m.Merge(existing, []ChecklistItem{item("근로자 해당", StatusUnknown)})

		require.Len(t, out, 1)
		assert.Equal(t, StatusYes, out[0].Status)
		assert.Equal(t, MergeStats{Kept: 1}, stats)
	})

	t.Run("paraphrase updates the existing item", func(t *testing.T) {
		existing := []ChecklistItem{item("임금 체불액 확인", StatusUnknown)}
		proposed := []ChecklistItem{{Requirement: "체불 임금액 확인 여부", Status: StatusNo, Reason: "지급됨"}}
		out, stats := m.Merge(existing, proposed)

		require.Len(t, out, 1)
		assert.Equal(t, "임금 체불액 확인", out[0].Requirement)
		assert.Equal(t, StatusNo, out[0].Status)
		assert.Equal(t, "지급됨", out[0].Reason)
		assert.Equal(t, MergeStats{Updated: 1}, stats)
	})

	t.Run("result is a superset of the existing list", func(t *testing.T) {
		existing := []ChecklistItem{
			item("근로계약 체결", StatusYes),
			item("퇴직 여부", StatusNo),
		}
		out, stats := m.Merge(existing, []ChecklistItem{item("연장근로 시간", StatusUnknown)})

		require.Len(t, out, 3)
		assert.Equal(t, existing, out[:2])
		assert.Equal(t, "연장근로 시간", out[2].Requirement)
		assert.Equal(t, 1, stats.Inserted)
	})

	t.Run("input is not modified", func(t *testing.T) {
		existing := []ChecklistItem{item("근로계약 체결", StatusUnknown)}
		_, _ = m.Merge(existing, []ChecklistItem{item("근로계약 체결", StatusYes)})
		assert.Equal(t, StatusUnknown, existing[0].Status)
	})

	t.Run("empty status and empty requirement", func(t *testing.T) {
		out, stats := m.Merge(nil, []ChecklistItem{
			{Requirement: "임금 지급일"},
			{Requirement: "(참고)"},
		})
		require.Len(t, out, 1)
		assert.Equal(t, StatusUnknown, out[0].Status)
		assert.Equal(t, 1, stats.Inserted)
	})

	t.Run("unrelated requirement is appended", func(t *testing.T) {
		existing := []ChecklistItem{item("해고 예고", StatusUnknown)}
		out, _ := m.Merge(existing, []ChecklistItem{item("주휴수당 지급", StatusYes)})
		require.Len(t, out, 2)
		assert.Equal(t, StatusUnknown, out[0].Status)
	})
}

func TestForceFromFacts(t *testing.T) {
	facts := map[string]Status{
		"5인 이상 사업장 여부": StatusYes,
		"해고 예고 수령":     StatusNo,
		"미확인 사항":       StatusUnknown,
	}
	proposed := []ChecklistItem{
		item("5인 이상 사업장", StatusUnknown),
		item("해고예고 수령", StatusUnknown),
		item("퇴직금 지급", StatusUnknown),
		item("미확인 사항", StatusUnknown),
	}

	n := ForceFromFacts(proposed, facts, RatcliffObershelp, 0.8)

	assert.Equal(t, 2, n)
	assert.Equal(t, StatusYes, proposed[0].Status)
	assert.Equal(t, factSyncReason, proposed[0].Reason)
	assert.Equal(t, StatusNo, proposed[1].Status)
	assert.Equal(t, StatusUnknown, proposed[2].Status)
	assert.Equal(t, StatusUnknown, proposed[3].Status)
}

func TestForceFromFacts_NoFacts(t *testing.T) {
	proposed := []ChecklistItem{item("퇴직금 지급", StatusUnknown)}
	assert.Zero(t, ForceFromFacts(proposed, nil, nil, 0.8))
}
