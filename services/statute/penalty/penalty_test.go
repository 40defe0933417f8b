// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package penalty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLex/services/statute/article"
	"github.com/AleutianAI/AleutianLex/services/statute/category"
)

const penaltyAct = `#### [법률] 제36조(금품 청산)
사용자는 14일 이내에 지급하여야 한다.
#### [법률] 제43조(임금 지급)
임금은 통화로 지급하여야 한다.
#### [법률] 제43조의2(체불사업주 명단 공개)
명단을 공개할 수 있다.
#### [법률] 제107조(벌칙)
제7조, 제9조를 위반한 자는 5년 이하의 징역에 처한다.
#### [법률] 제109조(벌칙)
① 제36조, 제43조 또는 제43조의2를 위반한 자는 3년 이하의 징역에 처한다.
② 제36조를 위반한 자에 대하여는 피해자의 명시적인 의사와 다르게 공소를 제기할 수 없다.
#### [법률] 제110조(벌칙)
제109조에 해당하는 경우를 제외하고 제43조를 위반한 자
`

func newIndex() *category.LawIndex {
	idx := &category.LawIndex{Categories: []category.Category{
		{Key: "wage", CoreArticles: []category.ArticleNode{{Num: "36"}, {Num: "43"}, {Num: "43의2"}}},
		{Key: "penalty", CoreArticles: []category.ArticleNode{{Num: "107"}, {Num: "109"}, {Num: "110"}}},
	}}
	idx.Normalize()
	return idx
}

func TestMentions(t *testing.T) {
	assert.Equal(t, []string{"36", "43", "43의2"}, Mentions("제36조, 제43조 또는 제43조의2를 위반하고 제36조를"))
	assert.Equal(t, []string{"5"}, Mentions("제 5 조"))
	assert.Nil(t, Mentions("벌금에 처한다."))
}

func TestDistribute(t *testing.T) {
	acts := article.Parse(penaltyAct, article.Act, "").Checklist()
	idx := newIndex()

	report := New(107, nil).Distribute(idx, acts)

	wage, _ := idx.Category("wage")
	assert.Equal(t, []article.Ref{{Num: "109", Type: article.Act}, {Num: "110", Type: article.Act}}, wage.PenaltyArticles)

	penalty, _ := idx.Category("penalty")
	assert.Equal(t, []article.Ref{{Num: "110", Type: article.Act}}, penalty.PenaltyArticles,
		"110 cites 109, which lives in the penalty category")

	assert.Equal(t, 3, report.Clauses)
	assert.Equal(t, 3, report.Links)
	assert.Equal(t, []string{"107→7", "107→9"}, report.Dropped)
}

func TestDistribute_SelfMentionExcluded(t *testing.T) {
	acts := article.Parse("#### [법률] 제109조(벌칙)\n이 조 제109조 제1항의 죄는 고소가 있어야 한다.\n", article.Act, "").Checklist()
	idx := newIndex()

	report := New(107, nil).Distribute(idx, acts)
	penalty, _ := idx.Category("penalty")
	assert.Empty(t, penalty.PenaltyArticles)
	assert.Zero(t, report.Links)
}

func TestDistribute_Idempotent(t *testing.T) {
	acts := article.Parse(penaltyAct, article.Act, "").Checklist()
	idx := newIndex()
	d := New(107, nil)

	d.Distribute(idx, acts)
	second := d.Distribute(idx, acts)

	wage, _ := idx.Category("wage")
	assert.Len(t, wage.PenaltyArticles, 2)
	assert.Zero(t, second.Links)
}

func TestDistribute_Disabled(t *testing.T) {
	acts := article.Parse(penaltyAct, article.Act, "").Checklist()
	idx := newIndex()

	report := New(0, nil).Distribute(idx, acts)
	assert.Zero(t, report.Clauses)
	for _, c := range idx.Categories {
		require.Empty(t, c.PenaltyArticles)
	}
	assert.False(t, New(0, nil).IsPenalty("200"))
	assert.True(t, New(107, nil).IsPenalty("107의2"))
	assert.False(t, New(107, nil).IsPenalty("106"))
}
