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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLex/services/llm"
)

func TestSanitizeOptions(t *testing.T) {
	current := []string{"43", "44", "45", "46", "47", "48"}
	options := []Option{
		{Label: " 임금 체불 ", Keywords: []string{"체불"}, ArticleNumbers: []string{"제43조", "44조", "99"}},
		{Label: "연장근로", ArticleNumbers: []string{"44", "46"}},
		{Label: "범위 밖", ArticleNumbers: []string{"99", "100"}},
	}

	got := SanitizeOptions(options, current)

	require.Len(t, got, 3)
	assert.Equal(t, Option{Label: "임금 체불", Keywords: []string{"체불"}, ArticleNumbers: []string{"43", "44"}}, got[0])
	assert.Equal(t, []string{"46"}, got[1].ArticleNumbers)
	assert.Equal(t, leftoverLabel, got[2].Label)
	assert.Equal(t, []string{"45", "47", "48"}, got[2].ArticleNumbers)

	var all []string
	for _, o := range got {
		all = append(all, o.ArticleNumbers...)
	}
	assert.ElementsMatch(t, current, all)
}

func TestSanitizeOptions_FullCoverHasNoLeftover(t *testing.T) {
	got := SanitizeOptions([]Option{
		{Label: "a", ArticleNumbers: []string{"1"}},
		{Label: "b", ArticleNumbers: []string{"2"}},
	}, []string{"1", "2"})
	require.Len(t, got, 2)
}

func TestResolve(t *testing.T) {
	options := []Option{
		{Label: "임금 체불", Keywords: []string{"월급", "체불"}},
		{Label: "연장근로 수당", Keywords: []string{"야근"}},
		{Label: "야간근로", Keywords: []string{"밤"}},
	}

	tests := []struct {
		name   string
		answer string
		client llm.LLMClient
		want   int
		method string
	}{
		{"number", "2번이요", nil, 1, ResolvedNumeric},
		{"label", "연장근로수당 문제예요", nil, 1, ResolvedKeyword},
		{"keyword", "월급을 못 받았어요", nil, 0, ResolvedKeyword},
		{"semantic", "늦은 시간 일한 것", newFakeLLM().on("[선택지 목록]", `"야간근로"`), 2, ResolvedSemantic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, method, err := Resolver{client: tt.client}.Resolve(context.Background(), tt.answer, options)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.method, method)
		})
	}
}

func TestResolve_Ambiguous(t *testing.T) {
	options := []Option{{Label: "임금 체불"}, {Label: "해고"}}
	ctx := context.Background()

	t.Run("out of range number without client", func(t *testing.T) {
		_, method, err := Resolver{}.Resolve(ctx, "7", options)
		assert.ErrorIs(t, err, ErrAmbiguousAnswer)
		assert.Equal(t, ResolvedNone, method)
	})

	t.Run("model says none", func(t *testing.T) {
		client := newFakeLLM().on("[선택지 목록]", "NONE")
		_, _, err := Resolver{client: client}.Resolve(ctx, "잘 모르겠어요", options)
		assert.ErrorIs(t, err, ErrAmbiguousAnswer)
	})

	t.Run("model failure", func(t *testing.T) {
		client := newFakeLLM().fail("[선택지 목록]", errors.New("connection refused"))
		_, _, err := Resolver{client: client}.Resolve(ctx, "잘 모르겠어요", options)
		assert.ErrorIs(t, err, ErrAmbiguousAnswer)
		var ext *llm.ExternalServiceError
		require.ErrorAs(t, err, &ext)
		assert.Equal(t, "narrowing_match", ext.Op)
	})

	t.Run("no options", func(t *testing.T) {
		_, _, err := Resolver{}.Resolve(ctx, "1", nil)
		assert.ErrorIs(t, err, ErrAmbiguousAnswer)
	})
}
