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
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLex/services/llm"
	"github.com/AleutianAI/AleutianLex/services/statute/article"
)

type scriptedLLM struct {
	replies []string
	err     error
	prompts []string
	params  []llm.GenerationParams
}

func (s *scriptedLLM) Generate(_ context.Context, prompt string, params llm.GenerationParams) (string, error) {
	s.prompts = append(s.prompts, prompt)
	s.params = append(s.params, params)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	out := s.replies[0]
	s.replies = s.replies[1:]
	return out, nil
}

func act(num, title, body string) article.Article {
	return article.Article{
		Number: num,
		Tier:   article.Act,
		Title:  title,
		Header: article.Label(num) + "(" + title + ")",
		Body:   body,
	}
}

func TestLLMClassifier_Skeleton(t *testing.T) {
	fake := &scriptedLLM{replies: []string{"```json\n" + `{"categories": [
		{"key": "general", "korean": "총칙", "description": "목적과 정의", "start_num": "1", "end_num": 14, "search_keywords": ["정의"]},
		{"key": "wage", "name": "임금", "start_num": 43, "end_num": "49",},
	]}` + "\n```"}}
	c := NewLLMClassifier(fake, 0, nil)

	cats, err := c.Skeleton(context.Background(), "근로기준법", []article.Article{
		act("1", "목적", "이 법은 근로조건의 기준을 정한다."),
		act("43", "임금 지급", "임금은 통화로 직접 지급하여야 한다."),
	})
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "총칙", cats[0].Name)
	assert.Equal(t, 1, cats[0].StartNum)
	assert.Equal(t, 14, cats[0].EndNum)
	assert.Equal(t, []string{"정의"}, cats[0].SearchKeywords)
	assert.Equal(t, "임금", cats[1].Name)
	assert.Equal(t, 49, cats[1].EndNum)

	require.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], "근로기준법(법률)")
	assert.Contains(t, fake.prompts[0], "1, 43")
	assert.Contains(t, fake.prompts[0], "제43조(임금 지급) (법률)")
	assert.True(t, fake.params[0].JSONMode)
}

func TestLLMClassifier_SkeletonFailures(t *testing.T) {
	acts := []article.Article{act("1", "목적", "본문")}

	_, err := NewLLMClassifier(&scriptedLLM{replies: []string{`{"categories": []}`}}, 0, nil).
		Skeleton(context.Background(), "근로기준법", acts)
	assert.True(t, llm.IsParseError(err))

	_, err = NewLLMClassifier(&scriptedLLM{replies: []string{"카테고리를 만들 수 없습니다"}}, 0, nil).
		Skeleton(context.Background(), "근로기준법", acts)
	assert.True(t, llm.IsParseError(err))

	_, err = NewLLMClassifier(&scriptedLLM{err: errors.New("timeout")}, 0, nil).
		Skeleton(context.Background(), "근로기준법", acts)
	require.Error(t, err)
	assert.False(t, llm.IsParseError(err))
}

func TestLLMClassifier_Assign(t *testing.T) {
	cats := []Category{{Key: "wage", Name: "임금", Description: "임금 지급"}, {Key: "hours", Name: "근로시간"}}
	items := []article.Article{
		{Number: "23", Tier: article.Decree, Header: "제23조(매월 1회 이상 지급)", Body: "임금은 매월 지급한다."},
		{Number: "24", Tier: article.Decree, Header: "제24조(휴게)", Body: "휴게시간을 준다."},
	}

	tests := []struct {
		name  string
		reply string
		want  []Assignment
	}{
		{
			name:  "object form",
			reply: `{"assignments": [{"num": "23", "target_key": "wage"}, {"num": 24, "target_key": " hours "}]}`,
			want:  []Assignment{{Num: "23", TargetKey: "wage"}, {Num: "24", TargetKey: "hours"}},
		},
		{
			name:  "bare list",
			reply: `[{"num": "23", "target_key": "wage"}] // done`,
			want:  []Assignment{{Num: "23", TargetKey: "wage"}},
		},
		{
			name:  "cited article numbers",
			reply: `{"assignments": [{"num": "제23조", "target_key": "wage"}, {"num": "제24조의2", "target_key": "hours"}]}`,
			want:  []Assignment{{Num: "23", TargetKey: "wage"}, {Num: "24의2", TargetKey: "hours"}},
		},
		{
			name:  "empty object",
			reply: `{"assignments": []}`,
			want:  []Assignment{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &scriptedLLM{replies: []string{tt.reply}}
			got, err := NewLLMClassifier(fake, 0, nil).Assign(context.Background(), "근로기준법", article.Decree, cats, items)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			p := fake.prompts[0]
			assert.Contains(t, p, "- wage: 임금 (임금 지급)")
			assert.Contains(t, p, "[매핑 대상 조문 (시행령)]")
			assert.Contains(t, p, "휴게시간을 준다.")
		})
	}
}

func TestLLMClassifier_AssignErrors(t *testing.T) {
	items := []article.Article{{Number: "1", Tier: article.Rule, Header: "제1조(목적)"}}

	got, err := NewLLMClassifier(&scriptedLLM{}, 0, nil).Assign(context.Background(), "근로기준법", article.Rule, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = NewLLMClassifier(&scriptedLLM{replies: []string{"모르겠습니다"}}, 0, nil).
		Assign(context.Background(), "근로기준법", article.Rule, nil, items)
	assert.True(t, llm.IsParseError(err))

	_, err = NewLLMClassifier(&scriptedLLM{replies: []string{`[{"num": "1"}]`}}, 0, nil).
		Assign(context.Background(), "근로기준법", article.Rule, nil, items)
	assert.True(t, llm.IsParseError(err), "missing target_key fails validation")
}

func TestLLMClassifier_TruncatesReference(t *testing.T) {
	long := strings.Repeat("힣", 5000)
	fake := &scriptedLLM{replies: []string{`{"assignments": []}`}}
	c := NewLLMClassifier(fake, 1000, nil)

	items := []article.Article{{Number: "1", Tier: article.Decree, Header: "제1조(목적)", Body: long}}
	_, err := c.Assign(context.Background(), "근로기준법", article.Decree, nil, items)
	require.NoError(t, err)
	n := strings.Count(fake.prompts[0], "힣")
	assert.Greater(t, n, 900)
	assert.Less(t, n, 1000)
}
