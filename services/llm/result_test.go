// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"text/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "plain object",
			raw:  `{"a":1}`,
			want: `{"a":1}`,
		},
		{
			name: "fenced with prose",
			raw:  "다음은 결과입니다.\n```json\n{\"question\": \"근로계약서를 받으셨나요?\"}\n```\n감사합니다.",
			want: `{"question": "근로계약서를 받으셨나요?"}`,
		},
		{
			name: "comments and trailing commas",
			raw:  "{\n  \"a\": [1, 2,], // note\n  \"url\": \"http://x\",\n}",
			want: "{\n  \"a\": [1, 2], \n  \"url\": \"http://x\"\n}",
		},
		{
			name: "array before object",
			raw:  `결과: [{"num":"3","target_key":"wage"}] 끝`,
			want: `[{"num":"3","target_key":"wage"}]`,
		},
		{
			name: "braces inside strings",
			raw:  `{"reason":"조건 {a} 충족]"} trailing }`,
			want: `{"reason":"조건 {a} 충족]"}`,
		},
		{name: "no json", raw: "NONE", wantErr: true},
		{name: "unterminated", raw: `{"a": [1, 2`, wantErr: true},
		{name: "invalid after cleanup", raw: `{a: 1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type question struct {
	Question string `json:"question" validate:"required"`
}

func TestDecode(t *testing.T) {
	res := Decode[question]("```json\n{\"question\": \"임금을 받지 못한 기간은?\"}\n```")
	require.True(t, res.OK())
	assert.Equal(t, "임금을 받지 못한 기간은?", res.Value.Question)

	res = Decode[question](`{"question": ""}`)
	require.False(t, res.OK())
	assert.True(t, IsParseError(res.Err))
	var ext *ExternalServiceError
	require.True(t, errors.As(res.Err, &ext))
	assert.Equal(t, "validate", ext.Op)
	assert.Equal(t, `{"question": ""}`, ext.Raw)

	res = Decode[question]("잘 모르겠습니다")
	assert.True(t, IsParseError(res.Err))
	assert.Equal(t, "잘 모르겠습니다", res.Raw)

	list := Decode[[]question](`[{"question":"a"},{"question":""}]`)
	assert.True(t, IsParseError(list.Err))
}

type stubClient struct {
	out    string
	err    error
	params GenerationParams
	calls  int
}

func (s *stubClient) Generate(_ context.Context, _ string, params GenerationParams) (string, error) {
	s.calls++
	s.params = params
	return s.out, s.err
}

func TestCall(t *testing.T) {
	res := Call[question](context.Background(), &stubClient{out: `{"question":"q"}`}, "p", GenerationParams{})
	require.True(t, res.OK())
	assert.Equal(t, "q", res.Value.Question)

	transport := errors.New("connection refused")
	res = Call[question](context.Background(), &stubClient{err: transport}, "p", GenerationParams{})
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, transport)
	assert.False(t, IsParseError(res.Err))
	assert.Contains(t, res.Err.Error(), "llm generate")
}

func TestFlexTypes(t *testing.T) {
	var v struct {
		Start FlexInt    `json:"start"`
		End   FlexInt    `json:"end"`
		Num   FlexString `json:"num"`
		Other FlexString `json:"other"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"start":"43","end":49,"num":76,"other":" 76의2 "}`), &v))
	assert.Equal(t, FlexInt(43), v.Start)
	assert.Equal(t, FlexInt(49), v.End)
	assert.Equal(t, FlexString("76"), v.Num)
	assert.Equal(t, FlexString("76의2"), v.Other)

	assert.Error(t, json.Unmarshal([]byte(`{"start":"abc"}`), &v))
}

func TestRender(t *testing.T) {
	tmpl := template.Must(template.New("greet").Parse("법령: {{.Law}}"))
	out, err := Render(tmpl, map[string]string{"Law": "근로기준법"})
	require.NoError(t, err)
	assert.Equal(t, "법령: 근로기준법", out)

	bad := template.Must(template.New("bad").Option("missingkey=error").Parse("{{.Missing}}"))
	_, err = Render(bad, map[string]string{})
	assert.Error(t, err)
}
