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
	"log/slog"
	"strings"
	"text/template"

	"github.com/AleutianAI/AleutianLex/services/llm"
	"github.com/AleutianAI/AleutianLex/services/statute/article"
)

// DefaultPromptMaxChars caps the reference text sent with each prompt.
const DefaultPromptMaxChars = 90000

var skeletonPrompt = template.Must(template.New("skeleton").Parse(
	`{{.Law}}(법률)의 모든 조항을 분석하여 법률 지식 지도의 기본 골격(categories)을 작성하라.

[작성 규칙]
1. 아래 [매핑 대상 조문]의 모든 조항이 어느 한 카테고리의 start_num~end_num 범위에 포함되어야 한다.
2. 법의 장(章) 구조를 반영하여 대분류를 생성하라. 범위는 서로 겹치지 않게 하라.
3. 부칙 조문은 포함하지 마라.
4. 오직 JSON 객체만 출력하라.

[매핑 대상 조문]
{{.Checklist}}

[참고 문서]
{{.Text}}

[응답 형식]
{"categories": [{"key": "cat_code", "name": "카테고리명", "description": "설명", "start_num": 1, "end_num": 10, "search_keywords": ["키워드"]}]}
`))

var assignPrompt = template.Must(template.New("assign").Parse(
	`{{.Law}} 법률 지식 지도에 {{.Tier}} 조항들을 추가로 배정하려 한다.
각 조항의 내용을 분석하여 가장 적절한 기존 카테고리 key에 배정하라.

[작성 규칙]
1. 아래 [매핑 대상 조문]의 모든 조항을 빠짐없이 배정하라.
2. 새로운 카테고리를 만들지 말고 [기존 카테고리 목록]의 key만 사용하라.
3. 오직 JSON 객체만 출력하라.

[기존 카테고리 목록]
{{range .Categories}}- {{.Key}}: {{.Name}} ({{.Description}})
{{end}}
[매핑 대상 조문 ({{.Tier}})]
{{.Checklist}}

[문서 내용]
{{.Text}}

[응답 형식]
{"assignments": [{"num": "1", "target_key": "cat_code_A"}, {"num": "2", "target_key": "cat_code_B"}]}
`))

type skeletonReply struct {
	Categories []skeletonCategory `json:"categories" validate:"required,min=1,dive"`
}

type skeletonCategory struct {
	Key            string      `json:"key"`
	Name           string      `json:"name"`
	Korean         string      `json:"korean"`
	Description    string      `json:"description"`
	StartNum       llm.FlexInt `json:"start_num"`
	EndNum         llm.FlexInt `json:"end_num"`
	SearchKeywords []string    `json:"search_keywords"`
}

type assignItem struct {
	Num       llm.FlexString `json:"num" validate:"required"`
	TargetKey string         `json:"target_key" validate:"required"`
}

type assignReply struct {
	Assignments []assignItem `json:"assignments" validate:"dive"`
}

// LLMClassifier implements Classifier with a language model.
type LLMClassifier struct {
	client   llm.LLMClient
	maxChars int
	logger   *slog.Logger
}

// NewLLMClassifier creates a classifier. maxChars <= 0 uses
// DefaultPromptMaxChars.
func NewLLMClassifier(client llm.LLMClient, maxChars int, logger *slog.Logger) *LLMClassifier {
	if maxChars <= 0 {
		maxChars = DefaultPromptMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMClassifier{client: client, maxChars: maxChars, logger: logger}
}

func (c *LLMClassifier) Skeleton(ctx context.Context, law string, acts []article.Article) ([]Category, error) {
	prompt, err := llm.Render(skeletonPrompt, map[string]any{
		"Law":       law,
		"Checklist": checklist(acts),
		"Text":      c.reference(acts, 4, 100),
	})
	if err != nil {
		return nil, err
	}

	res := llm.Call[skeletonReply](ctx, c.client, prompt, llm.GenerationParams{JSONMode: true})
	if !res.OK() {
		c.logger.Warn("Skeleton generation failed", "law", law, "error", res.Err)
		return nil, res.Err
	}

	out := make([]Category, 0, len(res.Value.Categories))
	for _, sc := range res.Value.Categories {
		name := sc.Name
		if name == "" {
			name = sc.Korean
		}
		out = append(out, Category{
			Key:            strings.TrimSpace(sc.Key),
			Name:           name,
			Description:    sc.Description,
			StartNum:       int(sc.StartNum),
			EndNum:         int(sc.EndNum),
			SearchKeywords: sc.SearchKeywords,
		})
	}
	return out, nil
}

func (c *LLMClassifier) Assign(ctx context.Context, law string, tier article.Tier, cats []Category, items []article.Article) ([]Assignment, error) {
	if len(items) == 0 {
		return nil, nil
	}
	prompt, err := llm.Render(assignPrompt, map[string]any{
		"Law":        law,
		"Tier":       tier.FileWord(),
		"Categories": cats,
		"Checklist":  checklist(items),
		"Text":       c.reference(items, -1, 0),
	})
	if err != nil {
		return nil, err
	}

	raw, err := c.client.Generate(ctx, prompt, llm.GenerationParams{JSONMode: true})
	if err != nil {
		return nil, &llm.ExternalServiceError{Service: "llm", Op: "generate", Err: err}
	}
	decoded, err := decodeAssignments(raw)
	if err != nil {
		c.logger.Warn("Assignment reply unparsable", "law", law, "tier", tier, "error", err)
		return nil, err
	}

	out := make([]Assignment, 0, len(decoded))
	for _, it := range decoded {
		num := article.CleanNumber(string(it.Num))
		if num == "" {
			num = strings.TrimSpace(string(it.Num))
		}
		out = append(out, Assignment{Num: num, TargetKey: strings.TrimSpace(it.TargetKey)})
	}
	return out, nil
}

// decodeAssignments accepts the {"assignments": [...]} object and, from
// models that ignore the format, a bare list.
func decodeAssignments(raw string) ([]assignItem, error) {
	obj := llm.Decode[assignReply](raw)
	if obj.OK() && obj.Value.Assignments != nil {
		return obj.Value.Assignments, nil
	}
	list := llm.Decode[[]assignItem](raw)
	if list.OK() {
		return list.Value, nil
	}
	if obj.Err != nil {
		return nil, obj.Err
	}
	return nil, list.Err
}

func checklist(arts []article.Article) string {
	nums := make([]string, len(arts))
	for i, a := range arts {
		nums[i] = a.Number
	}
	return strings.Join(nums, ", ")
}

// reference joins article excerpts and truncates the result to maxChars runes.
func (c *LLMClassifier) reference(arts []article.Article, lines, width int) string {
	var b strings.Builder
	for _, a := range arts {
		b.WriteString(a.Excerpt(lines, width))
		b.WriteString("\n")
	}
	return truncateRunes(b.String(), c.maxChars)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var _ Classifier = (*LLMClassifier)(nil)
