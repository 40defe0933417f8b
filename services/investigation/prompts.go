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
	"text/template"

	"github.com/AleutianAI/AleutianLex/services/llm"
)

// =============================================================================
// Templates
// =============================================================================

var lawSelectPrompt = template.Must(template.New("law_select").Parse(
	`사용자의 상담 내용을 분석하여 가장 관련 있는 법률 하나를 [사용 가능한 법률]에서 골라라.

[상담 내용]
{{.Input}}

[사용 가능한 법률]
{{range .Laws}}- {{.}}
{{end}}
[응답 형식]
{"selected_law": "법률명", "reason": "선택 이유"}
`))

var issuePrompt = template.Must(template.New("issues").Parse(
	`사용자의 상담 내용에서 법률 쟁점을 찾아 [카테고리]에서 해당하는 항목을 모두 골라라.
반드시 [카테고리]에 있는 key만 사용하고, 새로운 key를 만들지 마라.
가장 핵심적인 쟁점을 먼저 나열하라.

[상담 내용]
{{.Input}}

[카테고리]
{{range .Categories}}- {{.Key}} ({{.Name}}): {{.Description}}
{{end}}
[응답 형식]
{"issues": [{"key": "category_key", "name": "카테고리명"}]}
`))

var narrowingPrompt = template.Must(template.New("narrowing").Parse(
	`너는 사용자의 상황에 적용될 법령 조항의 범위를 좁히는 법률 상담가다.

[상담 쟁점]
{{.Issue}}

[대화 이력]
{{.History}}

[대상 조항 리스트 및 내용]
{{.Articles}}

[분류 규칙]
1. 대상 조항들을 사용자가 '무엇'을 청구하는지에 따라 서로 배타적인 2~4개의 범주로 나눠라.
2. 지연이자, 시효, 서류, 벌칙 같은 절차적 항목은 독립된 범주로 만들지 마라.
3. question에는 모든 범주 명칭(label)을 자연스럽게 포함하라. 구체적인 사례나 예시는 적지 마라.
4. 각 범주에 속하는 조항 번호를 article_numbers에 정확히 넣어라. 모든 대상 조항이 어느 한 범주에 속해야 한다.

[응답 형식]
{"question": "범주 명칭을 포함한 질문", "options": [{"label": "범주 명칭", "keywords": ["핵심용어"], "article_numbers": ["43", "43의2"]}]}
`))

var narrowingMatchPrompt = template.Must(template.New("narrowing_match").Parse(
	`사용자의 답변을 분석하여 주어진 선택지 중 가장 적절한 것을 골라라.

[사용자 답변]
{{.Answer}}

[선택지 목록]
{{range .Options}}- {{.Label}}: {{range $i, $k := .Keywords}}{{if $i}}, {{end}}{{$k}}{{end}}
{{end}}
[규칙]
1. 번호를 말하지 않고 내용을 설명하더라도 의미상 가장 가까운 선택지를 찾아라.
2. 어떤 선택지와도 관련이 없다면 NONE이라고만 답하라.
3. 관련이 있다면 해당 선택지의 label만 정확히 출력하라.
`))

var factPrompt = template.Must(template.New("facts").Parse(
	`너는 법률 상담 대화에서 핵심 사실관계를 추출하는 데이터 전문가다.
사용자의 답변과 질문 맥락을 분석하여 [추출 항목]들의 상태를 파악하라.

[직전 질문]
{{.Question}}

[사용자 입력]
{{.Input}}

[추출 항목]
{{range .Items}}- {{.Requirement}}
{{end}}
[분류 기준]
- YES: 사실이 확인됨
- NO: 사실이 아님이 확인됨
- UNKNOWN: 정보가 없거나 모호함

[응답 형식]
{"추출 항목 문구 그대로": "YES|NO|UNKNOWN"}
`))

var checklistPrompt = template.Must(template.New("checklist").Parse(
	`너는 {{.Issue}} 쟁점의 사실관계 체크리스트를 관리하는 법률 조사관이다.

[관련 법령]
{{.LawContext}}

[대화 이력]
{{.History}}

[확인된 사실]
{{range $k, $v := .Facts}}- {{$k}}: {{$v}}
{{else}}없음
{{end}}
[현재 체크리스트]
{{range .Checklist}}- {{.Requirement}} ({{.Status}})
{{else}}없음
{{end}}
[규칙]
1. [관련 법령]에만 근거하라. 법령이 부족하면 해당 요건을 INSUFFICIENT로 표시하라.
2. 조항들이 요구하는 모든 사실 요건, 기간, 수치 기준을 요건으로 만들되 같은 요건은 한 번만 적어라.
3. [현재 체크리스트]에 이미 있는 요건은 반드시 같은 requirement 문구를 그대로 사용하라.
4. 대화에서 이미 확인된 사실은 즉시 YES 또는 NO로 표시하고, 언급되지 않은 요건은 UNKNOWN으로 두어라.
5. "사용자"는 사업주를 뜻한다. 상담 중인 사람을 가리키지 마라.
6. 모든 문구는 한국어로 작성하라.

[응답 형식]
{"issue_checklist": [{"requirement": "요건", "type": "existence|detail", "status": "YES|NO|UNKNOWN|INSUFFICIENT", "reason": "판단 근거"}], "conclusion": "현재 상태 한 문장 요약"}
`))

var questionPrompt = template.Must(template.New("question").Parse(
	`법률 상담가로서 아래 체크리스트의 UNKNOWN 요건 하나를 확인하는 질문을 하나만 만들어라.

[확인할 요건]
{{.Target}}

[체크리스트]
{{range .Checklist}}- {{.Requirement}} ({{.Status}})
{{end}}
[규칙]
1. 사용자를 사건의 목격자로 대하고 누가, 언제, 무엇을, 얼마나 같은 사실만 물어라.
2. 법률 용어, 조문 설명, 예시를 넣지 마라.
3. 한 번에 하나의 사실만 물어라.

[응답 형식]
{"question": "짧고 명확한 질문 하나"}
`))

// =============================================================================
// Replies
// =============================================================================

type lawSelectReply struct {
	SelectedLaw string `json:"selected_law" validate:"required"`
	Reason      string `json:"reason"`
}

type issueReply struct {
	Issues []issueItem `json:"issues" validate:"dive"`
}

type issueItem struct {
	Key    string `json:"key" validate:"required"`
	Name   string `json:"name"`
	Korean string `json:"korean"`
}

type narrowingReply struct {
	Question string        `json:"question"`
	Options  []optionReply `json:"options" validate:"required,min=1,dive"`
}

type optionReply struct {
	Label          string           `json:"label" validate:"required"`
	Keywords       []string         `json:"keywords"`
	ArticleNumbers []llm.FlexString `json:"article_numbers"`
}

type checklistReply struct {
	Items      []checklistItemReply `json:"issue_checklist" validate:"dive"`
	Conclusion string               `json:"conclusion"`
}

type checklistItemReply struct {
	Requirement string `json:"requirement" validate:"required"`
	Type        string `json:"type"`
	Status      Status `json:"status"`
	Reason      string `json:"reason"`
}

type questionReply struct {
	Question string `json:"question" validate:"required"`
}
