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
	"fmt"
	"slices"
	"strings"
)

var statusMarks = map[Status]string{
	StatusYes:          "✓",
	StatusNo:           "✕",
	StatusInsufficient: "△",
	StatusUnknown:      "○",
}

// BuildReport renders the final consultation report as markdown: one
// section per detected issue with its conclusion and checklist, followed by
// the confirmed facts.
func BuildReport(s *State) string {
	var b strings.Builder
	b.WriteString("# 상담 결과 보고서\n\n")
	if s.SelectedLaw != "" {
		fmt.Fprintf(&b, "- 적용 법률: %s\n", s.SelectedLaw)
	}
	fmt.Fprintf(&b, "- 검토 쟁점: %d건\n\n", len(s.DetectedIssues))

	for i, is := range s.DetectedIssues {
		fmt.Fprintf(&b, "## %d. %s (%d%%)\n\n", i+1, is.Name, s.Progress(is.Key))
		if c := s.Conclusions[is.Key]; c != "" {
			fmt.Fprintf(&b, "%s\n\n", c)
		}
		items := s.Checklists[is.Key]
		if len(items) == 0 {
			b.WriteString("확인된 요건이 없습니다.\n\n")
			continue
		}
		for _, it := range items {
			fmt.Fprintf(&b, "- %s %s", mark(it.Status), it.Requirement)
			if it.Reason != "" {
				fmt.Fprintf(&b, " (%s)", it.Reason)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(s.Facts) > 0 {
		b.WriteString("## 확인된 사실\n\n")
		names := make([]string, 0, len(s.Facts))
		for name := range s.Facts {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %s\n", name, s.Facts[name])
		}
	}
	return strings.TrimSpace(b.String())
}

func mark(s Status) string {
	if m, ok := statusMarks[s]; ok {
		return m
	}
	return statusMarks[StatusUnknown]
}

// summarize is the conclusion used when the model gave none.
func summarize(items []ChecklistItem) string {
	var yes, no, insufficient int
	for _, it := range items {
		switch it.Status {
		case StatusYes:
			yes++
		case StatusNo:
			no++
		case StatusInsufficient:
			insufficient++
		}
	}
	return fmt.Sprintf("요건 %d개 중 충족 %d개, 불충족 %d개, 판단 보류 %d개입니다.", len(items), yes, no, insufficient)
}
