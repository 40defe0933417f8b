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
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// =============================================================================
// Enums
// =============================================================================

// Phase is the position of a conversation in the state machine.
type Phase string

const (
	PhaseStart         Phase = "START"
	PhaseNarrowing     Phase = "NARROWING"
	PhaseInvestigation Phase = "INVESTIGATION"
	PhaseComplete      Phase = "COMPLETE"
)

// Status is the resolution of one checklist item.
type Status string

const (
	StatusYes          Status = "YES"
	StatusNo           Status = "NO"
	StatusUnknown      Status = "UNKNOWN"
	StatusInsufficient Status = "INSUFFICIENT"
)

// ParseStatus maps model output onto a Status. Anything unrecognized is
// UNKNOWN.
func ParseStatus(s string) Status {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusYes:
		return StatusYes
	case StatusNo:
		return StatusNo
	case StatusInsufficient:
		return StatusInsufficient
	default:
		return StatusUnknown
	}
}

// Resolved reports whether the status closes the item.
func (s Status) Resolved() bool {
	return s == StatusYes || s == StatusNo || s == StatusInsufficient
}

// UnmarshalJSON normalizes case and unknown values.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("status must be a string: %s", data)
	}
	*s = ParseStatus(raw)
	return nil
}

// ItemType distinguishes status facts from detail facts.
type ItemType string

const (
	TypeExistence ItemType = "existence"
	TypeDetail    ItemType = "detail"
)

// =============================================================================
// State
// =============================================================================

// ChecklistItem is one factual requirement tracked for an issue. Requirement
// is its identity, compared fuzzily by the merge.
type ChecklistItem struct {
	Requirement string   `json:"requirement"`
	Type        ItemType `json:"type"`
	Status      Status   `json:"status"`
	Reason      string   `json:"reason"`
}

// Issue is a detected legal issue, keyed by a category of the selected law.
type Issue struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Option is one narrowing choice.
type Option struct {
	Label          string   `json:"label"`
	Keywords       []string `json:"keywords"`
	ArticleNumbers []string `json:"article_numbers"`
}

// Narrowing is the scope-reduction state of the current issue.
type Narrowing struct {
	Pending         bool     `json:"pending"`
	Question        string   `json:"question,omitempty"`
	Options         []Option `json:"options"`
	CurrentArticles []string `json:"current_articles"`
	Depth           int      `json:"depth"`
}

// Message is one line of the conversation log.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// State is everything a conversation remembers between turns.
//
// # Thread Safety
//
// A State is owned by one conversation. The engine never mutates the State
// passed to Turn; it works on a clone.
type State struct {
	ID             string                     `json:"id"`
	SelectedLaw    string                     `json:"selected_law"`
	IssueType      string                     `json:"issue_type"`
	DetectedIssues []Issue                    `json:"detected_issues"`
	Checklists     map[string][]ChecklistItem `json:"checklists"`
	Facts          map[string]Status          `json:"facts"`
	Narrowing      Narrowing                  `json:"narrowing"`
	Phase          Phase                      `json:"phase"`
	Conclusions    map[string]string          `json:"conclusions"`

	// LastAskedItem is the requirement of the last question asked.
	LastAskedItem string `json:"last_asked_item,omitempty"`

	// LastQuestion is the wording of that question.
	LastQuestion string `json:"last_question,omitempty"`

	// ContextCache holds the law context built for each issue's frozen scope.
	ContextCache map[string]string `json:"context_cache,omitempty"`

	Report    string    `json:"report,omitempty"`
	History   []Message `json:"history"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState returns an empty conversation in START.
func NewState(id string, now time.Time) *State {
	return &State{
		ID:           id,
		Phase:        PhaseStart,
		Checklists:   make(map[string][]ChecklistItem),
		Facts:        make(map[string]Status),
		Conclusions:  make(map[string]string),
		ContextCache: make(map[string]string),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy. Nil slices and maps stay nil.
func (s *State) Clone() *State {
	c := *s
	c.DetectedIssues = slices.Clone(s.DetectedIssues)
	if s.Checklists != nil {
		c.Checklists = make(map[string][]ChecklistItem, len(s.Checklists))
		for k, items := range s.Checklists {
			c.Checklists[k] = slices.Clone(items)
		}
	}
	c.Facts = maps.Clone(s.Facts)
	c.Conclusions = maps.Clone(s.Conclusions)
	c.ContextCache = maps.Clone(s.ContextCache)
	c.Narrowing.Options = slices.Clone(s.Narrowing.Options)
	for i, o := range c.Narrowing.Options {
		c.Narrowing.Options[i].Keywords = slices.Clone(o.Keywords)
		c.Narrowing.Options[i].ArticleNumbers = slices.Clone(o.ArticleNumbers)
	}
	c.Narrowing.CurrentArticles = slices.Clone(s.Narrowing.CurrentArticles)
	c.History = slices.Clone(s.History)
	return &c
}

// ensureMaps allocates maps a decoded state may lack.
func (s *State) ensureMaps() {
	if s.Checklists == nil {
		s.Checklists = make(map[string][]ChecklistItem)
	}
	if s.Facts == nil {
		s.Facts = make(map[string]Status)
	}
	if s.Conclusions == nil {
		s.Conclusions = make(map[string]string)
	}
	if s.ContextCache == nil {
		s.ContextCache = make(map[string]string)
	}
}

// CurrentIssue returns the issue being worked on.
func (s *State) CurrentIssue() (Issue, bool) {
	for _, is := range s.DetectedIssues {
		if is.Key == s.IssueType {
			return is, true
		}
	}
	if len(s.DetectedIssues) > 0 {
		return s.DetectedIssues[0], true
	}
	return Issue{}, false
}

// Checklist returns the current issue's items.
func (s *State) Checklist() []ChecklistItem {
	return s.Checklists[s.IssueType]
}

// Progress returns the percentage of an issue's items resolved to YES or NO.
func (s *State) Progress(issueKey string) int {
	items := s.Checklists[issueKey]
	if len(items) == 0 {
		return 0
	}
	done := 0
	for _, it := range items {
		if it.Status == StatusYes || it.Status == StatusNo {
			done++
		}
	}
	return done * 100 / len(items)
}

// Complete reports whether items is non-empty and fully resolved.
func Complete(items []ChecklistItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if !it.Status.Resolved() {
			return false
		}
	}
	return true
}

// recentHistory renders the last n messages.
func (s *State) recentHistory(n int) string {
	start := max(len(s.History)-n, 0)
	var b strings.Builder
	for _, m := range s.History[start:] {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimSpace(b.String())
}
