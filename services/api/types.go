// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package api exposes the investigation engine over HTTP.
package api

import (
	"time"

	"github.com/AleutianAI/AleutianLex/services/investigation"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// CreateSessionRequest is the body of POST /v1/sessions. Message, when set,
// is run as the first turn.
type CreateSessionRequest struct {
	Message string `json:"message" binding:"max=4000"`
}

// TurnRequest is the body of POST /v1/sessions/:id/turns.
type TurnRequest struct {
	Message string `json:"message" binding:"required,max=4000"`
}

// TurnResponse carries the reply to one user message.
type TurnResponse struct {
	SessionID string              `json:"session_id"`
	Reply     investigation.Reply `json:"reply"`
}

// CreateSessionResponse is returned by POST /v1/sessions.
type CreateSessionResponse struct {
	Session SessionResponse      `json:"session"`
	Reply   *investigation.Reply `json:"reply,omitempty"`
}

// SessionResponse is the public view of a conversation.
type SessionResponse struct {
	ID          string                                   `json:"id"`
	Phase       investigation.Phase                      `json:"phase"`
	Law         string                                   `json:"law,omitempty"`
	Issue       string                                   `json:"issue,omitempty"`
	Issues      []investigation.Issue                    `json:"issues"`
	Checklists  map[string][]investigation.ChecklistItem `json:"checklists"`
	Progress    map[string]int                           `json:"progress"`
	Conclusions map[string]string                        `json:"conclusions,omitempty"`
	Report      string                                   `json:"report,omitempty"`
	Turns       int                                      `json:"turns"`
	CreatedAt   time.Time                                `json:"created_at"`
	UpdatedAt   time.Time                                `json:"updated_at"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func newSessionResponse(st *investigation.State) SessionResponse {
	progress := make(map[string]int, len(st.DetectedIssues))
	for _, is := range st.DetectedIssues {
		progress[is.Key] = st.Progress(is.Key)
	}
	issues := st.DetectedIssues
	if issues == nil {
		issues = []investigation.Issue{}
	}
	checklists := st.Checklists
	if checklists == nil {
		checklists = map[string][]investigation.ChecklistItem{}
	}
	return SessionResponse{
		ID:          st.ID,
		Phase:       st.Phase,
		Law:         st.SelectedLaw,
		Issue:       st.IssueType,
		Issues:      issues,
		Checklists:  checklists,
		Progress:    progress,
		Conclusions: st.Conclusions,
		Report:      st.Report,
		Turns:       len(st.History) / 2,
		CreatedAt:   st.CreatedAt,
		UpdatedAt:   st.UpdatedAt,
	}
}
