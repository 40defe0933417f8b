// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"io"
	"time"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess  = 0 // Operation completed successfully
	CLIExitFindings = 1 // Operation completed with findings (failed laws, coverage gaps)
	CLIExitError    = 2 // Operation failed
)

// findingsError marks a command that ran to completion but found problems.
type findingsError struct {
	msg string
}

func (e *findingsError) Error() string { return e.msg }

// exitCode maps a command error to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return CLIExitSuccess
	}
	var fe *findingsError
	if errors.As(err, &fe) {
		return CLIExitFindings
	}
	return CLIExitError
}

// CommandResult wraps command output with metadata.
type CommandResult struct {
	APIVersion string    `json:"api_version"`
	Command    string    `json:"command"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Data       any       `json:"data,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// OutputJSON writes data as indented JSON.
func OutputJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// outputResult writes a CommandResult for cmd.
func outputResult(w io.Writer, cmd string, start time.Time, data any, err error) error {
	res := CommandResult{
		APIVersion: "1.0",
		Command:    cmd,
		Timestamp:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
		Success:    err == nil,
		Data:       data,
		Warnings:   current.warnings(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return OutputJSON(w, res)
}

// IndexResult is the JSON form of one law's build.
type IndexResult struct {
	Law            string         `json:"law"`
	OK             bool           `json:"ok"`
	Error          string         `json:"error,omitempty"`
	ActArticles    int            `json:"act_articles,omitempty"`
	FallbackRounds int            `json:"fallback_rounds,omitempty"`
	Corrected      int            `json:"corrected,omitempty"`
	Linked         map[string]int `json:"linked,omitempty"`
	Orphaned       map[string]int `json:"orphaned,omitempty"`
	PenaltyLinks   int            `json:"penalty_links"`
	Ingested       bool           `json:"ingested"`
	Removed        bool           `json:"removed,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
}

// CoverageResult is the JSON form of one law's audit.
type CoverageResult struct {
	Law        string              `json:"law"`
	OK         bool                `json:"ok"`
	Total      int                 `json:"total"`
	Unmapped   []string            `json:"unmapped,omitempty"`
	Duplicated map[string][]string `json:"duplicated,omitempty"`
	Unknown    []string            `json:"unknown,omitempty"`
	Error      string              `json:"error,omitempty"`
}
