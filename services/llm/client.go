// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the Reasoning Service: prompt in, text out.
//
// Backends (OpenAI, Ollama) implement LLMClient. A Registry builds them
// once per (backend, model, temperature) and wraps them with rate limiting,
// tracing and metrics. Call and Decode turn the loosely formatted JSON a
// model returns into a validated Result.
package llm

import (
	"context"
	"errors"
	"fmt"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// JSONMode asks the backend to constrain output to a JSON object where
	// it supports that.
	JSONMode bool `json:"json_mode"`
}

// LLMClient defines the standard interface for any LLM backend
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Backend names a model provider.
type Backend string

const (
	BackendOpenAI Backend = "openai"
	BackendOllama Backend = "ollama"
)

// ErrParse marks model output that could not be decoded into the expected
// shape.
var ErrParse = errors.New("unparsable model output")

// ExternalServiceError wraps a failed call to a collaborator service. Raw
// holds the model output when the failure was a parse failure.
type ExternalServiceError struct {
	Service string
	Op      string
	Raw     string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err came from undecodable model output.
func IsParseError(err error) bool {
	return errors.Is(err, ErrParse)
}

func float32Ptr(v float32) *float32 { return &v }
