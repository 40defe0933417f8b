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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// =============================================================================
// Tagged Result
// =============================================================================

// Result is the outcome of asking the model for a value of type T. Exactly
// one of Value or Err is meaningful. Raw always holds the model output, if
// any was received.
type Result[T any] struct {
	Value T
	Raw   string
	Err   error
}

// OK reports whether Value is usable.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Call sends prompt, then decodes and validates the reply. Transport
// failures and parse failures both come back as *ExternalServiceError in
// Result.Err.
func Call[T any](ctx context.Context, client LLMClient, prompt string, params GenerationParams) Result[T] {
	raw, err := client.Generate(ctx, prompt, params)
	if err != nil {
		return Result[T]{Raw: raw, Err: &ExternalServiceError{Service: "llm", Op: "generate", Err: err}}
	}
	return Decode[T](raw)
}

// Decode extracts the JSON value from raw model output, unmarshals it into
// T and validates it.
func Decode[T any](raw string) Result[T] {
	res := Result[T]{Raw: raw}
	cleaned, err := ExtractJSON(raw)
	if err != nil {
		res.Err = &ExternalServiceError{Service: "llm", Op: "parse", Raw: raw, Err: fmt.Errorf("%w: %v", ErrParse, err)}
		return res
	}
	if err := json.Unmarshal([]byte(cleaned), &res.Value); err != nil {
		res.Err = &ExternalServiceError{Service: "llm", Op: "parse", Raw: raw, Err: fmt.Errorf("%w: %v", ErrParse, err)}
		return res
	}
	if err := validateValue(res.Value); err != nil {
		res.Err = &ExternalServiceError{Service: "llm", Op: "validate", Raw: raw, Err: fmt.Errorf("%w: %v", ErrParse, err)}
		return res
	}
	return res
}

func validateValue(v any) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		return validate.Struct(rv.Interface())
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := validateValue(rv.Index(i).Interface()); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
	}
	return nil
}

// =============================================================================
// JSON Extraction
// =============================================================================

// ExtractJSON returns the outermost JSON object or array in raw.
//
// # Description
//
// Models wrap JSON in prose and markdown fences, add // comments, and leave
// trailing commas. ExtractJSON removes fences and comments outside string
// literals, takes the text from the first '{' or '[' to its matching close,
// and drops commas that directly precede a closing bracket.
func ExtractJSON(raw string) (string, error) {
	s := stripFences(raw)
	s = stripComments(s)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", fmt.Errorf("no JSON value found")
	}
	end := matchClose(s, start)
	if end < 0 {
		return "", fmt.Errorf("unterminated JSON value")
	}
	out := stripTrailingCommas(s[start : end+1])
	if !json.Valid([]byte(out)) {
		return "", fmt.Errorf("invalid JSON after cleanup")
	}
	return out, nil
}

func stripFences(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// stripComments removes // comments that are not inside a string literal.
func stripComments(s string) string {
	var (
		b        strings.Builder
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) && s[i+1] == '/' {
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// matchClose returns the index of the bracket closing the one at start.
func matchClose(s string, start int) int {
	var (
		depth    int
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func stripTrailingCommas(s string) string {
	var (
		b        strings.Builder
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.ContainsRune(" \t\r\n", rune(s[j])) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// =============================================================================
// Helpers for Model Output
// =============================================================================

// FlexInt decodes a JSON number or a numeric string.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", data)
	}
	*f = FlexInt(n)
	return nil
}

// FlexString decodes a JSON string or number as a string. Models write
// article numbers either way.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("not a string or number: %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// Render executes a prompt template.
func Render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
