// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}

func TestNewPrinter_BufferIsPlain(t *testing.T) {
	var buf bytes.Buffer
	assert.True(t, NewPrinter(&buf).Plain())
	assert.False(t, IsTerminal(&buf))
}

func TestPrinter_Plain(t *testing.T) {
	tests := []struct {
		name  string
		print func(p *Printer)
		want  string
	}{
		{"success", func(p *Printer) { p.Success("indexed") }, "OK: indexed\n"},
		{"warning", func(p *Printer) { p.Warning("unmapped") }, "WARN: unmapped\n"},
		{"error", func(p *Printer) { p.Error("failed") }, "ERROR: failed\n"},
		{"info", func(p *Printer) { p.Info("근로기준법") }, "근로기준법\n"},
		{"muted", func(p *Printer) { p.Muted("skipped") }, "skipped\n"},
		{"title omitted", func(p *Printer) { p.Title("Index") }, ""},
		{"box", func(p *Printer) { p.Box("질문", "본문") }, "질문:\n본문\n"},
		{"box without title", func(p *Printer) { p.Box("", "본문") }, "본문\n"},
		{"prompt", func(p *Printer) { p.Prompt("> ") }, "> "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.print(NewPlainPrinter(&buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrinter_ProgressBar(t *testing.T) {
	p := NewPlainPrinter(&bytes.Buffer{})
	assert.Equal(t, "50%", p.ProgressBar(50, 10))
	assert.Equal(t, "100%", p.ProgressBar(140, 10))
	assert.Equal(t, "0%", p.ProgressBar(-3, 10))

	styled := &Printer{w: &bytes.Buffer{}}
	assert.Contains(t, styled.ProgressBar(50, 10), "50%")
}
