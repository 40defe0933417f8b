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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"임금 체불액 확인 여부", "임금체불액확인"},
		{"근로계약서(서면) 교부", "근로계약서교부"},
		{"  5인 이상 사업장?  ", "5인이상사업장"},
		{"Overtime 수당", "overtime수당"},
		{"()", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestRatcliffObershelp(t *testing.T) {
	assert.Equal(t, 1.0, RatcliffObershelp("", ""))
	assert.Equal(t, 1.0, RatcliffObershelp("임금체불", "임금체불"))
	assert.Equal(t, 0.0, RatcliffObershelp("가나", "다라"))

	// Matching blocks "액확인" and "임금": 2*5/14.
	got := RatcliffObershelp(Normalize("임금 체불액 확인"), Normalize("체불 임금액 확인 여부"))
	assert.InDelta(t, 10.0/14.0, got, 1e-9)
}
