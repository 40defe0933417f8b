// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package article

import "fmt"

// SourceParseError reports an article heading whose number could not be
// located. The block is skipped; parsing continues with the next heading.
type SourceParseError struct {
	File    string
	Line    int
	Heading string
	Reason  string
}

func (e *SourceParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s: %q", e.File, e.Line, e.Reason, e.Heading)
	}
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Heading)
}
