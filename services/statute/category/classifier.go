// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package category

import (
	"context"

	"github.com/AleutianAI/AleutianLex/services/statute/article"
)

// Assignment places one article in an existing category.
type Assignment struct {
	Num       string `json:"num" validate:"required"`
	TargetKey string `json:"target_key" validate:"required"`
}

// Classifier supplies the semantic decisions the builder cannot derive from
// the text itself.
//
// # Description
//
// Skeleton proposes the categories of a law from its Act articles. Each
// category declares a numeric range; articles and sub-structures are filled
// in by the builder.
//
// Assign places articles into categories that already exist. Assignments
// naming an unknown key or an article that was not asked about are ignored
// by the caller, so implementations need not validate them.
//
// # Thread Safety
//
// Implementations must be safe for sequential use by one builder. The
// builder never calls a Classifier concurrently.
type Classifier interface {
	Skeleton(ctx context.Context, law string, acts []article.Article) ([]Category, error)
	Assign(ctx context.Context, law string, tier article.Tier, cats []Category, items []article.Article) ([]Assignment, error)
}
