// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package category builds the per-law category graph.
//
// A LawIndex groups every Act article of one law into exactly one Category.
// Each Act article node carries the Decree and Rule articles that cite it.
// Subordinate articles that cite nothing usable hang off the category as
// orphans, and penalty clauses are attached to the categories of the articles
// they punish.
package category

import (
	"encoding/json"

	"github.com/AleutianAI/AleutianLex/services/statute/article"
)

// =============================================================================
// Index Types
// =============================================================================

// ArticleNode is an Act article inside a category, with its subordinate
// children.
type ArticleNode struct {
	Num         string        `json:"num"`
	Type        article.Tier  `json:"type"`
	SubArticles []article.Ref `json:"sub_articles"`
}

// Ref returns the node's identity.
func (n ArticleNode) Ref() article.Ref {
	return article.Ref{Num: n.Num, Type: n.Type}
}

// HasSub reports whether ref is already a child of the node.
func (n ArticleNode) HasSub(ref article.Ref) bool {
	return containsRef(n.SubArticles, ref)
}

// Category is a topical group of Act articles.
type Category struct {
	Key            string        `json:"key"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	StartNum       int           `json:"start_num"`
	EndNum         int           `json:"end_num"`
	SearchKeywords []string      `json:"search_keywords"`
	CoreArticles   []ArticleNode `json:"core_articles"`

	// PenaltyArticles are Act penalty clauses punishing a core article.
	PenaltyArticles []article.Ref `json:"penalty_articles"`

	// OrphanArticles are subordinate articles placed by classification
	// because no core article could be resolved as their parent.
	OrphanArticles []article.Ref `json:"orphan_articles"`
}

// UnmarshalJSON accepts indices written before "name" replaced "korean".
func (c *Category) UnmarshalJSON(data []byte) error {
	type plain Category
	var aux struct {
		plain
		Korean string `json:"korean"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = Category(aux.plain)
	if c.Name == "" {
		c.Name = aux.Korean
	}
	return nil
}

// Contains reports whether main falls inside the category's declared range.
// A category without a range (both bounds zero) contains nothing.
func (c *Category) Contains(main int) bool {
	if c.StartNum == 0 && c.EndNum == 0 {
		return false
	}
	lo, hi := c.StartNum, c.EndNum
	if lo > hi {
		lo, hi = hi, lo
	}
	return main >= lo && main <= hi
}

// CoreNumbers returns the category's Act article numbers in order.
func (c *Category) CoreNumbers() []string {
	out := make([]string, len(c.CoreArticles))
	for i, n := range c.CoreArticles {
		out[i] = n.Num
	}
	return out
}

// HasCore reports whether num is a core article of the category.
func (c *Category) HasCore(num string) bool {
	for _, n := range c.CoreArticles {
		if n.Num == num {
			return true
		}
	}
	return false
}

func (c *Category) addCore(num string) bool {
	if c.HasCore(num) {
		return false
	}
	c.CoreArticles = append(c.CoreArticles, ArticleNode{Num: num, Type: article.Act})
	return true
}

func (c *Category) addPenalty(ref article.Ref) bool {
	if containsRef(c.PenaltyArticles, ref) {
		return false
	}
	c.PenaltyArticles = append(c.PenaltyArticles, ref)
	return true
}

func (c *Category) addOrphan(ref article.Ref) bool {
	if containsRef(c.OrphanArticles, ref) {
		return false
	}
	c.OrphanArticles = append(c.OrphanArticles, ref)
	return true
}

// AddPenalty appends a penalty clause, ignoring duplicates. It reports
// whether the clause was new.
func (c *Category) AddPenalty(num string) bool {
	return c.addPenalty(article.Ref{Num: num, Type: article.Act})
}

// LawIndex is the category graph of one law.
type LawIndex struct {
	Categories        []Category `json:"categories"`
	FoundationalQuery string     `json:"foundational_query"`
}

// Category returns the category with the given key.
func (idx *LawIndex) Category(key string) (*Category, bool) {
	for i := range idx.Categories {
		if idx.Categories[i].Key == key {
			return &idx.Categories[i], true
		}
	}
	return nil, false
}

// Keys returns the category keys in order.
func (idx *LawIndex) Keys() []string {
	out := make([]string, len(idx.Categories))
	for i, c := range idx.Categories {
		out[i] = c.Key
	}
	return out
}

// ActMap maps every core Act article number to its category key. When an
// article appears in more than one category the first one wins.
func (idx *LawIndex) ActMap() map[string]string {
	out := make(map[string]string)
	for _, c := range idx.Categories {
		for _, n := range c.CoreArticles {
			if _, ok := out[n.Num]; !ok {
				out[n.Num] = c.Key
			}
		}
	}
	return out
}

// Node returns the core node for an Act article number.
func (idx *LawIndex) Node(num string) (*ArticleNode, *Category, bool) {
	for i := range idx.Categories {
		c := &idx.Categories[i]
		for j := range c.CoreArticles {
			if c.CoreArticles[j].Num == num {
				return &c.CoreArticles[j], c, true
			}
		}
	}
	return nil, nil, false
}

// Normalize replaces nil slices with empty ones so the index always
// serializes lists as [] rather than null.
func (idx *LawIndex) Normalize() {
	if idx.Categories == nil {
		idx.Categories = []Category{}
	}
	for i := range idx.Categories {
		c := &idx.Categories[i]
		if c.SearchKeywords == nil {
			c.SearchKeywords = []string{}
		}
		if c.CoreArticles == nil {
			c.CoreArticles = []ArticleNode{}
		}
		if c.PenaltyArticles == nil {
			c.PenaltyArticles = []article.Ref{}
		}
		if c.OrphanArticles == nil {
			c.OrphanArticles = []article.Ref{}
		}
		for j := range c.CoreArticles {
			if c.CoreArticles[j].SubArticles == nil {
				c.CoreArticles[j].SubArticles = []article.Ref{}
			}
		}
	}
}

func containsRef(list []article.Ref, ref article.Ref) bool {
	for _, r := range list {
		if r == ref {
			return true
		}
	}
	return false
}
