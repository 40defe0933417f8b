// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval is the Retrieval Service: statute chunks in a vector
// store, searched by embedding similarity with metadata filters.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianLex/pkg/telemetry"
	"github.com/AleutianAI/AleutianLex/services/llm"
	"github.com/AleutianAI/AleutianLex/services/observability"
	"github.com/AleutianAI/AleutianLex/services/statute/article"
)

var tracer = otel.Tracer("aleutian.retrieval")

// DefaultK is the number of documents returned when a query leaves K unset.
const DefaultK = 5

// poolFactor widens the vector search before the Act-first sort trims it.
const poolFactor = 3

var articleQueryRe = regexp.MustCompile(`제?\s*(\d+)\s*조`)

// =============================================================================
// Types
// =============================================================================

// Metadata describes where a chunk came from.
type Metadata struct {
	// ArticleNumber is "N" or "N의M".
	ArticleNumber string       `json:"article_number"`
	Title         string       `json:"title"`
	Tier          article.Tier `json:"tier"`
	Law           string       `json:"law"`
	Source        string       `json:"source"`

	// Article is the heading line of the article.
	Article string `json:"article"`
}

// Document is one retrieved chunk.
type Document struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`

	// Distance is the vector distance reported by the store, when known.
	Distance float32 `json:"distance,omitempty"`
}

// Query is a retrieval request.
type Query struct {
	Text string
	K    int

	// ArticleNumbers restricts results to these articles. When empty and
	// Text names an article, that article is tried first.
	ArticleNumbers []string

	Tier article.Tier
	Law  string
}

// Retriever returns the documents most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, q Query) ([]Document, error)
}

// Filter is a metadata restriction applied by a VectorStore.
type Filter struct {
	ArticleNumbers []string
	Tier           article.Tier
	Law            string
}

// Chunk is one unit written to a VectorStore.
type Chunk struct {
	ID       string
	Text     string
	Metadata Metadata
	Vector   []float32
}

// VectorStore is the storage side of retrieval.
type VectorStore interface {
	Search(ctx context.Context, vector []float32, f Filter, limit int) ([]Document, error)
	Put(ctx context.Context, chunks []Chunk) (int, error)
	DeleteLaw(ctx context.Context, law string) error
}

// ArticleInQuery returns the article number named in text ("제23조", "23조"),
// or "".
func ArticleInQuery(text string) string {
	m := articleQueryRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// SortActFirst stably moves Act-tier documents ahead of the others.
func SortActFirst(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Metadata.Tier == article.Act && docs[j].Metadata.Tier != article.Act
	})
}

// =============================================================================
// Vector Retriever
// =============================================================================

// VectorRetriever embeds the query and searches a VectorStore.
//
// # Description
//
// The search pool is poolFactor*K. When the query names an article and no
// explicit ArticleNumbers are given, the pool is first restricted to that
// article; an empty result falls back to the unrestricted search. Results
// are sorted Act first and trimmed to K.
//
// # Thread Safety
//
// Safe for concurrent use if the embedder and store are.
type VectorRetriever struct {
	embedder embeddings.Embedder
	store    VectorStore
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewVectorRetriever creates a retriever.
func NewVectorRetriever(embedder embeddings.Embedder, store VectorStore, metrics *observability.Metrics, logger *slog.Logger) *VectorRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorRetriever{embedder: embedder, store: store, metrics: metrics, logger: logger}
}

func (r *VectorRetriever) Retrieve(ctx context.Context, q Query) ([]Document, error) {
	ctx, span := tracer.Start(ctx, "VectorRetriever.Retrieve")
	defer span.End()

	k := q.K
	if k <= 0 {
		k = DefaultK
	}
	span.SetAttributes(attribute.Int("k", k), attribute.String("law", q.Law))

	start := time.Now()
	vec, err := r.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		err = &llm.ExternalServiceError{Service: "retrieval", Op: "embed", Err: err}
		telemetry.RecordError(span, err)
		r.metrics.RecordRetrieval("similarity", false)
		return nil, err
	}

	base := Filter{Tier: q.Tier, Law: q.Law}
	mode := "similarity"
	var docs []Document

	switch {
	case len(q.ArticleNumbers) > 0:
		f := base
		f.ArticleNumbers = q.ArticleNumbers
		mode = "exact"
		docs, err = r.store.Search(ctx, vec, f, k*poolFactor)
	case ArticleInQuery(q.Text) != "":
		f := base
		f.ArticleNumbers = []string{ArticleInQuery(q.Text)}
		mode = "exact"
		docs, err = r.store.Search(ctx, vec, f, k*poolFactor)
		if err == nil && len(docs) == 0 {
			r.logger.Debug("Article filter matched nothing, widening search", "article", f.ArticleNumbers[0])
			mode = "similarity"
			docs, err = r.store.Search(ctx, vec, base, k*poolFactor)
		}
	default:
		docs, err = r.store.Search(ctx, vec, base, k*poolFactor)
	}
	if err != nil {
		err = &llm.ExternalServiceError{Service: "retrieval", Op: "search", Err: err}
		telemetry.RecordError(span, err)
		r.metrics.RecordRetrieval(mode, false)
		return nil, err
	}
	r.metrics.RecordRetrieval(mode, true)

	SortActFirst(docs)
	if len(docs) > k {
		docs = docs[:k]
	}
	r.logger.Debug("Retrieved documents",
		"mode", mode,
		"count", len(docs),
		"duration", time.Since(start))
	span.SetAttributes(attribute.String("mode", mode), attribute.Int("results", len(docs)))
	return docs, nil
}

// Numbers returns the distinct article numbers of docs in order.
func Numbers(docs []Document) []string {
	seen := make(map[string]bool, len(docs))
	var out []string
	for _, d := range docs {
		n := d.Metadata.ArticleNumber
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// String formats a document heading for prompts.
func (d Document) String() string {
	if d.Metadata.Article != "" {
		return fmt.Sprintf("[%s] %s", d.Metadata.Law, d.Metadata.Article)
	}
	return fmt.Sprintf("[%s] %s", d.Metadata.Law, article.Label(d.Metadata.ArticleNumber))
}
