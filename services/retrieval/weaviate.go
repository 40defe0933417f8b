// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianLex/services/statute/article"
)

// DefaultClassName is the Weaviate class holding statute chunks.
const DefaultClassName = "Statute"

// =============================================================================
// Schema
// =============================================================================

// StatuteSchema returns the class definition for statute chunks. Vectors are
// supplied by the ingester.
func StatuteSchema(className string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	field := func(name, desc string) *models.Property {
		return &models.Property{
			Name:            name,
			DataType:        []string{"text"},
			Description:     desc,
			IndexFilterable: indexFilterable,
			Tokenization:    "field",
		}
	}

	return &models.Class{
		Class:       className,
		Description: "A chunk of a Korean statute article with its hierarchy metadata.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Chunk text prefixed with the article breadcrumb.",
				Tokenization: "word",
			},
			field("article_number", "Article number, N or N의M."),
			field("title", "Parenthesized article caption."),
			field("tier", "Act, Decree or Rule."),
			field("law", "Law name, e.g. 근로기준법."),
			field("source", "Source file name."),
			field("article", "Article heading line."),
		},
	}
}

// =============================================================================
// Store
// =============================================================================

// WeaviateStore is a VectorStore backed by Weaviate.
//
// # Thread Safety
//
// Safe for concurrent use.
type WeaviateStore struct {
	client    *weaviate.Client
	breaker   *Breaker
	className string
	logger    *slog.Logger
}

// WeaviateConfig configures NewWeaviateStore.
type WeaviateConfig struct {
	Host      string
	Scheme    string
	ClassName string
	Breaker   BreakerConfig
	Logger    *slog.Logger
}

// NewWeaviateStore connects to Weaviate and starts the health checker. An
// unreachable server is not an error; calls fail until it comes up.
func NewWeaviateStore(ctx context.Context, cfg WeaviateConfig) (*WeaviateStore, error) {
	if cfg.Host == "" {
		return nil, errors.New("weaviate host must not be empty")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.ClassName == "" {
		cfg.ClassName = DefaultClassName
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Breaker.Logger = cfg.Logger

	client, err := weaviate.NewClient(weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	probe := func(ctx context.Context) error {
		ready, err := client.Misc().ReadyChecker().Do(ctx)
		if err != nil {
			return err
		}
		if !ready {
			return ErrStoreUnavailable
		}
		return nil
	}
	breaker, err := NewBreaker(cfg.Breaker, probe)
	if err != nil {
		return nil, err
	}
	if err := breaker.Start(ctx); err != nil {
		cfg.Logger.Warn("Weaviate unavailable at startup, starting degraded",
			"host", cfg.Host, "error", err)
	}

	return &WeaviateStore{client: client, breaker: breaker, className: cfg.ClassName, logger: cfg.Logger}, nil
}

// Close stops the health checker.
func (s *WeaviateStore) Close() error {
	return s.breaker.Close()
}

// EnsureSchema creates the statute class if it does not exist.
func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	return s.breaker.Execute(ctx, "EnsureSchema", func(ctx context.Context) error {
		if _, err := s.client.Schema().ClassGetter().WithClassName(s.className).Do(ctx); err == nil {
			s.logger.Debug("Schema already exists", "class", s.className)
			return nil
		}
		s.logger.Info("Schema not found, creating it", "class", s.className)
		if err := s.client.Schema().ClassCreator().WithClass(StatuteSchema(s.className)).Do(ctx); err != nil {
			return fmt.Errorf("create schema %s: %w", s.className, err)
		}
		return nil
	})
}

// Search runs a nearVector query restricted by f.
func (s *WeaviateStore) Search(ctx context.Context, vector []float32, f Filter, limit int) ([]Document, error) {
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "article_number"},
		{Name: "title"},
		{Name: "tier"},
		{Name: "law"},
		{Name: "source"},
		{Name: "article"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	var docs []Document
	err := s.breaker.Execute(ctx, "Search", func(ctx context.Context) error {
		q := s.client.GraphQL().Get().
			WithClassName(s.className).
			WithFields(fields...).
			WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
			WithLimit(limit)
		if where := buildWhere(f); where != nil {
			q = q.WithWhere(where)
		}
		resp, err := q.Do(ctx)
		if err != nil {
			return err
		}
		if len(resp.Errors) > 0 {
			return fmt.Errorf("search error: %s", resp.Errors[0].Message)
		}
		docs, err = parseSearch(resp, s.className)
		return err
	})
	return docs, err
}

// Put writes chunks in one batch and returns how many succeeded.
func (s *WeaviateStore) Put(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &models.Object{
			Class:  s.className,
			ID:     strfmt.UUID(c.ID),
			Vector: c.Vector,
			Properties: map[string]interface{}{
				"content":        c.Text,
				"article_number": c.Metadata.ArticleNumber,
				"title":          c.Metadata.Title,
				"tier":           string(c.Metadata.Tier),
				"law":            c.Metadata.Law,
				"source":         c.Metadata.Source,
				"article":        c.Metadata.Article,
			},
		}
	}

	created := 0
	err := s.breaker.Execute(ctx, "Put", func(ctx context.Context) error {
		resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return err
		}
		created = 0
		for _, item := range resp {
			if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
				created++
				continue
			}
			if item.Result != nil && item.Result.Errors != nil {
				for _, e := range item.Result.Errors.Error {
					s.logger.Warn("Error in Weaviate batch item", "id", item.ID, "error", e.Message)
				}
			}
		}
		return nil
	})
	return created, err
}

// DeleteLaw removes every chunk of law.
func (s *WeaviateStore) DeleteLaw(ctx context.Context, law string) error {
	where := filters.Where().
		WithPath([]string{"law"}).
		WithOperator(filters.Equal).
		WithValueText(law)
	return s.breaker.Execute(ctx, "DeleteLaw", func(ctx context.Context) error {
		resp, err := s.client.Batch().ObjectsBatchDeleter().
			WithClassName(s.className).
			WithWhere(where).
			WithOutput("minimal").
			Do(ctx)
		if err != nil {
			return fmt.Errorf("batch delete %s: %w", law, err)
		}
		if resp != nil && resp.Results != nil {
			s.logger.Info("Deleted law chunks", "law", law, "deleted", resp.Results.Successful, "failed", resp.Results.Failed)
		}
		return nil
	})
}

func buildWhere(f Filter) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	if f.Law != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"law"}).
			WithOperator(filters.Equal).
			WithValueText(f.Law))
	}
	if f.Tier != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"tier"}).
			WithOperator(filters.Equal).
			WithValueText(string(f.Tier)))
	}
	switch len(f.ArticleNumbers) {
	case 0:
	case 1:
		operands = append(operands, articleEqual(f.ArticleNumbers[0]))
	default:
		var either []*filters.WhereBuilder
		for _, n := range f.ArticleNumbers {
			either = append(either, articleEqual(n))
		}
		operands = append(operands, filters.Where().WithOperator(filters.Or).WithOperands(either))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}

func articleEqual(num string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"article_number"}).
		WithOperator(filters.Equal).
		WithValueText(num)
}

// =============================================================================
// Response Parsing
// =============================================================================

type statuteResult struct {
	Content       string `json:"content"`
	ArticleNumber string `json:"article_number"`
	Title         string `json:"title"`
	Tier          string `json:"tier"`
	Law           string `json:"law"`
	Source        string `json:"source"`
	Article       string `json:"article"`
	Additional    struct {
		Distance *float32 `json:"distance"`
	} `json:"_additional"`
}

type statuteQueryResponse struct {
	Get map[string][]statuteResult `json:"Get"`
}

// ParseGraphQLResponse converts Weaviate's dynamic response data into T.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal GraphQL response data: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal GraphQL response: %w", err)
	}
	return &out, nil
}

func parseSearch(resp *models.GraphQLResponse, className string) ([]Document, error) {
	parsed, err := ParseGraphQLResponse[statuteQueryResponse](resp)
	if err != nil {
		return nil, err
	}
	rows := parsed.Get[className]
	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		tier, err := article.ParseTier(r.Tier)
		if err != nil {
			tier = ""
		}
		d := Document{
			Text: r.Content,
			Metadata: Metadata{
				ArticleNumber: r.ArticleNumber,
				Title:         r.Title,
				Tier:          tier,
				Law:           r.Law,
				Source:        r.Source,
				Article:       r.Article,
			},
		}
		if r.Additional.Distance != nil {
			d.Distance = *r.Additional.Distance
		}
		docs = append(docs, d)
	}
	return docs, nil
}

var _ VectorStore = (*WeaviateStore)(nil)
