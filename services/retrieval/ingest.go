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
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianLex/pkg/telemetry"
	"github.com/AleutianAI/AleutianLex/services/statute/article"
)

// chunkNamespace seeds deterministic chunk IDs so re-ingesting a law
// overwrites its previous objects.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("aleutian-lex/statute-chunk"))

var markdownSeparators = []string{
	"\n## ", "\n### ", "\n#### ", "\n\n", "\n", " ", "",
}

const embedBatchSize = 32

// IngestReport summarizes one law ingest.
type IngestReport struct {
	Law      string
	Articles int
	Chunks   int
	Stored   int
}

// Ingester writes parsed statute articles into a VectorStore.
type Ingester struct {
	embedder embeddings.Embedder
	store    VectorStore
	splitter textsplitter.TextSplitter
	workers  int
	logger   *slog.Logger
}

// NewIngester creates an ingester. Articles longer than chunkSize runes are
// split with chunkOverlap; workers bounds concurrent embedding calls.
func NewIngester(embedder embeddings.Embedder, store VectorStore, chunkSize, chunkOverlap, workers int, logger *slog.Logger) *Ingester {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		embedder: embedder,
		store:    store,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(markdownSeparators),
		),
		workers: workers,
		logger:  logger,
	}
}

// NewOllamaEmbedder returns a langchaingo embedder backed by an Ollama
// embedding model.
func NewOllamaEmbedder(model, serverURL string) (embeddings.Embedder, error) {
	client, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(serverURL))
	if err != nil {
		return nil, fmt.Errorf("create ollama embedding client: %w", err)
	}
	e, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(embedBatchSize))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return e, nil
}

// Chunks converts articles into unembedded chunks.
//
// # Description
//
// Each article becomes one or more chunks. Every chunk starts with the
// breadcrumb "<law> <tier word> > <heading>" so that a piece cut from the
// middle of a long article still names its source. Addendum articles are
// skipped. IDs are UUIDv5 over (law, tier, number, piece).
func (in *Ingester) Chunks(law string, arts []article.Article) ([]Chunk, error) {
	var out []Chunk
	for _, a := range arts {
		if a.Addendum {
			continue
		}
		crumb := fmt.Sprintf("%s %s > %s", law, a.Tier.FileWord(), a.Header)
		pieces, err := in.splitter.SplitText(a.Body)
		if err != nil {
			return nil, fmt.Errorf("split %s %s: %w", a.Tier, a.Number, err)
		}
		if len(pieces) == 0 {
			pieces = []string{""}
		}
		for i, p := range pieces {
			key := fmt.Sprintf("%s|%s|%s|%d", law, a.Tier, a.Number, i)
			out = append(out, Chunk{
				ID:   uuid.NewSHA1(chunkNamespace, []byte(key)).String(),
				Text: strings.TrimSpace(crumb + "\n" + p),
				Metadata: Metadata{
					ArticleNumber: a.Number,
					Title:         a.Title,
					Tier:          a.Tier,
					Law:           law,
					Source:        filepath.Base(a.Source),
					Article:       a.Header,
				},
			})
		}
	}
	return out, nil
}

// IngestLaw replaces every stored chunk of law with chunks built from arts.
func (in *Ingester) IngestLaw(ctx context.Context, law string, arts []article.Article) (IngestReport, error) {
	ctx, span := tracer.Start(ctx, "Ingester.IngestLaw")
	defer span.End()
	span.SetAttributes(attribute.String("law", law), attribute.Int("articles", len(arts)))

	report := IngestReport{Law: law, Articles: len(arts)}
	chunks, err := in.Chunks(law, arts)
	if err != nil {
		telemetry.RecordError(span, err)
		return report, err
	}
	report.Chunks = len(chunks)

	if err := in.embed(ctx, chunks); err != nil {
		telemetry.RecordError(span, err)
		return report, err
	}
	if err := in.store.DeleteLaw(ctx, law); err != nil {
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("clear %s: %w", law, err)
	}
	stored, err := in.store.Put(ctx, chunks)
	report.Stored = stored
	if err != nil {
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("store %s: %w", law, err)
	}
	if stored < len(chunks) {
		in.logger.Warn("Some chunks were not stored", "law", law, "chunks", len(chunks), "stored", stored)
	}
	in.logger.Info("Ingested law", "law", law, "articles", len(arts), "chunks", len(chunks), "stored", stored)
	return report, nil
}

// RemoveLaw deletes every stored chunk of law.
func (in *Ingester) RemoveLaw(ctx context.Context, law string) error {
	ctx, span := tracer.Start(ctx, "Ingester.RemoveLaw")
	defer span.End()
	span.SetAttributes(attribute.String("law", law))

	if err := in.store.DeleteLaw(ctx, law); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("clear %s: %w", law, err)
	}
	in.logger.Info("Removed law chunks", "law", law)
	return nil
}

// embed fills chunk vectors in batches, at most workers batches at a time.
func (in *Ingester) embed(ctx context.Context, chunks []Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		batch := chunks[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			vectors, err := in.embedder.EmbedDocuments(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
			}
			for i := range batch {
				batch[i].Vector = vectors[i]
			}
			return nil
		})
	}
	return g.Wait()
}
