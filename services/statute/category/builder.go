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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianLex/pkg/telemetry"
	"github.com/AleutianAI/AleutianLex/services/observability"
	"github.com/AleutianAI/AleutianLex/services/statute/article"
	"github.com/AleutianAI/AleutianLex/services/statute/reference"
)

var tracer = otel.Tracer("aleutian.statute.category")

// ErrNoCategories is returned when the classifier proposes no usable
// category for a law.
var ErrNoCategories = errors.New("classifier returned no categories")

// DefaultMaxFallbackRounds bounds coverage correction.
const DefaultMaxFallbackRounds = 3

// Sources holds the parsed tiers of one law. Decree and Rule may be nil.
type Sources struct {
	Act    *article.ParseResult
	Decree *article.ParseResult
	Rule   *article.ParseResult
}

func (s Sources) tier(t article.Tier) *article.ParseResult {
	switch t {
	case article.Act:
		return s.Act
	case article.Decree:
		return s.Decree
	case article.Rule:
		return s.Rule
	}
	return nil
}

// BuildReport summarizes what a build did.
type BuildReport struct {
	Law         string
	ActArticles int

	// FallbackRounds counts coverage-correction calls made in stage 1.
	FallbackRounds int

	// Corrected counts Act articles placed by coverage correction.
	Corrected int

	// Linked counts subordinate articles attached under a core article.
	Linked map[article.Tier]int

	// Orphaned counts subordinate articles placed by classification.
	Orphaned map[article.Tier]int

	// Unplaced holds subordinate articles that ended in no category.
	Unplaced []article.Ref

	// Gap is set when coverage correction could not map every Act article.
	Gap *CoverageGapError
}

// Builder turns parsed statute text into a LawIndex.
type Builder struct {
	law        string
	classifier Classifier
	resolver   *reference.Resolver
	maxRounds  int
	query      string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxFallbackRounds bounds coverage correction. Values below 1 disable it.
func WithMaxFallbackRounds(n int) Option {
	return func(b *Builder) { b.maxRounds = n }
}

// WithFoundationalQuery sets the query stored in the built index.
func WithFoundationalQuery(q string) Option {
	return func(b *Builder) { b.query = q }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// NewBuilder creates a builder for one law.
func NewBuilder(law string, classifier Classifier, opts ...Option) *Builder {
	b := &Builder{
		law:        law,
		classifier: classifier,
		resolver:   reference.New(law),
		maxRounds:  DefaultMaxFallbackRounds,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build runs both stages and returns the index.
//
// # Description
//
// Stage 1 asks the classifier for category skeletons and assigns each Act
// article to the first category whose range contains its main number. Act
// articles left over are routed through Classifier.Assign, constrained to
// the existing keys, until none remain, the classifier fails, or the round
// limit is reached.
//
// Stage 2 runs for Decree and then Rule articles. Each one is attached under
// every core article it cites. Articles citing no mapped core article are
// batch-classified into orphan lists.
//
// # Outputs
//
//   - *LawIndex: The index, normalized. Never nil when err is nil.
//   - *BuildReport: Counts and soft failures. A coverage gap is reported in
//     BuildReport.Gap, not returned as an error.
//   - error: Non-nil only when no skeleton could be obtained.
//
// # Thread Safety
//
// A Builder may be reused for sequential builds; it is not safe for
// concurrent Build calls sharing one Classifier that is not itself safe.
func (b *Builder) Build(ctx context.Context, src Sources) (*LawIndex, *BuildReport, error) {
	ctx, span := tracer.Start(ctx, "Builder.Build")
	defer span.End()
	span.SetAttributes(attribute.String("law", b.law))

	if src.Act == nil {
		err := fmt.Errorf("build %s: no act articles", b.law)
		telemetry.RecordError(span, err)
		return nil, nil, err
	}

	acts := src.Act.Checklist()
	report := &BuildReport{
		Law:         b.law,
		ActArticles: len(acts),
		Linked:      make(map[article.Tier]int),
		Orphaned:    make(map[article.Tier]int),
	}

	skeleton, err := b.classifier.Skeleton(ctx, b.law, acts)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, fmt.Errorf("build %s: skeleton: %w", b.law, err)
	}
	idx := &LawIndex{Categories: prepareSkeleton(skeleton), FoundationalQuery: b.query}
	if len(idx.Categories) == 0 {
		telemetry.RecordError(span, ErrNoCategories)
		return nil, nil, fmt.Errorf("build %s: %w", b.law, ErrNoCategories)
	}

	b.assignRanges(idx, acts)
	b.correctCoverage(ctx, idx, acts, report)
	for i := range idx.Categories {
		sortCore(&idx.Categories[i])
	}

	for _, tier := range []article.Tier{article.Decree, article.Rule} {
		if res := src.tier(tier); res != nil {
			b.augment(ctx, idx, tier, res.Checklist(), report)
		}
	}

	idx.Normalize()
	b.logger.Info("Built law index",
		"law", b.law,
		"categories", len(idx.Categories),
		"act_articles", report.ActArticles,
		"corrected", report.Corrected,
		"linked_decree", report.Linked[article.Decree],
		"linked_rule", report.Linked[article.Rule],
		"unplaced", len(report.Unplaced))
	return idx, report, nil
}

// prepareSkeleton copies the proposed categories, dropping any articles the
// classifier may have filled in and giving every category a unique key.
func prepareSkeleton(in []Category) []Category {
	out := make([]Category, 0, len(in))
	used := make(map[string]bool, len(in))
	for i, c := range in {
		key := strings.TrimSpace(c.Key)
		if key == "" || used[key] {
			key = uniqueKey(used, i+1)
		}
		used[key] = true
		out = append(out, Category{
			Key:            key,
			Name:           c.Name,
			Description:    c.Description,
			StartNum:       c.StartNum,
			EndNum:         c.EndNum,
			SearchKeywords: append([]string(nil), c.SearchKeywords...),
		})
	}
	return out
}

func uniqueKey(used map[string]bool, n int) string {
	for {
		key := fmt.Sprintf("cat_%d", n)
		if !used[key] {
			return key
		}
		n++
	}
}

// assignRanges places each Act article in the first category whose range
// contains it.
func (b *Builder) assignRanges(idx *LawIndex, acts []article.Article) {
	for _, a := range acts {
		main, err := article.MainNumber(a.Number)
		if err != nil {
			b.logger.Warn("Skipping act article with unreadable number", "law", b.law, "num", a.Number)
			continue
		}
		for i := range idx.Categories {
			if idx.Categories[i].Contains(main) {
				idx.Categories[i].addCore(a.Number)
				break
			}
		}
	}
}

func (b *Builder) correctCoverage(ctx context.Context, idx *LawIndex, acts []article.Article, report *BuildReport) {
	ctx, span := tracer.Start(ctx, "Builder.correctCoverage")
	defer span.End()

	gap := gapSet(idx, acts)
	for round := 0; round < b.maxRounds && len(gap) > 0; round++ {
		b.logger.Info("Correcting coverage gap", "law", b.law, "round", round+1, "missing", len(gap))
		report.FallbackRounds++

		assignments, err := b.classifier.Assign(ctx, b.law, article.Act, idx.Categories, gap)
		b.metrics.RecordFallback(b.law, string(article.Act), err == nil)
		if err != nil {
			telemetry.RecordError(span, err)
			b.logger.Warn("Coverage correction failed", "law", b.law, "round", round+1, "error", err)
			break
		}

		pending := make(map[string]bool, len(gap))
		for _, a := range gap {
			pending[a.Number] = true
		}
		placed := 0
		for _, as := range assignments {
			if !pending[as.Num] {
				continue
			}
			c, ok := idx.Category(as.TargetKey)
			if !ok {
				b.logger.Debug("Ignoring assignment to unknown category", "law", b.law, "num", as.Num, "key", as.TargetKey)
				continue
			}
			c.addCore(as.Num)
			delete(pending, as.Num)
			placed++
		}
		report.Corrected += placed
		gap = gapSet(idx, acts)
		if placed == 0 {
			break
		}
	}

	if len(gap) > 0 {
		missing := make([]string, len(gap))
		for i, a := range gap {
			missing[i] = a.Number
		}
		report.Gap = &CoverageGapError{Law: b.law, Missing: missing}
		telemetry.RecordError(span, report.Gap)
		b.logger.Warn("Coverage gap remains", "law", b.law, "missing", missing)
	}
	b.metrics.SetCoverageGap(b.law, len(gap))
}

// augment attaches one subordinate tier to the index.
func (b *Builder) augment(ctx context.Context, idx *LawIndex, tier article.Tier, subs []article.Article, report *BuildReport) {
	ctx, span := tracer.Start(ctx, "Builder.augment")
	defer span.End()
	span.SetAttributes(attribute.String("tier", string(tier)), attribute.Int("articles", len(subs)))

	var batch []article.Article
	for _, a := range subs {
		ref := a.Ref()
		linked := false
		for _, parent := range b.resolver.Parents(a.Text) {
			node, _, ok := idx.Node(parent)
			if !ok {
				continue
			}
			linked = true
			if !node.HasSub(ref) {
				node.SubArticles = append(node.SubArticles, ref)
			}
		}
		if linked {
			report.Linked[tier]++
			continue
		}
		batch = append(batch, a)
	}
	if len(batch) == 0 {
		return
	}

	b.logger.Info("Classifying unlinked articles", "law", b.law, "tier", tier, "count", len(batch))
	assignments, err := b.classifier.Assign(ctx, b.law, tier, idx.Categories, batch)
	b.metrics.RecordFallback(b.law, string(tier), err == nil)
	if err != nil {
		telemetry.RecordError(span, err)
		b.logger.Warn("Orphan classification failed", "law", b.law, "tier", tier, "error", err)
	}

	placed := make(map[string]bool, len(batch))
	inBatch := make(map[string]bool, len(batch))
	for _, a := range batch {
		inBatch[a.Number] = true
	}
	for _, as := range assignments {
		if !inBatch[as.Num] {
			continue
		}
		c, ok := idx.Category(as.TargetKey)
		if !ok {
			continue
		}
		c.addOrphan(article.Ref{Num: as.Num, Type: tier})
		placed[as.Num] = true
	}
	for _, a := range batch {
		if placed[a.Number] {
			report.Orphaned[tier]++
		} else {
			report.Unplaced = append(report.Unplaced, a.Ref())
		}
	}
}

func sortCore(c *Category) {
	sort.SliceStable(c.CoreArticles, func(i, j int) bool {
		return article.Compare(c.CoreArticles[i].Num, c.CoreArticles[j].Num) < 0
	})
}
