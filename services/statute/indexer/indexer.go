// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package indexer runs the Legal Knowledge Graph build for changed laws:
// version gate, parse, category build, penalty distribution, save, ingest.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianLex/pkg/telemetry"
	"github.com/AleutianAI/AleutianLex/services/observability"
	"github.com/AleutianAI/AleutianLex/services/retrieval"
	"github.com/AleutianAI/AleutianLex/services/statute/article"
	"github.com/AleutianAI/AleutianLex/services/statute/category"
	"github.com/AleutianAI/AleutianLex/services/statute/penalty"
	"github.com/AleutianAI/AleutianLex/services/statute/store"
	"github.com/AleutianAI/AleutianLex/services/statute/version"
)

var tracer = otel.Tracer("aleutian.statute.indexer")

// ErrNoActText is returned for a law with no parsable Act articles.
var ErrNoActText = errors.New("no act articles")

// Ingester writes a law's articles to the vector store.
type Ingester interface {
	IngestLaw(ctx context.Context, law string, arts []article.Article) (retrieval.IngestReport, error)
	RemoveLaw(ctx context.Context, law string) error
}

// Options configures an Indexer.
type Options struct {
	LawsDir string

	// MaxFallbackRounds bounds coverage correction per law.
	MaxFallbackRounds int

	// PenaltyCutoff returns the first penalty article number of a law, or 0.
	PenaltyCutoff func(law string) int

	// FoundationalQuery returns the query stored with a law's index.
	FoundationalQuery func(law string) string

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Indexer builds and persists law indices.
//
// # Description
//
// Run asks the version tracker which source files changed since the last
// successful run and rebuilds every law owning one of them. Each law is
// committed to the version record only after its index is saved and, when
// an Ingester is configured, ingested. A failed law is therefore retried on
// the next run while laws that succeeded are not rebuilt.
//
// # Thread Safety
//
// Not safe for concurrent Run calls; the store assumes a single writer.
type Indexer struct {
	opts       Options
	tracker    *version.Tracker
	store      *store.Store
	classifier category.Classifier
	ingester   Ingester
	logger     *slog.Logger
}

// New creates an indexer. ingester may be nil to skip vector ingest.
func New(opts Options, tracker *version.Tracker, st *store.Store, classifier category.Classifier, ingester Ingester) *Indexer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PenaltyCutoff == nil {
		opts.PenaltyCutoff = func(string) int { return 0 }
	}
	if opts.FoundationalQuery == nil {
		opts.FoundationalQuery = func(law string) string { return law + " 총칙 및 적용범위(제1조~제14조)" }
	}
	if opts.MaxFallbackRounds == 0 {
		opts.MaxFallbackRounds = category.DefaultMaxFallbackRounds
	}
	return &Indexer{
		opts:       opts,
		tracker:    tracker,
		store:      st,
		classifier: classifier,
		ingester:   ingester,
		logger:     opts.Logger,
	}
}

// RunOptions selects what Run rebuilds.
type RunOptions struct {
	// Laws restricts the run to these laws. Empty means all.
	Laws []string

	// Force rebuilds the selected laws even when unchanged.
	Force bool
}

// LawResult is the outcome of one law.
type LawResult struct {
	Law      string
	Build    *category.BuildReport
	Penalty  penalty.Report
	Ingested bool

	// Removed is set when every source file of the law was deleted and its
	// index entry was dropped instead of rebuilt.
	Removed bool

	Duration time.Duration
	Err      error
}

// RunReport is the outcome of Run.
type RunReport struct {
	Skipped bool
	Results []LawResult
}

// Failed returns the laws that did not index.
func (r RunReport) Failed() []string {
	var out []string
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res.Law)
		}
	}
	return out
}

// Run rebuilds changed laws. Per-law failures are reported in the result;
// the returned error is non-nil only when the run could not start.
func (ix *Indexer) Run(ctx context.Context, ro RunOptions) (RunReport, error) {
	ctx, span := tracer.Start(ctx, "Indexer.Run")
	defer span.End()

	diff, err := ix.tracker.Diff()
	if err != nil {
		telemetry.RecordError(span, err)
		return RunReport{}, fmt.Errorf("version diff: %w", err)
	}

	laws, err := ix.selectLaws(diff, ro)
	if err != nil {
		telemetry.RecordError(span, err)
		return RunReport{}, err
	}
	if len(laws) == 0 {
		ix.logger.Info("Law sources unchanged, skipping index build")
		return RunReport{Skipped: true}, nil
	}
	span.SetAttributes(attribute.StringSlice("laws", laws))

	var report RunReport
	for _, law := range laws {
		var res LawResult
		if ix.hasSources(diff, law) {
			res = ix.IndexLaw(ctx, law)
		} else {
			res = ix.RemoveLaw(ctx, law)
		}
		if res.Err == nil {
			if err := ix.tracker.Commit(diff, ix.filesOf(diff, law)); err != nil {
				res.Err = fmt.Errorf("commit version record: %w", err)
			}
		}
		if res.Err != nil {
			ix.logger.Error("Index build failed", "law", law, "error", res.Err)
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

// selectLaws returns the laws to rebuild, filtered by ro.Laws.
func (ix *Indexer) selectLaws(diff version.Diff, ro RunOptions) ([]string, error) {
	var candidates []string
	if ro.Force {
		all, err := article.Laws(ix.opts.LawsDir)
		if err != nil {
			return nil, err
		}
		candidates = all
	} else {
		candidates = diff.Laws()
	}
	if len(ro.Laws) == 0 {
		return candidates, nil
	}
	want := make(map[string]bool, len(ro.Laws))
	for _, l := range ro.Laws {
		want[l] = true
	}
	var out []string
	for _, l := range candidates {
		if want[l] {
			out = append(out, l)
		}
	}
	return out, nil
}

// hasSources reports whether any file of law is on disk.
func (ix *Indexer) hasSources(diff version.Diff, law string) bool {
	for name := range diff.Current {
		if l, _, ok := article.ParseFileName(name); ok && l == law {
			return true
		}
	}
	return false
}

// filesOf returns every file of law to commit: the changed or removed ones,
// plus, on a forced run, all its current files.
func (ix *Indexer) filesOf(diff version.Diff, law string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range diff.FilesOf(law) {
		add(name)
	}
	for name := range diff.Current {
		if l, _, ok := article.ParseFileName(name); ok && l == law {
			add(name)
		}
	}
	sort.Strings(out)
	return out
}

// IndexLaw builds, saves and ingests one law regardless of version state.
func (ix *Indexer) IndexLaw(ctx context.Context, law string) (res LawResult) {
	ctx, span := tracer.Start(ctx, "Indexer.IndexLaw")
	defer span.End()
	span.SetAttributes(attribute.String("law", law))

	start := time.Now()
	res = LawResult{Law: law}
	defer func() {
		res.Duration = time.Since(start)
		ix.opts.Metrics.RecordBuild(law, res.Duration.Seconds(), res.Err == nil)
	}()

	src, err := ix.load(law)
	if err != nil {
		res.Err = err
		telemetry.RecordError(span, err)
		return res
	}

	builder := category.NewBuilder(law, ix.classifier,
		category.WithMaxFallbackRounds(ix.opts.MaxFallbackRounds),
		category.WithFoundationalQuery(ix.opts.FoundationalQuery(law)),
		category.WithLogger(ix.logger),
		category.WithMetrics(ix.opts.Metrics))
	idx, build, err := builder.Build(ctx, src)
	if err != nil {
		res.Err = err
		telemetry.RecordError(span, err)
		return res
	}
	res.Build = build
	if build.Gap != nil {
		ix.logger.Warn("Index saved with coverage gap", "law", law, "missing", len(build.Gap.Missing))
	}

	acts := src.Act.Checklist()
	res.Penalty = penalty.New(ix.opts.PenaltyCutoff(law), ix.logger).Distribute(idx, acts)
	ix.opts.Metrics.SetPenaltyLinks(law, res.Penalty.Links)

	if err := ix.store.Save(law, idx); err != nil {
		res.Err = fmt.Errorf("save %s: %w", law, err)
		telemetry.RecordError(span, res.Err)
		return res
	}

	if ix.ingester != nil {
		var all []article.Article
		for _, pr := range []*article.ParseResult{src.Act, src.Decree, src.Rule} {
			if pr != nil {
				all = append(all, pr.Checklist()...)
			}
		}
		if _, err := ix.ingester.IngestLaw(ctx, law, all); err != nil {
			res.Err = fmt.Errorf("ingest %s: %w", law, err)
			telemetry.RecordError(span, res.Err)
			return res
		}
		res.Ingested = true
	}
	return res
}

// RemoveLaw drops the stored index and the vector chunks of law.
func (ix *Indexer) RemoveLaw(ctx context.Context, law string) (res LawResult) {
	ctx, span := tracer.Start(ctx, "Indexer.RemoveLaw")
	defer span.End()
	span.SetAttributes(attribute.String("law", law))

	start := time.Now()
	res = LawResult{Law: law, Removed: true}
	defer func() { res.Duration = time.Since(start) }()

	if _, err := ix.store.Remove(law); err != nil {
		res.Err = fmt.Errorf("remove %s: %w", law, err)
		telemetry.RecordError(span, res.Err)
		return res
	}
	if ix.ingester != nil {
		if err := ix.ingester.RemoveLaw(ctx, law); err != nil {
			res.Err = fmt.Errorf("remove chunks of %s: %w", law, err)
			telemetry.RecordError(span, res.Err)
			return res
		}
	}
	ix.logger.Info("Law sources deleted, index entry removed", "law", law)
	return res
}

// load parses all tiers of law. A tier without files yields nil.
func (ix *Indexer) load(law string) (category.Sources, error) {
	var src category.Sources
	for _, tier := range article.Tiers {
		pr, err := article.LoadLaw(ix.opts.LawsDir, law, tier)
		if err != nil {
			return src, err
		}
		for _, pe := range pr.Errors {
			ix.logger.Warn("Skipped unparsable block", "law", law, "tier", tier, "error", pe)
		}
		ix.opts.Metrics.AddParseErrors(law, string(tier), len(pr.Errors))
		if len(pr.Articles) == 0 {
			continue
		}
		switch tier {
		case article.Act:
			src.Act = pr
		case article.Decree:
			src.Decree = pr
		case article.Rule:
			src.Rule = pr
		}
	}
	if src.Act == nil || len(src.Act.Checklist()) == 0 {
		return src, fmt.Errorf("index %s: %w", law, ErrNoActText)
	}
	return src, nil
}

// Coverage audits the stored index of law against its Act text.
func (ix *Indexer) Coverage(law string) (category.Coverage, error) {
	u, err := ix.store.Load()
	if err != nil {
		return category.Coverage{}, err
	}
	idx, err := u.Law(law)
	if err != nil {
		return category.Coverage{}, err
	}
	acts, err := article.LoadLaw(ix.opts.LawsDir, law, article.Act)
	if err != nil {
		return category.Coverage{}, err
	}
	return category.Audit(idx, acts.Checklist()), nil
}
