// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLex/pkg/config"
	"github.com/AleutianAI/AleutianLex/pkg/ux"
	"github.com/AleutianAI/AleutianLex/services/statute/category"
	"github.com/AleutianAI/AleutianLex/services/statute/indexer"
	"github.com/AleutianAI/AleutianLex/services/statute/store"
	"github.com/AleutianAI/AleutianLex/services/statute/version"
)

func runIndex(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	start := time.Now()
	ix, err := current.newIndexer(ctx, indexerOptions{classify: true, ingest: !indexNoIngest})
	if err != nil {
		return err
	}

	report, err := ix.Run(ctx, indexer.RunOptions{Laws: indexLaws, Force: indexForce})
	out := cmd.OutOrStdout()
	if jsonOutput {
		if encErr := outputResult(out, "index", start, indexResults(report), err); encErr != nil {
			return encErr
		}
	} else if err == nil {
		printIndexReport(ux.NewPrinter(out), report)
	}
	if err != nil {
		return err
	}
	if failed := report.Failed(); len(failed) > 0 {
		return &findingsError{msg: "index failed for " + strings.Join(failed, ", ")}
	}
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	ix, err := current.newIndexer(ctx, indexerOptions{classify: true, ingest: !indexNoIngest})
	if err != nil {
		return err
	}
	p := ux.NewPrinter(cmd.OutOrStdout())

	report, err := ix.Run(ctx, indexer.RunOptions{})
	if err != nil {
		return err
	}
	printIndexReport(p, report)

	handler := func(ctx context.Context, laws []string) {
		report, err := ix.Run(ctx, indexer.RunOptions{Laws: laws})
		if err != nil {
			current.logger.Error("Re-index failed", "laws", laws, "error", err)
			return
		}
		printIndexReport(p, report)
	}
	w, err := version.NewWatcher(current.cfg.Data.LawsDir, handler, nil, current.logger)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Stop()

	p.Info(fmt.Sprintf("Watching %s (Ctrl+C to stop)", current.cfg.Data.LawsDir))
	<-ctx.Done()
	return nil
}

func runCoverage(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	start := time.Now()
	ix, err := current.newIndexer(ctx, indexerOptions{})
	if err != nil {
		return err
	}

	laws := indexLaws
	if len(laws) == 0 {
		laws, err = store.NewReader(current.indexStore()).Laws()
		if err != nil {
			return fmt.Errorf("list indexed laws: %w", err)
		}
	}

	results := make([]CoverageResult, 0, len(laws))
	var gaps []string
	for _, law := range laws {
		cov, err := ix.Coverage(law)
		res := coverageResult(law, cov, err)
		if err == nil {
			current.metrics.SetCoverageGap(law, len(cov.Unmapped))
		}
		if !res.OK {
			gaps = append(gaps, law)
		}
		results = append(results, res)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := outputResult(out, "coverage", start, results, nil); err != nil {
			return err
		}
	} else {
		printCoverage(ux.NewPrinter(out), results)
	}
	if len(gaps) > 0 {
		return &findingsError{msg: "coverage gaps in " + strings.Join(gaps, ", ")}
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	path := "lexgraph.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	ux.NewPrinter(cmd.OutOrStdout()).Success("Wrote " + path)
	return nil
}

// =============================================================================
// Rendering
// =============================================================================

func indexResults(r indexer.RunReport) []IndexResult {
	out := make([]IndexResult, 0, len(r.Results))
	for _, res := range r.Results {
		ir := IndexResult{
			Law:          res.Law,
			OK:           res.Err == nil,
			PenaltyLinks: res.Penalty.Links,
			Ingested:     res.Ingested,
			Removed:      res.Removed,
			DurationMs:   res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			ir.Error = res.Err.Error()
		}
		if b := res.Build; b != nil {
			ir.ActArticles = b.ActArticles
			ir.FallbackRounds = b.FallbackRounds
			ir.Corrected = b.Corrected
			ir.Linked = tierCounts(b.Linked)
			ir.Orphaned = tierCounts(b.Orphaned)
		}
		out = append(out, ir)
	}
	return out
}

func tierCounts[K ~string](m map[K]int) map[string]int {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func printIndexReport(p *ux.Printer, r indexer.RunReport) {
	if r.Skipped {
		p.Muted("Sources unchanged, nothing to index")
		return
	}
	p.Title("Index build")
	for _, res := range indexResults(r) {
		if !res.OK {
			p.Error(fmt.Sprintf("%s: %s", res.Law, res.Error))
			continue
		}
		if res.Removed {
			p.Warning(res.Law + ": sources deleted, index entry removed")
			continue
		}
		line := fmt.Sprintf("%s: %d act articles, %d corrected, %d penalty links", res.Law, res.ActArticles, res.Corrected, res.PenaltyLinks)
		if res.Ingested {
			line += ", ingested"
		}
		p.Success(line)
	}
}

func coverageResult(law string, cov category.Coverage, err error) CoverageResult {
	if err != nil {
		return CoverageResult{Law: law, Error: err.Error()}
	}
	return CoverageResult{
		Law:        law,
		OK:         cov.OK(),
		Total:      cov.Total,
		Unmapped:   cov.Unmapped,
		Duplicated: cov.Duplicated,
		Unknown:    cov.Unknown,
	}
}

func printCoverage(p *ux.Printer, results []CoverageResult) {
	p.Title("Coverage")
	for _, res := range results {
		switch {
		case res.Error != "":
			p.Error(fmt.Sprintf("%s: %s", res.Law, res.Error))
		case res.OK:
			p.Success(fmt.Sprintf("%s: %d articles, each in exactly one category", res.Law, res.Total))
		default:
			p.Warning(fmt.Sprintf("%s: %d unmapped, %d duplicated of %d", res.Law, len(res.Unmapped), len(res.Duplicated), res.Total))
			if len(res.Unmapped) > 0 {
				p.Info("unmapped: " + strings.Join(res.Unmapped, ", "))
			}
			nums := make([]string, 0, len(res.Duplicated))
			for num := range res.Duplicated {
				nums = append(nums, num)
			}
			slices.Sort(nums)
			for _, num := range nums {
				p.Info(fmt.Sprintf("duplicated: %s in %s", num, strings.Join(res.Duplicated[num], ", ")))
			}
		}
		if len(res.Unknown) > 0 {
			p.Warning(fmt.Sprintf("%s: core articles not in the Act: %s", res.Law, strings.Join(res.Unknown, ", ")))
		}
	}
}
