// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLex/services/retrieval"
	"github.com/AleutianAI/AleutianLex/services/statute/article"
	"github.com/AleutianAI/AleutianLex/services/statute/category"
	"github.com/AleutianAI/AleutianLex/services/statute/store"
	"github.com/AleutianAI/AleutianLex/services/statute/version"
)

const actText = `# 근로기준법
## 제1장 총칙
#### [법률] 제1조(목적)
이 법은 근로조건의 기준을 정한다.
#### [법률] 제2조(정의)
이 법에서 사용하는 용어의 뜻은 다음과 같다.
## 제3장 임금
#### [법률] 제43조(임금 지급)
임금은 통화로 직접 근로자에게 그 전액을 지급하여야 한다.
## 제12장 벌칙
#### [법률] 제109조(벌칙)
제43조를 위반한 자는 3년 이하의 징역에 처한다.
`

const decreeText = `# 근로기준법 시행령
#### [시행령] 제23조(매월 1회 이상 지급하여야 할 임금의 예외)
법 제43조제2항 단서에서 "임시로 지급하는 임금"이란 다음 각 호를 말한다.
`

type fakeClassifier struct {
	skeleton []category.Category
	err      error
	calls    int
}

func (f *fakeClassifier) Skeleton(context.Context, string, []article.Article) ([]category.Category, error) {
	f.calls++
	return f.skeleton, f.err
}

func (f *fakeClassifier) Assign(context.Context, string, article.Tier, []category.Category, []article.Article) ([]category.Assignment, error) {
	return nil, nil
}

type fakeIngester struct {
	err     error
	laws    []string
	removed []string
	count   int
}

func (f *fakeIngester) RemoveLaw(_ context.Context, law string) error {
	f.removed = append(f.removed, law)
	return f.err
}

func (f *fakeIngester) IngestLaw(_ context.Context, law string, arts []article.Article) (retrieval.IngestReport, error) {
	f.laws = append(f.laws, law)
	f.count = len(arts)
	return retrieval.IngestReport{Law: law, Articles: len(arts)}, f.err
}

type fixture struct {
	lawsDir  string
	store    *store.Store
	tracker  *version.Tracker
	cls      *fakeClassifier
	ingester *fakeIngester
	ix       *Indexer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	lawsDir := filepath.Join(root, "laws")
	require.NoError(t, os.MkdirAll(lawsDir, 0o755))
	writeLaw(t, lawsDir, "근로기준법(법률).md", actText)
	writeLaw(t, lawsDir, "근로기준법(시행령).md", decreeText)

	f := &fixture{
		lawsDir: lawsDir,
		store:   store.New(filepath.Join(root, "law_index.json")),
		tracker: version.NewTracker(lawsDir, filepath.Join(root, "versions.json"), version.StrategySHA256, nil),
		cls: &fakeClassifier{skeleton: []category.Category{
			{Key: "general", Name: "총칙", StartNum: 1, EndNum: 14},
			{Key: "wage", Name: "임금", StartNum: 15, EndNum: 120},
		}},
		ingester: &fakeIngester{},
	}
	f.ix = New(Options{
		LawsDir:       lawsDir,
		PenaltyCutoff: func(string) int { return 107 },
	}, f.tracker, f.store, f.cls, f.ingester)
	return f
}

func writeLaw(t *testing.T, dir, name, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644))
}

func TestRun_BuildsChangedLawsOnce(t *testing.T) {
	f := newFixture(t)

	report, err := f.ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, "근로기준법", res.Law)
	assert.Equal(t, 4, res.Build.ActArticles)
	assert.Nil(t, res.Build.Gap)
	assert.Equal(t, 1, res.Penalty.Clauses)
	assert.Equal(t, 1, res.Penalty.Links)
	assert.True(t, res.Ingested)
	assert.Equal(t, []string{"근로기준법"}, f.ingester.laws)
	assert.Equal(t, 5, f.ingester.count, "act and decree articles are ingested")
	assert.Empty(t, report.Failed())

	u, err := f.store.Load()
	require.NoError(t, err)
	idx, err := u.Law("근로기준법")
	require.NoError(t, err)
	wage, ok := idx.Category("wage")
	require.True(t, ok)
	assert.Contains(t, wage.PenaltyArticles, article.Ref{Num: "109", Type: article.Act})
	assert.Equal(t, "근로기준법 총칙 및 적용범위(제1조~제14조)", idx.FoundationalQuery)

	again, err := f.ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, 1, f.cls.calls, "unchanged sources are not rebuilt")
}

func TestRun_ForceRebuilds(t *testing.T) {
	f := newFixture(t)
	_, err := f.ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	report, err := f.ix.Run(context.Background(), RunOptions{Force: true})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.NoError(t, report.Results[0].Err)
	assert.Equal(t, 2, f.cls.calls)
}

func TestRun_LawFilter(t *testing.T) {
	f := newFixture(t)
	report, err := f.ix.Run(context.Background(), RunOptions{Laws: []string{"최저임금법"}})
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Zero(t, f.cls.calls)
}

func TestRun_FailureIsRetried(t *testing.T) {
	f := newFixture(t)
	f.ingester.err = errors.New("weaviate down")

	report, err := f.ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"근로기준법"}, report.Failed())
	assert.ErrorContains(t, report.Results[0].Err, "weaviate down")

	diff, err := f.tracker.Diff()
	require.NoError(t, err)
	assert.Len(t, diff.Changed, 2, "failed law is not committed")

	f.ingester.err = nil
	report, err = f.ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.NoError(t, report.Results[0].Err)

	diff, err = f.tracker.Diff()
	require.NoError(t, err)
	assert.True(t, diff.Empty())
}

func TestRun_ClassifierErrorKeepsStore(t *testing.T) {
	f := newFixture(t)
	f.cls.err = errors.New("llm timeout")

	report, err := f.ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Error(t, report.Results[0].Err)
	assert.Empty(t, f.ingester.laws)
	_, statErr := os.Stat(f.store.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_DeletedLawIsRemoved(t *testing.T) {
	f := newFixture(t)
	writeLaw(t, f.lawsDir, "최저임금법(법률).md", actText)
	report, err := f.ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Empty(t, report.Failed())

	require.NoError(t, os.Remove(filepath.Join(f.lawsDir, "최저임금법(법률).md")))
	calls := f.cls.calls

	report, err = f.ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, "최저임금법", res.Law)
	assert.NoError(t, res.Err)
	assert.True(t, res.Removed)
	assert.Empty(t, report.Failed())
	assert.Equal(t, calls, f.cls.calls, "a deleted law is not rebuilt")
	assert.Equal(t, []string{"최저임금법"}, f.ingester.removed)

	u, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"근로기준법"}, u.LawNames())

	diff, err := f.tracker.Diff()
	require.NoError(t, err)
	assert.True(t, diff.Empty(), "removal is committed")

	again, err := f.ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, again.Skipped)
}

func TestIndexLaw_NoActText(t *testing.T) {
	f := newFixture(t)
	writeLaw(t, f.lawsDir, "최저임금법(시행령).md", decreeText)

	res := f.ix.IndexLaw(context.Background(), "최저임금법")
	assert.ErrorIs(t, res.Err, ErrNoActText)
}

func TestCoverage(t *testing.T) {
	f := newFixture(t)
	_, err := f.ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	cov, err := f.ix.Coverage("근로기준법")
	require.NoError(t, err)
	assert.True(t, cov.OK())
	assert.Equal(t, 4, cov.Total)

	_, err = f.ix.Coverage("없는법")
	assert.Error(t, err)
}
