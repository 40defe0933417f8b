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
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLex/services/llm"
	"github.com/AleutianAI/AleutianLex/services/statute/article"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len([]rune(t)))}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text))}, nil
}

type fakeStore struct {
	docs     []Document
	searches []Filter
	limits   []int
	put      []Chunk
	deleted  []string
	err      error
}

func (f *fakeStore) Search(_ context.Context, _ []float32, flt Filter, limit int) ([]Document, error) {
	f.searches = append(f.searches, flt)
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	var out []Document
	for _, d := range f.docs {
		if flt.Tier != "" && d.Metadata.Tier != flt.Tier {
			continue
		}
		if flt.Law != "" && d.Metadata.Law != flt.Law {
			continue
		}
		if len(flt.ArticleNumbers) > 0 && !contains(flt.ArticleNumbers, d.Metadata.ArticleNumber) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) Put(_ context.Context, chunks []Chunk) (int, error) {
	f.put = append(f.put, chunks...)
	return len(chunks), f.err
}

func (f *fakeStore) DeleteLaw(_ context.Context, law string) error {
	f.deleted = append(f.deleted, law)
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func doc(num string, tier article.Tier) Document {
	return Document{Text: num, Metadata: Metadata{ArticleNumber: num, Tier: tier, Law: "근로기준법"}}
}

func TestArticleInQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"제23조 해고 제한", "23"},
		{"23조가 궁금해요", "23"},
		{"제 36 조", "36"},
		{"부당해고를 당했어요", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ArticleInQuery(tt.in), tt.in)
	}
}

func TestVectorRetriever_ActFirstAndTrim(t *testing.T) {
	store := &fakeStore{docs: []Document{
		doc("23", article.Decree),
		doc("23", article.Act),
		doc("24", article.Rule),
		doc("24", article.Act),
	}}
	r := NewVectorRetriever(&fakeEmbedder{}, store, nil, nil)

	docs, err := r.Retrieve(context.Background(), Query{Text: "해고 예고", K: 3})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, article.Act, docs[0].Metadata.Tier)
	assert.Equal(t, article.Act, docs[1].Metadata.Tier)
	assert.Equal(t, "23", docs[0].Metadata.ArticleNumber, "stable within tier")
	assert.Equal(t, []int{9}, store.limits)
	assert.Equal(t, []string{"23", "24"}, Numbers(docs))
}

func TestVectorRetriever_ExactArticleOverride(t *testing.T) {
	store := &fakeStore{docs: []Document{doc("23", article.Act), doc("24", article.Act)}}
	r := NewVectorRetriever(&fakeEmbedder{}, store, nil, nil)

	docs, err := r.Retrieve(context.Background(), Query{Text: "제24조 내용", Law: "근로기준법"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "24", docs[0].Metadata.ArticleNumber)
	require.Len(t, store.searches, 1)
	assert.Equal(t, []string{"24"}, store.searches[0].ArticleNumbers)
	assert.Equal(t, "근로기준법", store.searches[0].Law)
}

func TestVectorRetriever_ExactArticleFallsBack(t *testing.T) {
	store := &fakeStore{docs: []Document{doc("23", article.Act)}}
	r := NewVectorRetriever(&fakeEmbedder{}, store, nil, nil)

	docs, err := r.Retrieve(context.Background(), Query{Text: "제99조"})
	require.NoError(t, err)
	require.Len(t, store.searches, 2)
	assert.Empty(t, store.searches[1].ArticleNumbers)
	assert.Len(t, docs, 1)
}

func TestVectorRetriever_ExplicitNumbers(t *testing.T) {
	store := &fakeStore{docs: []Document{doc("23", article.Act), doc("24", article.Decree), doc("60", article.Act)}}
	r := NewVectorRetriever(&fakeEmbedder{}, store, nil, nil)

	docs, err := r.Retrieve(context.Background(), Query{Text: "제60조", ArticleNumbers: []string{"23", "24"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"23", "24"}, Numbers(docs))
	require.Len(t, store.searches, 1)
}

func TestVectorRetriever_Errors(t *testing.T) {
	transport := errors.New("connection refused")

	_, err := NewVectorRetriever(&fakeEmbedder{err: transport}, &fakeStore{}, nil, nil).
		Retrieve(context.Background(), Query{Text: "x"})
	var ext *llm.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "embed", ext.Op)
	assert.ErrorIs(t, err, transport)

	_, err = NewVectorRetriever(&fakeEmbedder{}, &fakeStore{err: transport}, nil, nil).
		Retrieve(context.Background(), Query{Text: "x"})
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "search", ext.Op)
}

func TestDocumentString(t *testing.T) {
	d := Document{Metadata: Metadata{Law: "근로기준법", ArticleNumber: "76의2"}}
	assert.Equal(t, "[근로기준법] 제76조의2", d.String())
	d.Metadata.Article = "제76조의2(직장 내 괴롭힘의 금지)"
	assert.Equal(t, "[근로기준법] 제76조의2(직장 내 괴롭힘의 금지)", d.String())
}

func TestIngester_Chunks(t *testing.T) {
	in := NewIngester(&fakeEmbedder{}, &fakeStore{}, 200, 20, 2, nil)
	long := strings.Repeat("사용자는 근로자에게 임금을 지급하여야 한다.\n", 20)
	arts := []article.Article{
		{Number: "43", Tier: article.Act, Title: "임금 지급", Header: "제43조(임금 지급)", Body: "임금은 통화로 지급한다.", Source: "/data/근로기준법(법률).md"},
		{Number: "23", Tier: article.Decree, Title: "매월 지급", Header: "제23조(매월 지급)", Body: long},
		{Number: "1", Tier: article.Act, Header: "제1조(시행일)", Body: "공포한 날부터 시행한다.", Addendum: true},
	}

	chunks, err := in.Chunks("근로기준법", arts)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	first := chunks[0]
	assert.True(t, strings.HasPrefix(first.Text, "근로기준법 법률 > 제43조(임금 지급)\n"))
	assert.Equal(t, "43", first.Metadata.ArticleNumber)
	assert.Equal(t, "근로기준법(법률).md", first.Metadata.Source)
	assert.Equal(t, "임금 지급", first.Metadata.Title)

	ids := map[string]bool{}
	for _, c := range chunks {
		assert.NotEqual(t, "1", c.Metadata.ArticleNumber, "addendum skipped")
		assert.False(t, ids[c.ID], "unique id")
		ids[c.ID] = true
		if c.Metadata.ArticleNumber == "23" {
			assert.True(t, strings.HasPrefix(c.Text, "근로기준법 시행령 > 제23조(매월 지급)"))
		}
	}

	again, err := in.Chunks("근로기준법", arts)
	require.NoError(t, err)
	assert.Equal(t, chunks[0].ID, again[0].ID, "ids are deterministic")
}

func TestIngester_IngestLaw(t *testing.T) {
	var arts []article.Article
	for i := 1; i <= 70; i++ {
		n := strings.Repeat("가", i%7+1)
		arts = append(arts, article.Article{Number: string(rune('0' + i%10)), Tier: article.Act, Header: "제조", Body: n})
	}
	emb := &fakeEmbedder{}
	store := &fakeStore{}
	in := NewIngester(emb, store, 1000, 100, 3, nil)

	rep, err := in.IngestLaw(context.Background(), "근로기준법", arts)
	require.NoError(t, err)
	assert.Equal(t, 70, rep.Articles)
	assert.Equal(t, 70, rep.Chunks)
	assert.Equal(t, 70, rep.Stored)
	assert.Equal(t, []string{"근로기준법"}, store.deleted)
	assert.Equal(t, 3, emb.calls, "70 chunks in batches of 32")
	for _, c := range store.put {
		require.Len(t, c.Vector, 1)
		assert.Equal(t, float32(len([]rune(c.Text))), c.Vector[0])
	}
}

func TestIngester_EmbedFailureKeepsStore(t *testing.T) {
	store := &fakeStore{}
	in := NewIngester(&fakeEmbedder{err: errors.New("ollama down")}, store, 1000, 100, 2, nil)

	_, err := in.IngestLaw(context.Background(), "근로기준법", []article.Article{{Number: "1", Tier: article.Act, Header: "제1조", Body: "목적"}})
	require.Error(t, err)
	assert.Empty(t, store.deleted, "existing chunks are kept when embedding fails")
	assert.Empty(t, store.put)
}

func TestIngester_RemoveLaw(t *testing.T) {
	store := &fakeStore{}
	in := NewIngester(&fakeEmbedder{}, store, 1000, 100, 1, nil)

	require.NoError(t, in.RemoveLaw(context.Background(), "최저임금법"))
	assert.Equal(t, []string{"최저임금법"}, store.deleted)
	assert.Empty(t, store.put)
}

func TestBuildWhere(t *testing.T) {
	assert.Nil(t, buildWhere(Filter{}))
	assert.NotNil(t, buildWhere(Filter{Law: "근로기준법"}))
	assert.NotNil(t, buildWhere(Filter{Law: "근로기준법", Tier: article.Act, ArticleNumbers: []string{"1", "2"}}))
}
