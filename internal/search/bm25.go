package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"openpalace/internal/component"
	"openpalace/internal/scratch"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type bm25Doc struct {
	doc
	terms    map[string]int
	length   int
}

// BM25Backend is an in-process inverted index scored with classic BM25,
// built the way the teacher's internal/retrieval.SparseRetriever builds
// and caches its in-memory keyword index, but scored instead of used for
// ripgrep hit-counting (spec.md §4.9 "Embedded-BM25").
type BM25Backend struct {
	components *component.Store
	scratch    *scratch.Pad

	mu      sync.Mutex
	docs    []bm25Doc
	df      map[string]int
	avgLen  float64
	built   bool
}

// NewBM25Backend returns a BM25Backend over components and pad. It is
// always available (pure Go, no external process).
func NewBM25Backend(components *component.Store, pad *scratch.Pad) *BM25Backend {
	return &BM25Backend{components: components, scratch: pad, df: make(map[string]int)}
}

func (b *BM25Backend) Name() string    { return "bm25" }
func (b *BM25Backend) Available() bool { return true }

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// Reindex rebuilds the index from scratch.
func (b *BM25Backend) Reindex(ctx context.Context) (int, error) {
	docs, err := buildCorpus(b.components, b.scratch)
	if err != nil {
		return 0, err
	}

	df := make(map[string]int)
	built := make([]bm25Doc, 0, len(docs))
	totalLen := 0
	for _, d := range docs {
		terms := make(map[string]int)
		tokens := tokenize(d.content)
		for _, t := range tokens {
			terms[t]++
		}
		for t := range terms {
			df[t]++
		}
		built = append(built, bm25Doc{doc: d, terms: terms, length: len(tokens)})
		totalLen += len(tokens)
	}

	avgLen := 0.0
	if len(built) > 0 {
		avgLen = float64(totalLen) / float64(len(built))
	}

	b.mu.Lock()
	b.docs = built
	b.df = df
	b.avgLen = avgLen
	b.built = true
	b.mu.Unlock()

	return len(built), nil
}

// Search scores documents with classic BM25 (k1=1.2, b=0.75), building
// the index lazily on first use.
func (b *BM25Backend) Search(ctx context.Context, query, scope string, limit int) ([]Result, error) {
	b.mu.Lock()
	built := b.built
	b.mu.Unlock()
	if !built {
		if _, err := b.Reindex(ctx); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	docs := b.docs
	df := b.df
	avgLen := b.avgLen
	n := len(docs)
	b.mu.Unlock()

	terms := tokenize(query)
	if len(terms) == 0 || n == 0 {
		return nil, nil
	}

	idf := make(map[string]float64, len(terms))
	for _, t := range terms {
		freq := df[t]
		idf[t] = math.Log(1 + (float64(n)-float64(freq)+0.5)/(float64(freq)+0.5))
	}

	var results []Result
	for _, d := range docs {
		if !matchesScope(d.component, scope) {
			continue
		}
		score := 0.0
		for _, t := range terms {
			tf := float64(d.terms[t])
			if tf == 0 {
				continue
			}
			denom := tf + bm25K1*(1-bm25B+bm25B*float64(d.length)/avgLen)
			score += idf[t] * (tf * (bm25K1 + 1) / denom)
		}
		if score <= 0 {
			continue
		}
		results = append(results, Result{
			ID:        d.id,
			Content:   d.content,
			Source:    d.source,
			Score:     score,
			Component: d.component,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
