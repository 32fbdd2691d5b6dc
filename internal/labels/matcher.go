// File: internal/labels/matcher.go
package labels

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/similarity"
)

// Candidate is a catalog key ranked against a question label. Score is in
// [0, 1].
type Candidate struct {
	Key   string
	Score float64
}

// Matcher ranks catalog keys for a question label. Only candidates at or
// above the matcher's threshold are returned, best first.
type Matcher interface {
	Match(ctx context.Context, label string) ([]Candidate, error)
}

// Embedder maps texts to vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// LexicalMatcher scores labels with the option-ranking similarity.
type LexicalMatcher struct {
	catalog   *Catalog
	threshold float64
}

// NewLexicalMatcher builds a matcher over the catalog's phrases.
func NewLexicalMatcher(c *Catalog, threshold float64) *LexicalMatcher {
	return &LexicalMatcher{catalog: c, threshold: threshold}
}

func (m *LexicalMatcher) Match(_ context.Context, label string) ([]Candidate, error) {
	label = cleanLabel(label)
	if label == "" {
		return nil, nil
	}
	var out []Candidate
	for _, d := range m.catalog.defs {
		best := 0.0
		for _, p := range d.Phrases {
			best = math.Max(best, similarity.Score(label, p)/100)
		}
		if best >= m.threshold {
			out = append(out, Candidate{Key: d.Key, Score: best})
		}
	}
	sortCandidates(out)
	return out, nil
}

// EmbeddingMatcher compares label embeddings against pre-computed phrase
// embeddings by cosine similarity.
type EmbeddingMatcher struct {
	catalog   *Catalog
	embedder  Embedder
	threshold float64
	logger    *zap.Logger

	once    sync.Once
	initErr error
	phrases []phraseVector

	mu    sync.Mutex
	cache map[string][]float32
}

type phraseVector struct {
	key string
	vec []float32
}

// NewEmbeddingMatcher builds a matcher. Phrase embeddings are computed on
// first use or by Prepare.
func NewEmbeddingMatcher(c *Catalog, e Embedder, threshold float64, logger *zap.Logger) *EmbeddingMatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingMatcher{
		catalog:   c,
		embedder:  e,
		threshold: threshold,
		logger:    logger.Named("label_matcher"),
		cache:     make(map[string][]float32),
	}
}

// Prepare embeds every catalog phrase once.
func (m *EmbeddingMatcher) Prepare(ctx context.Context) error {
	m.once.Do(func() {
		var texts []string
		var keys []string
		for _, d := range m.catalog.defs {
			for _, p := range d.Phrases {
				texts = append(texts, p)
				keys = append(keys, d.Key)
			}
		}
		vecs, err := m.embedder.Embed(ctx, texts)
		if err != nil {
			m.initErr = fmt.Errorf("failed to embed label catalog: %w", err)
			return
		}
		m.phrases = make([]phraseVector, len(vecs))
		for i, v := range vecs {
			m.phrases[i] = phraseVector{key: keys[i], vec: v}
		}
		m.logger.Info("Label catalog embedded.", zap.Int("phrases", len(vecs)))
	})
	return m.initErr
}

func (m *EmbeddingMatcher) Match(ctx context.Context, label string) ([]Candidate, error) {
	label = cleanLabel(label)
	if label == "" {
		return nil, nil
	}
	if err := m.Prepare(ctx); err != nil {
		return nil, err
	}
	vec, err := m.embed(ctx, label)
	if err != nil {
		return nil, err
	}

	best := make(map[string]float64)
	for _, p := range m.phrases {
		s := cosine(vec, p.vec)
		if s > best[p.key] {
			best[p.key] = s
		}
	}
	var out []Candidate
	for key, s := range best {
		if s >= m.threshold {
			out = append(out, Candidate{Key: key, Score: s})
		}
	}
	sortCandidates(out)
	return out, nil
}

func (m *EmbeddingMatcher) embed(ctx context.Context, label string) ([]float32, error) {
	m.mu.Lock()
	v, ok := m.cache[label]
	m.mu.Unlock()
	if ok {
		return v, nil
	}
	vecs, err := m.embedder.Embed(ctx, []string{label})
	if err != nil {
		return nil, fmt.Errorf("failed to embed label %q: %w", label, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("failed to embed label %q: got %d vectors", label, len(vecs))
	}
	m.mu.Lock()
	m.cache[label] = vecs[0]
	m.mu.Unlock()
	return vecs[0], nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// sortCandidates orders by score, then key, so equal scores are stable.
func sortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Score != c[j].Score {
			return c[i].Score > c[j].Score
		}
		return c[i].Key < c[j].Key
	})
}

// cleanLabel drops required markers and surrounding noise.
func cleanLabel(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "*: ")
	return strings.TrimSpace(s)
}

// Keys returns the candidate keys in rank order.
func Keys(c []Candidate) []string {
	out := make([]string, len(c))
	for i, x := range c {
		out[i] = x.Key
	}
	return out
}

// NewMatcher picks the matcher named by kind ("lexical" or "embedding"). The
// embedding matcher needs an embedder; without one it falls back to the
// lexical matcher.
func NewMatcher(kind string, c *Catalog, e Embedder, threshold float64, logger *zap.Logger) Matcher {
	if kind == "embedding" && e != nil {
		return NewEmbeddingMatcher(c, e, threshold, logger)
	}
	if kind == "embedding" && logger != nil {
		logger.Warn("Embedding label matcher requested without an LLM client, using lexical matching.")
	}
	return NewLexicalMatcher(c, threshold)
}
