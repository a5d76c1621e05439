package catalog

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"

	"autogenius.dev/car-diagnostics/internal/utils"
)

// VectorizerConfig mirrors the knobs of a classic word n-gram TF-IDF vectorizer.
type VectorizerConfig struct {
	MinN        int
	MaxN        int
	MaxFeatures int
	MinDF       int
	MaxDF       float64 // fraction of documents
	StopWords   map[string]struct{}
}

func DefaultVectorizerConfig() VectorizerConfig {
	return VectorizerConfig{
		MinN:        1,
		MaxN:        3,
		MaxFeatures: 10000,
		MinDF:       1,
		MaxDF:       0.95,
		StopWords:   englishStopWords(),
	}
}

// Vectorizer builds a vocabulary of word n-grams from a corpus and computes
// smoothed IDF weights. Vectors are L2 normalized.
type Vectorizer struct {
	cfg          VectorizerConfig
	tokenPattern *regexp.Regexp
	vocabulary   map[string]int
	idf          []float64
}

func NewVectorizer(cfg VectorizerConfig) *Vectorizer {
	if cfg.MinN < 1 {
		cfg.MinN = 1
	}
	if cfg.MaxN < cfg.MinN {
		cfg.MaxN = cfg.MinN
	}
	return &Vectorizer{
		cfg:          cfg,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}_]{2,}`),
	}
}

var errNoTerms = errors.New("after pruning, no terms remain")

// Fit learns the vocabulary and IDF from corpus and returns one vector per document,
// in corpus order.
func (v *Vectorizer) Fit(corpus []string) ([]utils.SparseVector, error) {
	if len(corpus) == 0 {
		return nil, errors.New("empty corpus for TF-IDF fit")
	}

	docTerms := make([]map[string]int, len(corpus))
	df := make(map[string]int)
	total := make(map[string]int)
	for i, text := range corpus {
		counts := make(map[string]int)
		for _, term := range v.analyze(text) {
			counts[term]++
		}
		for term, c := range counts {
			df[term]++
			total[term] += c
		}
		docTerms[i] = counts
	}

	n := float64(len(corpus))
	maxDocCount := v.cfg.MaxDF * n
	if v.cfg.MaxDF <= 0 {
		maxDocCount = n
	}
	if maxDocCount < float64(v.cfg.MinDF) {
		return nil, errors.New("max_df corresponds to fewer documents than min_df")
	}

	terms := make([]string, 0, len(df))
	for term, count := range df {
		if float64(count) > maxDocCount || count < v.cfg.MinDF {
			continue
		}
		terms = append(terms, term)
	}
	if len(terms) == 0 {
		return nil, errNoTerms
	}

	if v.cfg.MaxFeatures > 0 && len(terms) > v.cfg.MaxFeatures {
		sort.Slice(terms, func(i, j int) bool {
			if total[terms[i]] != total[terms[j]] {
				return total[terms[i]] > total[terms[j]]
			}
			return terms[i] < terms[j]
		})
		terms = terms[:v.cfg.MaxFeatures]
	}

	// Stable ordering for vocabulary
	sort.Strings(terms)
	v.vocabulary = make(map[string]int, len(terms))
	v.idf = make([]float64, len(terms))
	for i, term := range terms {
		v.vocabulary[term] = i
		v.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}

	matrix := make([]utils.SparseVector, len(corpus))
	for i, counts := range docTerms {
		matrix[i] = v.weigh(counts)
	}
	return matrix, nil
}

// Transform projects text into the fitted space. Unknown terms are ignored.
func (v *Vectorizer) Transform(text string) utils.SparseVector {
	if v.vocabulary == nil {
		return utils.SparseVector{}
	}
	counts := make(map[string]int)
	for _, term := range v.analyze(text) {
		counts[term]++
	}
	return v.weigh(counts)
}

// Features returns the vocabulary size.
func (v *Vectorizer) Features() int { return len(v.vocabulary) }

func (v *Vectorizer) weigh(counts map[string]int) utils.SparseVector {
	vec := make(utils.SparseVector, len(counts))
	for term, c := range counts {
		if idx, ok := v.vocabulary[term]; ok {
			vec[idx] = float64(c) * v.idf[idx]
		}
	}
	utils.Normalize(vec)
	return vec
}

// analyze tokenizes, drops stop words and expands the remaining tokens into n-grams.
func (v *Vectorizer) analyze(text string) []string {
	raw := v.tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := raw[:0]
	for _, tok := range raw {
		if _, stop := v.cfg.StopWords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}

	var out []string
	for size := v.cfg.MinN; size <= v.cfg.MaxN; size++ {
		for start := 0; start+size <= len(tokens); start++ {
			out = append(out, strings.Join(tokens[start:start+size], " "))
		}
	}
	return out
}
