package catalog

import (
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"autogenius.dev/car-diagnostics/internal/utils"
)

// Common parts and symptoms that bias a free-text diagnosis toward catalog terms.
var boostTerms = []string{
	"headlight", "brake pads", "battery", "spark plugs",
	"oil filter", "tire", "coolant", "alternator", "belt",
	"sensor", "pump", "brake rotor", "fuse", "radiator",
}

// troubleCodePattern matches OBD-II powertrain codes such as P0420.
var troubleCodePattern = regexp.MustCompile(`\b[pP]\d{4}\b`)

// ExtractKeywords returns the boost terms and trouble codes found in text, space separated.
// Codes are returned exactly as written.
func ExtractKeywords(text string) string {
	lower := strings.ToLower(text)

	var keywords []string
	for _, term := range boostTerms {
		if strings.Contains(lower, term) {
			keywords = append(keywords, term)
		}
	}
	keywords = append(keywords, troubleCodePattern.FindAllString(text, -1)...)
	return strings.Join(keywords, " ")
}

// BoostQuery prepends the extracted keywords to the query.
func BoostQuery(query string) string {
	return ExtractKeywords(query) + " " + query
}

type indexState struct {
	products   []Product
	vectorizer *Vectorizer
	matrix     []utils.SparseVector
}

func (s *indexState) empty() bool {
	return s == nil || len(s.products) == 0 || s.vectorizer == nil
}

// Index is the process-wide TF-IDF index over the product catalog.
// It is built lazily on first use; concurrent first callers share a single build.
type Index struct {
	load  func() ([]Product, error)
	group singleflight.Group
	state atomic.Pointer[indexState]
}

// NewIndex returns an index over the CSV catalog at path. Nothing is read until first use.
func NewIndex(path string) *Index {
	return &Index{load: func() ([]Product, error) { return LoadFile(path) }}
}

// NewIndexFromProducts returns an index over an in-memory catalog.
func NewIndexFromProducts(products []Product) *Index {
	return &Index{load: func() ([]Product, error) { return products, nil }}
}

// Len returns the number of indexed products, building the index if needed.
func (idx *Index) Len() int {
	return len(idx.ensure().products)
}

// Reload rebuilds the index from the catalog and swaps it in as a whole.
// Concurrent Reload calls share one rebuild; a lazy first build in flight is not joined.
func (idx *Index) Reload() {
	_, _, _ = idx.group.Do("reload", func() (interface{}, error) {
		st := idx.build()
		idx.state.Store(st)
		return st, nil
	})
}

func (idx *Index) ensure() *indexState {
	if st := idx.state.Load(); st != nil {
		return st
	}
	v, _, _ := idx.group.Do("build", func() (interface{}, error) {
		if st := idx.state.Load(); st != nil {
			return st, nil
		}
		// A Reload that finished meanwhile wins over this build.
		idx.state.CompareAndSwap(nil, idx.build())
		return idx.state.Load(), nil
	})
	return v.(*indexState)
}

// build never fails: any error leaves an empty index behind.
func (idx *Index) build() *indexState {
	products, err := idx.load()
	if err != nil {
		log.Errorf("Error indexing product catalog: %v", err)
		return &indexState{}
	}
	if len(products) == 0 {
		log.Warn("Product catalog has no rows; recommendations disabled")
		return &indexState{}
	}

	corpus := make([]string, len(products))
	for i, p := range products {
		corpus[i] = p.SearchText()
	}

	vectorizer := NewVectorizer(DefaultVectorizerConfig())
	matrix, err := vectorizer.Fit(corpus)
	if err != nil {
		log.Errorf("Error building TF-IDF index: %v", err)
		return &indexState{}
	}

	log.Infof("Indexed %d products, %d features.", len(products), vectorizer.Features())
	return &indexState{products: products, vectorizer: vectorizer, matrix: matrix}
}

// Recommend returns the min(topK, catalog size) products most similar to query, best first.
// Equal scores, including zero, keep catalog order.
func (idx *Index) Recommend(query string, topK int) []Product {
	if topK <= 0 {
		return nil
	}
	st := idx.ensure()
	if st.empty() {
		log.Warn("No product data available for recommendations.")
		return nil
	}

	qv := st.vectorizer.Transform(BoostQuery(query))

	type scored struct {
		row   int
		score float64
	}
	ranked := make([]scored, len(st.matrix))
	for i, dv := range st.matrix {
		ranked[i] = scored{row: i, score: utils.CosineSimilarity(qv, dv)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	results := make([]Product, len(ranked))
	for i, r := range ranked {
		results[i] = st.products[r.row]
	}
	log.Debugf("Returning %d recommendations.", len(results))
	return results
}
