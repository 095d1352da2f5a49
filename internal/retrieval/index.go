// Package retrieval ranks schema tables against a natural-language
// question using a hybrid of BM25, TF-IDF cosine similarity, graph
// centrality, and keyword-mapping boosts.
package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/sqlward/sqlward/internal/schema"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75

	tfidfWeight      = 0.8
	centralityWeight = 0.3
	keywordBoost     = 2.0
)

// Match is one ranked table with its combined relevance score
type Match struct {
	Table string
	Score float64
}

// Index is the prebuilt retrieval index over a schema model. Built once
// at construction; safe for unsynchronized concurrent searches.
type Index struct {
	model *schema.Model

	tableNames []string // enumeration order, fixed at build
	docTokens  [][]string
	docCounts  []map[string]int
	docFreq    map[string]int // number of docs containing each term
	avgDocLen  float64

	tfidfVecs []map[string]float64 // l2-normalized per-doc vectors
	idf       map[string]float64
}

// NewIndex builds the retrieval index eagerly from the schema model
func NewIndex(model *schema.Model) *Index {
	idx := &Index{
		model:   model,
		docFreq: make(map[string]int),
		idf:     make(map[string]float64),
	}

	keywordTokens := make(map[string][]string)

	for keyword, tables := range model.KeywordMappings() {
		for _, table := range tables {
			keywordTokens[strings.ToLower(table)] = append(keywordTokens[strings.ToLower(table)], tokenize(keyword)...)
		}
	}

	var totalLen int

	for _, name := range model.TableNames() {
		table := model.GetTable(name)

		// Table name weighted highest, then description, columns,
		// example questions, and mapped keywords.
		tokens := []string{name, name, name}
		tokens = append(tokens, tokenize(table.Description)...)

		for _, col := range table.Columns {
			tokens = append(tokens, tokenize(col)...)
		}

		for _, ex := range table.Examples {
			tokens = append(tokens, tokenize(ex.Question)...)
		}

		tokens = append(tokens, keywordTokens[name]...)

		counts := make(map[string]int)
		for _, tok := range tokens {
			counts[tok]++
		}

		idx.tableNames = append(idx.tableNames, name)
		idx.docTokens = append(idx.docTokens, tokens)
		idx.docCounts = append(idx.docCounts, counts)

		totalLen += len(tokens)

		for term := range counts {
			idx.docFreq[term]++
		}
	}

	if len(idx.tableNames) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(idx.tableNames))
	}

	idx.buildTFIDF()

	return idx
}

var tokenPattern = regexp.MustCompile(`\w+`)

func tokenize(text string) []string {
	if text == "" {
		return nil
	}

	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// buildTFIDF precomputes l2-normalized TF-IDF vectors with smoothed IDF
func (idx *Index) buildTFIDF() {
	n := len(idx.tableNames)
	if n == 0 {
		return
	}

	for term, df := range idx.docFreq {
		idx.idf[term] = math.Log(float64(1+n)/float64(1+df)) + 1.0
	}

	for _, counts := range idx.docCounts {
		vec := make(map[string]float64, len(counts))

		// Accumulate in sorted term order so the float sum is
		// bit-identical across runs.
		terms := sortedTerms(counts)

		var norm float64

		for _, term := range terms {
			w := float64(counts[term]) * idx.idf[term]
			vec[term] = w
			norm += w * w
		}

		if norm > 0 {
			norm = math.Sqrt(norm)
			for term := range vec {
				vec[term] /= norm
			}
		}

		idx.tfidfVecs = append(idx.tfidfVecs, vec)
	}
}

func sortedTerms(counts map[string]int) []string {
	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}

	sort.Strings(terms)

	return terms
}

func (idx *Index) bm25Score(queryTokens []string, docIdx int) float64 {
	counts := idx.docCounts[docIdx]
	docLen := float64(len(idx.docTokens[docIdx]))
	n := float64(len(idx.tableNames))

	var score float64

	for _, term := range queryTokens {
		tf := float64(counts[term])
		if tf == 0 {
			continue
		}

		idf := math.Log(n / float64(idx.docFreq[term]))
		score += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*(1-bm25B+bm25B*(docLen/idx.avgDocLen)))
	}

	return score
}

func (idx *Index) tfidfScore(queryTokens []string, docIdx int) float64 {
	qCounts := make(map[string]int)
	for _, term := range queryTokens {
		qCounts[term]++
	}

	qVec := make(map[string]float64, len(qCounts))
	terms := sortedTerms(qCounts)

	var norm float64

	for _, term := range terms {
		idf, known := idx.idf[term]
		if !known {
			continue
		}

		w := float64(qCounts[term]) * idf
		qVec[term] = w
		norm += w * w
	}

	if norm == 0 {
		return 0
	}

	norm = math.Sqrt(norm)

	var sim float64

	docVec := idx.tfidfVecs[docIdx]
	for _, term := range terms {
		sim += (qVec[term] / norm) * docVec[term]
	}

	return sim
}

// keywordBoosts accumulates +2.0 per query token matching a configured
// keyword mapping. A token matches when either contains the other.
func (idx *Index) keywordBoosts(queryTokens []string) map[string]float64 {
	boosts := make(map[string]float64)

	for _, token := range queryTokens {
		for keyword, tables := range idx.model.KeywordMappings() {
			if strings.Contains(token, keyword) || strings.Contains(keyword, token) {
				for _, table := range tables {
					boosts[strings.ToLower(table)] += keywordBoost
				}
			}
		}
	}

	return boosts
}

// Search ranks tables against the question. Results below minScore are
// dropped; at most topK are returned, sorted by descending score with
// ties broken by index enumeration order.
func (idx *Index) Search(query string, topK int, minScore float64) []Match {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || len(idx.tableNames) == 0 {
		return nil
	}

	boosts := idx.keywordBoosts(queryTokens)

	var matches []Match

	for i, name := range idx.tableNames {
		score := idx.bm25Score(queryTokens, i) +
			tfidfWeight*idx.tfidfScore(queryTokens, i) +
			centralityWeight*idx.model.DegreeCentrality(name) +
			boosts[name]

		if score >= minScore {
			matches = append(matches, Match{Table: name, Score: score})
		}
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}

	return matches
}

// TablePriority returns the structural fallback priority of a table,
// used when lexical search finds nothing.
func TablePriority(name string) float64 {
	coreTables := map[string]bool{
		"entities":     true,
		"shipments":    true,
		"orders":       true,
		"users":        true,
		"locations":    true,
		"transactions": true,
	}

	lower := strings.ToLower(name)
	if coreTables[lower] {
		return 1.0
	}

	for _, indicator := range []string{"mapping", "preference", "setting", "tracking_code", "status_mapping"} {
		if strings.Contains(lower, indicator) {
			return 0.3
		}
	}

	for _, indicator := range []string{"master", "code", "status"} {
		if strings.Contains(lower, indicator) {
			return 0.2
		}
	}

	return 0.5
}

// FallbackTables returns up to limit tables ordered by structural
// priority, highest first, ties broken by name.
func (idx *Index) FallbackTables(limit int) []string {
	names := make([]string, len(idx.tableNames))
	copy(names, idx.tableNames)

	sort.SliceStable(names, func(a, b int) bool {
		pa, pb := TablePriority(names[a]), TablePriority(names[b])
		if pa != pb {
			return pa > pb
		}

		return names[a] < names[b]
	})

	if len(names) > limit {
		names = names[:limit]
	}

	return names
}
