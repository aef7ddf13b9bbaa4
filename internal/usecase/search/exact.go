package search

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lexguard/matchengine/internal/domain"
)

// Russian and English filler words excluded from overlap scoring.
var stopwords = map[string]struct{}{
	"и": {}, "в": {}, "на": {}, "с": {}, "по": {}, "для": {}, "от": {},
	"до": {}, "из": {}, "за": {}, "о": {}, "об": {}, "а": {}, "но": {},
	"или": {}, "что": {}, "как": {}, "где": {}, "когда": {},
	"the": {}, "and": {}, "for": {}, "with": {}, "not": {},
}

// ExactMatcher scores documents by keyword overlap with the query, no
// vector math involved. O(documents × query words) per call; acceptable as
// the first, usually short-circuiting, pass of the hybrid search.
type ExactMatcher struct {
	minOverlap float64
}

// NewExactMatcher creates a matcher that keeps documents whose overlap
// fraction reaches minOverlap.
func NewExactMatcher(minOverlap float64) *ExactMatcher {
	return &ExactMatcher{minOverlap: minOverlap}
}

// Search returns up to topK documents by descending overlap fraction
// (matched query words / total query words), tagged as exact matches.
func (m *ExactMatcher) Search(query string, docs []domain.Document, topK int) []domain.SearchResult {
	words := Tokenize(query)
	if len(words) == 0 || topK <= 0 {
		return nil
	}

	results := make([]domain.SearchResult, 0, min(topK, len(docs)))
	for _, doc := range docs {
		text := strings.ToLower(doc.Text)
		matched := 0
		for _, w := range words {
			if strings.Contains(text, w) {
				matched++
			}
		}
		score := float64(matched) / float64(len(words))
		if score < m.minOverlap {
			continue
		}
		results = append(results, domain.SearchResult{
			DocumentID: doc.ID,
			Text:       doc.Text,
			Score:      score,
			Metadata:   doc.Metadata,
			Provenance: domain.ProvenanceExact,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocumentID < results[j].DocumentID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Tokenize lowercases the query and extracts words of three or more runes,
// dropping stopwords.
func Tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := make([]string, 0, len(fields))
	for _, w := range fields {
		if utf8.RuneCountInString(w) < 3 {
			continue
		}
		if _, ok := stopwords[w]; ok {
			continue
		}
		words = append(words, w)
	}
	return words
}
