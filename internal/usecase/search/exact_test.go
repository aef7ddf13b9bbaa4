package search

import (
	"testing"

	"github.com/lexguard/matchengine/internal/domain"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		query string
		want  []string
	}{
		{"Запрещённая КНИГА", []string{"запрещённая", "книга"}},
		{"the forbidden book", []string{"forbidden", "book"}},
		{"и в на с", nil},
		{"ab cd", nil},
		{"win-32, вирус!", []string{"win", "вирус"}},
		{"", nil},
	}
	for _, tc := range cases {
		got := Tokenize(tc.query)
		if len(got) != len(tc.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tc.query, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("Tokenize(%q)[%d] = %q, want %q", tc.query, i, got[i], tc.want[i])
			}
		}
	}
}

func TestExactMatcher_OverlapScoring(t *testing.T) {
	docs := []domain.Document{
		{ID: 0, Text: "В продаже запрещённая книга автора"},
		{ID: 1, Text: "обычная книга рецептов"},
		{ID: 2, Text: "прогноз погоды"},
	}
	m := NewExactMatcher(0.3)

	got := m.Search("запрещённая книга", docs, 10)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].DocumentID != 0 || got[0].Score != 1.0 {
		t.Errorf("top = %+v, want document 0 with score 1.0", got[0])
	}
	if got[1].DocumentID != 1 || got[1].Score != 0.5 {
		t.Errorf("second = %+v, want document 1 with score 0.5", got[1])
	}
	for _, r := range got {
		if r.Provenance != domain.ProvenanceExact {
			t.Errorf("provenance = %q, want exact", r.Provenance)
		}
	}
}

func TestExactMatcher_MinOverlapCutoff(t *testing.T) {
	docs := []domain.Document{
		{ID: 0, Text: "первое слово"},
	}
	m := NewExactMatcher(0.6)

	// One of two query words matches: overlap 0.5 is below the cutoff.
	if got := m.Search("первое другое", docs, 10); len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestExactMatcher_CaseInsensitive(t *testing.T) {
	docs := []domain.Document{{ID: 0, Text: "ЗАПРЕЩЁННАЯ КНИГА"}}
	m := NewExactMatcher(0.3)

	got := m.Search("запрещённая книга", docs, 10)
	if len(got) != 1 || got[0].Score != 1.0 {
		t.Errorf("got = %+v, want full match", got)
	}
}

func TestExactMatcher_TopKTruncation(t *testing.T) {
	docs := make([]domain.Document, 10)
	for i := range docs {
		docs[i] = domain.Document{ID: i, Text: "общая фраза"}
	}
	m := NewExactMatcher(0.3)

	got := m.Search("общая фраза", docs, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Equal scores break ties by ascending ID.
	for i, r := range got {
		if r.DocumentID != i {
			t.Errorf("got[%d].DocumentID = %d, want %d", i, r.DocumentID, i)
		}
	}
}

func TestExactMatcher_HugeTopK(t *testing.T) {
	docs := []domain.Document{
		{ID: 0, Text: "запрещённая книга стихов"},
		{ID: 1, Text: "обычная книга"},
	}
	m := NewExactMatcher(0.3)

	// Result capacity must follow the registry size, not the caller's topK.
	got := m.Search("запрещённая книга", docs, 1<<60)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].DocumentID != 0 {
		t.Errorf("got[0].DocumentID = %d, want 0", got[0].DocumentID)
	}
}

func TestExactMatcher_StopwordOnlyQuery(t *testing.T) {
	docs := []domain.Document{{ID: 0, Text: "что как где"}}
	m := NewExactMatcher(0.3)
	if got := m.Search("что как где", docs, 10); got != nil {
		t.Errorf("got = %v, want nil for stopword-only query", got)
	}
}
