package index

import (
	"reflect"
	"sort"
	"testing"
)

// ---------------------------------------------------------------------------
// Tokenize
// ---------------------------------------------------------------------------

func TestTokenizeWordsAndGrams(t *testing.T) {
	tokens := Tokenize("dune 2021")

	want := map[string]bool{
		"dune": true, "2021": true,
		"du": true, "un": true, "ne": true,
		"dun": true, "une": true,
		"20": true, "02": true, "21": true,
		"202": true, "021": true,
	}
	if len(tokens) != len(want) {
		t.Fatalf("Tokenize returned %d tokens %v, want %d", len(tokens), tokens, len(want))
	}
	for _, token := range tokens {
		if !want[token] {
			t.Errorf("unexpected token %q", token)
		}
	}
	if !sort.StringsAreSorted(tokens) {
		t.Errorf("tokens not sorted: %v", tokens)
	}
}

func TestTokenizeShortWordsSkipGrams(t *testing.T) {
	// N-grams are only emitted when strictly shorter than the word, so a
	// two-letter word contributes just itself.
	tokens := Tokenize("up")
	if !reflect.DeepEqual(tokens, []string{"up"}) {
		t.Fatalf("Tokenize(\"up\") = %v, want [up]", tokens)
	}

	tokens = Tokenize("ego")
	want := []string{"eg", "ego", "go"}
	if !reflect.DeepEqual(tokens, want) {
		t.Fatalf("Tokenize(\"ego\") = %v, want %v", tokens, want)
	}
}

func TestTokenizeEmpty(t *testing.T) {
	if tokens := Tokenize(""); tokens != nil {
		t.Fatalf("Tokenize(\"\") = %v, want nil", tokens)
	}
}

func TestTokenizeDeterministic(t *testing.T) {
	first := Tokenize("the matrix reloaded")
	for i := 0; i < 5; i++ {
		if next := Tokenize("the matrix reloaded"); !reflect.DeepEqual(first, next) {
			t.Fatalf("run %d differs: %v vs %v", i, first, next)
		}
	}
}

// ---------------------------------------------------------------------------
// diffTokens
// ---------------------------------------------------------------------------

func TestDiffTokens(t *testing.T) {
	tests := []struct {
		name        string
		prior, next []string
		added       []string
		removed     []string
	}{
		{"disjoint", []string{"a", "b"}, []string{"c"}, []string{"c"}, []string{"a", "b"}},
		{"identical", []string{"a", "b"}, []string{"a", "b"}, nil, nil},
		{"from empty", nil, []string{"x"}, []string{"x"}, nil},
		{"to empty", []string{"x"}, nil, nil, []string{"x"}},
		{"overlap", []string{"a", "b", "c"}, []string{"b", "c", "d"}, []string{"d"}, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, removed := diffTokens(tt.prior, tt.next)
			if !reflect.DeepEqual(added, tt.added) {
				t.Errorf("added = %v, want %v", added, tt.added)
			}
			if !reflect.DeepEqual(removed, tt.removed) {
				t.Errorf("removed = %v, want %v", removed, tt.removed)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Vocabulary
// ---------------------------------------------------------------------------

func TestVocabularyRefCounting(t *testing.T) {
	v := NewVocabulary()
	v.Add("dune", "matrix")
	v.Add("dune")

	if !v.Contains("dune") || !v.Contains("matrix") {
		t.Fatal("vocabulary missing added tokens")
	}

	// One of two references removed, token survives.
	v.Remove("dune")
	if !v.Contains("dune") {
		t.Fatal("token evicted while still referenced")
	}

	v.Remove("dune")
	if v.Contains("dune") {
		t.Fatal("token survived last reference removal")
	}
	if v.Len() != 1 {
		t.Fatalf("Len = %d, want 1", v.Len())
	}
}

func TestVocabularyRemoveUnknown(t *testing.T) {
	v := NewVocabulary()
	v.Remove("ghost")
	if v.Len() != 0 {
		t.Fatalf("Len = %d after removing unknown token", v.Len())
	}
}
