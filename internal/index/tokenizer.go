package index

import (
	"sort"
	"strings"
)

// Tokenize expands a normalized title into its index token set: every whole
// word plus overlapping character n-grams of length 2 and 3 per word. The
// result is deduplicated and sorted for deterministic diffs.
func Tokenize(normalized string) []string {
	words := strings.Fields(normalized)
	if len(words) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(words)*4)
	for _, word := range words {
		seen[word] = struct{}{}
		for _, gram := range ngrams(word, 2) {
			seen[gram] = struct{}{}
		}
		for _, gram := range ngrams(word, 3) {
			seen[gram] = struct{}{}
		}
	}

	tokens := make([]string, 0, len(seen))
	for token := range seen {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// WordTokens returns only the whole-word tokens of a normalized title. The
// spell-correction vocabulary is built from these; n-grams would drown it in
// two-letter noise.
func WordTokens(normalized string) []string {
	return strings.Fields(normalized)
}

func ngrams(word string, size int) []string {
	runes := []rune(word)
	if len(runes) <= size {
		return nil
	}
	grams := make([]string, 0, len(runes)-size+1)
	for i := 0; i+size <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+size]))
	}
	return grams
}

// diffTokens splits prior and next token sets into the tokens gained and the
// tokens lost. Both inputs must be deduplicated.
func diffTokens(prior, next []string) (added, removed []string) {
	priorSet := make(map[string]struct{}, len(prior))
	for _, token := range prior {
		priorSet[token] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, token := range next {
		nextSet[token] = struct{}{}
		if _, ok := priorSet[token]; !ok {
			added = append(added, token)
		}
	}
	for _, token := range prior {
		if _, ok := nextSet[token]; !ok {
			removed = append(removed, token)
		}
	}
	return added, removed
}
