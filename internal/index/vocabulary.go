package index

import "sync"

// Vocabulary is the in-memory set of word tokens present in the index,
// reference-counted so removing one record does not evict a token other
// records still use. The search engine restricts spell correction to tokens
// found here.
type Vocabulary struct {
	mu     sync.RWMutex
	counts map[string]int
}

func NewVocabulary() *Vocabulary {
	return &Vocabulary{counts: make(map[string]int)}
}

func (v *Vocabulary) Add(tokens ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, token := range tokens {
		if token == "" {
			continue
		}
		v.counts[token]++
	}
}

func (v *Vocabulary) Remove(tokens ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, token := range tokens {
		count, ok := v.counts[token]
		if !ok {
			continue
		}
		if count <= 1 {
			delete(v.counts, token)
			continue
		}
		v.counts[token] = count - 1
	}
}

func (v *Vocabulary) Contains(token string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.counts[token]
	return ok
}

func (v *Vocabulary) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.counts)
}

// Tokens snapshots the vocabulary. Callers own the returned slice.
func (v *Vocabulary) Tokens() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	tokens := make([]string, 0, len(v.counts))
	for token := range v.counts {
		tokens = append(tokens, token)
	}
	return tokens
}
