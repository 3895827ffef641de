// Package search ranks indexed records against free-text queries, with
// vocabulary-restricted spell correction when the literal query matches
// nothing useful.
package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"mediaindex/internal/cache"
	"mediaindex/internal/domain"
	"mediaindex/internal/extract"
	"mediaindex/internal/index"
	"mediaindex/internal/metrics"
	"mediaindex/internal/storage"
)

const (
	defaultMaxCandidates  = 500
	defaultFuzzyThreshold = 0.5
	maxEditDistance       = 2
)

// RecordSource resolves fingerprints to records. Satisfied by the cache.
type RecordSource interface {
	GetRecord(ctx context.Context, fp domain.Fingerprint) (domain.MediaRecord, error)
}

// QueryCache stores whole ranked result pages. Satisfied by the cache.
type QueryCache interface {
	GetQuery(ctx context.Context, key string) (domain.QueryResult, bool)
	SetQuery(ctx context.Context, key string, result domain.QueryResult)
}

type Config struct {
	// MaxCandidates bounds how many fingerprints one query pulls from the
	// token index before ranking.
	MaxCandidates int
	// FuzzyThreshold is the best exact score below which the engine tries
	// spell correction.
	FuzzyThreshold float64
}

func (c Config) withDefaults() Config {
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = defaultMaxCandidates
	}
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		c.FuzzyThreshold = defaultFuzzyThreshold
	}
	return c
}

type Engine struct {
	backend storage.Backend
	records RecordSource
	queries QueryCache
	vocab   *index.Vocabulary
	cfg     Config
	logger  *slog.Logger
}

func NewEngine(backend storage.Backend, records RecordSource, queries QueryCache, vocab *index.Vocabulary, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		backend: backend,
		records: records,
		queries: queries,
		vocab:   vocab,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Search runs a free-text query and returns one ranked page plus the total
// match count. The raw query goes through the same normalization as indexed
// titles, so casing and separators never matter.
func (e *Engine) Search(ctx context.Context, rawQuery string, page domain.Page) (domain.QueryResult, error) {
	started := time.Now()
	page = clampPage(page)

	normalized := extract.Normalize(rawQuery)
	if normalized == "" {
		return domain.QueryResult{Offset: page.Offset, Limit: page.Limit}, nil
	}

	key := cache.QueryKey(normalized, page)
	if e.queries != nil {
		if result, ok := e.queries.GetQuery(ctx, key); ok {
			metrics.SearchesTotal.WithLabelValues("cached").Inc()
			return result, nil
		}
	}

	words := index.WordTokens(normalized)
	scored, err := e.rank(ctx, words)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		return domain.QueryResult{}, err
	}

	corrected := false
	if bestScore(scored) < e.cfg.FuzzyThreshold {
		if fixed, changed := e.correct(words); changed {
			fixedScored, err := e.rank(ctx, fixed)
			if err != nil {
				metrics.SearchesTotal.WithLabelValues("error").Inc()
				return domain.QueryResult{}, err
			}
			if bestScore(fixedScored) > bestScore(scored) {
				scored = fixedScored
				corrected = true
				e.logger.Debug("query corrected",
					slog.String("from", strings.Join(words, " ")),
					slog.String("to", strings.Join(fixed, " ")),
				)
			}
		}
	}

	result := paginate(scored, page, corrected)
	if e.queries != nil {
		e.queries.SetQuery(ctx, key, result)
	}

	outcome := "ok"
	if corrected {
		outcome = "corrected"
	} else if result.Total == 0 {
		outcome = "empty"
	}
	metrics.SearchesTotal.WithLabelValues(outcome).Inc()
	metrics.SearchDuration.Observe(time.Since(started).Seconds())
	return result, nil
}

// rank fetches candidates for the query words and scores each one.
func (e *Engine) rank(ctx context.Context, words []string) ([]domain.ScoredRecord, error) {
	if len(words) == 0 {
		return nil, nil
	}
	tokens := index.Tokenize(strings.Join(words, " "))

	fps, err := e.backend.QueryByTokens(ctx, storage.TokenQuery{
		Tokens: tokens,
		Limit:  e.cfg.MaxCandidates,
	})
	if err != nil {
		return nil, err
	}

	scored := make([]domain.ScoredRecord, 0, len(fps))
	for _, fp := range fps {
		record, err := e.getRecord(ctx, fp)
		if err != nil {
			// A candidate deleted between index lookup and fetch is not an
			// error for the whole query.
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		score := scoreRecord(words, record)
		if score <= 0 {
			continue
		}
		scored = append(scored, domain.ScoredRecord{Record: record, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Record.IndexedAt.Equal(scored[j].Record.IndexedAt) {
			return scored[i].Record.IndexedAt.After(scored[j].Record.IndexedAt)
		}
		return scored[i].Record.Fingerprint < scored[j].Record.Fingerprint
	})
	return scored, nil
}

func (e *Engine) getRecord(ctx context.Context, fp domain.Fingerprint) (domain.MediaRecord, error) {
	if e.records != nil {
		return e.records.GetRecord(ctx, fp)
	}
	return e.backend.Get(ctx, fp)
}

// scoreRecord blends query coverage with title coverage so a title equal to
// the query outranks titles that merely contain it. Whole-word misses fall
// back to half-weight n-gram overlap so near-matches outrank noise.
func scoreRecord(queryWords []string, record domain.MediaRecord) float64 {
	titleWords := index.WordTokens(record.NormalizedTitle)
	if len(titleWords) == 0 || len(queryWords) == 0 {
		return 0
	}
	titleSet := make(map[string]struct{}, len(titleWords))
	for _, word := range titleWords {
		titleSet[word] = struct{}{}
	}

	hits := 0
	for _, word := range queryWords {
		if _, ok := titleSet[word]; ok {
			hits++
		}
	}
	if hits > 0 {
		queryCoverage := float64(hits) / float64(len(queryWords))
		titleCoverage := float64(hits) / float64(len(titleWords))
		return 0.5*queryCoverage + 0.5*titleCoverage
	}

	// No whole word matched; fall back to character n-gram overlap.
	titleGrams := gramSet(titleWords)
	queryGrams := gramSet(queryWords)
	if len(queryGrams) == 0 {
		return 0
	}
	overlap := 0
	for gram := range queryGrams {
		if _, ok := titleGrams[gram]; ok {
			overlap++
		}
	}
	return 0.5 * float64(overlap) / float64(len(queryGrams))
}

func gramSet(words []string) map[string]struct{} {
	grams := make(map[string]struct{})
	for _, token := range index.Tokenize(strings.Join(words, " ")) {
		if len([]rune(token)) <= 3 {
			grams[token] = struct{}{}
		}
	}
	return grams
}

// correct replaces query words absent from the vocabulary with their nearest
// vocabulary token. Words already in the vocabulary stay untouched.
func (e *Engine) correct(words []string) ([]string, bool) {
	if e.vocab == nil {
		return words, false
	}
	var vocabulary []string // fetched lazily, the snapshot is not free
	changed := false
	fixed := make([]string, len(words))
	for i, word := range words {
		fixed[i] = word
		if e.vocab.Contains(word) {
			continue
		}
		if vocabulary == nil {
			vocabulary = e.vocab.Tokens()
		}
		if candidate, ok := nearestToken(word, vocabulary, maxEditDistance); ok {
			fixed[i] = candidate
			changed = true
		}
	}
	return fixed, changed
}

func bestScore(scored []domain.ScoredRecord) float64 {
	if len(scored) == 0 {
		return 0
	}
	return scored[0].Score
}

func clampPage(page domain.Page) domain.Page {
	if page.Offset < 0 {
		page.Offset = 0
	}
	if page.Limit <= 0 {
		page.Limit = 10
	}
	if page.Limit > 100 {
		page.Limit = 100
	}
	return page
}

func paginate(scored []domain.ScoredRecord, page domain.Page, corrected bool) domain.QueryResult {
	total := len(scored)
	start := page.Offset
	if start > total {
		start = total
	}
	end := start + page.Limit
	if end > total {
		end = total
	}
	items := scored[start:end]
	if corrected {
		for i := range items {
			items[i].Corrected = true
		}
	}
	return domain.QueryResult{
		Items:     items,
		Total:     total,
		Offset:    page.Offset,
		Limit:     page.Limit,
		Corrected: corrected,
	}
}
