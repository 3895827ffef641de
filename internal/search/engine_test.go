package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"mediaindex/internal/cache"
	"mediaindex/internal/domain"
	"mediaindex/internal/extract"
	"mediaindex/internal/index"
	"mediaindex/internal/storage/memory"
)

type fixture struct {
	store   *memory.Store
	manager *index.Manager
	engine  *Engine
}

func newFixture(t *testing.T, titles ...string) *fixture {
	t.Helper()
	store := memory.NewStore()
	manager := index.NewManager(store, index.DedupMerge, nil)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, title := range titles {
		record := extract.Extract(title)
		record.Fingerprint = domain.Fingerprint("fp-" + title)
		record.IndexedAt = base.Add(time.Duration(i) * time.Minute)
		if _, _, err := manager.Insert(ctx, record); err != nil {
			t.Fatalf("Insert %q: %v", title, err)
		}
	}

	c := cache.New(store, cache.Config{}, nil)
	engine := NewEngine(store, c, c, manager.Vocab(), Config{}, nil)
	return &fixture{store: store, manager: manager, engine: engine}
}

func titles(result domain.QueryResult) []string {
	out := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		out = append(out, item.Record.Title)
	}
	return out
}

// ---------------------------------------------------------------------------
// Exact matching
// ---------------------------------------------------------------------------

func TestSearchExactTitleRanksFirst(t *testing.T) {
	f := newFixture(t,
		"Dune.2021.1080p.mkv",
		"Dune.Part.Two.2024.2160p.mkv",
		"The.Matrix.1999.720p.mkv",
	)

	result, err := f.engine.Search(context.Background(), "Dune", domain.Page{Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Total < 2 {
		t.Fatalf("Total = %d, want at least the two Dune records", result.Total)
	}
	if result.Corrected {
		t.Error("exact query flagged as corrected")
	}
	got := titles(result)
	if got[0] != "Dune" {
		t.Errorf("top result = %q, want %q (full list %v)", got[0], "Dune", got)
	}
}

func TestSearchMultiWordFractionScoring(t *testing.T) {
	f := newFixture(t,
		"Dune.Part.Two.2024.mkv",
		"Dune.2021.mkv",
	)

	result, err := f.engine.Search(context.Background(), "dune part two", domain.Page{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	got := titles(result)
	if len(got) == 0 || got[0] != "Dune Part Two" {
		t.Fatalf("top result = %v, want Dune Part Two first", got)
	}
	if result.Items[0].Score <= result.Items[len(result.Items)-1].Score && len(result.Items) > 1 {
		t.Error("full match did not outscore partial match")
	}
}

func TestSearchCaseAndSeparatorInsensitive(t *testing.T) {
	f := newFixture(t, "The.Matrix.1999.mkv")

	for _, q := range []string{"the matrix", "THE MATRIX", "The_Matrix", "the.matrix"} {
		result, err := f.engine.Search(context.Background(), q, domain.Page{Limit: 5})
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		if result.Total == 0 {
			t.Errorf("Search(%q) found nothing", q)
		}
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	f := newFixture(t, "Dune.2021.mkv")

	result, err := f.engine.Search(context.Background(), "  ...  ", domain.Page{Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Total != 0 || len(result.Items) != 0 {
		t.Errorf("empty query returned %d items", len(result.Items))
	}
}

// ---------------------------------------------------------------------------
// Spell correction
// ---------------------------------------------------------------------------

func TestSearchOneCharTypoCorrected(t *testing.T) {
	f := newFixture(t,
		"Inception.2010.1080p.mkv",
		"The.Matrix.1999.720p.mkv",
	)

	result, err := f.engine.Search(context.Background(), "inceptoin", domain.Page{Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Total == 0 {
		t.Fatal("typo query found nothing")
	}
	if !result.Corrected {
		t.Error("result not flagged as corrected")
	}
	if got := titles(result); got[0] != "Inception" {
		t.Errorf("top result = %q, want Inception", got[0])
	}
	for _, item := range result.Items {
		if !item.Corrected {
			t.Error("item missing corrected flag")
		}
	}
}

func TestSearchHopelessQueryStaysEmpty(t *testing.T) {
	f := newFixture(t, "Dune.2021.mkv")

	result, err := f.engine.Search(context.Background(), "zzzzzzzzzz", domain.Page{Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Corrected {
		t.Error("uncorrectable query flagged as corrected")
	}
	if result.Total != 0 {
		t.Errorf("Total = %d, want 0", result.Total)
	}
}

// ---------------------------------------------------------------------------
// Ranking ties and pagination
// ---------------------------------------------------------------------------

func TestSearchTieBreaksByRecency(t *testing.T) {
	store := memory.NewStore()
	manager := index.NewManager(store, index.DedupMerge, nil)
	ctx := context.Background()

	older := domain.MediaRecord{
		Fingerprint:     "fp-a",
		Title:           "Dune",
		NormalizedTitle: "dune",
		IndexedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := domain.MediaRecord{
		Fingerprint:     "fp-b",
		Title:           "Dune",
		NormalizedTitle: "dune",
		IndexedAt:       time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, r := range []domain.MediaRecord{older, newer} {
		if _, _, err := manager.Insert(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	engine := NewEngine(store, nil, nil, manager.Vocab(), Config{}, nil)
	result, err := engine.Search(ctx, "dune", domain.Page{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(result.Items))
	}
	if result.Items[0].Record.Fingerprint != "fp-b" {
		t.Errorf("newer record not ranked first: %v", result.Items[0].Record.Fingerprint)
	}
}

func TestSearchPagination(t *testing.T) {
	f := newFixture(t,
		"Dune.2021.mkv",
		"Dune.Part.Two.2024.mkv",
		"Dune.Messiah.2027.mkv",
	)
	ctx := context.Background()

	first, err := f.engine.Search(ctx, "dune", domain.Page{Offset: 0, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.engine.Search(ctx, "dune", domain.Page{Offset: 2, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}

	if first.Total != 3 || second.Total != 3 {
		t.Fatalf("totals = %d, %d; want 3, 3", first.Total, second.Total)
	}
	if len(first.Items) != 2 || len(second.Items) != 1 {
		t.Fatalf("page sizes = %d, %d; want 2, 1", len(first.Items), len(second.Items))
	}

	seen := map[domain.Fingerprint]bool{}
	for _, item := range append(first.Items, second.Items...) {
		if seen[item.Record.Fingerprint] {
			t.Errorf("fingerprint %s appears on both pages", item.Record.Fingerprint)
		}
		seen[item.Record.Fingerprint] = true
	}
}

func TestSearchPageBeyondEnd(t *testing.T) {
	f := newFixture(t, "Dune.2021.mkv")

	result, err := f.engine.Search(context.Background(), "dune", domain.Page{Offset: 50, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Items) != 0 {
		t.Errorf("items = %d beyond end", len(result.Items))
	}
	if result.Total != 1 {
		t.Errorf("Total = %d, want 1", result.Total)
	}
}

// ---------------------------------------------------------------------------
// Caching and degradation
// ---------------------------------------------------------------------------

func TestSearchServedFromCacheWhenBackendDown(t *testing.T) {
	f := newFixture(t, "Dune.2021.mkv")
	ctx := context.Background()

	first, err := f.engine.Search(ctx, "dune", domain.Page{Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if first.Total != 1 {
		t.Fatalf("Total = %d", first.Total)
	}

	f.store.Unavailable = true
	cached, err := f.engine.Search(ctx, "dune", domain.Page{Limit: 5})
	if err != nil {
		t.Fatalf("cached search failed with backend down: %v", err)
	}
	if cached.Total != 1 {
		t.Errorf("cached Total = %d", cached.Total)
	}

	// A query never seen before has nothing cached and must report the
	// backend failure.
	if _, err := f.engine.Search(ctx, "matrix", domain.Page{Limit: 5}); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Errorf("uncached search err = %v, want ErrBackendUnavailable", err)
	}
}
