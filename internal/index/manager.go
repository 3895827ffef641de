// Package index maintains the token index over the storage backend and owns
// the deduplication policy for colliding fingerprints.
package index

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"mediaindex/internal/domain"
	"mediaindex/internal/metrics"
	"mediaindex/internal/storage"
)

// DedupPolicy decides what happens when an insert collides with an already
// indexed fingerprint.
type DedupPolicy string

const (
	// DedupMerge keeps the more complete record and fills its gaps from the
	// other; on equal completeness the existing record wins.
	DedupMerge DedupPolicy = "merge"
	// DedupStrict rejects inserts whose metadata contradicts the stored
	// record instead of merging.
	DedupStrict DedupPolicy = "strict"
)

// Invalidator receives cache invalidation hooks. Record invalidation runs
// before Insert returns, so a Get immediately after an insert never sees the
// pre-update cached value.
type Invalidator interface {
	InvalidateRecord(fp domain.Fingerprint)
	InvalidateQueries()
}

const lockShards = 64

type Manager struct {
	backend     storage.Backend
	policy      DedupPolicy
	logger      *slog.Logger
	vocab       *Vocabulary
	invalidator Invalidator
	shards      [lockShards]chan struct{}
}

type Option func(*Manager)

func WithInvalidator(inv Invalidator) Option {
	return func(m *Manager) { m.invalidator = inv }
}

func NewManager(backend storage.Backend, policy DedupPolicy, logger *slog.Logger, opts ...Option) *Manager {
	if policy != DedupStrict {
		policy = DedupMerge
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		backend: backend,
		policy:  policy,
		logger:  logger,
		vocab:   NewVocabulary(),
	}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SeedVocabulary loads every stored normalized title and rebuilds the spell
// correction vocabulary. Called once at startup; the index itself is already
// durable in the backend.
func (m *Manager) SeedVocabulary(ctx context.Context) error {
	titles, err := m.backend.NormalizedTitles(ctx)
	if err != nil {
		return fmt.Errorf("seed vocabulary: %w", err)
	}
	for _, title := range titles {
		m.vocab.Add(WordTokens(title)...)
	}
	m.logger.Info("vocabulary seeded",
		slog.Int("titles", len(titles)),
		slog.Int("tokens", m.vocab.Len()),
	)
	return nil
}

func (m *Manager) Vocab() *Vocabulary { return m.vocab }

// Insert indexes a record, serializing against concurrent inserts of the
// same fingerprint. It returns the stored record (which may be a merge) and
// whether the fingerprint was new.
func (m *Manager) Insert(ctx context.Context, record domain.MediaRecord) (domain.MediaRecord, bool, error) {
	if record.Fingerprint == "" {
		return domain.MediaRecord{}, false, fmt.Errorf("insert: empty fingerprint")
	}
	if record.IndexedAt.IsZero() {
		record.IndexedAt = time.Now().UTC()
	}

	if err := m.lockFingerprint(ctx, record.Fingerprint); err != nil {
		return domain.MediaRecord{}, false, err
	}
	defer m.unlockFingerprint(record.Fingerprint)

	existing, err := m.backend.Get(ctx, record.Fingerprint)
	created := errors.Is(err, domain.ErrNotFound)
	if err != nil && !created {
		return domain.MediaRecord{}, false, err
	}

	final := record
	var priorTokens []string
	if !created {
		priorTokens = Tokenize(existing.NormalizedTitle)
		final, err = m.reconcile(existing, record)
		if err != nil {
			return domain.MediaRecord{}, false, err
		}
	}

	added, removed := diffTokens(priorTokens, Tokenize(final.NormalizedTitle))

	if _, err := m.backend.Put(ctx, final); err != nil {
		return domain.MediaRecord{}, false, err
	}
	if len(added) > 0 || len(removed) > 0 {
		if err := m.backend.UpdateIndex(ctx, final.Fingerprint, added, removed); err != nil {
			return domain.MediaRecord{}, false, err
		}
	}

	if !created && existing.NormalizedTitle != final.NormalizedTitle {
		m.vocab.Remove(WordTokens(existing.NormalizedTitle)...)
	}
	if created || existing.NormalizedTitle != final.NormalizedTitle {
		m.vocab.Add(WordTokens(final.NormalizedTitle)...)
	}

	if m.invalidator != nil {
		m.invalidator.InvalidateRecord(final.Fingerprint)
		m.invalidator.InvalidateQueries()
	}

	if created {
		metrics.RecordsIndexed.Inc()
	} else {
		metrics.RecordsDeduplicated.Inc()
	}
	return final, created, nil
}

// reconcile applies the dedup policy to a fingerprint collision.
func (m *Manager) reconcile(existing, incoming domain.MediaRecord) (domain.MediaRecord, error) {
	if m.policy == DedupStrict && incompatible(existing, incoming) {
		return domain.MediaRecord{}, fmt.Errorf("%w: fingerprint %s", domain.ErrConflict, existing.Fingerprint)
	}

	winner, loser := existing, incoming
	if incoming.PopulatedFields() > existing.PopulatedFields() {
		winner, loser = incoming, existing
	}
	merged := winner.Merge(loser)
	// Identity and recency stay with the first indexing.
	merged.Fingerprint = existing.Fingerprint
	merged.IndexedAt = existing.IndexedAt
	return merged, nil
}

// incompatible reports a metadata contradiction: both records claim a value
// and the values disagree.
func incompatible(a, b domain.MediaRecord) bool {
	if a.NormalizedTitle != "" && b.NormalizedTitle != "" && a.NormalizedTitle != b.NormalizedTitle {
		return true
	}
	if a.Year > 0 && b.Year > 0 && a.Year != b.Year {
		return true
	}
	if a.Season > 0 && b.Season > 0 && a.Season != b.Season {
		return true
	}
	if a.Episode > 0 && b.Episode > 0 && a.Episode != b.Episode {
		return true
	}
	return false
}

// Remove deletes a record and its index entries.
func (m *Manager) Remove(ctx context.Context, fp domain.Fingerprint) error {
	if err := m.lockFingerprint(ctx, fp); err != nil {
		return err
	}
	defer m.unlockFingerprint(fp)

	existing, err := m.backend.Get(ctx, fp)
	if err != nil {
		return err
	}
	if err := m.backend.Delete(ctx, fp); err != nil {
		return err
	}
	m.vocab.Remove(WordTokens(existing.NormalizedTitle)...)
	if m.invalidator != nil {
		m.invalidator.InvalidateRecord(fp)
		m.invalidator.InvalidateQueries()
	}
	return nil
}

// RemoveBefore applies the retention cutoff and keeps vocabulary and caches
// in step with the bulk delete.
func (m *Manager) RemoveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	fps, err := m.backend.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	m.afterBulkDelete(ctx, fps)
	return len(fps), nil
}

func (m *Manager) RemoveByChannel(ctx context.Context, channelID int64) (int, error) {
	fps, err := m.backend.DeleteByChannel(ctx, channelID)
	if err != nil {
		return 0, err
	}
	m.afterBulkDelete(ctx, fps)
	return len(fps), nil
}

func (m *Manager) afterBulkDelete(ctx context.Context, fps []domain.Fingerprint) {
	if len(fps) == 0 {
		return
	}
	if m.invalidator != nil {
		for _, fp := range fps {
			m.invalidator.InvalidateRecord(fp)
		}
		m.invalidator.InvalidateQueries()
	}
	// The records are gone, so the vocabulary is rebuilt from what is left.
	rebuilt := NewVocabulary()
	titles, err := m.backend.NormalizedTitles(ctx)
	if err != nil {
		m.logger.Warn("vocabulary rebuild failed after bulk delete", slog.String("error", err.Error()))
		return
	}
	for _, title := range titles {
		rebuilt.Add(WordTokens(title)...)
	}
	m.vocab.mu.Lock()
	m.vocab.counts = rebuilt.counts
	m.vocab.mu.Unlock()
}

func (m *Manager) lockFingerprint(ctx context.Context, fp domain.Fingerprint) error {
	shard := m.shards[shardOf(fp)]
	select {
	case shard <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) unlockFingerprint(fp domain.Fingerprint) {
	<-m.shards[shardOf(fp)]
}

func shardOf(fp domain.Fingerprint) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fp))
	return h.Sum32() % lockShards
}
