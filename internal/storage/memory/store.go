// Package memory holds a map-backed Backend used by tests and by local runs
// that need no durable storage. It mirrors the behavior contract of the mongo
// and postgres variants exactly, including fingerprint-lexicographic token
// query order.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mediaindex/internal/domain"
	"mediaindex/internal/storage"
)

type Store struct {
	mu         sync.RWMutex
	records    map[domain.Fingerprint]domain.MediaRecord
	tokens     map[string]map[domain.Fingerprint]struct{}
	recipients map[int64]struct{}
	broadcasts map[domain.JobID]domain.BroadcastSnapshot

	// Unavailable makes every call fail with ErrBackendUnavailable, for
	// degraded-backend tests.
	Unavailable bool
}

func NewStore() *Store {
	return &Store{
		records:    make(map[domain.Fingerprint]domain.MediaRecord),
		tokens:     make(map[string]map[domain.Fingerprint]struct{}),
		recipients: make(map[int64]struct{}),
		broadcasts: make(map[domain.JobID]domain.BroadcastSnapshot),
	}
}

func (s *Store) failing() error {
	if s.Unavailable {
		return domain.ErrBackendUnavailable
	}
	return nil
}

func (s *Store) Put(_ context.Context, record domain.MediaRecord) (domain.Fingerprint, error) {
	if err := s.failing(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Fingerprint] = record
	return record.Fingerprint, nil
}

func (s *Store) Get(_ context.Context, fp domain.Fingerprint) (domain.MediaRecord, error) {
	if err := s.failing(); err != nil {
		return domain.MediaRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[fp]
	if !ok {
		return domain.MediaRecord{}, domain.ErrNotFound
	}
	return record, nil
}

func (s *Store) QueryByTokens(_ context.Context, query storage.TokenQuery) ([]domain.Fingerprint, error) {
	if err := s.failing(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[domain.Fingerprint]struct{})
	for _, token := range query.Tokens {
		for fp := range s.tokens[token] {
			seen[fp] = struct{}{}
		}
	}
	fps := make([]domain.Fingerprint, 0, len(seen))
	for fp := range seen {
		fps = append(fps, fp)
	}
	sort.Slice(fps, func(i, j int) bool { return fps[i] < fps[j] })

	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(fps) {
		return nil, nil
	}
	fps = fps[offset:]
	if query.Limit > 0 && query.Limit < len(fps) {
		fps = fps[:query.Limit]
	}
	return fps, nil
}

func (s *Store) UpdateIndex(_ context.Context, fp domain.Fingerprint, added, removed []string) error {
	if err := s.failing(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range added {
		entry := s.tokens[token]
		if entry == nil {
			entry = make(map[domain.Fingerprint]struct{})
			s.tokens[token] = entry
		}
		entry[fp] = struct{}{}
	}
	for _, token := range removed {
		if entry := s.tokens[token]; entry != nil {
			delete(entry, fp)
			if len(entry) == 0 {
				delete(s.tokens, token)
			}
		}
	}
	return nil
}

func (s *Store) Delete(_ context.Context, fp domain.Fingerprint) error {
	if err := s.failing(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[fp]; !ok {
		return domain.ErrNotFound
	}
	delete(s.records, fp)
	s.dropFromIndex(fp)
	return nil
}

func (s *Store) DeleteBefore(_ context.Context, cutoff time.Time) ([]domain.Fingerprint, error) {
	if err := s.failing(); err != nil {
		return nil, err
	}
	return s.deleteMatching(func(r domain.MediaRecord) bool {
		return r.IndexedAt.Before(cutoff)
	}), nil
}

func (s *Store) DeleteByChannel(_ context.Context, channelID int64) ([]domain.Fingerprint, error) {
	if err := s.failing(); err != nil {
		return nil, err
	}
	return s.deleteMatching(func(r domain.MediaRecord) bool {
		return r.ChannelID == channelID
	}), nil
}

func (s *Store) deleteMatching(match func(domain.MediaRecord) bool) []domain.Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fps []domain.Fingerprint
	for fp, record := range s.records {
		if match(record) {
			fps = append(fps, fp)
		}
	}
	for _, fp := range fps {
		delete(s.records, fp)
		s.dropFromIndex(fp)
	}
	sort.Slice(fps, func(i, j int) bool { return fps[i] < fps[j] })
	return fps
}

func (s *Store) dropFromIndex(fp domain.Fingerprint) {
	for token, entry := range s.tokens {
		delete(entry, fp)
		if len(entry) == 0 {
			delete(s.tokens, token)
		}
	}
}

func (s *Store) NormalizedTitles(context.Context) ([]string, error) {
	if err := s.failing(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	titles := make([]string, 0, len(s.records))
	for _, record := range s.records {
		if record.NormalizedTitle != "" {
			titles = append(titles, record.NormalizedTitle)
		}
	}
	sort.Strings(titles)
	return titles, nil
}

func (s *Store) AddRecipient(_ context.Context, userID int64) error {
	if err := s.failing(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients[userID] = struct{}{}
	return nil
}

func (s *Store) RecipientIDs(_ context.Context, afterID int64, limit int) ([]int64, error) {
	if err := s.failing(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.recipients))
	for id := range s.recipients {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) SaveBroadcast(_ context.Context, snap domain.BroadcastSnapshot) error {
	if err := s.failing(); err != nil {
		return err
	}
	if len(snap.Failures) > 0 {
		failures := make(map[domain.FailureKind]int64, len(snap.Failures))
		for kind, n := range snap.Failures {
			failures[kind] = n
		}
		snap.Failures = failures
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts[snap.ID] = snap
	return nil
}

func (s *Store) GetBroadcast(_ context.Context, id domain.JobID) (domain.BroadcastSnapshot, error) {
	if err := s.failing(); err != nil {
		return domain.BroadcastSnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.broadcasts[id]
	if !ok {
		return domain.BroadcastSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (s *Store) ListUnfinishedBroadcasts(context.Context) ([]domain.BroadcastSnapshot, error) {
	if err := s.failing(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snaps []domain.BroadcastSnapshot
	for _, snap := range s.broadcasts {
		if snap.State == domain.JobRunning {
			snaps = append(snaps, snap)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps, nil
}

func (s *Store) CountRecords(context.Context) (int64, error) {
	if err := s.failing(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func (s *Store) CountRecipients(context.Context) (int64, error) {
	if err := s.failing(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.recipients)), nil
}

func (s *Store) Ping(context.Context) error {
	return s.failing()
}

func (s *Store) Close(context.Context) error {
	return nil
}

// TokenCount reports the number of live index entries, for invariant checks
// in tests.
func (s *Store) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

var _ storage.Backend = (*Store)(nil)
