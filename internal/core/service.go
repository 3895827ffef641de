// Package core is the service facade: one type that the transport layer
// calls, wiring extraction, indexing, search, caching, rate limiting and
// broadcast dispatch together.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"mediaindex/internal/broadcast"
	"mediaindex/internal/cache"
	"mediaindex/internal/domain"
	"mediaindex/internal/extract"
	"mediaindex/internal/index"
	"mediaindex/internal/ratelimit"
	"mediaindex/internal/search"
	"mediaindex/internal/storage"
)

// SearchRateClass is the limiter class user searches are charged against.
const SearchRateClass = "search"

// IndexRequest describes one incoming file to index.
type IndexRequest struct {
	FileName  string           `json:"fileName"`
	Kind      domain.MediaKind `json:"kind"`
	ChannelID int64            `json:"channelId"`
	MessageID int64            `json:"messageId"`
	FileRef   string           `json:"fileRef"`
	SizeBytes int64            `json:"sizeBytes"`
}

// IndexResult reports what the insert did.
type IndexResult struct {
	Record  domain.MediaRecord `json:"record"`
	Created bool               `json:"created"`
}

// Health is the per-dependency health report.
type Health struct {
	Storage string `json:"storage"`
	Cache   string `json:"cache"`
}

func (h Health) OK() bool { return h.Storage == "ok" && h.Cache == "ok" }

// Stats is the operational summary served to admins.
type Stats struct {
	Records          int64 `json:"records"`
	Recipients       int64 `json:"recipients"`
	VocabSize        int   `json:"vocabSize"`
	ActiveBroadcasts int   `json:"activeBroadcasts"`
}

type Service struct {
	backend    storage.Backend
	cache      *cache.Cache
	manager    *index.Manager
	engine     *search.Engine
	dispatcher *broadcast.Dispatcher
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

func NewService(
	backend storage.Backend,
	c *cache.Cache,
	manager *index.Manager,
	engine *search.Engine,
	dispatcher *broadcast.Dispatcher,
	limiter *ratelimit.Limiter,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend:    backend,
		cache:      c,
		manager:    manager,
		engine:     engine,
		dispatcher: dispatcher,
		limiter:    limiter,
		logger:     logger,
	}
}

// IndexFile extracts metadata from the file name and indexes the record.
func (s *Service) IndexFile(ctx context.Context, req IndexRequest) (IndexResult, error) {
	if req.FileName == "" {
		return IndexResult{}, fmt.Errorf("index file: empty file name")
	}

	record := extract.Extract(req.FileName)
	if req.Kind != "" {
		record.Kind = req.Kind
	}
	record.ChannelID = req.ChannelID
	record.MessageID = req.MessageID
	record.FileRef = req.FileRef
	record.SizeBytes = req.SizeBytes
	record.Fingerprint = domain.NewFingerprint(req.ChannelID, req.MessageID, req.FileRef)

	stored, created, err := s.manager.Insert(ctx, record)
	if err != nil {
		return IndexResult{}, err
	}
	s.logger.Info("file indexed",
		slog.String("fingerprint", string(stored.Fingerprint)),
		slog.String("title", stored.Title),
		slog.Bool("created", created),
	)
	return IndexResult{Record: stored, Created: created}, nil
}

// Search runs a rate-limited query for one subject (typically a user id or
// client address).
func (s *Service) Search(ctx context.Context, subject, query string, page domain.Page) (domain.QueryResult, error) {
	if s.limiter != nil && !s.limiter.Allow(SearchRateClass, subject) {
		return domain.QueryResult{}, domain.ErrRateLimited
	}
	return s.engine.Search(ctx, query, page)
}

// GetRecord resolves one fingerprint through the cache.
func (s *Service) GetRecord(ctx context.Context, fp domain.Fingerprint) (domain.MediaRecord, error) {
	if s.cache != nil {
		return s.cache.GetRecord(ctx, fp)
	}
	return s.backend.Get(ctx, fp)
}

// RemoveRecord deletes one indexed record.
func (s *Service) RemoveRecord(ctx context.Context, fp domain.Fingerprint) error {
	return s.manager.Remove(ctx, fp)
}

// RemoveChannel drops every record indexed from a channel.
func (s *Service) RemoveChannel(ctx context.Context, channelID int64) (int, error) {
	return s.manager.RemoveByChannel(ctx, channelID)
}

// AddRecipient registers a broadcast recipient. Registering twice is fine.
func (s *Service) AddRecipient(ctx context.Context, userID int64) error {
	return s.backend.AddRecipient(ctx, userID)
}

func (s *Service) StartBroadcast(ctx context.Context, payload []byte) (domain.JobID, error) {
	return s.dispatcher.Start(ctx, payload)
}

func (s *Service) CancelBroadcast(ctx context.Context, id domain.JobID) error {
	return s.dispatcher.Cancel(ctx, id)
}

func (s *Service) BroadcastStatus(ctx context.Context, id domain.JobID) (domain.BroadcastStatus, error) {
	return s.dispatcher.Status(ctx, id)
}

// HealthCheck probes storage and the cache layer with a short deadline.
func (s *Service) HealthCheck(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	health := Health{Storage: "ok", Cache: "ok"}
	var g errgroup.Group
	g.Go(func() error {
		if err := s.backend.Ping(ctx); err != nil {
			health.Storage = err.Error()
		}
		return nil
	})
	g.Go(func() error {
		if s.cache != nil {
			if err := s.cache.Ping(ctx); err != nil {
				health.Cache = err.Error()
			}
		}
		return nil
	})
	_ = g.Wait()
	return health
}

// Stats reports index and recipient counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	records, err := s.backend.CountRecords(ctx)
	if err != nil {
		return Stats{}, err
	}
	recipients, err := s.backend.CountRecipients(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Records:          records,
		Recipients:       recipients,
		VocabSize:        s.manager.Vocab().Len(),
		ActiveBroadcasts: s.dispatcher.ActiveJobs(),
	}, nil
}
