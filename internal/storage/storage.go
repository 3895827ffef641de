// Package storage defines the persistence contract the rest of the system is
// written against. Two conforming backends exist, documents on MongoDB and
// rows on PostgreSQL; which one runs is a startup decision and never changes
// mid-session.
package storage

import (
	"context"
	"time"

	"mediaindex/internal/domain"
)

// TokenQuery asks for fingerprints of records matching at least one token.
// Result order at this layer is fingerprint-lexicographic for determinism;
// relevance ranking happens above.
type TokenQuery struct {
	Tokens []string
	Offset int
	Limit  int
}

// Backend is the uniform persistence surface. Every method maps driver-level
// connectivity failures to domain.ErrBackendUnavailable; absent records are
// domain.ErrNotFound. Both implementations must behave identically for every
// method.
type Backend interface {
	// Put upserts a record keyed by its fingerprint.
	Put(ctx context.Context, record domain.MediaRecord) (domain.Fingerprint, error)
	Get(ctx context.Context, fp domain.Fingerprint) (domain.MediaRecord, error)
	QueryByTokens(ctx context.Context, query TokenQuery) ([]domain.Fingerprint, error)

	// UpdateIndex applies a token diff for one fingerprint: entries gaining
	// the fingerprint and entries losing it. Entries left empty are pruned.
	UpdateIndex(ctx context.Context, fp domain.Fingerprint, added, removed []string) error

	Delete(ctx context.Context, fp domain.Fingerprint) error
	DeleteBefore(ctx context.Context, cutoff time.Time) ([]domain.Fingerprint, error)
	DeleteByChannel(ctx context.Context, channelID int64) ([]domain.Fingerprint, error)

	// NormalizedTitles streams every stored normalized title once, used to
	// seed the in-memory search vocabulary at startup.
	NormalizedTitles(ctx context.Context) ([]string, error)

	AddRecipient(ctx context.Context, userID int64) error
	// RecipientIDs returns up to limit ids greater than afterID in ascending
	// order. Restartable: calling again with the last returned id resumes
	// the stream.
	RecipientIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)

	SaveBroadcast(ctx context.Context, snap domain.BroadcastSnapshot) error
	GetBroadcast(ctx context.Context, id domain.JobID) (domain.BroadcastSnapshot, error)
	ListUnfinishedBroadcasts(ctx context.Context) ([]domain.BroadcastSnapshot, error)

	CountRecords(ctx context.Context) (int64, error)
	CountRecipients(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
