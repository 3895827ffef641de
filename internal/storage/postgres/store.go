package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mediaindex/internal/domain"
	"mediaindex/internal/storage"
)

// Store is the relational-variant storage backend. The token index is a
// (token, fingerprint) table joined against media_records; cascade deletes
// keep the index entries in step with the records.
type Store struct {
	db *sqlx.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS media_records (
		fingerprint      TEXT PRIMARY KEY,
		title            TEXT NOT NULL,
		normalized_title TEXT NOT NULL,
		year             INT NOT NULL DEFAULT 0,
		quality          TEXT NOT NULL DEFAULT '',
		languages        TEXT[] NOT NULL DEFAULT '{}',
		kind             TEXT NOT NULL,
		season           INT NOT NULL DEFAULT 0,
		episode          INT NOT NULL DEFAULT 0,
		channel_id       BIGINT NOT NULL,
		message_id       BIGINT NOT NULL DEFAULT 0,
		file_ref         TEXT NOT NULL DEFAULT '',
		size_bytes       BIGINT NOT NULL DEFAULT 0,
		indexed_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_media_records_channel ON media_records (channel_id)`,
	`CREATE INDEX IF NOT EXISTS idx_media_records_indexed_at ON media_records (indexed_at)`,
	`CREATE TABLE IF NOT EXISTS index_entries (
		token       TEXT NOT NULL,
		fingerprint TEXT NOT NULL REFERENCES media_records (fingerprint) ON DELETE CASCADE,
		PRIMARY KEY (token, fingerprint)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_index_entries_fingerprint ON index_entries (fingerprint)`,
	`CREATE TABLE IF NOT EXISTS recipients (
		user_id  BIGINT PRIMARY KEY,
		added_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS broadcasts (
		id         TEXT PRIMARY KEY,
		payload    BYTEA NOT NULL DEFAULT ''::bytea,
		cursor_id  BIGINT NOT NULL DEFAULT 0,
		state      TEXT NOT NULL,
		delivered  BIGINT NOT NULL DEFAULT 0,
		failed     BIGINT NOT NULL DEFAULT 0,
		skipped    BIGINT NOT NULL DEFAULT 0,
		failures   JSONB NOT NULL DEFAULT '{}'::jsonb,
		started_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

type mediaRow struct {
	Fingerprint     string         `db:"fingerprint"`
	Title           string         `db:"title"`
	NormalizedTitle string         `db:"normalized_title"`
	Year            int            `db:"year"`
	Quality         string         `db:"quality"`
	Languages       pq.StringArray `db:"languages"`
	Kind            string         `db:"kind"`
	Season          int            `db:"season"`
	Episode         int            `db:"episode"`
	ChannelID       int64          `db:"channel_id"`
	MessageID       int64          `db:"message_id"`
	FileRef         string         `db:"file_ref"`
	SizeBytes       int64          `db:"size_bytes"`
	IndexedAt       time.Time      `db:"indexed_at"`
}

func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return db, nil
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrapErr(err)
		}
	}
	return nil
}

func (s *Store) Put(ctx context.Context, record domain.MediaRecord) (domain.Fingerprint, error) {
	query := `
		INSERT INTO media_records (
			fingerprint, title, normalized_title, year, quality, languages,
			kind, season, episode, channel_id, message_id, file_ref,
			size_bytes, indexed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (fingerprint) DO UPDATE SET
			title = EXCLUDED.title,
			normalized_title = EXCLUDED.normalized_title,
			year = EXCLUDED.year,
			quality = EXCLUDED.quality,
			languages = EXCLUDED.languages,
			kind = EXCLUDED.kind,
			season = EXCLUDED.season,
			episode = EXCLUDED.episode,
			channel_id = EXCLUDED.channel_id,
			message_id = EXCLUDED.message_id,
			file_ref = EXCLUDED.file_ref,
			size_bytes = EXCLUDED.size_bytes,
			indexed_at = EXCLUDED.indexed_at`

	_, err := s.db.ExecContext(ctx, query,
		string(record.Fingerprint),
		record.Title,
		record.NormalizedTitle,
		record.Year,
		string(record.Quality),
		pq.StringArray(record.Languages),
		string(record.Kind),
		record.Season,
		record.Episode,
		record.ChannelID,
		record.MessageID,
		record.FileRef,
		record.SizeBytes,
		record.IndexedAt.UTC(),
	)
	if err != nil {
		return "", wrapErr(err)
	}
	return record.Fingerprint, nil
}

func (s *Store) Get(ctx context.Context, fp domain.Fingerprint) (domain.MediaRecord, error) {
	var row mediaRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM media_records WHERE fingerprint = $1`, string(fp))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MediaRecord{}, domain.ErrNotFound
		}
		return domain.MediaRecord{}, wrapErr(err)
	}
	return fromRow(row), nil
}

func (s *Store) QueryByTokens(ctx context.Context, query storage.TokenQuery) ([]domain.Fingerprint, error) {
	if len(query.Tokens) == 0 {
		return nil, nil
	}
	limit := int64(query.Limit)
	if limit <= 0 {
		limit = -1 // LIMIT ALL
	}
	var fps []string
	err := s.db.SelectContext(ctx, &fps, `
		SELECT DISTINCT fingerprint FROM index_entries
		WHERE token = ANY($1)
		ORDER BY fingerprint
		OFFSET $2 LIMIT NULLIF($3, -1)`,
		pq.Array(query.Tokens), max(query.Offset, 0), limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]domain.Fingerprint, 0, len(fps))
	for _, fp := range fps {
		out = append(out, domain.Fingerprint(fp))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *Store) UpdateIndex(ctx context.Context, fp domain.Fingerprint, added, removed []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	if len(added) > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO index_entries (token, fingerprint)
			SELECT unnest($1::text[]), $2
			ON CONFLICT DO NOTHING`,
			pq.Array(added), string(fp))
		if err != nil {
			return wrapErr(err)
		}
	}
	if len(removed) > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM index_entries WHERE fingerprint = $1 AND token = ANY($2)`,
			string(fp), pq.Array(removed))
		if err != nil {
			return wrapErr(err)
		}
	}
	return wrapErr(tx.Commit())
}

func (s *Store) Delete(ctx context.Context, fp domain.Fingerprint) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM media_records WHERE fingerprint = $1`, string(fp))
	if err != nil {
		return wrapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr(err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) ([]domain.Fingerprint, error) {
	return s.deleteReturning(ctx,
		`DELETE FROM media_records WHERE indexed_at < $1 RETURNING fingerprint`, cutoff.UTC())
}

func (s *Store) DeleteByChannel(ctx context.Context, channelID int64) ([]domain.Fingerprint, error) {
	return s.deleteReturning(ctx,
		`DELETE FROM media_records WHERE channel_id = $1 RETURNING fingerprint`, channelID)
}

func (s *Store) deleteReturning(ctx context.Context, query string, arg any) ([]domain.Fingerprint, error) {
	var fps []string
	if err := s.db.SelectContext(ctx, &fps, query, arg); err != nil {
		return nil, wrapErr(err)
	}
	out := make([]domain.Fingerprint, 0, len(fps))
	for _, fp := range fps {
		out = append(out, domain.Fingerprint(fp))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *Store) NormalizedTitles(ctx context.Context) ([]string, error) {
	var titles []string
	err := s.db.SelectContext(ctx, &titles,
		`SELECT normalized_title FROM media_records WHERE normalized_title <> ''`)
	return titles, wrapErr(err)
}

func (s *Store) AddRecipient(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, userID)
	return wrapErr(err)
}

func (s *Store) RecipientIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM recipients WHERE user_id > $1 ORDER BY user_id LIMIT $2`,
		afterID, limit)
	return ids, wrapErr(err)
}

func (s *Store) SaveBroadcast(ctx context.Context, snap domain.BroadcastSnapshot) error {
	failures, err := json.Marshal(snap.Failures)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO broadcasts (id, payload, cursor_id, state, delivered, failed, skipped, failures, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			cursor_id = EXCLUDED.cursor_id,
			state = EXCLUDED.state,
			delivered = EXCLUDED.delivered,
			failed = EXCLUDED.failed,
			skipped = EXCLUDED.skipped,
			failures = EXCLUDED.failures,
			updated_at = EXCLUDED.updated_at`,
		string(snap.ID), snap.Payload, snap.Cursor, string(snap.State),
		snap.Delivered, snap.Failed, snap.Skipped, failures,
		snap.StartedAt.UTC(), snap.UpdatedAt.UTC())
	return wrapErr(err)
}

func (s *Store) GetBroadcast(ctx context.Context, id domain.JobID) (domain.BroadcastSnapshot, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, payload, cursor_id, state, delivered, failed, skipped, failures, started_at, updated_at
		FROM broadcasts WHERE id = $1`, string(id))
	snap, err := scanBroadcast(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BroadcastSnapshot{}, domain.ErrNotFound
		}
		return domain.BroadcastSnapshot{}, wrapErr(err)
	}
	return snap, nil
}

func (s *Store) ListUnfinishedBroadcasts(ctx context.Context) ([]domain.BroadcastSnapshot, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, payload, cursor_id, state, delivered, failed, skipped, failures, started_at, updated_at
		FROM broadcasts WHERE state = $1`, string(domain.JobRunning))
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var snaps []domain.BroadcastSnapshot
	for rows.Next() {
		snap, err := scanBroadcast(rows)
		if err != nil {
			return nil, wrapErr(err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, wrapErr(rows.Err())
}

func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `SELECT count(*) FROM media_records`)
	return count, wrapErr(err)
}

func (s *Store) CountRecipients(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `SELECT count(*) FROM recipients`)
	return count, wrapErr(err)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBroadcast(row rowScanner) (domain.BroadcastSnapshot, error) {
	var (
		snap      domain.BroadcastSnapshot
		id, state string
		failures  []byte
	)
	err := row.Scan(&id, &snap.Payload, &snap.Cursor, &state,
		&snap.Delivered, &snap.Failed, &snap.Skipped, &failures,
		&snap.StartedAt, &snap.UpdatedAt)
	if err != nil {
		return domain.BroadcastSnapshot{}, err
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &snap.Failures); err != nil {
			return domain.BroadcastSnapshot{}, err
		}
	}
	snap.ID = domain.JobID(id)
	snap.State = domain.JobState(state)
	snap.StartedAt = snap.StartedAt.UTC()
	snap.UpdatedAt = snap.UpdatedAt.UTC()
	return snap, nil
}

func fromRow(row mediaRow) domain.MediaRecord {
	return domain.MediaRecord{
		Fingerprint:     domain.Fingerprint(row.Fingerprint),
		Title:           row.Title,
		NormalizedTitle: row.NormalizedTitle,
		Year:            row.Year,
		Quality:         domain.Quality(row.Quality),
		Languages:       append([]string(nil), row.Languages...),
		Kind:            domain.MediaKind(row.Kind),
		Season:          row.Season,
		Episode:         row.Episode,
		ChannelID:       row.ChannelID,
		MessageID:       row.MessageID,
		FileRef:         row.FileRef,
		SizeBytes:       row.SizeBytes,
		IndexedAt:       row.IndexedAt.UTC(),
	}
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return err
}
