package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"mediaindex/internal/domain"
	"mediaindex/internal/storage"
)

// Store is the document-variant storage backend. Records, token index
// entries, recipients and broadcast snapshots each live in their own
// collection inside one database.
type Store struct {
	client     *mongo.Client
	records    *mongo.Collection
	tokens     *mongo.Collection
	recipients *mongo.Collection
	broadcasts *mongo.Collection
}

type mediaDoc struct {
	Fingerprint     string   `bson:"_id"`
	Title           string   `bson:"title"`
	NormalizedTitle string   `bson:"normalizedTitle"`
	Year            int      `bson:"year,omitempty"`
	Quality         string   `bson:"quality,omitempty"`
	Languages       []string `bson:"languages,omitempty"`
	Kind            string   `bson:"kind"`
	Season          int      `bson:"season,omitempty"`
	Episode         int      `bson:"episode,omitempty"`
	ChannelID       int64    `bson:"channelId"`
	MessageID       int64    `bson:"messageId,omitempty"`
	FileRef         string   `bson:"fileRef"`
	SizeBytes       int64    `bson:"sizeBytes"`
	IndexedAt       int64    `bson:"indexedAt"`
}

type tokenDoc struct {
	Token        string   `bson:"_id"`
	Fingerprints []string `bson:"fps"`
}

type broadcastDoc struct {
	ID        string           `bson:"_id"`
	Payload   []byte           `bson:"payload"`
	Cursor    int64            `bson:"cursor"`
	State     string           `bson:"state"`
	Delivered int64            `bson:"delivered"`
	Failed    int64            `bson:"failed"`
	Skipped   int64            `bson:"skipped"`
	Failures  map[string]int64 `bson:"failures,omitempty"`
	StartedAt int64            `bson:"startedAt"`
	UpdatedAt int64            `bson:"updatedAt"`
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return client, nil
}

func NewStore(client *mongo.Client, dbName string) *Store {
	db := client.Database(dbName)
	return &Store{
		client:     client,
		records:    db.Collection("media_records"),
		tokens:     db.Collection("index_entries"),
		recipients: db.Collection("recipients"),
		broadcasts: db.Collection("broadcasts"),
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	if s == nil || s.records == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "channelId", Value: 1}}},
		{Keys: bson.D{{Key: "indexedAt", Value: -1}}},
		{Keys: bson.D{{Key: "normalizedTitle", Value: 1}}},
	}
	_, err := s.records.Indexes().CreateMany(ctx, models)
	if err != nil {
		return wrapErr(err)
	}
	_, err = s.broadcasts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "state", Value: 1}}},
	})
	return wrapErr(err)
}

func (s *Store) Put(ctx context.Context, record domain.MediaRecord) (domain.Fingerprint, error) {
	doc := toDoc(record)
	_, err := s.records.ReplaceOne(ctx,
		bson.M{"_id": doc.Fingerprint},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return "", wrapErr(err)
	}
	return record.Fingerprint, nil
}

func (s *Store) Get(ctx context.Context, fp domain.Fingerprint) (domain.MediaRecord, error) {
	var doc mediaDoc
	if err := s.records.FindOne(ctx, bson.M{"_id": string(fp)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.MediaRecord{}, domain.ErrNotFound
		}
		return domain.MediaRecord{}, wrapErr(err)
	}
	return fromDoc(doc), nil
}

func (s *Store) QueryByTokens(ctx context.Context, query storage.TokenQuery) ([]domain.Fingerprint, error) {
	if len(query.Tokens) == 0 {
		return nil, nil
	}

	cursor, err := s.tokens.Find(ctx, bson.M{"_id": bson.M{"$in": query.Tokens}})
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cursor.Close(ctx)

	var docs []tokenDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr(err)
	}

	seen := make(map[string]struct{})
	for _, doc := range docs {
		for _, fp := range doc.Fingerprints {
			seen[fp] = struct{}{}
		}
	}

	fps := make([]string, 0, len(seen))
	for fp := range seen {
		fps = append(fps, fp)
	}
	sort.Strings(fps)

	return pageFingerprints(fps, query.Offset, query.Limit), nil
}

func (s *Store) UpdateIndex(ctx context.Context, fp domain.Fingerprint, added, removed []string) error {
	value := string(fp)
	for _, token := range added {
		_, err := s.tokens.UpdateOne(ctx,
			bson.M{"_id": token},
			bson.M{"$addToSet": bson.M{"fps": value}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return wrapErr(err)
		}
	}
	if len(removed) > 0 {
		_, err := s.tokens.UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": removed}},
			bson.M{"$pull": bson.M{"fps": value}},
		)
		if err != nil {
			return wrapErr(err)
		}
	}
	return s.pruneEmptyTokens(ctx)
}

// pruneEmptyTokens drops index entries whose fingerprint set emptied out.
func (s *Store) pruneEmptyTokens(ctx context.Context) error {
	_, err := s.tokens.DeleteMany(ctx, bson.M{"fps": bson.M{"$size": 0}})
	return wrapErr(err)
}

func (s *Store) Delete(ctx context.Context, fp domain.Fingerprint) error {
	res, err := s.records.DeleteOne(ctx, bson.M{"_id": string(fp)})
	if err != nil {
		return wrapErr(err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return s.removeFromIndex(ctx, []string{string(fp)})
}

func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) ([]domain.Fingerprint, error) {
	return s.deleteMatching(ctx, bson.M{"indexedAt": bson.M{"$lt": cutoff.Unix()}})
}

func (s *Store) DeleteByChannel(ctx context.Context, channelID int64) ([]domain.Fingerprint, error) {
	return s.deleteMatching(ctx, bson.M{"channelId": channelID})
}

func (s *Store) deleteMatching(ctx context.Context, filter bson.M) ([]domain.Fingerprint, error) {
	cursor, err := s.records.Find(ctx, filter,
		options.Find().SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		Fingerprint string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr(err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(docs))
	fps := make([]domain.Fingerprint, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.Fingerprint)
		fps = append(fps, domain.Fingerprint(doc.Fingerprint))
	}

	if _, err := s.records.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, wrapErr(err)
	}
	if err := s.removeFromIndex(ctx, ids); err != nil {
		return nil, err
	}
	return fps, nil
}

func (s *Store) removeFromIndex(ctx context.Context, fps []string) error {
	_, err := s.tokens.UpdateMany(ctx,
		bson.M{"fps": bson.M{"$in": fps}},
		bson.M{"$pull": bson.M{"fps": bson.M{"$in": fps}}},
	)
	if err != nil {
		return wrapErr(err)
	}
	return s.pruneEmptyTokens(ctx)
}

func (s *Store) NormalizedTitles(ctx context.Context) ([]string, error) {
	cursor, err := s.records.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"normalizedTitle": 1}),
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cursor.Close(ctx)

	var titles []string
	for cursor.Next(ctx) {
		var doc struct {
			NormalizedTitle string `bson:"normalizedTitle"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, wrapErr(err)
		}
		if doc.NormalizedTitle != "" {
			titles = append(titles, doc.NormalizedTitle)
		}
	}
	return titles, wrapErr(cursor.Err())
}

func (s *Store) AddRecipient(ctx context.Context, userID int64) error {
	_, err := s.recipients.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$setOnInsert": bson.M{"addedAt": time.Now().UTC().Unix()}},
		options.Update().SetUpsert(true),
	)
	return wrapErr(err)
}

func (s *Store) RecipientIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.recipients.Find(ctx, bson.M{"_id": bson.M{"$gt": afterID}}, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cursor.Close(ctx)

	var ids []int64
	for cursor.Next(ctx) {
		var doc struct {
			ID int64 `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, wrapErr(err)
		}
		ids = append(ids, doc.ID)
	}
	return ids, wrapErr(cursor.Err())
}

func (s *Store) SaveBroadcast(ctx context.Context, snap domain.BroadcastSnapshot) error {
	doc := broadcastDoc{
		ID:        string(snap.ID),
		Payload:   snap.Payload,
		Cursor:    snap.Cursor,
		State:     string(snap.State),
		Delivered: snap.Delivered,
		Failed:    snap.Failed,
		Skipped:   snap.Skipped,
		Failures:  failuresToDoc(snap.Failures),
		StartedAt: snap.StartedAt.Unix(),
		UpdatedAt: snap.UpdatedAt.Unix(),
	}
	_, err := s.broadcasts.ReplaceOne(ctx,
		bson.M{"_id": doc.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	return wrapErr(err)
}

func (s *Store) GetBroadcast(ctx context.Context, id domain.JobID) (domain.BroadcastSnapshot, error) {
	var doc broadcastDoc
	if err := s.broadcasts.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.BroadcastSnapshot{}, domain.ErrNotFound
		}
		return domain.BroadcastSnapshot{}, wrapErr(err)
	}
	return fromBroadcastDoc(doc), nil
}

func (s *Store) ListUnfinishedBroadcasts(ctx context.Context) ([]domain.BroadcastSnapshot, error) {
	cursor, err := s.broadcasts.Find(ctx, bson.M{"state": string(domain.JobRunning)})
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cursor.Close(ctx)

	var docs []broadcastDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr(err)
	}
	snaps := make([]domain.BroadcastSnapshot, 0, len(docs))
	for _, doc := range docs {
		snaps = append(snaps, fromBroadcastDoc(doc))
	}
	return snaps, nil
}

func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	count, err := s.records.CountDocuments(ctx, bson.M{})
	return count, wrapErr(err)
}

func (s *Store) CountRecipients(ctx context.Context) (int64, error) {
	count, err := s.recipients.CountDocuments(ctx, bson.M{})
	return count, wrapErr(err)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func toDoc(record domain.MediaRecord) mediaDoc {
	return mediaDoc{
		Fingerprint:     string(record.Fingerprint),
		Title:           record.Title,
		NormalizedTitle: record.NormalizedTitle,
		Year:            record.Year,
		Quality:         string(record.Quality),
		Languages:       record.Languages,
		Kind:            string(record.Kind),
		Season:          record.Season,
		Episode:         record.Episode,
		ChannelID:       record.ChannelID,
		MessageID:       record.MessageID,
		FileRef:         record.FileRef,
		SizeBytes:       record.SizeBytes,
		IndexedAt:       record.IndexedAt.Unix(),
	}
}

func fromDoc(doc mediaDoc) domain.MediaRecord {
	return domain.MediaRecord{
		Fingerprint:     domain.Fingerprint(doc.Fingerprint),
		Title:           doc.Title,
		NormalizedTitle: doc.NormalizedTitle,
		Year:            doc.Year,
		Quality:         domain.Quality(doc.Quality),
		Languages:       doc.Languages,
		Kind:            domain.MediaKind(doc.Kind),
		Season:          doc.Season,
		Episode:         doc.Episode,
		ChannelID:       doc.ChannelID,
		MessageID:       doc.MessageID,
		FileRef:         doc.FileRef,
		SizeBytes:       doc.SizeBytes,
		IndexedAt:       time.Unix(doc.IndexedAt, 0).UTC(),
	}
}

func fromBroadcastDoc(doc broadcastDoc) domain.BroadcastSnapshot {
	return domain.BroadcastSnapshot{
		ID:        domain.JobID(doc.ID),
		Payload:   doc.Payload,
		Cursor:    doc.Cursor,
		State:     domain.JobState(doc.State),
		Delivered: doc.Delivered,
		Failed:    doc.Failed,
		Skipped:   doc.Skipped,
		Failures:  failuresFromDoc(doc.Failures),
		StartedAt: time.Unix(doc.StartedAt, 0).UTC(),
		UpdatedAt: time.Unix(doc.UpdatedAt, 0).UTC(),
	}
}

func failuresToDoc(failures map[domain.FailureKind]int64) map[string]int64 {
	if len(failures) == 0 {
		return nil
	}
	out := make(map[string]int64, len(failures))
	for kind, n := range failures {
		out[string(kind)] = n
	}
	return out
}

func failuresFromDoc(failures map[string]int64) map[domain.FailureKind]int64 {
	if len(failures) == 0 {
		return nil
	}
	out := make(map[domain.FailureKind]int64, len(failures))
	for kind, n := range failures {
		out[domain.FailureKind(kind)] = n
	}
	return out
}

func pageFingerprints(fps []string, offset, limit int) []domain.Fingerprint {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(fps) {
		return nil
	}
	fps = fps[offset:]
	if limit > 0 && limit < len(fps) {
		fps = fps[:limit]
	}
	out := make([]domain.Fingerprint, len(fps))
	for i, fp := range fps {
		out[i] = domain.Fingerprint(fp)
	}
	return out
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return err
}
