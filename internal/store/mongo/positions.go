package mongo

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"streamrelay/internal/domain"
)

const positionsDocID = "playback_positions"

// positionEntry is one playback position inside the whole-map document.
type positionEntry struct {
	Elapsed    int64 `bson:"elapsed"`
	Duration   int64 `bson:"duration,omitempty"`
	Transcoded bool  `bson:"transcoded"`
	UpdatedAt  int64 `bson:"updatedAt"`
}

// positionsDoc holds every playback position in a single document. Each
// write replaces the full entry map.
type positionsDoc struct {
	ID        string                   `bson:"_id"`
	Entries   map[string]positionEntry `bson:"entries"`
	UpdatedAt int64                    `bson:"updatedAt"`
}

type PositionsRepository struct {
	collection *mongo.Collection
}

func NewPositionsRepository(client *mongo.Client, dbName string) *PositionsRepository {
	return &PositionsRepository{collection: client.Database(dbName).Collection("playback_state")}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *PositionsRepository) LoadPositions(ctx context.Context) (map[string]domain.PlaybackPosition, error) {
	var doc positionsDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": positionsDocID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return map[string]domain.PlaybackPosition{}, nil
		}
		return nil, err
	}
	return positionsFromDoc(doc), nil
}

func (r *PositionsRepository) ReplacePositions(ctx context.Context, positions map[string]domain.PlaybackPosition) error {
	doc := positionsToDoc(positions)
	_, err := r.collection.ReplaceOne(
		ctx,
		bson.M{"_id": positionsDocID},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

func positionsToDoc(positions map[string]domain.PlaybackPosition) positionsDoc {
	entries := make(map[string]positionEntry, len(positions))
	for k, p := range positions {
		entries[k] = positionEntry{
			Elapsed:    p.Elapsed,
			Duration:   p.Duration,
			Transcoded: p.Transcoded,
			UpdatedAt:  p.UpdatedAt.Unix(),
		}
	}
	return positionsDoc{
		ID:        positionsDocID,
		Entries:   entries,
		UpdatedAt: time.Now().UTC().Unix(),
	}
}

func positionsFromDoc(doc positionsDoc) map[string]domain.PlaybackPosition {
	positions := make(map[string]domain.PlaybackPosition, len(doc.Entries))
	for k, entry := range doc.Entries {
		hash, index, ok := splitKey(k)
		if !ok {
			continue
		}
		positions[k] = domain.PlaybackPosition{
			Hash:       hash,
			ItemIndex:  index,
			Elapsed:    entry.Elapsed,
			Duration:   entry.Duration,
			Transcoded: entry.Transcoded,
			UpdatedAt:  time.Unix(entry.UpdatedAt, 0).UTC(),
		}
	}
	return positions
}

// splitKey parses a "HASH:index" map key.
func splitKey(k string) (domain.InfoHash, int, bool) {
	sep := strings.LastIndex(k, ":")
	if sep <= 0 || sep == len(k)-1 {
		return "", 0, false
	}
	index, err := strconv.Atoi(k[sep+1:])
	if err != nil || index < 0 {
		return "", 0, false
	}
	return domain.InfoHash(k[:sep]), index, true
}
