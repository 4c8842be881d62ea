package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const watchedDocID = "watched_items"

// watchedDoc holds the full watched set, hash -> item indices, replaced in
// full on every mutation.
type watchedDoc struct {
	ID        string           `bson:"_id"`
	Entries   map[string][]int `bson:"entries"`
	UpdatedAt int64            `bson:"updatedAt"`
}

type WatchedRepository struct {
	collection *mongo.Collection
}

func NewWatchedRepository(client *mongo.Client, dbName string) *WatchedRepository {
	return &WatchedRepository{collection: client.Database(dbName).Collection("playback_state")}
}

func (r *WatchedRepository) LoadWatched(ctx context.Context) (map[string][]int, error) {
	var doc watchedDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": watchedDocID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return map[string][]int{}, nil
		}
		return nil, err
	}
	if doc.Entries == nil {
		return map[string][]int{}, nil
	}
	return doc.Entries, nil
}

func (r *WatchedRepository) ReplaceWatched(ctx context.Context, watched map[string][]int) error {
	doc := watchedDoc{
		ID:        watchedDocID,
		Entries:   watched,
		UpdatedAt: time.Now().UTC().Unix(),
	}
	_, err := r.collection.ReplaceOne(
		ctx,
		bson.M{"_id": watchedDocID},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}
