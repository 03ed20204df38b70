package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NextSequence advances a named counter document atomically. The first call
// seeds the counter at start; later calls increment by step.
func (a *Adapter) NextSequence(ctx context.Context, name string, start, step int64) (int64, error) {
	if step == 0 {
		step = 1
	}
	coll := a.coll(countersCollection)

	var doc struct {
		Value int64 `bson:"value"`
	}
	err := coll.FindOneAndUpdate(
		ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": step}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.Value, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("mongo sequence %s: %w", name, err)
	}

	// Seed. A concurrent seeder wins the unique _id; fall back to the
	// increment path on duplicate.
	_, insErr := coll.InsertOne(ctx, bson.M{"_id": name, "value": start})
	if insErr == nil {
		return start, nil
	}
	if !mongo.IsDuplicateKeyError(insErr) {
		return 0, fmt.Errorf("mongo sequence seed %s: %w", name, insErr)
	}
	err = coll.FindOneAndUpdate(
		ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": step}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("mongo sequence %s: %w", name, err)
	}
	return doc.Value, nil
}
