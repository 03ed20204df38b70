// Package mongo implements the storage adapter contract for MongoDB-family
// document stores.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/domain"
)

const countersCollection = "__datagate_counters"

// Adapter serves one MongoDB database.
type Adapter struct {
	client *mongo.Client
	db     *mongo.Database
}

// Config holds connection settings for one MongoDB database.
type Config struct {
	URI      string
	Database string
	// ConnectTimeout bounds the initial connect; zero means 10s.
	ConnectTimeout time.Duration
}

// New connects to MongoDB and returns an adapter for cfg.Database.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	return &Adapter{client: client, db: client.Database(cfg.Database)}, nil
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return "mongo" }

func (a *Adapter) coll(name string) *mongo.Collection { return a.db.Collection(name) }

// FindOne returns the first matching document or ErrRecordNotFound.
func (a *Adapter) FindOne(ctx context.Context, collection string, q adapter.Query) (domain.Row, error) {
	opts := options.FindOne()
	if len(q.Sort) > 0 {
		opts.SetSort(sortDoc(q.Sort))
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}
	if len(q.Select) > 0 {
		opts.SetProjection(bson.M(intMap(q.Select)))
	}

	var row domain.Row
	err := a.coll(collection).FindOne(ctx, filterDoc(q.Filter), opts).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo findOne %s: %w", collection, err)
	}
	return normalizeRow(row), nil
}

// FindMany returns all matching documents.
func (a *Adapter) FindMany(ctx context.Context, collection string, q adapter.Query) ([]domain.Row, error) {
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(sortDoc(q.Sort))
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	if len(q.Select) > 0 {
		opts.SetProjection(bson.M(intMap(q.Select)))
	}

	cur, err := a.coll(collection).Find(ctx, filterDoc(q.Filter), opts)
	if err != nil {
		return nil, fmt.Errorf("mongo find %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var rows []domain.Row
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("mongo decode %s: %w", collection, err)
	}
	for i := range rows {
		rows[i] = normalizeRow(rows[i])
	}
	return rows, nil
}

// Insert writes documents and stamps driver-generated _id values back.
func (a *Adapter) Insert(ctx context.Context, collection string, rows []domain.Row) ([]domain.Row, error) {
	docs := make([]any, len(rows))
	for i, r := range rows {
		docs[i] = bson.M(r)
	}
	res, err := a.coll(collection).InsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("mongo insert %s: %w", collection, err)
	}
	out := make([]domain.Row, len(rows))
	for i, r := range rows {
		out[i] = r
		if _, has := r["_id"]; !has && i < len(res.InsertedIDs) {
			out[i]["_id"] = normalizeValue(res.InsertedIDs[i])
		}
	}
	return out, nil
}

// UpdateByID merges set into one document and returns the updated document.
func (a *Adapter) UpdateByID(
	ctx context.Context, collection string, key adapter.Key, set domain.Row,
) (domain.Row, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var row domain.Row
	err := a.coll(collection).FindOneAndUpdate(
		ctx, bson.M{key.Field: keyValue(key)}, bson.M{"$set": bson.M(set)}, opts,
	).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s=%v in %s", domain.ErrRecordNotFound, key.Field, key.Value, collection)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo updateById %s: %w", collection, err)
	}
	return normalizeRow(row), nil
}

// ReplaceByID replaces one document and returns the stored document.
func (a *Adapter) ReplaceByID(
	ctx context.Context, collection string, key adapter.Key, row domain.Row,
) (domain.Row, error) {
	opts := options.FindOneAndReplace().SetReturnDocument(options.After)
	var out domain.Row
	err := a.coll(collection).FindOneAndReplace(
		ctx, bson.M{key.Field: keyValue(key)}, bson.M(row), opts,
	).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s=%v in %s", domain.ErrRecordNotFound, key.Field, key.Value, collection)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo replaceById %s: %w", collection, err)
	}
	return normalizeRow(out), nil
}

// DeleteByID removes one document.
func (a *Adapter) DeleteByID(ctx context.Context, collection string, key adapter.Key) (bool, error) {
	res, err := a.coll(collection).DeleteOne(ctx, bson.M{key.Field: keyValue(key)})
	if err != nil {
		return false, fmt.Errorf("mongo deleteById %s: %w", collection, err)
	}
	return res.DeletedCount > 0, nil
}

// UpdateMany merges set into every matching document.
func (a *Adapter) UpdateMany(
	ctx context.Context, collection string, filter domain.Filter, set domain.Row,
) (int64, error) {
	res, err := a.coll(collection).UpdateMany(ctx, filterDoc(filter), bson.M{"$set": bson.M(set)})
	if err != nil {
		return 0, fmt.Errorf("mongo updateMany %s: %w", collection, err)
	}
	return res.ModifiedCount, nil
}

// DeleteMany removes every matching document.
func (a *Adapter) DeleteMany(ctx context.Context, collection string, filter domain.Filter) (int64, error) {
	res, err := a.coll(collection).DeleteMany(ctx, filterDoc(filter))
	if err != nil {
		return 0, fmt.Errorf("mongo deleteMany %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

// Aggregate runs a native pipeline.
func (a *Adapter) Aggregate(
	ctx context.Context, collection string, pipeline []domain.AggregateStage,
) ([]domain.Row, error) {
	stages := make([]any, len(pipeline))
	for i, s := range pipeline {
		stages[i] = bson.M(s)
	}
	cur, err := a.coll(collection).Aggregate(ctx, stages)
	if err != nil {
		return nil, fmt.Errorf("mongo aggregate %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var rows []domain.Row
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("mongo aggregate decode %s: %w", collection, err)
	}
	for i := range rows {
		rows[i] = normalizeRow(rows[i])
	}
	return rows, nil
}

// Count returns the number of matching documents.
func (a *Adapter) Count(ctx context.Context, collection string, filter domain.Filter) (int64, error) {
	n, err := a.coll(collection).CountDocuments(ctx, filterDoc(filter))
	if err != nil {
		return 0, fmt.Errorf("mongo count %s: %w", collection, err)
	}
	return n, nil
}

// Distinct returns the unique values of a field across matching documents.
func (a *Adapter) Distinct(
	ctx context.Context, collection, field string, filter domain.Filter,
) ([]any, error) {
	vals, err := a.coll(collection).Distinct(ctx, field, filterDoc(filter))
	if err != nil {
		return nil, fmt.Errorf("mongo distinct %s.%s: %w", collection, field, err)
	}
	for i := range vals {
		vals[i] = normalizeValue(vals[i])
	}
	return vals, nil
}

// Ping checks connectivity.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (a *Adapter) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.client.Disconnect(ctx)
}

func filterDoc(f domain.Filter) bson.M {
	if f == nil {
		return bson.M{}
	}
	return bson.M(f)
}

func sortDoc(by map[string]int) bson.D {
	d := make(bson.D, 0, len(by))
	for k, v := range by {
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d
}

func intMap(m map[string]int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// keyValue coerces hex strings addressing _id into ObjectIDs so callers can
// use the normalized string form transparently.
func keyValue(key adapter.Key) any {
	if key.Field != "_id" {
		return key.Value
	}
	if s, ok := key.Value.(string); ok {
		if oid, err := primitive.ObjectIDFromHex(s); err == nil {
			return oid
		}
	}
	return key.Value
}

// normalizeRow converts driver types (primitive.M/A/ObjectID/DateTime) into
// the engine's plain map/slice/string/time shapes.
func normalizeRow(row domain.Row) domain.Row {
	for k, v := range row {
		row[k] = normalizeValue(v)
	}
	return row
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case primitive.M:
		return normalizeRow(domain.Row(val))
	case map[string]any:
		return normalizeRow(domain.Row(val))
	case primitive.A:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = normalizeValue(el)
		}
		return out
	case []any:
		for i, el := range val {
			val[i] = normalizeValue(el)
		}
		return val
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time()
	case int32:
		return int64(val)
	default:
		return v
	}
}
