package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kailas-cloud/datagate/internal/domain"
)

// ApplyArrayOps maps each portable array operation onto the native update
// operator, keeping per-document atomicity in a single adapter call.
func (a *Adapter) ApplyArrayOps(
	ctx context.Context, collection string, ops []domain.ArrayOperation,
) (int64, error) {
	var modified int64
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return modified, err
		}
		n, err := a.applyOne(ctx, collection, op)
		if err != nil {
			return modified, fmt.Errorf("mongo %s on %s.%s: %w", op.Operation, collection, op.Path, err)
		}
		modified += n
	}
	return modified, nil
}

func (a *Adapter) applyOne(ctx context.Context, collection string, op domain.ArrayOperation) (int64, error) {
	coll := a.coll(collection)
	filter := filterDoc(op.Find)

	switch op.Operation {
	case domain.ArrayPush:
		each := bson.M{"$each": asSlice(op.DataToPush)}
		if op.Position != nil {
			each["$position"] = *op.Position
		}
		if op.Slice != nil {
			each["$slice"] = *op.Slice
		}
		if len(op.Sort) > 0 {
			each["$sort"] = pushSort(op.Sort)
		}
		res, err := coll.UpdateMany(ctx, filter, bson.M{"$push": bson.M{op.Path: each}})
		if err != nil {
			return 0, err
		}
		return res.ModifiedCount, nil

	case domain.ArrayAddToSet:
		each := bson.M{"$each": asSlice(op.DataToPush)}
		res, err := coll.UpdateMany(ctx, filter, bson.M{"$addToSet": bson.M{op.Path: each}})
		if err != nil {
			return 0, err
		}
		return res.ModifiedCount, nil

	case domain.ArrayPull:
		res, err := coll.UpdateMany(ctx, filter, bson.M{"$pull": bson.M{op.Path: bson.M(op.QueryToRemove)}})
		if err != nil {
			return 0, err
		}
		return res.ModifiedCount, nil

	case domain.ArrayPullAll:
		res, err := coll.UpdateMany(ctx, filter, bson.M{"$pullAll": bson.M{op.Path: op.DataToPull}})
		if err != nil {
			return 0, err
		}
		return res.ModifiedCount, nil

	case domain.ArrayPop:
		res, err := coll.UpdateMany(ctx, filter, bson.M{"$pop": bson.M{op.Path: op.Direction}})
		if err != nil {
			return 0, err
		}
		return res.ModifiedCount, nil

	case domain.ArraySet:
		update := bson.M{"$set": bson.M{op.Path + ".$[elem]": op.DataToSet}}
		opts := options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []any{elemFilter(op.ArrayFilters)},
		})
		res, err := coll.UpdateMany(ctx, filter, update, opts)
		if err != nil {
			return 0, err
		}
		if res.ModifiedCount == 0 && op.Upsert {
			pushRes, err := coll.UpdateMany(ctx, filter, bson.M{"$push": bson.M{op.Path: op.DataToSet}})
			if err != nil {
				return 0, err
			}
			return pushRes.ModifiedCount, nil
		}
		return res.ModifiedCount, nil

	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidOperation, op.Operation)
	}
}

// elemFilter rewrites an element-level filter into an arrayFilters document
// under the "elem" identifier. An empty filter matches every element.
func elemFilter(f domain.Filter) bson.M {
	if len(f) == 0 {
		return bson.M{"elem": bson.M{"$exists": true}}
	}
	out := bson.M{}
	for k, v := range f {
		if k == "" {
			out["elem"] = v
			continue
		}
		out["elem."+k] = v
	}
	return out
}

func pushSort(by map[string]int) any {
	// A single empty key sorts scalar elements by value ($sort: 1/-1).
	if v, ok := by[""]; ok && len(by) == 1 {
		return v
	}
	return sortDoc(by)
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return []any{v}
}
