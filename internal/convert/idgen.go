package convert

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kailas-cloud/datagate/internal/schema"
)

// GenerateKey produces an engine-side key value for the given generator kind.
// Generated values are strings on every backend so keys survive JSON round
// trips unchanged.
func GenerateKey(kind schema.GeneratorKind) (string, error) {
	switch kind {
	case schema.GenUUID:
		return uuid.NewString(), nil
	case schema.GenObjectID:
		return primitive.NewObjectID().Hex(), nil
	case schema.GenXID:
		return xid.New().String(), nil
	default:
		return "", fmt.Errorf("unknown key generator %q", kind)
	}
}
