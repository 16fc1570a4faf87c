package mongodb

import (
	"go.mongodb.org/mongo-driver/mongo"

	"coffee-trace-api-server/internal/apperror"
)

// mapError classifies a driver error. Duplicate keys become conflicts; anything
// else that reaches here is a transport, timeout or server failure.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return apperror.Conflict(op, "duplicate key: %v", err)
	}
	return apperror.Storage(op, err)
}
