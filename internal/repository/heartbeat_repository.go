package repository

import (
	"context"
	"errors"

	"keepalive-service/internal/models"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// HeartbeatRepository is the datastore capability the recorder needs.
// Implementations assign ID and CreatedAt on Append when they are zero.
type HeartbeatRepository interface {
	Append(ctx context.Context, record *models.HeartbeatRecord) (string, error)
	ListAllByRecencyDesc(ctx context.Context) ([]models.HeartbeatRecord, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
