// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/schoolinfo/internal/domain"
)

// Repository defines the interface for persisting the operational dispatch log.
type Repository interface {
	// RecordDispatch stores one dispatch record.
	RecordDispatch(ctx context.Context, rec *domain.DispatchRecord) error

	// RecentDispatches returns up to limit records, newest first.
	RecentDispatches(ctx context.Context, limit int) ([]*domain.DispatchRecord, error)

	// OutcomeCounts returns the number of dispatches per outcome since the given time.
	OutcomeCounts(ctx context.Context, since time.Time) (map[string]int64, error)

	// CleanupDispatches removes records older than retention.
	CleanupDispatches(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
