package health

import "context"

// DBPinger checks remote database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatFunc reports the stored state of one collection.
type StatFunc func(ctx context.Context, collection string) (CollectionStat, error)
