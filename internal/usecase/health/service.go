package health

import (
	"context"
	"time"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckMissing indicates a collection that has not been written yet.
	CheckMissing CheckResult = "missing"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// CollectionStat is the preflight view of one collection's storage.
// Location is the file path for flat collections and the index name for remote ones.
type CollectionStat struct {
	Name      string
	Backend   string
	Location  string
	Exists    bool
	Points    int
	Lines     int
	SizeBytes int64
	Err       string
}

// Collection registers a collection for preflight checks.
type Collection struct {
	Name    string
	Backend string
	Stat    StatFunc
}

// Report aggregates health check results.
type Report struct {
	Status      Status
	Checks      map[string]CheckResult
	Collections []CollectionStat
	CheckedAt   time.Time
}

// Service coordinates health checks.
type Service struct {
	db          DBPinger
	embedding   EmbeddingChecker
	collections []Collection
}

// New creates a Service. db is nil when no collection uses the remote
// backend; embedding can be nil.
func New(db DBPinger, embedding EmbeddingChecker, collections ...Collection) *Service {
	return &Service{db: db, embedding: embedding, collections: collections}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			checks["database"] = CheckError
		} else {
			checks["database"] = CheckOK
		}
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	stats := make([]CollectionStat, 0, len(s.collections))
	for _, c := range s.collections {
		st, err := c.Stat(ctx, c.Name)
		st.Name, st.Backend = c.Name, c.Backend
		key := "collection:" + c.Name
		switch {
		case err != nil:
			st.Err = err.Error()
			checks[key] = CheckError
		case !st.Exists:
			checks[key] = CheckMissing
		default:
			checks[key] = CheckOK
		}
		stats = append(stats, st)
	}

	return Report{
		Status:      aggregate(checks),
		Checks:      checks,
		Collections: stats,
		CheckedAt:   time.Now().UTC(),
	}
}

func aggregate(checks map[string]CheckResult) Status {
	if len(checks) == 0 {
		return Healthy
	}
	failed, degraded := 0, false
	for _, v := range checks {
		switch v {
		case CheckError:
			failed++
			degraded = true
		case CheckMissing:
			degraded = true
		}
	}
	switch {
	case failed == len(checks):
		return Unhealthy
	case degraded:
		return Degraded
	default:
		return Healthy
	}
}
