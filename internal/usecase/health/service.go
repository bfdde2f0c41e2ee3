package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates a failing dependency; some requests will fail.
	Degraded Status = "degraded"
	// Unhealthy indicates the catalog store is down; no request can be served.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names reported in Checks.
const (
	Database   = "database"
	Embedding  = "embedding"
	Generation = "generation"
)

const checkTimeout = 3 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	db         DBPinger
	embedding  Checker
	generation Checker
}

// New creates a Service. embedding and generation can be nil.
func New(db DBPinger, embedding, generation Checker) *Service {
	return &Service{db: db, embedding: embedding, generation: generation}
}

// Check runs all component checks concurrently, each bounded by a short timeout.
func (s *Service) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]CheckResult, 3)
	)
	record := func(name string, err error) {
		res := CheckOK
		if err != nil {
			res = CheckError
		}
		mu.Lock()
		checks[name] = res
		mu.Unlock()
	}

	// Check failures are results, not errors: the group never short-circuits.
	var g errgroup.Group
	g.Go(func() error {
		record(Database, s.db.Ping(ctx))
		return nil
	})
	if s.embedding != nil {
		g.Go(func() error {
			record(Embedding, s.embedding.HealthCheck(ctx))
			return nil
		})
	}
	if s.generation != nil {
		g.Go(func() error {
			record(Generation, s.generation.HealthCheck(ctx))
			return nil
		})
	}
	_ = g.Wait()

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if checks[Database] == CheckError {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}
