// Package health aggregates vector store and embedding provider health checks.
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
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates every checked component failed.
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

// Component names used as Report keys.
const (
	ComponentVectorStore = "vector_store"
	ComponentEmbedding   = "embedding"
)

// Report aggregates health check results. Errors holds the failure message per component.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
	Errors map[string]string      `json:"errors,omitempty"`
}

// Service coordinates health checks.
type Service struct {
	index     IndexPinger
	embedding EmbeddingChecker
	timeout   time.Duration
}

// New creates a Service. embedding can be nil. timeout bounds each check; zero disables it.
func New(index IndexPinger, embedding EmbeddingChecker, timeout time.Duration) *Service {
	return &Service{index: index, embedding: embedding, timeout: timeout}
}

// Check queries all components concurrently.
func (s *Service) Check(ctx context.Context) Report {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var (
		mu     sync.Mutex
		checks = make(map[string]CheckResult)
		errs   = make(map[string]string)
	)
	record := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			checks[name] = CheckError
			errs[name] = err.Error()
			return
		}
		checks[name] = CheckOK
	}

	// Checks never fail the group; each outcome is recorded instead.
	var g errgroup.Group
	g.Go(func() error {
		record(ComponentVectorStore, s.index.Ping(ctx))
		return nil
	})
	if s.embedding != nil {
		g.Go(func() error {
			record(ComponentEmbedding, s.embedding.HealthCheck(ctx))
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, v := range checks {
		if v == CheckError {
			failed++
		}
	}

	status := Healthy
	switch {
	case failed == len(checks):
		status = Unhealthy
	case failed > 0:
		status = Degraded
	}

	r := Report{Status: status, Checks: checks}
	if len(errs) > 0 {
		r.Errors = errs
	}
	return r
}
