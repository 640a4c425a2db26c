package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is the outcome of a check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is what one checker reports.
type CheckResult struct {
	Name      string
	Status    Status
	Message   string
	Error     string
	Timestamp time.Time
	Duration  time.Duration
}

// Checker checks one named dependency.
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// Registry manages a collection of health checks. Results are reported in
// registration order.
type Registry struct {
	mu       sync.RWMutex
	checkers []Checker
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a health check to the registry.
// A checker with the same name is replaced in place.
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.checkers {
		if existing.Name() == checker.Name() {
			r.checkers[i] = checker
			return
		}
	}
	r.checkers = append(r.checkers, checker)
}

// Names returns the names of all registered health checks
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.checkers))
	for _, c := range r.checkers {
		names = append(names, c.Name())
	}
	return names
}

// Check runs all registered health checks concurrently and aggregates the
// results. Any unhealthy check makes the overall status unhealthy.
func (r *Registry) Check(ctx context.Context) AggregatedResult {
	r.mu.RLock()
	checkers := make([]Checker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	start := time.Now()
	results := make([]CheckResult, len(checkers))

	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = checker.Check(ctx)
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	for _, result := range results {
		if result.Status != StatusHealthy {
			overall = StatusUnhealthy
		}
	}

	return AggregatedResult{
		Status:    overall,
		Checks:    results,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
}

// CheckOne runs a specific health check by name
func (r *Registry) CheckOne(ctx context.Context, name string) (CheckResult, error) {
	r.mu.RLock()
	var found Checker
	for _, c := range r.checkers {
		if c.Name() == name {
			found = c
			break
		}
	}
	r.mu.RUnlock()

	if found == nil {
		return CheckResult{}, fmt.Errorf("health check not found: %s", name)
	}
	return found.Check(ctx), nil
}

// AggregatedResult combines every check of one Registry.Check run.
type AggregatedResult struct {
	Status    Status
	Checks    []CheckResult
	Timestamp time.Time
	Duration  time.Duration
}

// IsHealthy returns true if the overall status is healthy
func (r AggregatedResult) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// Err joins one error per failed check, or returns nil when all passed.
func (r AggregatedResult) Err() error {
	var errs []error
	for _, c := range r.Checks {
		if c.Status != StatusHealthy {
			errs = append(errs, fmt.Errorf("%s: %s", c.Name, c.Error))
		}
	}
	return errors.Join(errs...)
}
