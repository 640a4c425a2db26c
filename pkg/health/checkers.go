package health

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds a single check when none is given.
const DefaultTimeout = 5 * time.Second

// Checkable is an interface for components that support health checks
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// CheckableCloser is a component opened only for the duration of a check.
type CheckableCloser interface {
	Checkable
	Close() error
}

// Opener connects to a component.
type Opener func(ctx context.Context) (CheckableCloser, error)

// OpenChecker connects, checks and disconnects on every run, so a failure to
// connect (bad credentials, missing schema) is reported as unhealthy.
type OpenChecker struct {
	name    string
	open    Opener
	timeout time.Duration
}

// NewOpenChecker creates a checker that owns the component's lifetime.
func NewOpenChecker(name string, open Opener, timeout time.Duration) *OpenChecker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OpenChecker{name: name, open: open, timeout: timeout}
}

// Check opens the component, runs its health check and closes it.
func (c *OpenChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	component, err := c.open(checkCtx)
	if err != nil {
		return result(c.name, err, start)
	}
	err = component.HealthCheck(checkCtx)
	if closeErr := component.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return result(c.name, err, start)
}

// Name returns the name of the health check
func (c *OpenChecker) Name() string {
	return c.name
}

func result(name string, err error, start time.Time) CheckResult {
	res := CheckResult{
		Name:      name,
		Status:    StatusHealthy,
		Message:   "ok",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Message = ""
		res.Error = err.Error()
	}
	return res
}
