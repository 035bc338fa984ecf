// Package health reports whether the dependencies of a long-running build
// are usable. Checks run concurrently and the worst result decides the
// overall status served on the metrics port.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status is the health of one component or of the whole process.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check probes one dependency. A nil error means up.
type Check func(ctx context.Context) error

type registered struct {
	check Check
	// optional components only degrade the overall status.
	optional bool
}

// ComponentHealth is the result of one check.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// Report aggregates all checks.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// Checker holds named checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]registered
	logger *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]registered),
		logger: slog.Default().With("component", "health"),
	}
}

// Register adds a check whose failure marks the process down.
func (c *Checker) Register(name string, check Check) {
	c.register(name, registered{check: check})
}

// RegisterOptional adds a check whose failure only degrades the process.
func (c *Checker) RegisterOptional(name string, check Check) {
	c.register(name, registered{check: check, optional: true})
}

func (c *Checker) register(name string, r registered) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = r
}

// Run executes every check concurrently.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mu.RUnlock()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC(),
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, r := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := r.check(ctx)
			result := ComponentHealth{Status: StatusUp, Latency: time.Since(start).Round(time.Microsecond).String()}
			if err != nil {
				result.Status = StatusDown
				if r.optional {
					result.Status = StatusDegraded
				}
				result.Message = err.Error()
			}
			mu.Lock()
			report.Components[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	names := make([]string, 0, len(report.Components))
	for name := range report.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		switch report.Components[name].Status {
		case StatusDown:
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status == StatusUp {
				report.Status = StatusDegraded
			}
		}
		if report.Components[name].Status != StatusUp {
			c.logger.Debug("health check failing", "check", name, "message", report.Components[name].Message)
		}
	}
	return report
}

// Handler serves the report as JSON: 200 unless some required check is
// down.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			c.logger.Error("encoding health report", "error", err)
		}
	}
}
