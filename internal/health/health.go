package health

import (
	"context"
	"fmt"
	"time"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Check is one named probe. Fn returns nil when the component is healthy.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// CheckAll runs all health checks and returns combined status
func CheckAll(ctx context.Context, checks ...Check) HealthStatus {
	results := make([]CheckResult, 0, len(checks))
	allOK := true
	for _, c := range checks {
		r := run(ctx, c)
		if !r.OK {
			allOK = false
		}
		results = append(results, r)
	}

	return HealthStatus{
		OK:        allOK,
		Checks:    results,
		CheckedAt: time.Now().UTC(),
	}
}

func run(ctx context.Context, c Check) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name}
	if err := c.Fn(ctx); err != nil {
		result.Error = err.Error()
	} else {
		result.OK = true
	}
	result.Latency = time.Since(start)
	return result
}
