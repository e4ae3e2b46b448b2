// Package health runs readiness checks against the server's dependencies.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Statuses reported by Check.
const (
	StatusOK       = "ok"
	StatusDegraded = "unavailable"
)

// Pinger is implemented by *sql.DB and the Redis session store.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is implemented by the OPA evaluator.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Report is the outcome of one readiness run.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool { return r.Status == StatusOK }

type check struct {
	name string
	fn   func(ctx context.Context) error
}

// Checker runs named checks concurrently, each bounded by a timeout.
type Checker struct {
	timeout time.Duration
	checks  []check
}

// NewChecker returns a Checker. A non-positive timeout uses 2s.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{timeout: timeout}
}

// Add registers fn under name. Nil functions are ignored.
func (c *Checker) Add(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	c.checks = append(c.checks, check{name: name, fn: fn})
}

// AddPinger registers p.PingContext under name. A nil pinger is ignored.
func (c *Checker) AddPinger(name string, p Pinger) {
	if p == nil {
		return
	}
	c.Add(name, p.PingContext)
}

// AddPolicy registers the policy self check under "policy". A nil checker is ignored.
func (c *Checker) AddPolicy(p PolicyChecker) {
	if p == nil {
		return
	}
	c.Add("policy", p.HealthCheck)
}

// Names returns the registered check names in order.
func (c *Checker) Names() []string {
	out := make([]string, len(c.checks))
	for i, ch := range c.checks {
		out[i] = ch.name
	}
	sort.Strings(out)
	return out
}

// Check runs every check and returns the combined report.
func (c *Checker) Check(ctx context.Context) Report {
	rep := Report{Status: StatusOK, Checks: make(map[string]string, len(c.checks))}
	if len(c.checks) == 0 {
		return rep
	}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, ch := range c.checks {
		wg.Add(1)
		go func(ch check) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			result := StatusOK
			if err := ch.fn(cctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			rep.Checks[ch.name] = result
			if result != StatusOK {
				rep.Status = StatusDegraded
			}
			mu.Unlock()
		}(ch)
	}
	wg.Wait()
	return rep
}
