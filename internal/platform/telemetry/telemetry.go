// Package telemetry provides a small process-local metrics registry with a
// Prometheus text exposition endpoint, using only standard library
// constructs. The workflow core uses it to make best-effort failure paths
// observable, most importantly compliance ledger append failures.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/labstack/echo/v4"
)

// Counter is a monotonically increasing metric.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc adds one to the counter.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by delta.
func (c *Counter) Add(delta int64) { c.value.Add(delta) }

// Value returns the current count.
func (c *Counter) Value() int64 { return c.value.Load() }

// Registry holds named counters.
type Registry struct {
	mu       sync.Mutex
	counters map[string]*Counter
}

// NewRegistry creates an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*Counter)}
}

// Counter returns the counter with the given name, registering it on first use.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// Handler serves the registry in Prometheus text exposition format.
func (r *Registry) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		r.mu.Lock()
		names := make([]string, 0, len(r.counters))
		for name := range r.counters {
			names = append(names, name)
		}
		sort.Strings(names)

		var body string
		for _, name := range names {
			ctr := r.counters[name]
			body += fmt.Sprintf("# HELP %s %s\n# TYPE %s counter\n%s %d\n",
				name, ctr.help, name, name, ctr.Value())
		}
		r.mu.Unlock()

		return c.Blob(http.StatusOK, "text/plain; version=0.0.4", []byte(body))
	}
}
