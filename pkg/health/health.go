package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"ai-baas/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Status represents the health status of a component
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Component is the last observed state of one dependency
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Critical    bool      `json:"critical"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check probes one dependency
type Check func(ctx context.Context) (Status, string, error)

type registration struct {
	check    Check
	critical bool
}

// Checker runs registered checks periodically and keeps their last result
type Checker struct {
	checks       map[string]registration
	components   map[string]*Component
	checkPeriod  time.Duration
	checkTimeout time.Duration
	mutex        sync.RWMutex
	log          *logger.Logger
}

func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	return &Checker{
		checks:       make(map[string]registration),
		components:   make(map[string]*Component),
		checkPeriod:  checkPeriod,
		checkTimeout: 5 * time.Second,
		log:          log.Module("health"),
	}
}

// RegisterCheck adds a check. A critical component that is down makes the
// whole service unhealthy; other failures only degrade it.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checks[name] = registration{check: check, critical: critical}
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Critical:    critical,
		Description: "Not checked yet",
	}
}

// RegisterPing registers a check that is up when ping succeeds
func (c *Checker) RegisterPing(name string, critical bool, ping func(ctx context.Context) error) {
	c.RegisterCheck(name, critical, func(ctx context.Context) (Status, string, error) {
		start := time.Now()
		if err := ping(ctx); err != nil {
			return StatusDown, name + " is unreachable", err
		}
		return StatusUp, "latency " + time.Since(start).Round(time.Millisecond).String(), nil
	})
}

// RunChecks executes every check once. Checks run outside the lock.
func (c *Checker) RunChecks(ctx context.Context) {
	c.mutex.RLock()
	checks := make(map[string]registration, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mutex.RUnlock()

	for name, r := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
		status, description, err := r.check(checkCtx)
		cancel()

		c.mutex.Lock()
		component := c.components[name]
		component.Status = status
		component.Description = description
		component.LastChecked = time.Now()
		if err != nil {
			component.Error = err.Error()
		} else {
			component.Error = ""
		}
		c.mutex.Unlock()

		if err != nil {
			c.log.Error("Health check failed", "component", name, "status", string(status), "error", err.Error())
		} else {
			c.log.Debug("Health check completed", "component", name, "status", string(status))
		}
	}
}

// Start runs the checks now and then every period until ctx is done
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunChecks(ctx)
			}
		}
	}()
}

// GetStatus returns a copy of every component, sorted by name
func (c *Checker) GetStatus() []Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make([]Component, 0, len(c.components))
	for _, v := range c.components {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Overall folds component states: down if a critical component is down,
// degraded if any other component is not up.
func (c *Checker) Overall() Status {
	overall := StatusUp
	for _, comp := range c.GetStatus() {
		if comp.Status == StatusUp {
			continue
		}
		if comp.Critical && comp.Status == StatusDown {
			return StatusDown
		}
		overall = StatusDegraded
	}
	return overall
}

func (c *Checker) IsSystemHealthy() bool {
	return c.Overall() != StatusDown
}

// Handler serves the current state, with 503 when a critical component is down
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		overall := c.Overall()
		code := http.StatusOK
		if overall == StatusDown {
			code = http.StatusServiceUnavailable
		}
		ctx.JSON(code, gin.H{
			"status":     overall,
			"timestamp":  time.Now().UTC(),
			"components": c.GetStatus(),
		})
	}
}
