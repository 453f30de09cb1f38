// Package health aggregates liveness and readiness signals.
//
// The fast path only reports whether the process is serving and is cheap
// enough for high-frequency orchestration probes; it never touches the
// model cache. The detailed path additionally inspects cache state,
// artifact files, resource pressure and configuration validity. Detailed
// degradation never takes the process out of ready: a slow model load must
// not fail liveness.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/voyagekit/lifeboat/pkg/artifacts"
	"github.com/voyagekit/lifeboat/pkg/mlcache"
)

// Overall and per-check status values.
const (
	StatusStarting = "starting"
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusHealthy  = "healthy"
)

// Thresholds configure when resource usage counts as pressure.
type Thresholds struct {
	// MemoryPercent is the used-memory percentage above which the memory
	// check reports degraded.
	MemoryPercent float64
	// DiskPercent is the used-disk percentage above which the disk check
	// reports degraded.
	DiskPercent float64
	// DiskPath is the mount point to check. Defaults to "/".
	DiskPath string
}

// Check is one named detailed check result.
type Check struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Status is the health report returned by the HTTP layer.
type Status struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
}

// Checker aggregates health signals from the gateway's components.
type Checker struct {
	cache      *artifactsView
	store      *artifacts.Store
	thresholds Thresholds
	validateFn func() error

	mu    sync.RWMutex
	ready bool
}

// artifactsView is the narrow cache surface health needs: loaded-state
// inspection without forcing loads.
type artifactsView struct {
	peek func(key string) bool
	keys func() []string
}

// NewChecker builds a checker. validateFn re-runs configuration validation
// for the detailed path; it may be nil.
func NewChecker(cache *mlcache.Cache, store *artifacts.Store, thresholds Thresholds, validateFn func() error) *Checker {
	if thresholds.MemoryPercent <= 0 {
		thresholds.MemoryPercent = 95
	}
	if thresholds.DiskPercent <= 0 {
		thresholds.DiskPercent = 95
	}
	if thresholds.DiskPath == "" {
		thresholds.DiskPath = "/"
	}

	return &Checker{
		cache:      &artifactsView{peek: cache.Peek, keys: cache.Keys},
		store:      store,
		thresholds: thresholds,
		validateFn: validateFn,
	}
}

// SetReady transitions the checker from starting to ready. Called once
// after startup checks pass; the transition is one-way.
func (c *Checker) SetReady() {
	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
}

// Ready reports whether the process has finished starting.
func (c *Checker) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// CheckFast is the liveness path: no I/O, no cache access.
func (c *Checker) CheckFast() Status {
	status := StatusStarting
	if c.Ready() {
		status = StatusReady
	}
	return Status{Status: status, Timestamp: time.Now().UTC()}
}

// CheckDetailed runs every detailed check. The overall status stays ready
// as long as the process is serving; individual checks flip it to degraded
// without affecting liveness.
func (c *Checker) CheckDetailed(ctx context.Context) Status {
	s := c.CheckFast()
	if s.Status == StatusStarting {
		return s
	}

	s.Checks = map[string]Check{
		"models":        c.checkModels(),
		"artifacts":     c.checkArtifactFiles(),
		"memory":        c.checkMemory(ctx),
		"disk":          c.checkDisk(ctx),
		"configuration": c.checkConfiguration(),
	}

	for _, check := range s.Checks {
		if check.Status != StatusHealthy {
			s.Status = StatusDegraded
			break
		}
	}

	return s
}

// checkModels reports which artifact keys are loaded without forcing a
// load. Unloaded models are normal before first use, so this check never
// degrades.
func (c *Checker) checkModels() Check {
	loaded := make(map[string]any)
	for _, key := range c.cache.keys() {
		loaded[key] = c.cache.peek(key)
	}
	return Check{
		Status:  StatusHealthy,
		Message: "lazy-loaded artifact cache",
		Details: map[string]any{"loaded": loaded},
	}
}

func (c *Checker) checkArtifactFiles() Check {
	present := c.store.FilesPresent()

	var missing []string
	for name, ok := range present {
		if !ok {
			missing = append(missing, name)
		}
	}

	details := map[string]any{"directory": c.store.Dir(), "files": present}
	if len(missing) > 0 {
		return Check{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d artifact files missing", len(missing)),
			Details: details,
		}
	}
	return Check{Status: StatusHealthy, Details: details}
}

func (c *Checker) checkMemory(ctx context.Context) Check {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Check{Status: StatusDegraded, Message: fmt.Sprintf("memory stats unavailable: %v", err)}
	}

	details := map[string]any{
		"used_percent":    roundPct(vm.UsedPercent),
		"available_bytes": vm.Available,
		"threshold":       c.thresholds.MemoryPercent,
	}
	if vm.UsedPercent > c.thresholds.MemoryPercent {
		return Check{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("memory usage %.1f%% above threshold", vm.UsedPercent),
			Details: details,
		}
	}
	return Check{Status: StatusHealthy, Details: details}
}

func (c *Checker) checkDisk(ctx context.Context) Check {
	du, err := disk.UsageWithContext(ctx, c.thresholds.DiskPath)
	if err != nil {
		return Check{Status: StatusDegraded, Message: fmt.Sprintf("disk stats unavailable: %v", err)}
	}

	details := map[string]any{
		"path":         c.thresholds.DiskPath,
		"used_percent": roundPct(du.UsedPercent),
		"free_bytes":   du.Free,
		"threshold":    c.thresholds.DiskPercent,
	}
	if du.UsedPercent > c.thresholds.DiskPercent {
		return Check{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("disk usage %.1f%% above threshold", du.UsedPercent),
			Details: details,
		}
	}
	return Check{Status: StatusHealthy, Details: details}
}

func (c *Checker) checkConfiguration() Check {
	if c.validateFn == nil {
		return Check{Status: StatusHealthy}
	}
	if err := c.validateFn(); err != nil {
		return Check{Status: StatusDegraded, Message: err.Error()}
	}
	return Check{Status: StatusHealthy}
}

func roundPct(v float64) float64 {
	return float64(int(v*10)) / 10
}
