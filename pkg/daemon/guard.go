// Package daemon hosts the shared background-service plumbing: resource
// throttling, capture-file cleanup, Prometheus metrics and the continuous
// learning loop. The agent daemon and the skills pipeline both build on it.
package daemon

import (
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
)

const (
	// DefaultCPULimit is the system CPU percentage above which cycles
	// are throttled.
	DefaultCPULimit = 30.0
	// DefaultMemLimitMB is the process RSS limit in megabytes.
	DefaultMemLimitMB = 500.0

	cpuSampleWindow  = 100 * time.Millisecond
	maxThrottleSleep = 5 * time.Second
)

// ResourceStats is one usage sample for status displays.
type ResourceStats struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryMB    float64 `json:"memory_mb"`
	DiskUsageMB float64 `json:"disk_usage_mb"`
}

// ResourceGuard keeps background work polite. It drops the process to the
// lowest scheduling priority and inserts sleeps proportional to how far
// CPU or memory overshoot their limits, so a busy foreground session is
// never starved by learning cycles.
type ResourceGuard struct {
	cpuLimit   float64
	memLimitMB float64
	watchDir   string
	proc       *process.Process
	log        zerolog.Logger
}

// NewResourceGuard builds a guard for the current process. Non-positive
// limits fall back to the defaults.
func NewResourceGuard(cpuLimit, memLimitMB float64, watchDir string) *ResourceGuard {
	if cpuLimit <= 0 {
		cpuLimit = DefaultCPULimit
	}
	if memLimitMB <= 0 {
		memLimitMB = DefaultMemLimitMB
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	g := &ResourceGuard{
		cpuLimit:   cpuLimit,
		memLimitMB: memLimitMB,
		watchDir:   watchDir,
		proc:       proc,
		log:        logger.Component("guard"),
	}
	if err != nil {
		g.proc = nil
		g.log.Warn().Err(err).Msg("process handle unavailable, memory checks disabled")
	}
	return g
}

// SetupLowPriority renices the process to 19. Best effort: some
// environments refuse priority changes and the daemon runs on regardless.
func (g *ResourceGuard) SetupLowPriority() {
	if err := syscall.Setpriority(syscall.PRIO_PROCESS, 0, 19); err != nil {
		g.log.Warn().Err(err).Msg("priority not lowered, continuing at normal priority")
		return
	}
	g.log.Debug().Msg("process priority lowered to nice 19")
}

// CheckAndThrottle samples current usage and sleeps when a limit is
// exceeded. CPU and memory are checked independently, so both sleeps can
// fire in one call. Returns the total time slept.
func (g *ResourceGuard) CheckAndThrottle() time.Duration {
	var slept time.Duration

	if pcts, err := cpu.Percent(cpuSampleWindow, false); err == nil && len(pcts) > 0 && pcts[0] > g.cpuLimit {
		d := throttleSleep(pcts[0], g.cpuLimit)
		g.log.Info().
			Float64("cpu_percent", pcts[0]).
			Float64("limit", g.cpuLimit).
			Dur("sleep", d).
			Msg("cpu over limit, throttling")
		time.Sleep(d)
		slept += d
	}

	if mem := g.memoryMB(); mem > g.memLimitMB {
		d := throttleSleep(mem, g.memLimitMB)
		g.log.Info().
			Float64("memory_mb", mem).
			Float64("limit", g.memLimitMB).
			Dur("sleep", d).
			Msg("memory over limit, throttling")
		time.Sleep(d)
		slept += d
	}

	return slept
}

// Stats samples current usage. Sampling failures leave fields at zero.
func (g *ResourceGuard) Stats() ResourceStats {
	var s ResourceStats
	if pcts, err := cpu.Percent(cpuSampleWindow, false); err == nil && len(pcts) > 0 {
		s.CPUPercent = round1(pcts[0])
	}
	s.MemoryMB = round1(g.memoryMB())
	s.DiskUsageMB = round1(dirSizeMB(g.watchDir))
	return s
}

func (g *ResourceGuard) memoryMB() float64 {
	if g.proc == nil {
		return 0
	}
	mi, err := g.proc.MemoryInfo()
	if err != nil || mi == nil {
		return 0
	}
	return float64(mi.RSS) / (1024 * 1024)
}

// throttleSleep scales the sleep with the overshoot ratio, capped at
// maxThrottleSleep.
func throttleSleep(value, limit float64) time.Duration {
	sec := (value - limit) / limit * 2
	if sec > maxThrottleSleep.Seconds() {
		return maxThrottleSleep
	}
	return time.Duration(sec * float64(time.Second))
}

// dirSizeMB sums regular-file sizes under dir. A missing or unreadable
// directory counts as zero.
func dirSizeMB(dir string) float64 {
	if dir == "" {
		return 0
	}
	var total int64
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, ierr := d.Info(); ierr == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return float64(total) / (1024 * 1024)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
