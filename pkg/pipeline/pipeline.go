// Package pipeline runs the always-on skills pipeline: watch the capture
// directory, segment records into app sessions, ask the oracle for
// reusable operation patterns, and write the hits out as SKILL.md files.
// Consumed captures are deleted so the grabbers' output never piles up.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/capture"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/daemon"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
)

const (
	// DefaultPollInterval is the pause between directory scans.
	DefaultPollInterval = 10 * time.Second
	// DefaultSessionGapSeconds splits sessions on five idle minutes.
	DefaultSessionGapSeconds = 300
	// DefaultSessionMax caps records per session.
	DefaultSessionMax = 50

	defaultMinConfidence = 0.6
	cleanupInterval      = 10 * time.Minute
	stopSampleInterval   = time.Second
)

// SkillSource asks whether a segment holds a reusable operation pattern.
// Nil answers mean no skill or no oracle signal.
type SkillSource interface {
	ExtractSkill(ctx context.Context, seg *capture.Segment) *workflow.ExtractedSkill
}

// Options tunes the pipeline. Zero values fall back to the defaults;
// Guard, Cleanup and Metrics are optional.
type Options struct {
	// SessionGap is the idle gap in seconds that closes a session.
	SessionGap float64
	// SessionMax caps records per session.
	SessionMax    int
	MinConfidence float64
	PollInterval  time.Duration
	Guard         *daemon.ResourceGuard
	Cleanup       *daemon.CleanupManager
	Metrics       *daemon.Metrics
}

// Pipeline drives the capture-to-skill loop. One Pipeline per process;
// its methods are not safe for concurrent use.
type Pipeline struct {
	watcher   *capture.Watcher
	segmenter *capture.Segmenter
	source    SkillSource
	writer    *SkillWriter
	guard     *daemon.ResourceGuard
	cleanup   *daemon.CleanupManager
	metrics   *daemon.Metrics

	minConfidence float64
	poll          time.Duration
	lastCleanup   time.Time

	stop     chan struct{}
	stopOnce sync.Once
	log      zerolog.Logger
}

// New assembles a pipeline over the watcher. src and writer must be
// non-nil.
func New(w *capture.Watcher, src SkillSource, writer *SkillWriter, opts Options) *Pipeline {
	if opts.SessionGap <= 0 {
		opts.SessionGap = DefaultSessionGapSeconds
	}
	if opts.SessionMax <= 0 {
		opts.SessionMax = DefaultSessionMax
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = defaultMinConfidence
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Pipeline{
		watcher:       w,
		segmenter:     capture.NewSegmenter(opts.SessionGap, opts.SessionMax),
		source:        src,
		writer:        writer,
		guard:         opts.Guard,
		cleanup:       opts.Cleanup,
		metrics:       opts.Metrics,
		minConfidence: opts.MinConfidence,
		poll:          opts.PollInterval,
		stop:          make(chan struct{}),
		log:           logger.Component("pipeline"),
	}
}

// Run cycles until Stop is called or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	if p.guard != nil {
		p.guard.SetupLowPriority()
	}
	p.log.Info().
		Str("watch_dir", p.watcher.Dir()).
		Dur("poll", p.poll).
		Msg("pipeline started")
	for {
		p.Cycle(ctx)
		if !p.wait(ctx) {
			break
		}
	}
	p.log.Info().Msg("pipeline stopped")
}

// RunOnce runs a single cycle and flushes the segmenter tail, so a
// one-shot invocation processes everything currently on disk.
func (p *Pipeline) RunOnce(ctx context.Context) {
	p.log.Info().Str("watch_dir", p.watcher.Dir()).Msg("single pipeline cycle")
	p.Cycle(ctx)
	if tail := p.segmenter.Flush(); tail != nil {
		p.processSession(ctx, tail)
	}
	p.log.Info().Msg("single pipeline cycle finished")
}

// Stop ends Run after the current cycle. Safe to call more than once and
// from signal handlers.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Cycle throttles, feeds new captures through the segmenter, and
// periodically sweeps stale files. Completed sessions are processed as
// they close; the segmenter keeps the open tail for the next cycle.
func (p *Pipeline) Cycle(ctx context.Context) {
	if p.guard != nil {
		slept := p.guard.CheckAndThrottle()
		if p.metrics != nil {
			p.metrics.ThrottleSlept(slept)
		}
	}

	for _, rec := range p.watcher.ScanNewFiles() {
		if seg := p.segmenter.Add(rec); seg != nil {
			p.processSession(ctx, seg)
		}
		if err := p.watcher.MarkProcessed(rec.JSONPath); err != nil {
			p.log.Warn().Err(err).Msg("processed log not updated")
		}
	}

	p.sweep()
}

// processSession extracts at most one skill from the segment and always
// cleans the segment's files up afterwards, hit or miss.
func (p *Pipeline) processSession(ctx context.Context, seg *capture.Segment) {
	p.log.Info().
		Str("session", seg.SessionID).
		Str("app", seg.AppName).
		Int("records", len(seg.Captures)).
		Msg("session ready")

	skill := p.source.ExtractSkill(ctx, seg)
	if p.metrics != nil {
		p.metrics.OracleCall("extract_skill", skill != nil)
	}
	switch {
	case skill == nil:
		p.log.Debug().Str("session", seg.SessionID).Msg("no skill in session")
	case skill.Confidence < p.minConfidence:
		p.log.Debug().
			Str("skill", skill.Name).
			Float64("confidence", skill.Confidence).
			Float64("min", p.minConfidence).
			Msg("skill below confidence threshold")
	default:
		if _, err := p.writer.WriteSkill(skill); err != nil {
			p.log.Warn().Err(err).Str("skill", skill.Name).Msg("skill not written")
		} else if p.metrics != nil {
			p.metrics.SkillWritten()
		}
	}

	if p.cleanup != nil {
		deleted := p.cleanup.CleanupSession(seg)
		if p.metrics != nil {
			p.metrics.FilesDeleted(deleted)
		}
	}
}

// sweep deletes stale capture files every cleanupInterval. The first
// cycle sweeps immediately.
func (p *Pipeline) sweep() {
	if p.cleanup == nil || time.Since(p.lastCleanup) < cleanupInterval {
		return
	}
	deleted := p.cleanup.CleanupOldFiles(daemon.DefaultRetention)
	if p.metrics != nil {
		p.metrics.FilesDeleted(len(deleted))
	}
	p.lastCleanup = time.Now()
}

// wait pauses for the poll interval, sampling the stop signals once a
// second. A watcher event ends the wait early.
func (p *Pipeline) wait(ctx context.Context) bool {
	deadline := time.Now().Add(p.poll)
	events := p.watcher.Events()
	for time.Now().Before(deadline) {
		slice := stopSampleInterval
		if remaining := time.Until(deadline); remaining < slice {
			slice = remaining
		}
		timer := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-p.stop:
			timer.Stop()
			return false
		case <-events:
			timer.Stop()
			return true
		case <-timer.C:
		}
	}
	return true
}
