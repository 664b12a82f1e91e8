package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/extract"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/refine"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/report"
)

const (
	// DefaultPollInterval is the pause between learning cycles.
	DefaultPollInterval = 30 * time.Second
	// DefaultRefineEvery runs a refine pass every N cycles.
	DefaultRefineEvery = 10
	// DefaultReportInterval refreshes the stored report once a day.
	DefaultReportInterval = 24 * time.Hour

	stopSampleInterval = time.Second
)

// LearnerOptions tunes the continuous learning loop. Zero values fall
// back to the defaults; Guard, Metrics and Events are optional.
type LearnerOptions struct {
	PollInterval   time.Duration
	RefineEvery    int
	ReportInterval time.Duration
	Guard          *ResourceGuard
	Metrics        *Metrics
	// Events cuts the current poll wait short, typically wired to the
	// capture watcher's notification channel.
	Events <-chan struct{}
}

// Learner drives the background learning loop: extract new workflows each
// cycle, refine periodically, refresh the report daily. One Learner per
// daemon; its methods are not safe for concurrent use.
type Learner struct {
	extractor *extract.Extractor
	refiner   *refine.Refiner
	reporter  *report.Generator
	guard     *ResourceGuard
	metrics   *Metrics
	events    <-chan struct{}

	poll        time.Duration
	refineEvery int
	reportEvery time.Duration

	cycles     int
	lastReport time.Time

	stop     chan struct{}
	stopOnce sync.Once
	log      zerolog.Logger
}

func NewLearner(ex *extract.Extractor, rf *refine.Refiner, rep *report.Generator, opts LearnerOptions) *Learner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RefineEvery <= 0 {
		opts.RefineEvery = DefaultRefineEvery
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = DefaultReportInterval
	}
	return &Learner{
		extractor:   ex,
		refiner:     rf,
		reporter:    rep,
		guard:       opts.Guard,
		metrics:     opts.Metrics,
		events:      opts.Events,
		poll:        opts.PollInterval,
		refineEvery: opts.RefineEvery,
		reportEvery: opts.ReportInterval,
		stop:        make(chan struct{}),
		log:         logger.Component("learner"),
	}
}

// Run cycles until Stop is called or ctx is cancelled. The first cycle
// runs immediately, and the first report is written on that cycle.
func (l *Learner) Run(ctx context.Context) {
	l.log.Info().
		Dur("poll", l.poll).
		Int("refine_every", l.refineEvery).
		Msg("continuous learning started")
	if l.guard != nil {
		l.guard.SetupLowPriority()
	}
	for {
		l.RunOnce(ctx)
		if !l.wait(ctx) {
			break
		}
	}
	l.log.Info().Int("cycles", l.cycles).Msg("continuous learning stopped")
}

// RunOnce runs a single learning cycle and returns the number of newly
// extracted workflows.
func (l *Learner) RunOnce(ctx context.Context) int {
	if l.guard != nil {
		slept := l.guard.CheckAndThrottle()
		if l.metrics != nil {
			l.metrics.ThrottleSlept(slept)
		}
	}

	workflows := l.extractor.ExtractIncremental(ctx)
	if len(workflows) > 0 {
		l.log.Info().Int("count", len(workflows)).Msg("new workflows extracted")
	}

	l.cycles++
	if l.cycles%l.refineEvery == 0 {
		l.refineCycle()
	}
	if time.Since(l.lastReport) >= l.reportEvery {
		l.reportCycle()
		l.lastReport = time.Now()
	}

	if l.metrics != nil {
		l.metrics.CycleDone(len(workflows))
	}
	return len(workflows)
}

// Stop ends Run after the current cycle. Safe to call more than once and
// from other goroutines.
func (l *Learner) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Learner) refineCycle() {
	stats := l.refiner.RefineAll()
	l.log.Info().
		Int("refined", stats.Refined).
		Int("promoted", stats.Promoted).
		Int("demoted", stats.Demoted).
		Int("variants", stats.Variants).
		Int("merged", stats.Merged).
		Msg("refine cycle finished")
}

func (l *Learner) reportCycle() {
	path, err := l.reporter.WriteReport(report.FormatMarkdown)
	if err != nil {
		l.log.Warn().Err(err).Msg("report refresh failed")
		return
	}
	if _, uerr := l.reporter.UpdateCatalog(); uerr != nil {
		l.log.Warn().Err(uerr).Msg("catalog refresh failed")
	}
	l.log.Info().Str("path", path).Msg("daily report refreshed")
}

// wait pauses for the poll interval, sampling the stop signals once a
// second. A capture event ends the wait early so fresh files are picked
// up without the full delay.
func (l *Learner) wait(ctx context.Context) bool {
	deadline := time.Now().Add(l.poll)
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
		case <-l.stop:
			timer.Stop()
			return false
		case <-l.events:
			timer.Stop()
			return true
		case <-timer.C:
		}
	}
	return true
}
