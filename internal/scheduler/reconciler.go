// Package scheduler runs the assignment reconciliation loop and its asynq
// triggers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"leadflow_backend/internal/assignment/engine"
	assignsvc "leadflow_backend/internal/assignment/service"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/visitors/domain"
	"leadflow_backend/platform/logger"
)

const (
	defaultInterval   = time.Minute
	defaultBatchSize  = 500
	defaultMaxPerPass = 10000
)

// Pass triggers, recorded in reports and logs.
const (
	TriggerTimer  = "timer"
	TriggerManual = "manual"
	TriggerTask   = "task"
	TriggerStart  = "start"
)

var (
	// ErrAlreadyStarted is returned by Start while the loop runs.
	ErrAlreadyStarted = errors.New("reconciler already started")
	// ErrPassInProgress is returned when a pass is skipped because another
	// one holds the single-flight guard or the distributed lock.
	ErrPassInProgress = errors.New("assignment pass already in progress")
)

// Queue lists visitors that still miss an executive, oldest first, after
// the given sequence number.
type Queue interface {
	ListNeedingAssignment(ctx context.Context, afterSeq int64, limit int) ([]*domain.Visitor, error)
}

// Assigner routes one loaded visitor. Implementations update the visitor in
// place on success.
type Assigner interface {
	RouteByCategory(ctx context.Context, v *domain.Visitor) (assignsvc.Result, error)
	RouteFallback(ctx context.Context, v *domain.Visitor) (assignsvc.Result, error)
	RouteByRegion(ctx context.Context, v *domain.Visitor) (assignsvc.Result, error)
}

// Locker extends single-flight across processes. *redislock.Lock
// satisfies it.
type Locker interface {
	TryLock(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

type counterSource interface {
	Engine() *engine.Engine
}

var _ Assigner = (*assignsvc.Service)(nil)

// Options tune the reconciler. Zero values take defaults. BatchSize is the
// page size of one queue read; MaxPerPass caps how many visitors a single
// pass examines across pages.
type Options struct {
	Interval   time.Duration
	BatchSize  int
	MaxPerPass int
	Locker     Locker
	RunOnStart bool
}

// PassReport is the outcome of one pass.
type PassReport struct {
	Trigger         string    `json:"trigger"`
	StartedAt       time.Time `json:"startedAt"`
	DurationMs      int64     `json:"durationMs"`
	Examined        int       `json:"examined"`
	Pages           int       `json:"pages"`
	Truncated       bool      `json:"truncated"`
	ServiceRouted   int       `json:"serviceRouted"`
	FallbackRouted  int       `json:"fallbackRouted"`
	RegionRouted    int       `json:"regionRouted"`
	Unassigned      int       `json:"unassigned"`
	RegionSkipped   int       `json:"regionSkipped"`
	RegionUnmatched int       `json:"regionUnmatched"`
	Failed          int       `json:"failed"`
	Aborted         bool      `json:"aborted"`
	Error           string    `json:"error,omitempty"`
}

// Stats is the introspection view used by operators.
type Stats struct {
	Running          bool              `json:"running"`
	InFlight         bool              `json:"inFlight"`
	Interval         string            `json:"interval"`
	BatchSize        int               `json:"batchSize"`
	MaxPerPass       int               `json:"maxPerPass"`
	CompletedPasses  uint64            `json:"completedPasses"`
	SkippedPasses    uint64            `json:"skippedPasses"`
	AbortedPasses    uint64            `json:"abortedPasses"`
	LastPass         *PassReport       `json:"lastPass,omitempty"`
	CategoryCounters map[string]uint64 `json:"categoryCounters,omitempty"`
	FallbackCounter  uint64            `json:"fallbackCounter"`
}

// Reconciler periodically assigns unassigned visitors. At most one pass
// runs at a time; overlapping triggers are dropped, never queued.
type Reconciler struct {
	queue    Queue
	assigner Assigner
	bus      events.Bus
	log      *logger.Logger
	opts     Options

	inFlight atomic.Bool
	// resumeAfter is the queue cursor left by a truncated pass. Only the
	// pass holding inFlight touches it.
	resumeAfter int64

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	doneCh    chan struct{}
	completed uint64
	skipped   uint64
	aborted   uint64
	last      *PassReport

	now           func() time.Time
	tickerFactory func(interval time.Duration) passTicker
}

// New creates a stopped reconciler.
func New(queue Queue, assigner Assigner, bus events.Bus, log *logger.Logger, opts Options) *Reconciler {
	if queue == nil {
		panic("scheduler: queue is required")
	}
	if assigner == nil {
		panic("scheduler: assigner is required")
	}
	if log == nil {
		log = logger.Discard()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxPerPass <= 0 {
		opts.MaxPerPass = defaultMaxPerPass
	}
	if opts.MaxPerPass < opts.BatchSize {
		opts.MaxPerPass = opts.BatchSize
	}
	return &Reconciler{
		queue:    queue,
		assigner: assigner,
		bus:      bus,
		log:      log.WithComponent("reconciler"),
		opts:     opts,
		now: func() time.Time {
			return time.Now().UTC()
		},
		tickerFactory: func(interval time.Duration) passTicker {
			return newRealTicker(interval)
		},
	}
}

// Start launches the timer loop. It returns ErrAlreadyStarted when the
// loop is already running. The loop ends on Stop or when ctx is done.
func (r *Reconciler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	doneCh := make(chan struct{})
	ticker := r.tickerFactory(r.opts.Interval)
	r.running = true
	r.cancel = cancel
	r.doneCh = doneCh
	r.mu.Unlock()

	r.log.Info("reconciler started", "interval", r.opts.Interval.String(), "batchSize", r.opts.BatchSize)
	go r.loop(loopCtx, ticker, doneCh)
	return nil
}

// Stop cancels the loop, including a pass it is executing, and waits for
// it to exit. Stop on a stopped reconciler is a no-op.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	doneCh := r.doneCh
	r.running = false
	r.cancel = nil
	r.doneCh = nil
	r.mu.Unlock()

	cancel()
	<-doneCh
	r.log.Info("reconciler stopped")
}

// Running reports whether the timer loop is active.
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RunOnce executes a manual pass now. It returns ErrPassInProgress without
// doing any work if a pass is already executing.
func (r *Reconciler) RunOnce(ctx context.Context) (PassReport, error) {
	return r.Run(ctx, TriggerManual)
}

// Run executes one pass labelled with trigger.
func (r *Reconciler) Run(ctx context.Context, trigger string) (PassReport, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.countSkip(trigger, "local")
		return PassReport{Trigger: trigger}, ErrPassInProgress
	}
	defer r.inFlight.Store(false)

	if r.opts.Locker != nil {
		release, ok, err := r.opts.Locker.TryLock(ctx)
		if err != nil {
			report := PassReport{Trigger: trigger, StartedAt: r.now(), Aborted: true}
			err = fmt.Errorf("acquire pass lock: %w", err)
			r.record(report, err)
			return report, err
		}
		if !ok {
			r.countSkip(trigger, "distributed")
			return PassReport{Trigger: trigger}, ErrPassInProgress
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.log.Warn("release pass lock failed", "error", err)
			}
		}()
	}

	report, err := r.pass(ctx, trigger)
	r.record(report, err)
	return report, err
}

// Stats returns counters for operator tooling.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	stats := Stats{
		Running:         r.running,
		Interval:        r.opts.Interval.String(),
		BatchSize:       r.opts.BatchSize,
		MaxPerPass:      r.opts.MaxPerPass,
		CompletedPasses: r.completed,
		SkippedPasses:   r.skipped,
		AbortedPasses:   r.aborted,
	}
	if r.last != nil {
		last := *r.last
		stats.LastPass = &last
	}
	r.mu.Unlock()

	stats.InFlight = r.inFlight.Load()
	if src, ok := r.assigner.(counterSource); ok {
		snap := src.Engine().Snapshot()
		stats.FallbackCounter = snap.Fallback
		stats.CategoryCounters = make(map[string]uint64, len(snap.Category))
		for category, n := range snap.Category {
			stats.CategoryCounters[string(category)] = n
		}
	}
	return stats
}

func (r *Reconciler) loop(ctx context.Context, ticker passTicker, doneCh chan struct{}) {
	defer close(doneCh)
	defer r.release(doneCh)
	defer ticker.Stop()

	if r.opts.RunOnStart {
		r.runLogged(ctx, TriggerStart)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.runLogged(ctx, TriggerTimer)
		}
	}
}

// release clears the loop state when the loop ends without Stop, which
// happens when the context given to Start is done.
func (r *Reconciler) release(doneCh chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doneCh != doneCh {
		return
	}
	r.cancel()
	r.running = false
	r.cancel = nil
	r.doneCh = nil
	r.log.Info("reconciler stopped", "reason", "context done")
}

// runLogged keeps the loop alive whatever the pass returns.
func (r *Reconciler) runLogged(ctx context.Context, trigger string) {
	if _, err := r.Run(ctx, trigger); err != nil && !errors.Is(err, ErrPassInProgress) {
		r.log.Warn("assignment pass aborted", "trigger", trigger, "error", err)
	}
}

func (r *Reconciler) countSkip(trigger, guard string) {
	r.mu.Lock()
	r.skipped++
	r.mu.Unlock()
	r.log.Info("assignment pass skipped", "trigger", trigger, "guard", guard)
}

func (r *Reconciler) record(report PassReport, err error) {
	if err != nil {
		report.Aborted = true
		report.Error = err.Error()
	}

	r.mu.Lock()
	if err != nil {
		r.aborted++
	} else {
		r.completed++
	}
	r.last = &report
	r.mu.Unlock()

	if err != nil {
		return
	}

	r.log.AssignmentPass(report.Trigger, report.Examined, report.ServiceRouted, report.FallbackRouted,
		report.RegionRouted, report.Unassigned, report.Failed, report.DurationMs)
	if r.bus != nil {
		r.bus.Publish(context.Background(), events.AssignmentPassCompleted{
			BaseEvent:      events.NewBaseEvent(),
			Trigger:        report.Trigger,
			Examined:       report.Examined,
			ServiceRouted:  report.ServiceRouted,
			FallbackRouted: report.FallbackRouted,
			RegionRouted:   report.RegionRouted,
			Unassigned:     report.Unassigned,
			Failed:         report.Failed,
			DurationMs:     report.DurationMs,
		})
	}
}

type passTicker interface {
	Chan() <-chan time.Time
	Stop()
}

type realTicker struct {
	ticker *time.Ticker
}

func newRealTicker(interval time.Duration) *realTicker {
	return &realTicker{ticker: time.NewTicker(interval)}
}

func (t *realTicker) Chan() <-chan time.Time {
	return t.ticker.C
}

func (t *realTicker) Stop() {
	t.ticker.Stop()
}
