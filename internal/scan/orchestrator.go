package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sharedErrors "github.com/khanhnv2901/sentinelscope/internal/shared/errors"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// DefaultGracePeriod is how long a timed out or cancelled probe gets to
// unwind and close its connections before it is reported abandoned.
const DefaultGracePeriod = 250 * time.Millisecond

// Phases reported to an Observer.
const (
	PhaseStarted  = "started"
	PhaseFinished = "finished"
)

// ProbeEvent describes a probe lifecycle change.
type ProbeEvent struct {
	Probe    string
	Phase    string
	Kind     OutcomeKind
	Reason   string
	Duration time.Duration
}

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	Logger   *zap.Logger
	Registry *Registry
	Now      func() time.Time
	// Observer receives lifecycle events from concurrent probe tasks and must
	// be safe for concurrent use.
	Observer    func(ProbeEvent)
	GracePeriod time.Duration
}

// Orchestrator runs the registered probes of one scan concurrently and folds
// their outcomes into a Report.
type Orchestrator struct {
	logger   *zap.Logger
	registry *Registry
	now      func() time.Time
	observer func(ProbeEvent)
	grace    time.Duration
}

// NewOrchestrator creates an orchestrator. A nil registry selects
// DefaultRegistry with a zero Environment.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		logger:   opts.Logger,
		registry: opts.Registry,
		now:      opts.Now,
		observer: opts.Observer,
		grace:    opts.GracePeriod,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.registry == nil {
		o.registry = DefaultRegistry(Environment{})
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.grace <= 0 {
		o.grace = DefaultGracePeriod
	}
	return o
}

// Run validates cfg and executes every enabled probe. The only error it
// returns is a *ConfigError; probe failures are recorded in the report.
func (o *Orchestrator) Run(ctx context.Context, cfg Config) (*Report, error) {
	return o.run(ctx, cfg, o.observer)
}

// RunObserved is Run with an additional per-scan observer, called after the
// orchestrator-wide one.
func (o *Orchestrator) RunObserved(ctx context.Context, cfg Config, observe func(ProbeEvent)) (*Report, error) {
	emit := o.observer
	switch {
	case observe == nil:
	case emit == nil:
		emit = observe
	default:
		global := o.observer
		emit = func(ev ProbeEvent) {
			global(ev)
			observe(ev)
		}
	}
	return o.run(ctx, cfg, emit)
}

func (o *Orchestrator) run(ctx context.Context, cfg Config, observe func(ProbeEvent)) (*Report, error) {
	emit := func(ev ProbeEvent) {
		if observe != nil {
			observe(ev)
		}
	}
	valid, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	started := o.now()
	report := &Report{
		ScanID:    uuid.NewString(),
		Domain:    valid.Domain,
		Timestamp: started.UTC(),
	}
	log := o.logger.With(zap.String("scan_id", report.ScanID), zap.String("domain", valid.Domain))
	log.Info("scan_started", zap.Strings("probes", o.enabledNames(valid)))

	done := make(map[string]chan struct{}, len(o.registry.tasks))
	for _, t := range o.registry.tasks {
		done[t.name()] = make(chan struct{})
	}

	var wg conc.WaitGroup
	for _, t := range o.registry.tasks {
		if !t.enabled(valid) {
			t.disable(report)
			close(done[t.name()])
			emit(ProbeEvent{Probe: t.name(), Phase: PhaseFinished, Kind: KindDisabled})
			continue
		}
		wg.Go(func() {
			defer close(done[t.name()])
			// Dependencies always close done, bounded by their budget plus the
			// grace period, so waiting without ctx keeps their report fields
			// settled before inputsFor reads them.
			for _, dep := range t.after() {
				<-done[dep]
			}
			o.runTask(ctx, log, emit, t, valid, report)
		})
	}
	wg.Wait()

	for _, t := range o.registry.tasks {
		if t.fillUnset(report, fmt.Sprintf("%s: outcome not recorded", sharedErrors.ErrInternalFault)) {
			log.Error("probe_outcome_missing", zap.String("probe", t.name()))
		}
	}
	report.disableUnregistered()

	finished := o.now()
	report.FinishedAt = finished.UTC()
	report.DurationMS = finished.Sub(started).Milliseconds()
	ok, failed, skipped := report.Counts()
	log.Info("scan_finished",
		zap.Int("ok", ok),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
		zap.Duration("duration", finished.Sub(started)),
	)
	return report, nil
}

func (o *Orchestrator) enabledNames(cfg *Config) []string {
	var names []string
	for _, t := range o.registry.tasks {
		if t.enabled(cfg) {
			names = append(names, t.name())
		}
	}
	return names
}

func (o *Orchestrator) runTask(ctx context.Context, log *zap.Logger, emit func(ProbeEvent), t task, cfg *Config, r *Report) {
	name := t.name()
	emit(ProbeEvent{Probe: name, Phase: PhaseStarted})
	log.Debug("probe_started", zap.String("probe", name))

	start := time.Now()
	kind, reason := t.execute(ctx, o, cfg, r)
	elapsed := time.Since(start)

	fields := []zap.Field{
		zap.String("probe", name),
		zap.Stringer("outcome", kind),
		zap.Duration("duration", elapsed),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	if kind == KindFailure {
		log.Warn("probe_finished", fields...)
	} else {
		log.Info("probe_finished", fields...)
	}
	emit(ProbeEvent{Probe: name, Phase: PhaseFinished, Kind: kind, Reason: reason, Duration: elapsed})
}

type attempt[T any] struct {
	value     T
	err       error
	recovered *panics.Recovered
}

// execute runs the probe under its budget and writes the outcome to the
// slot's field. A probe that panics, overruns or is cancelled still yields
// exactly one outcome.
func (s *Slot[T]) execute(ctx context.Context, o *Orchestrator, cfg *Config, r *Report) (OutcomeKind, string) {
	in := inputsFor(r, s.After)
	out := s.run(ctx, o, cfg, in)
	*s.Field(r) = out
	return out.Kind(), out.Reason()
}

func (s *Slot[T]) run(ctx context.Context, o *Orchestrator, cfg *Config, in Inputs) Outcome[T] {
	if ctx.Err() != nil {
		return Failure[T](interruption(ctx))
	}
	pctx, cancel := context.WithTimeout(ctx, s.budget(cfg, in))
	defer cancel()

	results := make(chan attempt[T], 1)
	go func() {
		var a attempt[T]
		var pc panics.Catcher
		pc.Try(func() {
			a.value, a.err = s.Probe.Run(pctx, cfg, in)
		})
		a.recovered = pc.Recovered()
		results <- a
	}()

	select {
	case a := <-results:
		return settle(ctx, pctx, a)
	case <-pctx.Done():
	}

	reason := interruption(ctx)
	// Give the probe a bounded window to observe cancellation and close its
	// sockets before the scan moves on.
	select {
	case <-results:
	case <-time.After(o.grace):
		o.logger.Warn("probe_abandoned",
			zap.String("probe", s.name()),
			zap.String("reason", reason),
			zap.Duration("grace", o.grace),
		)
	}
	return Failure[T](reason)
}

func settle[T any](scanCtx, probeCtx context.Context, a attempt[T]) Outcome[T] {
	if a.recovered != nil {
		return Failure[T](fmt.Sprintf("%s: %v", sharedErrors.ErrInternalFault, a.recovered.Value))
	}
	if a.err != nil {
		if probeCtx.Err() != nil {
			return Failure[T](interruption(scanCtx))
		}
		return Failure[T](a.err.Error())
	}
	return Success(a.value)
}

// interruption names why a probe context ended: the caller cancelled the
// scan, or a deadline (the probe budget or the caller's) passed.
func interruption(scanCtx context.Context) string {
	if errors.Is(scanCtx.Err(), context.Canceled) {
		return sharedErrors.ErrProbeCancelled.Error()
	}
	return sharedErrors.ErrProbeTimeout.Error()
}
