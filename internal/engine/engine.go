package engine

import (
	"context"
	"log/slog"
	"slices"

	"github.com/roach88/kinrule/internal/ir"
	"github.com/roach88/kinrule/internal/rules"
)

// IDGenerator generates unique dispatch ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// Updater performs remote record updates. The result is explicit: an
// implementation never panics and never returns a Go error separately.
type Updater interface {
	UpdateRecord(ctx context.Context, upd ir.RemoteUpdate) ir.UpdateResult
}

// Recorder persists the audit view of each dispatch.
type Recorder interface {
	WriteDispatch(ctx context.Context, rec ir.DispatchRecord) error
}

// SeqClock stamps dispatches with a monotonic seq. Implemented by Clock.
type SeqClock interface {
	Next() int64
	Current() int64
}

// Engine dispatches lifecycle events to rules.
//
// Thread-safety model:
//   - Submit(), Reload(), Stop(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Dispatch(): processes inline on the caller's goroutine; must not be
//     called concurrently with Run() or with itself
//
// INVARIANTS:
//   - rules slice order NEVER changes except through Reload
//   - Evaluation is single-threaded for determinism
type Engine struct {
	rules    []rules.Rule // Declaration order
	updater  Updater
	recorder Recorder
	logger   *slog.Logger
	clock    SeqClock
	ids      IDGenerator
	queue    *jobQueue
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithRecorder records every dispatch, e.g. to the SQLite audit store.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithIDGenerator sets the dispatch id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithClock sets the logical clock, e.g. one from ResumeClock.
func WithClock(c SeqClock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates an Engine for a rule set.
//
// The rules slice must be in declaration order and is copied to prevent
// external mutation. A nil updater behaves like a dry run: updates are
// computed and reported but never sent.
func New(set []rules.Rule, updater Updater, opts ...Option) *Engine {
	e := &Engine{
		rules:   slices.Clone(set),
		updater: updater,
		logger:  slog.Default(),
		clock:   NewClock(),
		ids:     UUIDv7Generator{},
		queue:   newJobQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispatch processes one envelope synchronously.
//
// Every rule subscribed to the event is evaluated against the same input
// snapshot. Derivations are applied to a clone; the input record is never
// mutated. Remote updates are then performed one at a time; their failures
// are logged and reported on the Result, never returned.
//
// Not safe to call while Run is active; use Submit then.
//
// Returns a *RuntimeError for undispatchable envelopes.
func (e *Engine) Dispatch(ctx context.Context, env ir.Envelope) (*Result, error) {
	if !env.Event.Valid() {
		return nil, NewUnknownEventError(env.Event.String())
	}
	if env.Record == nil {
		return nil, NewInvalidEnvelopeError(env.Event.String(), "record is required")
	}

	res := &Result{
		DispatchID: e.ids.Generate(),
		Seq:        e.clock.Next(),
		Event:      env.Event,
		AppID:      env.AppID,
		RecordID:   env.RecordID,
		Record:     env.Record.Clone(),
	}
	log := e.logger.With("dispatch_id", res.DispatchID, "seq", res.Seq, "event", env.Event.String())

	matched := matchingRules(e.rules, &env)
	log.Debug("dispatching", "app", env.AppID, "record", env.RecordID, "rules", len(matched))

	var updates []pendingUpdate
	for _, r := range matched {
		eff := r.Evaluate(env)
		if eff.None() {
			log.Debug("rule skipped", "rule", r.Name(), "reason", eff.Skip)
			res.Skipped = append(res.Skipped, SkippedRule{Rule: r.Name(), Reason: eff.Skip})
			continue
		}
		if eff.Derived {
			before, _ := env.Record.Get(eff.Field)
			change := FieldChange{
				Rule:   r.Name(),
				Field:  eff.Field,
				Before: ir.CloneValue(before),
				After:  eff.Value,
			}
			res.Changes = append(res.Changes, change)
			res.Record.Set(eff.Field, ir.CloneValue(eff.Value))
			log.Debug("field derived", "rule", r.Name(), "field", eff.Field, "changed", change.Changed())
		}
		if eff.Update != nil {
			updates = append(updates, pendingUpdate{rule: r.Name(), update: *eff.Update})
		}
	}

	for _, p := range updates {
		res.Updates = append(res.Updates, e.performUpdate(ctx, log, p))
	}

	if e.recorder != nil {
		if err := e.recorder.WriteDispatch(ctx, res.auditRecord(env.RecordNumber)); err != nil {
			log.Error("audit write failed", "error", err)
		}
	}

	return res, nil
}

type pendingUpdate struct {
	rule   string
	update ir.RemoteUpdate
}

// performUpdate sends one remote update. Failures are logged and returned in
// the outcome, never retried.
func (e *Engine) performUpdate(ctx context.Context, log *slog.Logger, p pendingUpdate) UpdateOutcome {
	out := UpdateOutcome{Rule: p.rule, Update: p.update}

	key, err := p.update.Key()
	if err != nil {
		out.Result = ir.Failed(0, err)
		log.Error("remote update rejected", "rule", p.rule, "error", err)
		return out
	}
	out.Key = key

	if err := p.update.Validate(); err != nil {
		out.Result = ir.Failed(0, err)
		log.Error("remote update rejected", "rule", p.rule, "key", key, "error", err)
		return out
	}

	if e.updater == nil {
		out.Result = ir.Succeeded("", 0)
		log.Info("remote update skipped (dry run)", "rule", p.rule, "app", p.update.AppID, "record", p.update.RecordID)
		return out
	}

	out.Result = e.updater.UpdateRecord(ctx, p.update)
	if !out.Result.OK() {
		// Best effort: the record stays without the value until the next
		// qualifying event.
		log.Error("remote update failed",
			"rule", p.rule,
			"app", p.update.AppID,
			"record", p.update.RecordID,
			"key", key,
			"status", out.Result.Status,
			"error", out.Result.Err,
		)
		return out
	}

	log.Info("remote update sent",
		"rule", p.rule,
		"app", p.update.AppID,
		"record", p.update.RecordID,
		"revision", out.Result.Revision,
	)
	return out
}

// Submit enqueues an envelope for the Run loop and waits for its result.
// Thread-safe: may be called from any goroutine.
//
// Returns a RuntimeError with ErrCodeEngineStopped if the engine no longer
// accepts work, or ctx.Err() if ctx ends first.
func (e *Engine) Submit(ctx context.Context, env ir.Envelope) (*Result, error) {
	j := job{ctx: ctx, env: &env, reply: make(chan jobResult, 1)}
	if !e.queue.Enqueue(j) {
		return nil, errStopped()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-j.reply:
		return r.result, r.err
	}
}

// Reload replaces the rule set between two events.
// Thread-safe: may be called from any goroutine. The new set takes effect
// for every envelope submitted after Reload returns.
//
// Returns false if the engine has been stopped.
func (e *Engine) Reload(set []rules.Rule) bool {
	return e.queue.Enqueue(job{reload: slices.Clone(set)})
}

// Run starts the single-writer event loop.
// Blocks until context is cancelled or Stop() is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// Jobs still queued when the loop exits are answered with an
// ErrCodeEngineStopped error.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "rules", len(e.rules))
	defer e.drain()

	for {
		if j, ok := e.queue.TryDequeue(); ok {
			e.process(ctx, j)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes when the queue is closed, which
			// makes this case fire immediately.
			if e.queue.Len() == 0 && e.queue.Closed() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine.
// Closes the queue, which will cause Run() to return once it is empty.
func (e *Engine) Stop() {
	e.queue.Close()
}

// process runs one job.
// CRITICAL: Called only from Run() goroutine - single-writer guarantee.
func (e *Engine) process(loopCtx context.Context, j job) {
	if j.env == nil {
		e.rules = j.reload
		e.logger.Info("rules reloaded", "rules", len(e.rules))
		return
	}

	// The submitter may have given up already; its context also bounds the
	// remote write.
	ctx := j.ctx
	if ctx == nil {
		ctx = loopCtx
	}
	if err := ctx.Err(); err != nil {
		j.reply <- jobResult{err: err}
		return
	}

	res, err := e.Dispatch(ctx, *j.env)
	if err != nil {
		e.logger.Warn("dispatch rejected", "event", j.env.Event.String(), "error", err)
	}
	j.reply <- jobResult{result: res, err: err}
}

// drain answers every job left in the queue after the loop exits.
func (e *Engine) drain() {
	e.queue.Close()
	for _, j := range e.queue.Drain() {
		if j.reply != nil {
			j.reply <- jobResult{err: errStopped()}
		}
	}
}
