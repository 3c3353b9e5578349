package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/metrics"
	"github.com/voyplan/orchestrator/internal/tracing"
)

// StepHandler executes one saga step against the session state. It mutates
// st in place and returns the name of the next step, or "" to end the run.
type StepHandler func(ctx context.Context, st *State) (next string, err error)

type stepDef struct {
	name       string
	handler    StepHandler
	timeout    time.Duration
	maxRetries int
	failover   string // step to transition to once retries are exhausted; "" fails hard
}

// StepOption overrides the runtime defaults for one step.
type StepOption func(*stepDef)

// WithTimeout overrides the step execution timeout.
func WithTimeout(d time.Duration) StepOption {
	return func(s *stepDef) { s.timeout = d }
}

// WithMaxRetries overrides how many times a failing step is retried.
func WithMaxRetries(n int) StepOption {
	return func(s *stepDef) { s.maxRetries = n }
}

// WithFailover sets the step to transition to when retries are exhausted.
func WithFailover(step string) StepOption {
	return func(s *stepDef) { s.failover = step }
}

// RuntimeOptions are the policy defaults applied to registered steps.
type RuntimeOptions struct {
	StepTimeout time.Duration
	MaxRetries  int
}

// Runtime drives durable sagas: a registry of named steps with per-step
// timeout/retry/failover policy, a driver goroutine per in-flight session,
// and a commit to the state store between every transition. On process
// restart, Resume picks every non-terminal session up at its last committed
// step.
type Runtime struct {
	store  StateStore
	logger *zap.Logger

	defaultTimeout time.Duration
	defaultRetries int

	steps map[string]*stepDef

	mu      sync.Mutex
	locks   map[string]*sync.Mutex // per-session commit locks
	driving map[string]bool        // sessions with a live driver goroutine

	commitHook func(rec *Record)

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRuntime creates a saga runtime over the given state store.
func NewRuntime(store StateStore, logger *zap.Logger, opts RuntimeOptions) *Runtime {
	if opts.StepTimeout == 0 {
		opts.StepTimeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		store:          store,
		logger:         logger,
		defaultTimeout: opts.StepTimeout,
		defaultRetries: opts.MaxRetries,
		steps:          make(map[string]*stepDef),
		locks:          make(map[string]*sync.Mutex),
		driving:        make(map[string]bool),
		baseCtx:        ctx,
		cancel:         cancel,
	}
}

// RegisterStep adds a named step with the runtime's default policy, which
// individual options may override.
func (r *Runtime) RegisterStep(name string, handler StepHandler, opts ...StepOption) {
	def := &stepDef{
		name:       name,
		handler:    handler,
		timeout:    r.defaultTimeout,
		maxRetries: r.defaultRetries,
	}
	for _, opt := range opts {
		opt(def)
	}
	r.steps[name] = def
}

// SetCommitHook installs a callback invoked after every committed record,
// terminal ones included. Used to keep the read-side projection current.
func (r *Runtime) SetCommitHook(fn func(rec *Record)) {
	r.commitHook = fn
}

// Begin creates the durable record for a new session and starts driving it.
// The record is committed before Begin returns.
func (r *Runtime) Begin(ctx context.Context, sessionID, firstStep string, st State) error {
	rec := &Record{
		SessionID: sessionID,
		State:     st,
		NextStep:  firstStep,
		Epoch:     1,
	}
	if err := r.store.Create(ctx, rec); err != nil {
		return err
	}
	r.notify(rec)
	r.ensureDriver(sessionID)
	return nil
}

// Restart re-initializes an existing session and drives it again. The reinit
// function receives the previous state; the commit bumps the record epoch so
// a step already in flight for the old run is discarded at its commit point.
func (r *Runtime) Restart(ctx context.Context, sessionID, firstStep string, reinit func(prev State) State) error {
	lk := r.sessionLock(sessionID)
	lk.Lock()
	rec, err := r.store.Get(ctx, sessionID)
	if err != nil {
		lk.Unlock()
		return err
	}
	next := &Record{
		SessionID: sessionID,
		State:     reinit(rec.State),
		NextStep:  firstStep,
		Epoch:     rec.Epoch + 1,
		CreatedAt: rec.CreatedAt,
	}
	if err := r.store.Commit(ctx, next); err != nil {
		lk.Unlock()
		return err
	}
	lk.Unlock()
	r.notify(next)
	r.ensureDriver(sessionID)
	return nil
}

// Resume restarts the driver for every session with a non-terminal committed
// step. Called once at boot.
func (r *Runtime) Resume(ctx context.Context) error {
	ids, err := r.store.Active(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		r.logger.Info("Resuming orchestration", zap.String("session_id", id))
		r.ensureDriver(id)
	}
	return nil
}

// Shutdown stops accepting transitions and waits for in-flight drivers to
// reach a commit point, or for ctx to expire.
func (r *Runtime) Shutdown(ctx context.Context) {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("Shutdown timed out waiting for saga drivers")
	}
}

func (r *Runtime) sessionLock(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lk, ok := r.locks[sessionID]
	if !ok {
		lk = &sync.Mutex{}
		r.locks[sessionID] = lk
	}
	return lk
}

// ensureDriver spawns the driver goroutine for a session unless one is
// already running. A single driver per session is what serializes steps.
func (r *Runtime) ensureDriver(sessionID string) {
	r.mu.Lock()
	if r.driving[sessionID] {
		r.mu.Unlock()
		return
	}
	r.driving[sessionID] = true
	r.wg.Add(1)
	r.mu.Unlock()

	go r.drive(sessionID)
}

// redrive spawns a fresh driver when the latest committed record is still
// non-terminal after a driver exit. Runs after the driving flag is cleared.
func (r *Runtime) redrive(sessionID string) {
	if r.baseCtx.Err() != nil {
		return
	}
	rec, err := r.store.Get(r.baseCtx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrNotStarted) {
			r.logger.Warn("Failed to recheck session record on driver exit",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		return
	}
	if !rec.Terminal() {
		r.ensureDriver(sessionID)
	}
}

func (r *Runtime) drive(sessionID string) {
	defer func() {
		r.mu.Lock()
		delete(r.driving, sessionID)
		r.mu.Unlock()
		// A Restart racing this exit saw the driving flag still set and
		// spawned no driver; recheck the store so its commit is not left
		// undriven until the next boot.
		r.redrive(sessionID)
		r.wg.Done()
	}()

	for {
		if r.baseCtx.Err() != nil {
			return
		}

		rec, err := r.store.Get(r.baseCtx, sessionID)
		if err != nil {
			r.logger.Error("Failed to load session record",
				zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		if rec.Terminal() {
			return
		}

		def, ok := r.steps[rec.NextStep]
		if !ok {
			r.logger.Error("Committed step is not registered; failing session",
				zap.String("session_id", sessionID),
				zap.String("step", rec.NextStep))
			rec.State.Status = StatusFailed
			if rec.State.FinalAnswer == "" {
				rec.State.FinalAnswer = InterruptedAnswer
			}
			rec.NextStep = ""
			r.commit(sessionID, rec)
			return
		}

		next, newState, stepErr := r.runStep(def, rec)

		lk := r.sessionLock(sessionID)
		lk.Lock()
		latest, err := r.store.Get(r.baseCtx, sessionID)
		if err != nil {
			lk.Unlock()
			r.logger.Error("Failed to reload session record",
				zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		if latest.Epoch != rec.Epoch {
			// The session was restarted while this step ran; its result is
			// stale. Drop it and drive the new epoch.
			lk.Unlock()
			r.logger.Info("Discarding stale step result after restart",
				zap.String("session_id", sessionID),
				zap.String("step", def.name))
			continue
		}

		if stepErr != nil {
			metrics.StepsExecuted.WithLabelValues(def.name, "failure").Inc()
			r.logger.Warn("Saga step failed",
				zap.String("session_id", sessionID),
				zap.String("step", def.name),
				zap.Int("attempt", rec.Attempts+1),
				zap.Error(stepErr))

			if rec.Attempts < def.maxRetries {
				rec.Attempts++
				metrics.StepRetries.WithLabelValues(def.name).Inc()
			} else {
				metrics.StepFailovers.WithLabelValues(def.name, def.failover).Inc()
				rec.Attempts = 0
				rec.NextStep = def.failover
				if def.failover == "" {
					rec.State.Status = StatusFailed
					if rec.State.FinalAnswer == "" {
						rec.State.FinalAnswer = InterruptedAnswer
					}
				}
			}
		} else {
			metrics.StepsExecuted.WithLabelValues(def.name, "success").Inc()
			rec.State = *newState
			rec.Attempts = 0
			rec.NextStep = next
		}

		committed := r.commit(sessionID, rec)
		lk.Unlock()
		if !committed {
			return
		}

		if rec.Terminal() {
			metrics.OrchestrationsCompleted.WithLabelValues(string(rec.State.Status)).Inc()
			if !rec.CreatedAt.IsZero() {
				metrics.OrchestrationDuration.Observe(time.Since(rec.CreatedAt).Seconds())
			}
			r.logger.Info("Orchestration ended",
				zap.String("session_id", sessionID),
				zap.String("status", string(rec.State.Status)))
			return
		}
	}
}

// runStep executes one handler under its timeout, against a deep copy of
// the committed state so a failing or timed-out attempt never leaks partial
// mutations into the next commit. On timeout the in-flight call is cancelled
// best-effort via context; a late result is discarded.
func (r *Runtime) runStep(def *stepDef, rec *Record) (string, *State, error) {
	st, err := copyState(rec.State)
	if err != nil {
		return "", nil, err
	}

	stepCtx, cancel := context.WithTimeout(r.baseCtx, def.timeout)
	defer cancel()

	stepCtx, span := tracing.StartSpan(stepCtx, "saga.step."+def.name)
	defer span.End()

	type result struct {
		next string
		err  error
	}
	ch := make(chan result, 1)
	start := time.Now()
	go func() {
		next, err := def.handler(stepCtx, st)
		ch <- result{next: next, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-stepCtx.Done():
		res = result{err: stepCtx.Err()}
	}
	metrics.StepDuration.WithLabelValues(def.name).Observe(time.Since(start).Seconds())
	return res.next, st, res.err
}

func copyState(st State) (*State, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out.AgentResponses == nil {
		out.AgentResponses = make(map[string]string)
	}
	return &out, nil
}

func (r *Runtime) commit(sessionID string, rec *Record) bool {
	if err := r.store.Commit(r.baseCtx, rec); err != nil {
		r.logger.Error("Failed to commit session record",
			zap.String("session_id", sessionID), zap.Error(err))
		return false
	}
	r.notify(rec)
	return true
}

func (r *Runtime) notify(rec *Record) {
	if r.commitHook != nil {
		r.commitHook(rec)
	}
}
