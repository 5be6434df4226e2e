package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Raoof128/ILAE/pkg/telemetry"
)

// Config controls engine behavior.
type Config struct {
	// Planner controls plan generation.
	Planner PlannerConfig

	// Executor controls step execution and retry.
	Executor ExecutorConfig

	// RunTimeout bounds one run end to end. Zero disables the bound.
	// Outcomes of in-flight steps are still recorded when it fires.
	RunTimeout time.Duration `validate:"min=0"`

	// CompensateJoinFailures, when set, issues a compensating run revoking
	// the grants that succeeded in a JOIN that settled with errors. The
	// original run is never resumed or rewritten.
	CompensateJoinFailures bool
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Planner:    DefaultPlannerConfig(),
		Executor:   DefaultExecutorConfig(),
		RunTimeout: 10 * time.Minute,
	}
}

// Engine drives lifecycle transitions: it resolves desired access, plans the
// diff against applied state, executes the plan through connectors, and
// records every outcome on the evidence chain before the state store sees it.
type Engine struct {
	config   Config
	resolver Resolver
	state    StateStore
	evidence EvidenceChain
	runs     RunStore
	registry ConnectorRegistry
	planner  *Planner
	executor *StepExecutor
	validate *validator.Validate
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer

	wg sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer attaches OpenTelemetry tracing.
func WithTracer(t *telemetry.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New creates an engine.
func New(cfg Config, resolver Resolver, state StateStore, evidence EvidenceChain, runs RunStore, registry ConnectorRegistry, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		config:   cfg,
		resolver: resolver,
		state:    state,
		evidence: evidence,
		runs:     runs,
		registry: registry,
		planner:  NewPlanner(cfg.Planner),
		validate: validator.New(),
		logger:   logger.With().Str("component", "engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	execOpts := []ExecutorOption{}
	if e.metrics != nil {
		execOpts = append(execOpts, WithAttemptObserver(func(step Step, attempt Attempt) {
			e.metrics.RecordStepAttempt(string(step.Platform), string(step.Action), string(attempt.ErrorClass))
		}))
	}
	e.executor = NewStepExecutor(cfg.Executor, registry, evidence, logger, execOpts...)
	return e
}

// Submit validates and accepts a transition request, returning the run ID
// immediately and executing the run in the background.
func (e *Engine) Submit(ctx context.Context, req TransitionRequest) (string, error) {
	run, err := e.accept(ctx, req)
	if err != nil {
		return "", err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(context.WithoutCancel(ctx), run)
	}()
	return run.ID, nil
}

// Run validates and executes a transition request synchronously.
func (e *Engine) Run(ctx context.Context, req TransitionRequest) (*WorkflowRun, error) {
	run, err := e.accept(ctx, req)
	if err != nil {
		return nil, err
	}
	e.execute(ctx, run)
	return run, nil
}

// Wait blocks until all background runs finish. Used at shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// GetRunStatus returns the current record of a run.
func (e *Engine) GetRunStatus(ctx context.Context, runID string) (*WorkflowRun, error) {
	return e.runs.GetRun(ctx, runID)
}

// GetIdentityHistory returns an identity's evidence chain in order.
func (e *Engine) GetIdentityHistory(ctx context.Context, identityKey string) ([]EvidenceRecord, error) {
	return e.evidence.History(ctx, identityKey)
}

// VerifyEvidence recomputes an identity's evidence chain and reports the
// first divergence, if any.
func (e *Engine) VerifyEvidence(ctx context.Context, identityKey string) error {
	return e.evidence.Verify(ctx, identityKey)
}

// ListIdentities returns all identities the engine has seen.
func (e *Engine) ListIdentities(ctx context.Context) ([]Identity, error) {
	return e.state.List(ctx)
}

// accept validates the request and persists the pending run.
func (e *Engine) accept(ctx context.Context, req TransitionRequest) (*WorkflowRun, error) {
	if err := e.validateRequest(req); err != nil {
		return nil, err
	}

	run := &WorkflowRun{
		ID:        uuid.New().String(),
		Request:   req,
		Status:    RunStatusPending,
		StartedAt: time.Now().UTC(),
	}
	if err := e.runs.SaveRun(ctx, run); err != nil {
		return nil, NewPermanentError("cannot persist run", err).
			WithIdentity(req.IdentityKey).WithCode(ErrCodeInternal)
	}
	e.logger.Info().
		Str("run_id", run.ID).
		Str("identity", req.IdentityKey).
		Str("kind", string(req.Kind)).
		Msg("transition accepted")
	return run, nil
}

func (e *Engine) validateRequest(req TransitionRequest) error {
	if err := req.Kind.Validate(); err != nil {
		return NewPermanentError("invalid transition request", err).WithCode(ErrCodeValidation)
	}
	if err := e.validate.StructExcept(req, "Attributes"); err != nil {
		return NewPermanentError("invalid transition request", err).WithCode(ErrCodeValidation)
	}
	// LEAVE ignores attributes; the record on file drives deprovisioning.
	if req.Kind != TransitionLeave {
		if err := e.validate.Struct(req.Attributes); err != nil {
			return NewPermanentError("invalid identity attributes", err).
				WithIdentity(req.IdentityKey).WithCode(ErrCodeValidation)
		}
	}
	return nil
}

// execute drives one run through planning, execution, and finalization.
func (e *Engine) execute(ctx context.Context, run *WorkflowRun) {
	if e.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RunTimeout)
		defer cancel()
	}
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.StartRunSpan(ctx, run.ID, string(run.Request.Kind))
		defer span.End()
	}
	if e.metrics != nil {
		e.metrics.RunStarted(string(run.Request.Kind))
		defer func() {
			e.metrics.RunCompleted(string(run.Request.Kind), string(run.Status), time.Since(run.StartedAt))
		}()
	}

	logger := e.logger.With().Str("run_id", run.ID).Str("identity", run.Request.IdentityKey).Logger()

	identity, state, err := e.applyTransition(ctx, run.Request)
	if err != nil {
		e.failRun(ctx, run, err)
		return
	}

	e.setStatus(ctx, run, RunStatusPlanning)

	desired, err := e.resolver.Resolve(identity)
	if err != nil {
		e.failRun(ctx, run, NewPolicyError("policy resolution failed", err).WithIdentity(identity.Key))
		return
	}

	plan, err := e.planner.PlanTransition(run.ID, run.Request, state, desired)
	if err != nil {
		e.failRun(ctx, run, err)
		return
	}
	run.Plan = plan
	logger.Info().Int("steps", plan.StepCount()).Int("lanes", len(plan.Lanes)).Msg("plan computed")

	e.setStatus(ctx, run, RunStatusExecuting)
	run.Outcomes = e.executePlan(ctx, plan)

	e.finalize(ctx, run)

	if e.config.CompensateJoinFailures &&
		run.Request.Kind == TransitionJoin &&
		run.Status == RunStatusCompletedWithErrors {
		e.compensate(ctx, run)
	}
}

// applyTransition folds the transition into the identity record and returns
// the post-transition identity alongside the current applied state.
func (e *Engine) applyTransition(ctx context.Context, req TransitionRequest) (Identity, *IdentityState, error) {
	state, found, err := e.state.Get(ctx, req.IdentityKey)
	if err != nil {
		return Identity{}, nil, NewPermanentError("cannot load identity state", err).
			WithIdentity(req.IdentityKey).WithCode(ErrCodeInternal)
	}

	now := time.Now().UTC()
	var identity Identity

	switch req.Kind {
	case TransitionJoin:
		if found && state.Identity.Status == IdentityStatusTerminated {
			return Identity{}, nil, NewPermanentError("identity is terminated and cannot rejoin under the same key", nil).
				WithIdentity(req.IdentityKey).WithCode(ErrCodeConflict)
		}
		identity = Identity{
			Key:        req.IdentityKey,
			Status:     IdentityStatusActive,
			Attributes: req.Attributes,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if found {
			identity.CreatedAt = state.Identity.CreatedAt
		}

	case TransitionMove:
		if !found {
			return Identity{}, nil, NewPermanentError("cannot move unknown identity", nil).
				WithIdentity(req.IdentityKey).WithCode(ErrCodeNotFound)
		}
		if state.Identity.Status == IdentityStatusTerminated {
			return Identity{}, nil, NewPermanentError("cannot move terminated identity", nil).
				WithIdentity(req.IdentityKey).WithCode(ErrCodeConflict)
		}
		identity = state.Identity
		identity.Status = IdentityStatusActive
		identity.Attributes = req.Attributes
		identity.UpdatedAt = now

	case TransitionLeave:
		if !found {
			return Identity{}, nil, NewPermanentError("cannot offboard unknown identity", nil).
				WithIdentity(req.IdentityKey).WithCode(ErrCodeNotFound)
		}
		identity = state.Identity
		identity.Status = IdentityStatusTerminated
		identity.UpdatedAt = now
	}

	if err := e.state.PutIdentity(ctx, identity); err != nil {
		return Identity{}, nil, NewPermanentError("cannot persist identity", err).
			WithIdentity(req.IdentityKey).WithCode(ErrCodeInternal)
	}
	if state == nil {
		state = &IdentityState{Identity: identity, Platforms: map[Platform]*PlatformState{}}
	}
	state.Identity = identity
	return identity, state, nil
}

// executePlan runs the plan's lanes concurrently, one goroutine per platform,
// steps within a lane in planned order.
func (e *Engine) executePlan(ctx context.Context, plan *Plan) []StepOutcome {
	var (
		mu       sync.Mutex
		outcomes []StepOutcome
	)
	g, laneCtx := errgroup.WithContext(ctx)

	for _, lane := range plan.Lanes {
		lane := lane
		g.Go(func() error {
			for _, outcome := range e.executeLane(laneCtx, lane) {
				mu.Lock()
				outcomes = append(outcomes, outcome)
				mu.Unlock()
			}
			// Lane failures settle into step outcomes, never cancel peers.
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// executeLane runs one platform's steps in order. JOIN and MOVE skip steps
// that depend on an account whose provisioning failed; LEAVE attempts every
// deprovisioning step regardless of earlier failures.
func (e *Engine) executeLane(ctx context.Context, lane Lane) []StepOutcome {
	outcomes := make([]StepOutcome, 0, len(lane.Steps))
	accountFailed := false

	for _, step := range lane.Steps {
		if accountFailed && step.DependsOnAccount {
			outcomes = append(outcomes, e.executor.RecordSkipped(ctx, step,
				fmt.Sprintf("account provisioning on %s failed", lane.Platform)))
			continue
		}

		outcome := e.executor.Execute(ctx, step)

		if outcome.Status == StepStatusFailed && step.Action == ActionEnsureAccount {
			accountFailed = true
		}

		if outcome.Status == StepStatusSucceeded {
			if err := e.state.Apply(ctx, outcome); err != nil {
				// The platform holds the change but the store does not.
				// Carried on the outcome so finalize records the divergence.
				outcome.ApplyError = err.Error()
				e.logger.Error().
					Str("run_id", step.RunID).
					Str("identity", step.IdentityKey).
					Str("platform", string(step.Platform)).
					Err(err).
					Msg("state apply failed")
			}
		}
		outcomes = append(outcomes, outcome)

		if e.metrics != nil {
			e.metrics.StepCompleted(string(step.Platform), string(step.Action), string(outcome.Status))
		}
	}
	return outcomes
}

// finalize settles the run status, records divergence for failed steps, and
// appends the run-summary evidence record.
func (e *Engine) finalize(ctx context.Context, run *WorkflowRun) {
	summary := Summarize(run.Outcomes)
	run.Summary = &summary

	diverged := 0
	for _, outcome := range run.Outcomes {
		if outcome.Status == StepStatusSucceeded {
			if outcome.ApplyError != "" {
				diverged++
				run.Errors = append(run.Errors, fmt.Sprintf(
					"divergence: %s on %s confirmed by the platform but not recorded in applied state: %s",
					outcome.Step.Action, outcome.Step.Platform, outcome.ApplyError))
			}
			continue
		}
		msg := fmt.Sprintf("divergence: %s on %s not applied", outcome.Step.Action, outcome.Step.Platform)
		if outcome.Step.Entitlement != nil {
			msg = fmt.Sprintf("divergence: %s %s on %s not applied",
				outcome.Step.Action, outcome.Step.Entitlement.Key(), outcome.Step.Platform)
		}
		if outcome.Error != nil {
			msg += ": " + outcome.Error.Error()
		}
		run.Errors = append(run.Errors, msg)
	}

	status := RunStatusCompleted
	if summary.Failed > 0 || summary.Skipped > 0 || diverged > 0 {
		status = RunStatusCompletedWithErrors
	}
	run.Status = status
	now := time.Now().UTC()
	run.CompletedAt = &now

	input := EvidenceInput{
		RunID:       run.ID,
		IdentityKey: run.Request.IdentityKey,
		Kind:        EvidenceKindRunSummary,
		Summary:     &summary,
		Detail: map[string]string{
			"status":     string(status),
			"transition": string(run.Request.Kind),
		},
	}
	if _, err := e.evidence.Append(context.WithoutCancel(ctx), input); err != nil {
		run.Errors = append(run.Errors, fmt.Sprintf("run summary evidence not recorded: %v", err))
	}

	if err := e.runs.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		e.logger.Error().Str("run_id", run.ID).Err(err).Msg("run finalization not persisted")
	}

	e.logger.Info().
		Str("run_id", run.ID).
		Str("identity", run.Request.IdentityKey).
		Str("status", string(status)).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("run settled")
}

// compensate issues a fresh run revoking the grants that succeeded in a
// partially failed JOIN.
func (e *Engine) compensate(ctx context.Context, original *WorkflowRun) {
	comp := &WorkflowRun{
		ID:             uuid.New().String(),
		Request:        original.Request,
		Status:         RunStatusExecuting,
		CompensatesRun: original.ID,
		StartedAt:      time.Now().UTC(),
	}
	comp.Plan = e.planner.PlanCompensation(comp.ID, original)
	if comp.Plan.IsEmpty() {
		return
	}
	if err := e.runs.SaveRun(ctx, comp); err != nil {
		e.logger.Error().Str("run_id", comp.ID).Err(err).Msg("compensating run not persisted")
		return
	}
	e.logger.Info().
		Str("run_id", comp.ID).
		Str("compensates", original.ID).
		Int("steps", comp.Plan.StepCount()).
		Msg("compensating partial join")

	comp.Outcomes = e.executePlan(ctx, comp.Plan)
	e.finalize(ctx, comp)
}

func (e *Engine) setStatus(ctx context.Context, run *WorkflowRun, status RunStatus) {
	run.Status = status
	if err := e.runs.SaveRun(ctx, run); err != nil {
		e.logger.Error().Str("run_id", run.ID).Err(err).Msg("run status not persisted")
	}
}

// failRun settles a pre-execution failure: no step was attempted.
func (e *Engine) failRun(ctx context.Context, run *WorkflowRun, err error) {
	run.Status = RunStatusFailed
	run.Errors = append(run.Errors, err.Error())
	now := time.Now().UTC()
	run.CompletedAt = &now
	if saveErr := e.runs.SaveRun(context.WithoutCancel(ctx), run); saveErr != nil {
		e.logger.Error().Str("run_id", run.ID).Err(saveErr).Msg("run failure not persisted")
	}
	e.logger.Error().
		Str("run_id", run.ID).
		Str("identity", run.Request.IdentityKey).
		Err(err).
		Msg("run failed before execution")
}
