package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// ExecutorConfig controls step execution and retry behavior.
type ExecutorConfig struct {
	// MaxAttempts bounds the number of attempts per step.
	MaxAttempts int `validate:"min=1"`

	// BaseDelay is the delay before the first retry; it doubles per attempt.
	BaseDelay time.Duration `validate:"min=0"`

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `validate:"min=0"`

	// StepTimeout bounds one connector call.
	StepTimeout time.Duration `validate:"min=0"`

	// EvidenceAttempts bounds the retries of an evidence append before the
	// step is failed with an evidence-class error.
	EvidenceAttempts int `validate:"min=1"`
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxAttempts:      3,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         15 * time.Second,
		StepTimeout:      30 * time.Second,
		EvidenceAttempts: 3,
	}
}

// StepExecutor runs one step at a time against a connector, retrying
// transient, throttled, and conflict failures with exponential backoff and
// recording every attempt on the evidence chain before returning.
type StepExecutor struct {
	config    ExecutorConfig
	registry  ConnectorRegistry
	evidence  EvidenceChain
	logger    zerolog.Logger
	sleepFn   func(ctx context.Context, d time.Duration) error
	observeFn func(step Step, attempt Attempt)
}

// ExecutorOption configures a StepExecutor.
type ExecutorOption func(*StepExecutor)

// WithAttemptObserver registers a callback invoked after every attempt.
// Used for metrics.
func WithAttemptObserver(fn func(step Step, attempt Attempt)) ExecutorOption {
	return func(e *StepExecutor) { e.observeFn = fn }
}

// withSleep replaces the backoff sleep. Tests use it to avoid real delays.
func withSleep(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *StepExecutor) { e.sleepFn = fn }
}

// NewStepExecutor creates a step executor.
func NewStepExecutor(cfg ExecutorConfig, registry ConnectorRegistry, evidence EvidenceChain, logger zerolog.Logger, opts ...ExecutorOption) *StepExecutor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.EvidenceAttempts < 1 {
		cfg.EvidenceAttempts = 1
	}
	e := &StepExecutor{
		config:   cfg,
		registry: registry,
		evidence: evidence,
		logger:   logger.With().Str("component", "executor").Logger(),
		sleepFn:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one step to a terminal status. The returned outcome always
// has its evidence on the chain: a step is not confirmed complete until its
// final record is durable.
func (e *StepExecutor) Execute(ctx context.Context, step Step) StepOutcome {
	outcome := StepOutcome{Step: step, Status: StepStatusFailed}

	connector, err := e.registry.Get(step.Platform)
	if err != nil {
		outcome.Error = NewPermanentError("no connector for platform", err).
			WithIdentity(step.IdentityKey).WithPlatform(string(step.Platform)).
			WithOperation(string(step.Action))
		e.recordTerminal(ctx, step, &outcome)
		return outcome
	}

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		rec := Attempt{Number: attempt, StartedAt: time.Now().UTC()}

		result, callErr := e.invoke(ctx, connector, step)
		rec.CompletedAt = time.Now().UTC()

		var classified *LifecycleError
		if callErr != nil {
			classified = Classify(callErr).
				WithIdentity(step.IdentityKey).
				WithPlatform(string(step.Platform)).
				WithOperation(string(step.Action))
			rec.ErrorClass = classified.Class
			rec.Error = classified.Error()
		}
		outcome.Attempts = append(outcome.Attempts, rec)
		if e.observeFn != nil {
			e.observeFn(step, rec)
		}

		if evErr := e.appendAttempt(ctx, step, rec); evErr != nil {
			outcome.Status = StepStatusFailed
			outcome.Error = evErr
			return outcome
		}

		if callErr == nil {
			outcome.Status = StepStatusSucceeded
			outcome.Error = nil
			outcome.Account = result.Account
			e.recordTerminal(ctx, step, &outcome)
			return outcome
		}

		outcome.Error = classified
		e.logger.Warn().
			Str("run_id", step.RunID).
			Str("identity", step.IdentityKey).
			Str("platform", string(step.Platform)).
			Str("action", string(step.Action)).
			Int("attempt", attempt).
			Str("error_class", string(classified.Class)).
			Err(callErr).
			Msg("step attempt failed")

		if !IsRetryable(classified) || attempt == e.config.MaxAttempts {
			break
		}
		if err := e.sleepFn(ctx, e.backoff(attempt)); err != nil {
			outcome.Error = NewTransientError("run cancelled during backoff", err).
				WithIdentity(step.IdentityKey).
				WithPlatform(string(step.Platform)).
				WithOperation(string(step.Action)).
				WithCode(ErrCodeTimeout)
			break
		}
	}

	outcome.Status = StepStatusFailed
	e.recordTerminal(ctx, step, &outcome)
	return outcome
}

// RecordSkipped records a skipped step on the evidence chain without
// touching the connector.
func (e *StepExecutor) RecordSkipped(ctx context.Context, step Step, reason string) StepOutcome {
	outcome := StepOutcome{
		Step:   step,
		Status: StepStatusSkipped,
		Error: NewPermanentError(reason, nil).
			WithIdentity(step.IdentityKey).
			WithPlatform(string(step.Platform)).
			WithOperation(string(step.Action)).
			WithCode(ErrCodeDependencyFailed),
	}
	e.recordTerminal(ctx, step, &outcome)
	return outcome
}

func (e *StepExecutor) invoke(ctx context.Context, connector Connector, step Step) (ConnectorResult, error) {
	callCtx := ctx
	if e.config.StepTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.config.StepTimeout)
		defer cancel()
	}

	switch step.Action {
	case ActionEnsureAccount:
		return connector.EnsureAccount(callCtx, step.IdentityKey, step.Attributes)
	case ActionUpdateAccount:
		return connector.UpdateAccount(callCtx, step.IdentityKey, step.Attributes)
	case ActionGrant:
		if step.Entitlement == nil {
			return ConnectorResult{}, NewPermanentError("grant step has no entitlement", nil).WithCode(ErrCodeValidation)
		}
		return connector.Grant(callCtx, step.IdentityKey, *step.Entitlement)
	case ActionRevoke:
		if step.Entitlement == nil {
			return ConnectorResult{}, NewPermanentError("revoke step has no entitlement", nil).WithCode(ErrCodeValidation)
		}
		return connector.Revoke(callCtx, step.IdentityKey, *step.Entitlement)
	case ActionSuspendAccount:
		return connector.SuspendAccount(callCtx, step.IdentityKey)
	case ActionRemoveAccount:
		return connector.RemoveAccount(callCtx, step.IdentityKey)
	default:
		return ConnectorResult{}, NewPermanentError(fmt.Sprintf("unknown action %q", step.Action), nil).WithCode(ErrCodeValidation)
	}
}

// appendAttempt records one attempt, retrying the append itself. Evidence
// uses a non-cancellable context so outcomes of in-flight steps survive a
// run timeout.
func (e *StepExecutor) appendAttempt(ctx context.Context, step Step, attempt Attempt) *LifecycleError {
	input := EvidenceInput{
		RunID:       step.RunID,
		IdentityKey: step.IdentityKey,
		Kind:        EvidenceKindAttempt,
		StepID:      step.ID,
		Platform:    step.Platform,
		Action:      step.Action,
		Attempt:     &attempt,
		Detail:      stepDetail(step, attempt.Error),
	}
	return e.append(ctx, input)
}

// recordTerminal appends the step's terminal record. A failure here demotes
// a succeeded step to failed: without durable evidence the outcome cannot be
// confirmed.
func (e *StepExecutor) recordTerminal(ctx context.Context, step Step, outcome *StepOutcome) {
	detail := stepDetail(step, "")
	if outcome.Error != nil {
		detail = stepDetail(step, outcome.Error.Error())
	}
	input := EvidenceInput{
		RunID:       step.RunID,
		IdentityKey: step.IdentityKey,
		Kind:        EvidenceKindStep,
		StepID:      step.ID,
		Platform:    step.Platform,
		Action:      step.Action,
		Outcome:     outcome.Status,
		Detail:      detail,
	}
	if err := e.append(ctx, input); err != nil {
		outcome.Status = StepStatusFailed
		outcome.Error = err
	}
}

func (e *StepExecutor) append(ctx context.Context, input EvidenceInput) *LifecycleError {
	appendCtx := context.WithoutCancel(ctx)
	var lastErr error
	for i := 1; i <= e.config.EvidenceAttempts; i++ {
		_, err := e.evidence.Append(appendCtx, input)
		if err == nil {
			return nil
		}
		lastErr = err
		e.logger.Error().
			Str("run_id", input.RunID).
			Str("identity", input.IdentityKey).
			Int("attempt", i).
			Err(err).
			Msg("evidence append failed")
		if i < e.config.EvidenceAttempts {
			_ = e.sleepFn(appendCtx, e.backoff(i))
		}
	}
	return NewEvidenceError("step outcome could not be recorded", lastErr).
		WithIdentity(input.IdentityKey).
		WithPlatform(string(input.Platform)).
		WithOperation(string(input.Action))
}

// backoff returns the delay before retrying after the given attempt number:
// base doubling per attempt, capped, with up to 25% jitter.
func (e *StepExecutor) backoff(attempt int) time.Duration {
	d := e.config.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.config.MaxDelay > 0 && d >= e.config.MaxDelay {
			d = e.config.MaxDelay
			break
		}
	}
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

func stepDetail(step Step, errMsg string) map[string]string {
	detail := make(map[string]string)
	if step.Entitlement != nil {
		detail["entitlement_type"] = step.Entitlement.Type
		detail["entitlement_name"] = step.Entitlement.Name
	}
	if errMsg != "" {
		detail["error"] = errMsg
	}
	if len(detail) == 0 {
		return nil
	}
	return detail
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
