package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/azkit/azkit/pkg/stores"
	"github.com/azkit/azkit/pkg/telemetry"
)

// Executor drives the operation state machine: pending -> running ->
// completed|failed, with blocked as the pre-execution exit when
// prerequisites or policy are unsatisfied. Once an operation is running,
// every exit path reaches a terminal status.
type Executor struct {
	store       stores.Store
	querier     ResourceQuerier
	runner      StepRunner
	gate        Gate
	cfg         *viper.Viper
	logger      *telemetry.Logger
	metrics     *telemetry.Metrics
	recoveryDir string
}

// ExecutorOptions configures an Executor. Store is required; the rest
// have working defaults.
type ExecutorOptions struct {
	Store       stores.Store
	Querier     ResourceQuerier
	Runner      StepRunner
	Gate        Gate
	Config      *viper.Viper
	Logger      *telemetry.Logger
	Metrics     *telemetry.Metrics
	RecoveryDir string
}

// NewExecutor creates an operation executor.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("executor requires a store")
	}
	if opts.Runner == nil {
		opts.Runner = &ShellStepRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	return &Executor{
		store:       opts.Store,
		querier:     opts.Querier,
		runner:      opts.Runner,
		gate:        opts.Gate,
		cfg:         opts.Config,
		logger:      opts.Logger.NewComponentLogger("executor"),
		metrics:     opts.Metrics,
		recoveryDir: opts.RecoveryDir,
	}, nil
}

// ExecuteRequest is one execution attempt of a definition.
type ExecuteRequest struct {
	Definition *OperationDefinition

	// OperationID is caller-supplied; generated when empty. Reusing an
	// existing ID fails with ErrDuplicateOperation.
	OperationID string

	// ResourceID is the optional target resource.
	ResourceID string

	// Parameters are explicit values, taking precedence over config
	// bindings and defaults.
	Parameters map[string]string
}

// Execute runs one operation end to end and returns its outcome. The
// returned error reports execution-level failures; definition validation
// errors surface before any row is written.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (*Result, error) {
	def := req.Definition
	if def == nil {
		return nil, NewPermanentError("no operation definition", nil).WithCode(ErrCodeValidation)
	}

	// Parameter resolution fails before any mutation.
	params, err := ResolveParameters(def, req.Parameters, e.cfg)
	if err != nil {
		return nil, err
	}

	opID := req.OperationID
	if opID == "" {
		opID = uuid.NewString()
	}
	log := e.logger.WithOperationID(opID)

	op := &stores.Operation{
		OperationID:   opID,
		Capability:    def.Capability,
		OperationName: def.Name,
		OperationType: def.Type,
	}
	if req.ResourceID != "" {
		op.ResourceID = &req.ResourceID
	}
	if err := e.store.CreateOperation(ctx, op); err != nil {
		return nil, err
	}

	e.appendLog(ctx, opID, stores.LogLevelInfo,
		fmt.Sprintf("operation %s/%s created", def.Capability, def.Name))

	// Policy gate, before anything runs.
	if e.gate != nil {
		if gateErr := e.gate.Allow(ctx, def, req.ResourceID); gateErr != nil {
			msg := fmt.Sprintf("blocked by policy: %v", gateErr)
			e.appendLog(ctx, opID, stores.LogLevelError, msg)
			e.transition(ctx, opID, stores.OperationBlocked, &msg)
			return &Result{OperationID: opID, Status: string(stores.OperationBlocked), Err: gateErr}, nil
		}
	}

	// Idempotency short-circuit: target already exists, nothing to do.
	if def.Idempotency.Enabled && def.Idempotency.SkipIfExists {
		check := Substitute(def.Idempotency.Check, params, e.substitutionWarner(ctx, opID, log))
		if _, checkErr := e.runner.Run(ctx, check); checkErr == nil {
			e.appendLog(ctx, opID, stores.LogLevelInfo, "idempotency check reports target exists, skipping")
			e.transition(ctx, opID, stores.OperationCompleted, nil)
			log.Info("operation skipped, target already exists")
			return &Result{OperationID: opID, Status: string(stores.OperationCompleted), Skipped: true}, nil
		}
	}

	// Prerequisite validation. Blocked means never started, distinct
	// from a mid-execution failure.
	missing, err := e.checkPrerequisites(ctx, def)
	if err != nil {
		msg := fmt.Sprintf("prerequisite check failed: %v", err)
		e.appendLog(ctx, opID, stores.LogLevelError, msg)
		e.transition(ctx, opID, stores.OperationBlocked, &msg)
		return &Result{OperationID: opID, Status: string(stores.OperationBlocked), Err: err}, nil
	}
	if len(missing) > 0 {
		msg := "missing prerequisites: " + strings.Join(missing, ", ")
		e.appendLog(ctx, opID, stores.LogLevelError, msg)
		e.transition(ctx, opID, stores.OperationBlocked, &msg)
		log.Warn(msg)
		return &Result{
			OperationID: opID,
			Status:      string(stores.OperationBlocked),
			Missing:     missing,
			Err: NewPermanentError(msg, nil).
				WithCode(ErrCodePrerequisiteMissing).WithOperation(opID),
		}, nil
	}

	if err := e.store.UpdateOperationStatus(ctx, opID, stores.OperationRunning, nil); err != nil {
		return nil, err
	}
	e.metrics.RecordOperationStarted(def.Capability, def.Name)
	started := time.Now()

	runCtx := ctx
	if def.Duration.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, def.Duration.Timeout.Std())
		defer cancel()
	}

	// Sequential step loop. current_step is persisted before each step
	// so a failure leaves the failing index behind.
	total := len(def.Steps)
	for i, step := range def.Steps {
		stepLog := log.WithStep(step.Name, i+1, total)
		if err := e.store.UpdateOperationProgress(ctx, opID, i+1, total, step.Name); err != nil {
			stepLog.WithError(err).Warn("failed to persist progress")
		}

		command := Substitute(step.Command, params, e.substitutionWarner(ctx, opID, stepLog))
		stepLog.Debug("running step")

		out, stepErr := e.runner.Run(runCtx, command)
		if stepErr != nil {
			e.metrics.RecordStepExecuted("failed")
			e.appendLog(ctx, opID, stores.LogLevelError,
				fmt.Sprintf("step %d/%d (%s) failed: %v: %s", i+1, total, step.Name, stepErr, strings.TrimSpace(out)))

			if step.ContinueOnError {
				stepLog.WithError(stepErr).Warn("step failed, continuing")
				continue
			}

			code := ErrCodeStepFailed
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				code = ErrCodeTimeout
			}
			stepErr = NewPermanentError(
				fmt.Sprintf("step %d (%s) failed", i+1, step.Name), stepErr).
				WithCode(code).WithOperation(opID)
			return e.fail(ctx, opID, def, params, req.ResourceID, started, i+1, stepErr), nil
		}

		e.metrics.RecordStepExecuted("completed")
		e.appendLog(ctx, opID, stores.LogLevelInfo,
			fmt.Sprintf("step %d/%d (%s) completed", i+1, total, step.Name))
	}

	// Mutate-then-invalidate: the steps have changed provider state, so
	// every read from here on, the validation checks included, must go
	// back to the provider rather than trust the cache TTL.
	e.invalidateTarget(ctx, opID, def, req.ResourceID)

	// Post-execution checks confirm what the steps claim to have done.
	if err := e.runValidation(runCtx, def, params); err != nil {
		e.appendLog(ctx, opID, stores.LogLevelError, fmt.Sprintf("validation failed: %v", err))
		return e.fail(ctx, opID, def, params, req.ResourceID, started, total, err), nil
	}

	if err := e.transition(ctx, opID, stores.OperationCompleted, nil); err != nil {
		return nil, fmt.Errorf("steps completed but terminal status write failed: %w", err)
	}
	e.metrics.RecordOperationCompleted(string(stores.OperationCompleted), time.Since(started))
	log.Info("operation completed")

	return &Result{
		OperationID:   opID,
		Status:        string(stores.OperationCompleted),
		StepsExecuted: total,
	}, nil
}

// fail rolls back, invalidates whatever the partial execution touched,
// records the failure, and builds the failed result.
func (e *Executor) fail(ctx context.Context, opID string, def *OperationDefinition, params map[string]string, resourceID string, started time.Time, stepsRun int, cause error) *Result {
	script := e.runRollback(ctx, opID, def, params)
	e.invalidateTarget(ctx, opID, def, resourceID)

	msg := cause.Error()
	e.transition(ctx, opID, stores.OperationFailed, &msg)
	e.metrics.RecordOperationCompleted(string(stores.OperationFailed), time.Since(started))
	e.metrics.RecordError(string(Class(cause)))
	e.logger.WithOperationID(opID).WithError(cause).Error("operation failed")

	return &Result{
		OperationID:    opID,
		Status:         string(stores.OperationFailed),
		StepsExecuted:  stepsRun,
		RecoveryScript: script,
		Err:            cause,
	}
}

// checkPrerequisites resolves and queries every declared prerequisite.
// The check is a read-only snapshot, not a lock; a prerequisite can
// disappear between validation and the first step.
func (e *Executor) checkPrerequisites(ctx context.Context, def *OperationDefinition) ([]string, error) {
	if len(def.Prerequisites) == 0 {
		return nil, nil
	}
	if e.querier == nil {
		return nil, fmt.Errorf("prerequisites declared but no querier configured")
	}

	var missing []string
	for _, pre := range def.Prerequisites {
		name := pre.Name
		if name == "" && e.cfg != nil {
			name = e.cfg.GetString(pre.NameFrom)
		}
		if name == "" {
			missing = append(missing, fmt.Sprintf("%s (unresolved name %s)", pre.ResourceType, pre.NameFrom))
			continue
		}

		_, err := e.querier.QueryResource(ctx, pre.ResourceType, name, pre.ResourceGroup)
		if isMiss(err) {
			missing = append(missing, fmt.Sprintf("%s/%s", pre.ResourceType, name))
			continue
		}
		if err != nil {
			return nil, err
		}
	}

	return missing, nil
}

// isMiss reports whether err is a definitive not-found, from either the
// store or the provider.
func isMiss(err error) bool {
	if errors.Is(err, stores.ErrNotFound) {
		return true
	}
	var ee *EngineError
	return errors.As(err, &ee) && ee.Code == ErrCodeNotFound
}

// invalidateTarget expires cached state a mutating operation may have
// changed. Failures are logged; a stale entry still ages out by TTL.
func (e *Executor) invalidateTarget(ctx context.Context, opID string, def *OperationDefinition, resourceID string) {
	if !def.Mutating() || e.querier == nil {
		return
	}
	pattern := "*"
	if resourceID != "" {
		pattern = resourceID
	}
	log := e.logger.WithOperationID(opID)
	if n, err := e.querier.Invalidate(ctx, pattern); err != nil {
		log.WithError(err).Warn("cache invalidation failed")
	} else {
		log.Debugf("invalidated %d cached resources", n)
	}
}

func (e *Executor) transition(ctx context.Context, opID string, status stores.OperationStatus, msg *string) error {
	err := e.store.UpdateOperationStatus(ctx, opID, status, msg)
	if err != nil {
		e.logger.WithOperationID(opID).WithError(err).
			Errorf("failed to transition operation to %s", status)
	}
	return err
}

func (e *Executor) appendLog(ctx context.Context, opID string, level stores.LogLevel, msg string) {
	err := e.store.AppendOperationLog(ctx, &stores.OperationLog{
		OperationID: opID,
		Level:       level,
		Message:     msg,
	})
	if err != nil {
		e.logger.WithOperationID(opID).WithError(err).Warn("failed to append operation log")
	}
}

// substitutionWarner records unresolved placeholders. The command still
// runs with the placeholder replaced by an empty string.
func (e *Executor) substitutionWarner(ctx context.Context, opID string, log *telemetry.Logger) func(string) {
	return func(name string) {
		log.Warnf("unresolved placeholder {{%s}}, substituting empty string", name)
		e.appendLog(ctx, opID, stores.LogLevelWarning,
			fmt.Sprintf("unresolved placeholder {{%s}} substituted with empty string", name))
	}
}
