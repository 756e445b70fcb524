package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/state"
	"github.com/aquaform/aquaform/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Executor walks a plan one action at a time. After every successful action
// the state is persisted before the next action starts; the first failure
// halts the run.
type Executor struct {
	backend        Backend
	eventPublisher EventPublisher
	metrics        *telemetry.Metrics
	tracer         *telemetry.Tracer
	logger         zerolog.Logger
	now            func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithEventPublisher sends run and action events to p.
func WithEventPublisher(p EventPublisher) ExecutorOption {
	return func(e *Executor) { e.eventPublisher = p }
}

// WithMetrics records run and action metrics.
func WithMetrics(m *telemetry.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithTracer records a span per run and per action.
func WithTracer(t *telemetry.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// WithLogger sets the executor logger.
func WithLogger(l zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an executor for backend.
func NewExecutor(backend Backend, opts ...ExecutorOption) *Executor {
	e := &Executor{
		backend: backend,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "executor").Logger()
	return e
}

// run carries the bookkeeping of one Execute call.
type run struct {
	plan   *Plan
	report *RunReport
	store  StateStore
	log    zerolog.Logger
}

// Execute runs plan against the backend, persisting through store.
//
// The plan is refused if store no longer holds the record the plan was
// computed against, or if the plan was already executed. On failure the
// report and an *ExecutionError are both returned; the store then reflects
// exactly the actions that succeeded.
//
// Cancelling ctx stops the run between actions. An action already handed to
// the backend runs to completion.
func (e *Executor) Execute(ctx context.Context, plan *Plan, store StateStore) (*RunReport, error) {
	if plan == nil {
		return nil, e.refuse(NewPermanentError("plan is nil", nil).WithCode(ErrCodeInternal))
	}
	if plan.executed {
		return nil, e.refuse(NewStalePlanError("plan was already executed"))
	}

	rec := store.Snapshot()
	if fp := rec.Fingerprint(); fp != plan.StateFingerprint {
		return nil, e.refuse(NewStalePlanError(fmt.Sprintf(
			"state is at serial %d, plan was computed at serial %d", rec.Serial, plan.StateSerial)))
	}
	plan.executed = true

	r := &run{
		plan:  plan,
		store: store,
		report: &RunReport{
			RunID:     uuid.New().String(),
			PlanID:    plan.ID,
			Status:    RunStatusRunning,
			StartedAt: e.now(),
			Outcomes:  make([]ActionOutcome, 0, len(plan.Actions)),
			Summary:   RunSummary{Total: len(plan.Actions)},
		},
	}
	r.log = e.logger.With().Str("run_id", r.report.RunID).Str("plan_id", plan.ID).Logger()

	ctx, span := e.tracer.StartRunSpan(ctx, r.report.RunID, plan.ID)
	defer span.End()
	e.metrics.RecordRunStarted(string(plan.Backend))

	e.publishEvent(ctx, r, nil, EventTypeRunStarted,
		fmt.Sprintf("Run started with %d action(s)", len(plan.Actions)), map[string]interface{}{
			"backend": string(plan.Backend),
			"actions": len(plan.Actions),
			"destroy": plan.Destroy,
			"target":  plan.Target,
		})
	r.log.Info().Int("actions", len(plan.Actions)).Msg("Run started")

	for i, action := range plan.Actions {
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("run interrupted: %w", err)
			e.halt(ctx, r, action, plan.Actions[i:], err)
			e.metrics.RecordError(CodeOf(err))
			telemetry.RecordError(span, err)
			return r.report, &ExecutionError{Action: action, NotAttempted: plan.Actions[i:], Err: err}
		}

		outcome, err := e.executeAction(ctx, r, action)
		r.report.Outcomes = append(r.report.Outcomes, outcome)
		if err != nil {
			r.report.Summary.Failed++
			e.halt(ctx, r, action, plan.Actions[i+1:], err)
			telemetry.RecordError(span, err)
			return r.report, &ExecutionError{Action: action, NotAttempted: plan.Actions[i+1:], Err: err}
		}
		r.report.Summary.Succeeded++
	}

	r.report.Status = RunStatusSucceeded
	r.report.CompletedAt = e.now()
	duration := r.report.CompletedAt.Sub(r.report.StartedAt)
	e.metrics.RecordRunCompleted(string(r.report.Status), duration)
	telemetry.RecordSuccess(span)

	e.publishEvent(ctx, r, nil, EventTypeRunCompleted, "Run completed", map[string]interface{}{
		"succeeded": r.report.Summary.Succeeded,
	})
	r.log.Info().Int("succeeded", r.report.Summary.Succeeded).Dur("duration", duration).Msg("Run completed")
	return r.report, nil
}

// refuse records an error that stops a plan before any action runs.
func (e *Executor) refuse(err error) error {
	e.metrics.RecordError(CodeOf(err))
	return err
}

// executeAction runs one action and persists its effect.
func (e *Executor) executeAction(ctx context.Context, r *run, action *Action) (ActionOutcome, error) {
	outcome := ActionOutcome{Action: action}
	log := r.log.With().
		Int("action", action.Index).
		Str("type", string(action.Type)).
		Str("resource", action.Resource).
		Logger()

	actx, span := e.tracer.StartActionSpan(ctx, action.Index, action.Resource, string(action.Type))
	defer span.End()

	action.Status = ActionStatusExecuting
	e.publishEvent(ctx, r, action, EventTypeActionStarted, "Executing "+action.String(), nil)
	log.Debug().Msg("Executing action")

	// In-flight backend calls are not interrupted by cancellation.
	bctx := context.WithoutCancel(actx)

	start := e.now()
	result, err := e.backend.Execute(bctx, action)
	outcome.Duration = e.now().Sub(start)
	if result != nil {
		outcome.Statements = result.Statements
	}
	if err != nil {
		return e.fail(ctx, r, outcome, span, log, err)
	}

	rec := r.store.Snapshot()
	if err := applyEffect(rec, action, e.now().UTC()); err != nil {
		return e.fail(ctx, r, outcome, span, log, err)
	}
	if action.Type == ActionCreateTable {
		e.describe(bctx, rec, action.Resource, log)
	}
	if err := r.store.Persist(rec); err != nil {
		err = NewPermanentError("action succeeded but state could not be persisted", err).
			WithCode(ErrCodeInternal)
		return e.fail(ctx, r, outcome, span, log, err)
	}

	action.Status = ActionStatusSucceeded
	outcome.Status = ActionStatusSucceeded
	e.metrics.RecordAction(string(action.Type), string(outcome.Status), outcome.Duration)
	telemetry.RecordSuccess(span)

	e.publishEvent(ctx, r, action, EventTypeActionCompleted, "Completed "+action.String(), map[string]interface{}{
		"statements":  outcome.Statements,
		"duration_ms": outcome.Duration.Milliseconds(),
	})
	e.publishEvent(ctx, r, action, EventTypeStatePersisted, "State persisted", nil)
	log.Info().Dur("duration", outcome.Duration).Msg("Action succeeded")
	return outcome, nil
}

func (e *Executor) fail(
	ctx context.Context,
	r *run,
	outcome ActionOutcome,
	span trace.Span,
	log zerolog.Logger,
	err error,
) (ActionOutcome, error) {
	action := outcome.Action

	var ee *EngineError
	if errors.As(err, &ee) {
		if ee.Resource == "" {
			ee.Resource = action.Resource
		}
		if ee.Operation == "" {
			ee.Operation = string(action.Type)
		}
	}

	action.Status = ActionStatusFailed
	outcome.Status = ActionStatusFailed
	outcome.Error = err.Error()
	e.metrics.RecordAction(string(action.Type), string(outcome.Status), outcome.Duration)
	e.metrics.RecordError(CodeOf(err))
	telemetry.RecordError(span, err)

	e.publishEvent(ctx, r, action, EventTypeActionFailed, err.Error(), map[string]interface{}{
		"code": CodeOf(err),
	})
	log.Error().Err(err).Msg("Action failed")
	return outcome, err
}

// halt marks the remaining actions and closes the report.
func (e *Executor) halt(ctx context.Context, r *run, failed *Action, rest []*Action, err error) {
	for _, a := range rest {
		a.Status = ActionStatusNotAttempted
	}

	report := r.report
	report.Status = RunStatusFailed
	report.Failed = failed
	report.Error = err.Error()
	report.NotAttempted = slices.Clone(rest)
	report.Summary.NotAttempted = len(rest)
	report.CompletedAt = e.now()
	e.metrics.RecordRunCompleted(string(report.Status), report.CompletedAt.Sub(report.StartedAt))

	e.publishEvent(ctx, r, failed, EventTypeRunFailed, err.Error(), map[string]interface{}{
		"not_attempted": len(rest),
	})
	r.log.Error().Err(err).
		Str("failed", failed.String()).
		Int("not_attempted", len(rest)).
		Msg("Run halted")
}

// describe records the backend's live name for a created table. A failed
// read-back does not undo the create.
func (e *Executor) describe(ctx context.Context, rec *state.Record, name string, log zerolog.Logger) {
	desc, err := e.backend.Describe(ctx, name)
	if err != nil {
		log.Warn().Err(err).Msg("Could not describe created table")
		return
	}
	if rs, ok := rec.Get(name); ok && desc.LiveName != "" {
		rs.LiveName = desc.LiveName
	}
}

// applyEffect updates rec with the effect of a successful action.
func applyEffect(rec *state.Record, a *Action, now time.Time) error {
	switch a.Type {
	case ActionCreateTable:
		rec.Resources[a.Resource] = &state.ResourceState{
			Table:     a.Table.Clone(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		return nil
	case ActionDropTable:
		delete(rec.Resources, a.Resource)
		return nil
	}

	rs, ok := rec.Get(a.Resource)
	if !ok {
		return NewPermanentError("resource missing from state", nil).WithCode(ErrCodeInternal)
	}
	t := rs.Table

	switch a.Type {
	case ActionAddColumn:
		t.Columns = append(t.Columns, *a.Column)
	case ActionAlterColumn:
		col, ok := t.Column(a.Column.Name)
		if !ok {
			return NewPermanentError("column missing from state", nil).
				WithCode(ErrCodeInternal).WithDetail("column", a.Column.Name)
		}
		*col = *a.Column
	case ActionDropColumn:
		t.Columns = slices.DeleteFunc(t.Columns, func(c schema.Column) bool { return c.Name == a.ColumnName })
	case ActionAddForeignKey:
		id := a.ForeignKey.Identity()
		t.ForeignKeys = slices.DeleteFunc(t.ForeignKeys, func(fk schema.ForeignKey) bool { return fk.Identity() == id })
		t.ForeignKeys = append(t.ForeignKeys, *a.ForeignKey)
	case ActionDropForeignKey:
		id := a.ForeignKey.Identity()
		t.ForeignKeys = slices.DeleteFunc(t.ForeignKeys, func(fk schema.ForeignKey) bool { return fk.Identity() == id })
	default:
		return NewPermanentError("unknown action type", nil).WithCode(ErrCodeInternal)
	}
	if len(t.ForeignKeys) == 0 {
		t.ForeignKeys = nil
	}
	rs.UpdatedAt = now
	return nil
}

// publishEvent publishes an execution event. Publishing failures are logged
// and never fail the run.
func (e *Executor) publishEvent(
	ctx context.Context,
	r *run,
	action *Action,
	eventType EventType,
	message string,
	details map[string]interface{},
) {
	if e.eventPublisher == nil {
		return
	}

	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: e.now(),
		RunID:     r.report.RunID,
		PlanID:    r.plan.ID,
		Message:   message,
		Details:   details,
		Level:     eventType.Severity(),
	}
	if action != nil {
		event.ActionIndex = action.Index
		event.Resource = action.Resource
		if event.Details == nil {
			event.Details = make(map[string]interface{}, 1)
		}
		event.Details["action_type"] = string(action.Type)
	}

	if err := e.eventPublisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}

// WrapStateError maps state store errors onto the error taxonomy.
func WrapStateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, state.ErrLocked):
		return NewPermanentError("state is locked by another process", err).WithCode(ErrCodeStateLocked)
	case errors.Is(err, state.ErrNotInitialized):
		return NewPermanentError("state is not initialized, run init first", err).WithCode(ErrCodeNotFound)
	}
	return err
}
