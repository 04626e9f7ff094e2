package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/logger"
	"github.com/eventix/eventix/pkg/retry"
)

// Publisher is the bus surface the orchestrator needs.
type Publisher interface {
	Publish(ctx context.Context, env *events.Envelope) error
}

// recoveryGrace is how long responses for an unknown workflow are
// retried after startup before being dropped. A restarted orchestrator
// may still be loading instances from the store.
const recoveryGrace = 5 * time.Second

// opTimeout bounds store and publish calls made from timer callbacks.
const opTimeout = 10 * time.Second

// Config configures the orchestrator.
type Config struct {
	// Service is the name stamped on emitted events.
	Service string
	Store   Store
	// Publisher emits step requests, compensations and terminal
	// workflow events.
	Publisher Publisher
	// Backoff spaces step retries. Defaults to 0.5s, 2s, 8s.
	Backoff *retry.Config
}

// Orchestrator drives workflow instances over the bus. Step requests
// go out as events, responses come back keyed by workflow_id in the
// correlation id, and every status change is persisted before the
// next event is emitted.
type Orchestrator struct {
	service   string
	store     Store
	publisher Publisher
	backoff   *retry.Retrier
	log       *logger.Logger

	mu          sync.RWMutex
	definitions map[string]*Definition

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	timersMu   sync.Mutex
	timers     map[string]*time.Timer
	stepTimers map[string]*time.Timer

	startedAt time.Time
}

// NewOrchestrator creates an orchestrator. Store and Publisher are
// required, the store defaults to in-memory for tests.
func NewOrchestrator(cfg *Config) *Orchestrator {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	backoffCfg := cfg.Backoff
	if backoffCfg == nil {
		backoffCfg = retry.DefaultConfig()
	}
	return &Orchestrator{
		service:     cfg.Service,
		store:       store,
		publisher:   cfg.Publisher,
		backoff:     retry.New(backoffCfg),
		log:         logger.Get().With(zap.String("component", "workflow")),
		definitions: make(map[string]*Definition),
		locks:       make(map[string]*sync.Mutex),
		timers:      make(map[string]*time.Timer),
		stepTimers:  make(map[string]*time.Timer),
		startedAt:   time.Now(),
	}
}

// Register adds a workflow definition.
func (o *Orchestrator) Register(def *Definition) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.definitions[def.Name]; exists {
		return fmt.Errorf("workflow definition %s already registered", def.Name)
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("workflow definition %s has no steps", def.Name)
	}
	o.definitions[def.Name] = def
	o.log.Info("registered workflow definition",
		zap.String("workflow_type", def.Name),
		zap.Int("steps", len(def.Steps)),
	)
	return nil
}

func (o *Orchestrator) definition(name string) (*Definition, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	def, exists := o.definitions[name]
	if !exists {
		return nil, fmt.Errorf("workflow definition %s not found", name)
	}
	return def, nil
}

func (o *Orchestrator) lockFor(workflowID string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[workflowID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[workflowID] = l
	}
	return l
}

func (o *Orchestrator) releaseLock(workflowID string) {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	delete(o.locks, workflowID)
}

// Start creates a new instance of the named workflow type, persists
// it and emits the first step's request event.
func (o *Orchestrator) Start(ctx context.Context, workflowType string, wfContext map[string]any) (*Instance, error) {
	def, err := o.definition(workflowType)
	if err != nil {
		return nil, err
	}

	instance := NewInstance(def, wfContext)
	if err := o.store.Save(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to save workflow instance: %w", err)
	}

	instance.SetStatus(StatusInProgress)
	if err := o.store.Update(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to update workflow instance: %w", err)
	}

	o.armGlobalTimer(instance)
	o.log.Info("workflow started",
		zap.String("workflow_id", instance.WorkflowID),
		zap.String("workflow_type", workflowType),
	)

	if err := o.emitStepRequest(ctx, def, instance, 0, 1); err != nil {
		return instance, err
	}
	return instance, nil
}

// HandleResponse processes a step or compensation response event. The
// envelope payload is a StepResponse; an unknown workflow id is
// retried briefly after startup and then dropped.
func (o *Orchestrator) HandleResponse(ctx context.Context, env *events.Envelope) error {
	var resp StepResponse
	if err := env.Decode(&resp); err != nil {
		o.log.Warn("dropping undecodable workflow response",
			zap.String("event_id", env.EventID),
			zap.Error(err),
		)
		return nil
	}
	if resp.WorkflowID == "" {
		resp.WorkflowID = env.CorrelationID
	}
	if resp.WorkflowID == "" {
		o.log.Warn("dropping workflow response without workflow id",
			zap.String("event_id", env.EventID),
		)
		return nil
	}
	return o.handleResponse(ctx, env.EventID, &resp, 0)
}

func (o *Orchestrator) handleResponse(ctx context.Context, eventID string, resp *StepResponse, redelivery int) error {
	lock := o.lockFor(resp.WorkflowID)
	lock.Lock()
	defer lock.Unlock()

	instance, err := o.store.Get(ctx, resp.WorkflowID)
	if err != nil {
		if time.Since(o.startedAt) < recoveryGrace && redelivery < 5 {
			// The instance may still be loading after a restart.
			time.AfterFunc(time.Second, func() {
				opCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
				defer cancel()
				_ = o.handleResponse(opCtx, eventID, resp, redelivery+1)
			})
			return nil
		}
		o.log.Warn("dropping response for unknown workflow",
			zap.String("workflow_id", resp.WorkflowID),
			zap.String("step", resp.StepName),
		)
		return nil
	}

	if instance.GetStatus().Terminal() {
		return nil
	}
	if !instance.MarkProcessed(eventID) {
		o.log.Debug("ignoring replayed workflow response",
			zap.String("workflow_id", resp.WorkflowID),
			zap.String("event_id", eventID),
		)
		return nil
	}

	def, err := o.definition(instance.WorkflowType)
	if err != nil {
		return err
	}

	if resp.Compensation || instance.GetStatus() == StatusCompensating || instance.GetStatus() == StatusTimeout {
		return o.onCompensationResponse(ctx, def, instance, resp)
	}
	if resp.Success {
		return o.onStepSuccess(ctx, def, instance, resp)
	}
	return o.onStepFailure(ctx, def, instance, resp)
}

func (o *Orchestrator) onStepSuccess(ctx context.Context, def *Definition, instance *Instance, resp *StepResponse) error {
	step := instance.Step(resp.StepName)
	stepDef := def.step(resp.StepName)
	if step == nil || stepDef == nil {
		o.log.Warn("response for unknown step",
			zap.String("workflow_id", instance.WorkflowID),
			zap.String("step", resp.StepName),
		)
		return nil
	}
	if step.Status == StepCompleted {
		return nil
	}

	o.cancelStepTimer(instance.WorkflowID)
	now := time.Now().UTC()
	step.Status = StepCompleted
	step.Result = resp.Result
	step.CompletedAt = &now
	step.Deadline = nil
	if resp.Result != nil {
		instance.MergeContext(resp.Result)
	}

	o.log.Info("workflow step completed",
		zap.String("workflow_id", instance.WorkflowID),
		zap.String("step", resp.StepName),
	)

	next := nextPendingStep(instance)
	if next < 0 {
		return o.complete(ctx, def, instance)
	}

	instance.CurrentStep = next
	if err := o.store.Update(ctx, instance); err != nil {
		return fmt.Errorf("failed to persist workflow step: %w", err)
	}
	return o.emitStepRequest(ctx, def, instance, next, 1)
}

func nextPendingStep(instance *Instance) int {
	for i, s := range instance.Steps {
		if s.Status == StepPending {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) onStepFailure(ctx context.Context, def *Definition, instance *Instance, resp *StepResponse) error {
	step := instance.Step(resp.StepName)
	stepDef := def.step(resp.StepName)
	if step == nil || stepDef == nil {
		return nil
	}

	o.cancelStepTimer(instance.WorkflowID)
	step.Error = resp.Error

	if resp.Retryable && step.Attempts < stepDef.MaxAttempts {
		delay := o.backoff.Interval(step.Attempts - 1)
		o.log.Warn("workflow step failed, retrying",
			zap.String("workflow_id", instance.WorkflowID),
			zap.String("step", resp.StepName),
			zap.Int("attempt", step.Attempts),
			zap.Duration("backoff", delay),
			zap.String("error", resp.Error),
		)
		if err := o.store.Update(ctx, instance); err != nil {
			return fmt.Errorf("failed to persist workflow step: %w", err)
		}
		o.scheduleRetry(def, instance.WorkflowID, resp.StepName, step.Attempts+1, delay)
		return nil
	}

	step.Status = StepFailed
	instance.SetError(fmt.Errorf("step %s failed: %s", resp.StepName, resp.Error))
	o.log.Error("workflow step failed, compensating",
		zap.String("workflow_id", instance.WorkflowID),
		zap.String("step", resp.StepName),
		zap.String("error", resp.Error),
	)
	return o.startCompensation(ctx, def, instance, StatusCompensating)
}

func (o *Orchestrator) scheduleRetry(def *Definition, workflowID, stepName string, attempt int, delay time.Duration) {
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		lock := o.lockFor(workflowID)
		lock.Lock()
		defer lock.Unlock()

		instance, err := o.store.Get(ctx, workflowID)
		if err != nil || instance.GetStatus() != StatusInProgress {
			return
		}
		idx := -1
		for i, s := range instance.Steps {
			if s.Name == stepName {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		if err := o.emitStepRequest(ctx, def, instance, idx, attempt); err != nil {
			o.log.Error("failed to retry workflow step",
				zap.String("workflow_id", workflowID),
				zap.String("step", stepName),
				zap.Error(err),
			)
		}
	})
}

// emitStepRequest publishes the request event for the step at idx and
// arms its per-step timeout. The caller holds the workflow lock.
func (o *Orchestrator) emitStepRequest(ctx context.Context, def *Definition, instance *Instance, idx, attempt int) error {
	stepDef := def.Steps[idx]
	step := instance.Steps[idx]

	now := time.Now().UTC()
	deadline := now.Add(stepDef.Timeout)
	step.Status = StepInFlight
	step.Attempts = attempt
	if step.StartedAt == nil {
		step.StartedAt = &now
	}
	step.Deadline = &deadline

	if err := o.store.Update(ctx, instance); err != nil {
		return fmt.Errorf("failed to persist workflow step: %w", err)
	}

	env, err := events.New(stepDef.RequestEvent, o.service, &StepRequest{
		WorkflowID:   instance.WorkflowID,
		WorkflowType: instance.WorkflowType,
		StepName:     stepDef.Name,
		Context:      instance.ContextCopy(),
		Attempt:      attempt,
	})
	if err != nil {
		return err
	}
	env.WithCorrelation(instance.WorkflowID)

	if err := o.publisher.Publish(ctx, env); err != nil {
		return fmt.Errorf("failed to publish step request: %w", err)
	}

	o.armStepTimer(def, instance.WorkflowID, stepDef.Name, stepDef.Timeout)
	o.log.Info("workflow step requested",
		zap.String("workflow_id", instance.WorkflowID),
		zap.String("step", stepDef.Name),
		zap.String("target_service", stepDef.TargetService),
		zap.Int("attempt", attempt),
	)
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, def *Definition, instance *Instance) error {
	instance.SetStatus(StatusCompleted)
	if err := o.store.Update(ctx, instance); err != nil {
		return fmt.Errorf("failed to persist completed workflow: %w", err)
	}
	o.cancelTimers(instance.WorkflowID)

	env, err := events.New(def.CompletedEvent, o.service, map[string]any{
		"workflow_id":   instance.WorkflowID,
		"workflow_type": instance.WorkflowType,
		"context":       instance.ContextCopy(),
	})
	if err != nil {
		return err
	}
	env.WithCorrelation(instance.WorkflowID)
	if err := o.publisher.Publish(ctx, env); err != nil {
		return fmt.Errorf("failed to publish workflow completion: %w", err)
	}

	if err := o.store.Archive(ctx, instance); err != nil {
		o.log.Error("failed to archive workflow",
			zap.String("workflow_id", instance.WorkflowID),
			zap.Error(err),
		)
	}
	o.releaseLock(instance.WorkflowID)
	o.log.Info("workflow completed", zap.String("workflow_id", instance.WorkflowID))
	return nil
}

// startCompensation transitions the workflow into compensation and
// emits the first compensation event. Completed steps without a
// compensation event are skipped. entryStatus is COMPENSATING for step
// failures and TIMEOUT for expired workflows.
func (o *Orchestrator) startCompensation(ctx context.Context, def *Definition, instance *Instance, entryStatus Status) error {
	instance.SetStatus(entryStatus)
	if entryStatus == StatusTimeout {
		// Persist the timeout status before compensation begins.
		if err := o.store.Update(ctx, instance); err != nil {
			return fmt.Errorf("failed to persist workflow timeout: %w", err)
		}
		instance.SetStatus(StatusCompensating)
	}
	if err := o.store.Update(ctx, instance); err != nil {
		return fmt.Errorf("failed to persist compensating workflow: %w", err)
	}
	o.cancelStepTimer(instance.WorkflowID)
	return o.emitNextCompensation(ctx, def, instance)
}

// emitNextCompensation finds the most recently completed step that
// still needs undoing and emits its compensation event. When none
// remain the workflow finishes as COMPENSATED.
func (o *Orchestrator) emitNextCompensation(ctx context.Context, def *Definition, instance *Instance) error {
	for i := len(instance.Steps) - 1; i >= 0; i-- {
		step := instance.Steps[i]
		if step.Status != StepCompleted {
			continue
		}
		stepDef := def.step(step.Name)
		if stepDef == nil || stepDef.CompensationEvent == "" {
			step.Status = StepSkipped
			continue
		}

		env, err := events.New(stepDef.CompensationEvent, o.service, &StepRequest{
			WorkflowID:   instance.WorkflowID,
			WorkflowType: instance.WorkflowType,
			StepName:     step.Name,
			Context:      instance.ContextCopy(),
			Result:       step.Result,
			Compensation: true,
		})
		if err != nil {
			return err
		}
		env.WithCorrelation(instance.WorkflowID)

		if err := o.store.Update(ctx, instance); err != nil {
			return fmt.Errorf("failed to persist compensation state: %w", err)
		}
		if err := o.publisher.Publish(ctx, env); err != nil {
			return fmt.Errorf("failed to publish compensation: %w", err)
		}
		o.log.Info("workflow compensation requested",
			zap.String("workflow_id", instance.WorkflowID),
			zap.String("step", step.Name),
		)
		return nil
	}
	return o.finishCompensation(ctx, def, instance)
}

func (o *Orchestrator) onCompensationResponse(ctx context.Context, def *Definition, instance *Instance, resp *StepResponse) error {
	step := instance.Step(resp.StepName)
	if step == nil {
		return nil
	}
	if !resp.Success {
		// Compensation failures are logged and the step is still
		// marked so the workflow can terminate; operators follow up
		// from the archive.
		o.log.Error("workflow compensation failed",
			zap.String("workflow_id", instance.WorkflowID),
			zap.String("step", resp.StepName),
			zap.String("error", resp.Error),
		)
	}
	step.Status = StepCompensated
	o.log.Info("workflow step compensated",
		zap.String("workflow_id", instance.WorkflowID),
		zap.String("step", resp.StepName),
	)
	if err := o.store.Update(ctx, instance); err != nil {
		return fmt.Errorf("failed to persist compensated step: %w", err)
	}
	return o.emitNextCompensation(ctx, def, instance)
}

func (o *Orchestrator) finishCompensation(ctx context.Context, def *Definition, instance *Instance) error {
	instance.SetStatus(StatusCompensated)
	if err := o.store.Update(ctx, instance); err != nil {
		return fmt.Errorf("failed to persist compensated workflow: %w", err)
	}
	o.cancelTimers(instance.WorkflowID)

	env, err := events.New(def.FailedEvent, o.service, map[string]any{
		"workflow_id":   instance.WorkflowID,
		"workflow_type": instance.WorkflowType,
		"error":         instance.Error,
		"context":       instance.ContextCopy(),
	})
	if err != nil {
		return err
	}
	env.WithCorrelation(instance.WorkflowID)
	if err := o.publisher.Publish(ctx, env); err != nil {
		return fmt.Errorf("failed to publish workflow failure: %w", err)
	}

	if err := o.store.Archive(ctx, instance); err != nil {
		o.log.Error("failed to archive workflow",
			zap.String("workflow_id", instance.WorkflowID),
			zap.Error(err),
		)
	}
	o.releaseLock(instance.WorkflowID)
	o.log.Info("workflow compensated", zap.String("workflow_id", instance.WorkflowID))
	return nil
}

// Recover reloads active instances after a restart, re-arms their
// timers from the stored wall-clock deadlines and re-emits whatever
// was in flight.
func (o *Orchestrator) Recover(ctx context.Context) error {
	instances, err := o.store.GetActive(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to load active workflows: %w", err)
	}

	for _, instance := range instances {
		def, err := o.definition(instance.WorkflowType)
		if err != nil {
			o.log.Error("cannot recover workflow of unknown type",
				zap.String("workflow_id", instance.WorkflowID),
				zap.String("workflow_type", instance.WorkflowType),
			)
			continue
		}

		lock := o.lockFor(instance.WorkflowID)
		lock.Lock()

		if time.Now().After(instance.Deadline) && instance.GetStatus() == StatusInProgress {
			instance.SetError(fmt.Errorf("workflow deadline exceeded during downtime"))
			if err := o.startCompensation(ctx, def, instance, StatusTimeout); err != nil {
				o.log.Error("failed to time out recovered workflow",
					zap.String("workflow_id", instance.WorkflowID),
					zap.Error(err),
				)
			}
			lock.Unlock()
			continue
		}

		o.armGlobalTimer(instance)
		switch instance.GetStatus() {
		case StatusInProgress:
			if err := o.reemitInFlight(ctx, def, instance); err != nil {
				o.log.Error("failed to re-emit in-flight step",
					zap.String("workflow_id", instance.WorkflowID),
					zap.Error(err),
				)
			}
		case StatusCompensating:
			if err := o.emitNextCompensation(ctx, def, instance); err != nil {
				o.log.Error("failed to resume compensation",
					zap.String("workflow_id", instance.WorkflowID),
					zap.Error(err),
				)
			}
		}
		lock.Unlock()
	}

	o.log.Info("workflow recovery completed", zap.Int("recovered", len(instances)))
	return nil
}

func (o *Orchestrator) reemitInFlight(ctx context.Context, def *Definition, instance *Instance) error {
	for i, step := range instance.Steps {
		if step.Status == StepInFlight {
			return o.emitStepRequest(ctx, def, instance, i, step.Attempts)
		}
	}
	// Nothing was in flight, continue from the next pending step.
	next := nextPendingStep(instance)
	if next < 0 {
		return o.complete(ctx, def, instance)
	}
	return o.emitStepRequest(ctx, def, instance, next, 1)
}

func (o *Orchestrator) armGlobalTimer(instance *Instance) {
	remaining := time.Until(instance.Deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	workflowID := instance.WorkflowID

	o.timersMu.Lock()
	if t, ok := o.timers[workflowID]; ok {
		t.Stop()
	}
	o.timers[workflowID] = time.AfterFunc(remaining, func() {
		o.onGlobalTimeout(workflowID)
	})
	o.timersMu.Unlock()
}

func (o *Orchestrator) onGlobalTimeout(workflowID string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	lock := o.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()

	instance, err := o.store.Get(ctx, workflowID)
	if err != nil || instance.GetStatus() != StatusInProgress {
		return
	}
	def, err := o.definition(instance.WorkflowType)
	if err != nil {
		return
	}

	instance.SetError(fmt.Errorf("workflow timed out after %s", time.Since(instance.CreatedAt).Round(time.Second)))
	o.log.Warn("workflow timed out", zap.String("workflow_id", workflowID))
	if err := o.startCompensation(ctx, def, instance, StatusTimeout); err != nil {
		o.log.Error("failed to compensate timed out workflow",
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) armStepTimer(def *Definition, workflowID, stepName string, timeout time.Duration) {
	o.timersMu.Lock()
	if t, ok := o.stepTimers[workflowID]; ok {
		t.Stop()
	}
	o.stepTimers[workflowID] = time.AfterFunc(timeout, func() {
		o.onStepTimeout(def, workflowID, stepName)
	})
	o.timersMu.Unlock()
}

// onStepTimeout treats an expired step like a retryable failure.
func (o *Orchestrator) onStepTimeout(def *Definition, workflowID, stepName string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	lock := o.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()

	instance, err := o.store.Get(ctx, workflowID)
	if err != nil || instance.GetStatus() != StatusInProgress {
		return
	}
	step := instance.Step(stepName)
	if step == nil || step.Status != StepInFlight {
		return
	}
	stepDef := def.step(stepName)
	if stepDef == nil {
		return
	}

	if step.Attempts < stepDef.MaxAttempts {
		o.log.Warn("workflow step timed out, retrying",
			zap.String("workflow_id", workflowID),
			zap.String("step", stepName),
			zap.Int("attempt", step.Attempts),
		)
		if err := o.emitStepRequest(ctx, def, instance, o.stepIndex(instance, stepName), step.Attempts+1); err != nil {
			o.log.Error("failed to retry timed out step",
				zap.String("workflow_id", workflowID),
				zap.Error(err),
			)
		}
		return
	}

	step.Status = StepFailed
	step.Error = "step timed out"
	instance.SetError(fmt.Errorf("step %s timed out after %d attempts", stepName, step.Attempts))
	if err := o.startCompensation(ctx, def, instance, StatusCompensating); err != nil {
		o.log.Error("failed to compensate after step timeout",
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) stepIndex(instance *Instance, name string) int {
	for i, s := range instance.Steps {
		if s.Name == name {
			return i
		}
	}
	return 0
}

func (o *Orchestrator) cancelStepTimer(workflowID string) {
	o.timersMu.Lock()
	if t, ok := o.stepTimers[workflowID]; ok {
		t.Stop()
		delete(o.stepTimers, workflowID)
	}
	o.timersMu.Unlock()
}

func (o *Orchestrator) cancelTimers(workflowID string) {
	o.timersMu.Lock()
	if t, ok := o.timers[workflowID]; ok {
		t.Stop()
		delete(o.timers, workflowID)
	}
	if t, ok := o.stepTimers[workflowID]; ok {
		t.Stop()
		delete(o.stepTimers, workflowID)
	}
	o.timersMu.Unlock()
}

// GetInstance returns an active instance by id.
func (o *Orchestrator) GetInstance(ctx context.Context, workflowID string) (*Instance, error) {
	return o.store.Get(ctx, workflowID)
}
