// Package workflow implements the distributed booking workflow engine.
// A workflow type is a static ordered list of steps executed across
// services over the message bus. Each step sends a request event to a
// target service and waits for its response event; failed workflows
// compensate completed steps in reverse order.
package workflow

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventix/eventix/pkg/events"
)

// Status is the lifecycle status of a workflow instance.
type Status string

const (
	StatusInitiated    Status = "INITIATED"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
	StatusTimeout      Status = "TIMEOUT"
)

// Terminal reports whether no further transitions happen from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCompensated:
		return true
	}
	return false
}

// StepStatus is the status of a single step within an instance.
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepInFlight    StepStatus = "IN_FLIGHT"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepCompensated StepStatus = "COMPENSATED"
	StepSkipped     StepStatus = "SKIPPED"
)

// StepDefinition declares one step of a workflow type. A step with an
// empty CompensationEvent has nothing to undo.
type StepDefinition struct {
	Name              string        `json:"name"`
	TargetService     string        `json:"target_service"`
	RequestEvent      events.Type   `json:"request_event"`
	ResponseEvent     events.Type   `json:"response_event"`
	CompensationEvent events.Type   `json:"compensation_event,omitempty"`
	Timeout           time.Duration `json:"timeout"`
	MaxAttempts       int           `json:"max_attempts"`
}

// Definition is a registered workflow type.
type Definition struct {
	Name           string            `json:"name"`
	Steps          []*StepDefinition `json:"steps"`
	GlobalTimeout  time.Duration     `json:"global_timeout"`
	CompletedEvent events.Type       `json:"completed_event"`
	FailedEvent    events.Type       `json:"failed_event"`
}

// NewDefinition creates a workflow type with the default timeouts.
func NewDefinition(name string, completed, failed events.Type) *Definition {
	return &Definition{
		Name:           name,
		Steps:          make([]*StepDefinition, 0),
		GlobalTimeout:  5 * time.Minute,
		CompletedEvent: completed,
		FailedEvent:    failed,
	}
}

// AddStep appends a step, filling in default timeout and attempts.
func (d *Definition) AddStep(step *StepDefinition) *Definition {
	if step.Timeout == 0 {
		step.Timeout = 30 * time.Second
	}
	if step.MaxAttempts == 0 {
		step.MaxAttempts = 3
	}
	d.Steps = append(d.Steps, step)
	return d
}

// WithGlobalTimeout overrides the whole-workflow deadline.
func (d *Definition) WithGlobalTimeout(timeout time.Duration) *Definition {
	d.GlobalTimeout = timeout
	return d
}

func (d *Definition) step(name string) *StepDefinition {
	for _, s := range d.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// StepState is the runtime state of one step in an instance.
type StepState struct {
	Name        string         `json:"name"`
	Status      StepStatus     `json:"status"`
	Attempts    int            `json:"attempts"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Deadline    *time.Time     `json:"deadline,omitempty"`
}

// Instance is a running or finished workflow. The context map carries
// data between steps, each completed step's result is merged into it.
type Instance struct {
	WorkflowID   string         `json:"workflow_id"`
	WorkflowType string         `json:"workflow_type"`
	Status       Status         `json:"status"`
	Context      map[string]any `json:"context"`
	Steps        []*StepState   `json:"steps"`
	CurrentStep  int            `json:"current_step"`
	Error        string         `json:"error,omitempty"`
	// Deadline is the wall-clock global timeout, used to re-arm
	// timers after a restart.
	Deadline    time.Time  `json:"deadline"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// ProcessedEvents short-circuits replayed response events.
	ProcessedEvents map[string]bool `json:"processed_events,omitempty"`

	mu sync.RWMutex
}

// NewInstance creates an INITIATED instance for a definition.
func NewInstance(def *Definition, context map[string]any) *Instance {
	now := time.Now().UTC()
	if context == nil {
		context = make(map[string]any)
	}
	steps := make([]*StepState, len(def.Steps))
	for i, s := range def.Steps {
		steps[i] = &StepState{Name: s.Name, Status: StepPending}
	}
	return &Instance{
		WorkflowID:      uuid.New().String(),
		WorkflowType:    def.Name,
		Status:          StatusInitiated,
		Context:         context,
		Steps:           steps,
		CurrentStep:     0,
		Deadline:        now.Add(def.GlobalTimeout),
		CreatedAt:       now,
		UpdatedAt:       now,
		ProcessedEvents: make(map[string]bool),
	}
}

// SetStatus updates the instance status.
func (i *Instance) SetStatus(status Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Status = status
	i.UpdatedAt = time.Now().UTC()
	if status.Terminal() {
		now := i.UpdatedAt
		i.CompletedAt = &now
	}
}

// GetStatus returns the current status.
func (i *Instance) GetStatus() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.Status
}

// MergeContext merges step result data into the workflow context.
func (i *Instance) MergeContext(data map[string]any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for k, v := range data {
		i.Context[k] = v
	}
	i.UpdatedAt = time.Now().UTC()
}

// ContextCopy returns a copy of the workflow context.
func (i *Instance) ContextCopy() map[string]any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]any, len(i.Context))
	for k, v := range i.Context {
		out[k] = v
	}
	return out
}

// MarkProcessed records an inbound event id, returning false when the
// event was seen before.
func (i *Instance) MarkProcessed(eventID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.ProcessedEvents == nil {
		i.ProcessedEvents = make(map[string]bool)
	}
	if i.ProcessedEvents[eventID] {
		return false
	}
	i.ProcessedEvents[eventID] = true
	return true
}

// Step returns the state of the named step, nil when unknown.
func (i *Instance) Step(name string) *StepState {
	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, s := range i.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// SetError records the failure cause.
func (i *Instance) SetError(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err != nil {
		i.Error = err.Error()
	}
	i.UpdatedAt = time.Now().UTC()
}

// ToJSON serializes the instance.
func (i *Instance) ToJSON() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return json.Marshal(i)
}

// FromJSON deserializes an instance.
func FromJSON(data []byte) (*Instance, error) {
	var instance Instance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow instance: %w", err)
	}
	if instance.ProcessedEvents == nil {
		instance.ProcessedEvents = make(map[string]bool)
	}
	return &instance, nil
}

// StepRequest is the payload of a step request or compensation event.
type StepRequest struct {
	WorkflowID   string         `json:"workflow_id"`
	WorkflowType string         `json:"workflow_type"`
	StepName     string         `json:"step_name"`
	Context      map[string]any `json:"context"`
	Attempt      int            `json:"attempt"`
	Compensation bool           `json:"compensation,omitempty"`
	// Result carries the original step result on compensation so the
	// target can undo exactly what it did.
	Result map[string]any `json:"result,omitempty"`
}

// StepResponse is the payload a target service publishes back.
type StepResponse struct {
	WorkflowID   string         `json:"workflow_id"`
	StepName     string         `json:"step_name"`
	Success      bool           `json:"success"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	Retryable    bool           `json:"retryable,omitempty"`
	Compensation bool           `json:"compensation,omitempty"`
}
