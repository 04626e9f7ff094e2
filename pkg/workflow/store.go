package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInstanceNotFound is returned when a workflow instance is not
	// in the active set.
	ErrInstanceNotFound = errors.New("workflow instance not found")
	// ErrInstanceAlreadyExists is returned on a duplicate Save.
	ErrInstanceAlreadyExists = errors.New("workflow instance already exists")
)

// Store persists workflow instances. The instance is written on every
// status change so a restarted orchestrator can recover in-flight
// workflows.
type Store interface {
	Save(ctx context.Context, instance *Instance) error
	Get(ctx context.Context, workflowID string) (*Instance, error)
	Update(ctx context.Context, instance *Instance) error
	// GetActive returns instances that need recovery after a restart,
	// those in IN_PROGRESS or COMPENSATING.
	GetActive(ctx context.Context, limit int) ([]*Instance, error)
	// Archive moves a terminal instance out of the active set into
	// the audit archive.
	Archive(ctx context.Context, instance *Instance) error
}

// MemoryStore is an in-memory Store used in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	active   map[string]*Instance
	archived map[string]*Instance
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		active:   make(map[string]*Instance),
		archived: make(map[string]*Instance),
	}
}

func (s *MemoryStore) Save(ctx context.Context, instance *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.active[instance.WorkflowID]; exists {
		return ErrInstanceAlreadyExists
	}
	copied, err := deepCopy(instance)
	if err != nil {
		return err
	}
	s.active[instance.WorkflowID] = copied
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, workflowID string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instance, exists := s.active[workflowID]
	if !exists {
		return nil, ErrInstanceNotFound
	}
	return deepCopy(instance)
}

func (s *MemoryStore) Update(ctx context.Context, instance *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.active[instance.WorkflowID]; !exists {
		return ErrInstanceNotFound
	}
	copied, err := deepCopy(instance)
	if err != nil {
		return err
	}
	s.active[instance.WorkflowID] = copied
	return nil
}

func (s *MemoryStore) GetActive(ctx context.Context, limit int) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Instance
	for _, instance := range s.active {
		if instance.Status != StatusInProgress && instance.Status != StatusCompensating {
			continue
		}
		copied, err := deepCopy(instance)
		if err != nil {
			return nil, err
		}
		result = append(result, copied)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) Archive(ctx context.Context, instance *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied, err := deepCopy(instance)
	if err != nil {
		return err
	}
	s.archived[instance.WorkflowID] = copied
	delete(s.active, instance.WorkflowID)
	return nil
}

// Archived returns an archived instance, used in tests.
func (s *MemoryStore) Archived(workflowID string) (*Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instance, ok := s.archived[workflowID]
	return instance, ok
}

// ActiveCount returns the size of the active set.
func (s *MemoryStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// deepCopy clones an instance through JSON so callers cannot mutate
// stored state.
func deepCopy(instance *Instance) (*Instance, error) {
	data, err := instance.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal instance: %w", err)
	}
	var copied Instance
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}
	if copied.ProcessedEvents == nil {
		copied.ProcessedEvents = make(map[string]bool)
	}
	return &copied, nil
}
