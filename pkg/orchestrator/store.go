package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// PlanStore persists finished workflow plans
type PlanStore interface {
	Save(plan WorkflowPlan) error
	Get(id string) (WorkflowPlan, error)
	List() ([]WorkflowPlan, error)
	Delete(id string) error
}

// FileStore implements PlanStore with one JSON file per plan
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a new file-based plan store
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return "", fmt.Errorf("invalid plan id: %q", id)
	}
	return filepath.Join(s.baseDir, id+".json"), nil
}

// Save writes the plan to disk
func (s *FileStore) Save(plan WorkflowPlan) error {
	path, err := s.path(plan.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}

	return nil
}

// Delete removes a plan from disk
func (s *FileStore) Delete(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove plan file: %w", err)
	}
	return nil
}

// Get reads a single plan
func (s *FileStore) Get(id string) (WorkflowPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

func (s *FileStore) get(id string) (WorkflowPlan, error) {
	path, err := s.path(id)
	if err != nil {
		return WorkflowPlan{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return WorkflowPlan{}, fmt.Errorf("failed to read plan file: %w", err)
	}

	var plan WorkflowPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return WorkflowPlan{}, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return plan, nil
}

// List returns every readable plan, newest first
func (s *FileStore) List() ([]WorkflowPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var plans []WorkflowPlan
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		plan, err := s.get(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// Corrupted files are skipped
			continue
		}
		plans = append(plans, plan)
	}

	sort.Slice(plans, func(i, j int) bool {
		return plans[i].CreatedAt.After(plans[j].CreatedAt)
	})

	return plans, nil
}
