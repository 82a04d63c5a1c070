// Package project manages the projects registry: creation, lifecycle
// transitions, and the guardrails around deleting a project and its
// task document.
package project

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/c360studio/agentboard/events"
	"github.com/c360studio/agentboard/model"
	"github.com/c360studio/agentboard/store"
	"github.com/c360studio/agentboard/worktree"
)

// allowedTransitions is the project lifecycle state machine.
var allowedTransitions = map[model.ProjectStatus][]model.ProjectStatus{
	model.ProjectDraft:     {model.ProjectActive, model.ProjectArchived},
	model.ProjectActive:    {model.ProjectOnHold, model.ProjectCompleted, model.ProjectArchived},
	model.ProjectOnHold:    {model.ProjectActive, model.ProjectArchived},
	model.ProjectCompleted: {model.ProjectActive, model.ProjectArchived},
	model.ProjectArchived:  {model.ProjectActive},
}

// Service manipulates the registry through the store.
type Service struct {
	store  *store.Store
	bus    *events.Bus
	logger *slog.Logger
}

// NewService creates a project service. bus may be nil; registry
// mutations are then not mirrored on the change stream.
func NewService(s *store.Store, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, bus: bus, logger: logger}
}

// publish mirrors a registry mutation on the change stream.
func (s *Service) publish(projectID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Envelope{
		Kind:      events.KindProjectChanged,
		ProjectID: projectID,
		At:        model.NowISO(),
	})
}

// CreateInput is what a new project needs.
type CreateInput struct {
	Name        string
	Description string
	RepoPath    string
}

// Create validates and registers a new project. The repo path must be an
// absolute path to an existing git work tree; names must be unique after
// normalization.
func (s *Service) Create(in CreateInput) (*model.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	repo := filepath.Clean(strings.TrimSpace(in.RepoPath))
	if err := worktree.ValidateRepo(repo); err != nil {
		return nil, fmt.Errorf("invalid repo path: %w", err)
	}

	proj := &model.Project{
		ID:          "proj-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		RepoPath:    repo,
		Status:      model.ProjectActive,
		CreatedAt:   model.NowISO(),
	}

	err := s.store.UpdateProjects(func(reg *model.Registry) (bool, error) {
		for _, p := range reg.Projects {
			if strings.EqualFold(p.Name, name) {
				return false, fmt.Errorf("project name %q already in use", name)
			}
			if p.RepoPath == repo {
				return false, fmt.Errorf("repo %s already registered to project %s", repo, p.ID)
			}
		}
		reg.Projects = append(reg.Projects, proj)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Created project", "project_id", proj.ID, "name", name, "repo", repo)
	s.publish(proj.ID)
	return proj, nil
}

// Get returns one project.
func (s *Service) Get(id string) (*model.Project, error) {
	reg, err := s.store.ReadProjects()
	if err != nil {
		return nil, err
	}
	p := reg.Find(id)
	if p == nil {
		return nil, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	return p, nil
}

// List returns all projects.
func (s *Service) List() ([]*model.Project, error) {
	reg, err := s.store.ReadProjects()
	if err != nil {
		return nil, err
	}
	return reg.Projects, nil
}

// UpdateInput carries mutable project fields; nil means unchanged.
type UpdateInput struct {
	Name        *string
	Description *string
	Status      *model.ProjectStatus
}

// Update applies field changes, enforcing the status state machine.
// Activation needs at least one task; completing or archiving needs no
// active tasks.
func (s *Service) Update(id string, in UpdateInput) (*model.Project, error) {
	var sum TaskSummary
	if in.Status != nil {
		var err error
		sum, err = s.Summary(id)
		if err != nil {
			return nil, err
		}
	}

	var updated *model.Project
	err := s.store.UpdateProjects(func(reg *model.Registry) (bool, error) {
		p := reg.Find(id)
		if p == nil {
			return false, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
		}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return false, fmt.Errorf("project name cannot be empty")
			}
			for _, other := range reg.Projects {
				if other.ID != id && strings.EqualFold(other.Name, name) {
					return false, fmt.Errorf("project name %q already in use", name)
				}
			}
			p.Name = name
		}
		if in.Description != nil {
			p.Description = strings.TrimSpace(*in.Description)
		}
		if in.Status != nil && *in.Status != p.Status {
			if !transitionAllowed(p.Status, *in.Status) {
				return false, fmt.Errorf("cannot move project from %s to %s", p.Status, *in.Status)
			}
			switch *in.Status {
			case model.ProjectActive:
				if sum.Total == 0 {
					return false, fmt.Errorf("project %s has no tasks to activate", id)
				}
			case model.ProjectCompleted, model.ProjectArchived:
				if sum.Active > 0 {
					return false, fmt.Errorf("project %s has %d active tasks", id, sum.Active)
				}
			}
			p.Status = *in.Status
		}
		p.UpdatedAt = model.NowISO()
		updated = p
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(id)
	return updated, nil
}

// Delete removes a project and its task document. The default project
// and projects with live work are protected.
func (s *Service) Delete(id string) error {
	if id == model.DefaultProjectID {
		return fmt.Errorf("the default project cannot be deleted")
	}
	doc, err := s.store.ReadTasks(id)
	if err != nil {
		return err
	}
	for _, t := range doc.Tasks {
		if t.Status == model.StatusInProgress || t.Status == model.StatusReviewing {
			return fmt.Errorf("project %s has task %s in flight", id, t.ID)
		}
	}
	err = s.store.UpdateProjects(func(reg *model.Registry) (bool, error) {
		for i, p := range reg.Projects {
			if p.ID == id {
				reg.Projects = append(reg.Projects[:i], reg.Projects[i+1:]...)
				return true, nil
			}
		}
		return false, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	})
	if err != nil {
		return err
	}
	if err := s.store.DeleteProjectData(id); err != nil {
		return err
	}
	s.logger.Info("Deleted project", "project_id", id)
	s.publish(id)
	return nil
}

// TaskSummary aggregates a project's task document for list views.
// Active counts everything that is neither terminal nor cancelled.
type TaskSummary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Reviewing  int `json:"reviewing"`
	Blocked    int `json:"blocked"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Active     int `json:"active"`
}

// Summary computes the task counts for one project.
func (s *Service) Summary(id string) (TaskSummary, error) {
	doc, err := s.store.ReadTasks(id)
	if err != nil {
		return TaskSummary{}, err
	}
	var sum TaskSummary
	for _, t := range doc.Tasks {
		sum.Total++
		switch t.Status {
		case model.StatusPending:
			sum.Pending++
		case model.StatusInProgress:
			sum.InProgress++
		case model.StatusReviewing:
			sum.Reviewing++
		case model.StatusPlanReview, model.StatusBlockedBySubtasks:
			sum.Blocked++
		case model.StatusCompleted:
			sum.Completed++
		case model.StatusFailed:
			sum.Failed++
		}
		switch t.Status {
		case model.StatusPending, model.StatusInProgress, model.StatusReviewing,
			model.StatusPlanReview, model.StatusBlockedBySubtasks:
			sum.Active++
		}
	}
	return sum, nil
}

func transitionAllowed(from, to model.ProjectStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
