package model

// ProjectStatus is the project lifecycle state.
type ProjectStatus string

const (
	ProjectDraft     ProjectStatus = "draft"
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)

// DefaultProjectID is the registry entry legacy single-project data
// migrates into. It cannot be deleted.
const DefaultProjectID = "proj-default"

// Project binds a name to a git repository and a task document.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	RepoPath    string        `json:"repo_path"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at,omitempty"`
}

// Registry is the persisted projects.json document.
type Registry struct {
	SchemaVersion int        `json:"schema_version"`
	Projects      []*Project `json:"projects"`
}

// Find returns the project with the given id, or nil.
func (r *Registry) Find(id string) *Project {
	for _, p := range r.Projects {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// EnsureShape normalizes a registry read back from disk.
func (r *Registry) EnsureShape() {
	if r.Projects == nil {
		r.Projects = []*Project{}
	}
	for _, p := range r.Projects {
		if p.Status == "" {
			p.Status = ProjectActive
		}
	}
}
