// Package store owns durable state: the projects registry and the
// per-project task documents, each a whole-file JSON document guarded by
// a cross-process advisory lock. Every public operation is
// read-lock-modify-write-unlock; there is no in-memory cache of task
// documents across operations.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/c360studio/agentboard/model"
)

// Store reads and writes the JSON document families under a data root.
type Store struct {
	root     string
	eventCap int
	logger   *slog.Logger
}

// New creates a store rooted at dir and runs legacy migration. The
// directory tree is created on demand.
func New(dir string, eventCap int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if eventCap < 1 {
		eventCap = 2000
	}
	s := &Store{root: dir, eventCap: eventCap, logger: logger}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	if err := s.migrateLegacy(); err != nil {
		return nil, fmt.Errorf("migrate legacy data: %w", err)
	}
	return s, nil
}

// EventCap returns the configured per-project event ring bound.
func (s *Store) EventCap() int { return s.eventCap }

// Root returns the data root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) projectsPath() string {
	return filepath.Join(s.root, "projects.json")
}

func (s *Store) tasksPath(projectID string) string {
	if projectID == "" {
		projectID = model.DefaultProjectID
	}
	return filepath.Join(s.root, "projects", projectID, "tasks.json")
}

// lockPath derives the sibling lock file for a data file.
func lockPath(dataPath string) string {
	return strings.TrimSuffix(dataPath, filepath.Ext(dataPath)) + ".lock"
}

// withLock runs fn while holding the exclusive advisory lock for path.
// Acquisition blocks; the lock is cross-process.
func withLock(path string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}
	fl := flock.New(lockPath(path))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire lock %s: %w", fl.Path(), err)
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}

// ReadTasks loads the task document for a project. A missing file yields
// an empty shaped document; a malformed file yields ErrCorrupt.
func (s *Store) ReadTasks(projectID string) (*model.Document, error) {
	path := s.tasksPath(projectID)
	var doc *model.Document
	err := withLock(path, func() error {
		var err error
		doc, err = readDocument(path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// WriteTasks persists the document whole, recomputing meta and trimming
// the event ring to the configured cap.
func (s *Store) WriteTasks(projectID string, doc *model.Document) error {
	if over := len(doc.Events) - s.eventCap; over > 0 {
		doc.Events = doc.Events[over:]
	}
	doc.RecomputeMeta()
	path := s.tasksPath(projectID)
	return withLock(path, func() error {
		return writeJSON(path, doc)
	})
}

// UpdateTasks runs a read-modify-write transaction on a project document
// under a single lock hold. fn returning false skips the write.
func (s *Store) UpdateTasks(projectID string, fn func(doc *model.Document) (bool, error)) error {
	path := s.tasksPath(projectID)
	return withLock(path, func() error {
		doc, err := readDocument(path)
		if err != nil {
			return err
		}
		changed, err := fn(doc)
		if err != nil || !changed {
			return err
		}
		if over := len(doc.Events) - s.eventCap; over > 0 {
			doc.Events = doc.Events[over:]
		}
		doc.RecomputeMeta()
		return writeJSON(path, doc)
	})
}

// ReadProjects loads the registry, creating an empty one on first use.
func (s *Store) ReadProjects() (*model.Registry, error) {
	path := s.projectsPath()
	var reg *model.Registry
	err := withLock(path, func() error {
		var err error
		reg, err = readRegistry(path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// WriteProjects persists the registry whole.
func (s *Store) WriteProjects(reg *model.Registry) error {
	reg.SchemaVersion = model.SchemaVersion
	return withLock(s.projectsPath(), func() error {
		return writeJSON(s.projectsPath(), reg)
	})
}

// UpdateProjects runs a read-modify-write transaction on the registry.
func (s *Store) UpdateProjects(fn func(reg *model.Registry) (bool, error)) error {
	path := s.projectsPath()
	return withLock(path, func() error {
		reg, err := readRegistry(path)
		if err != nil {
			return err
		}
		changed, err := fn(reg)
		if err != nil || !changed {
			return err
		}
		reg.SchemaVersion = model.SchemaVersion
		return writeJSON(path, reg)
	})
}

// DeleteProjectData removes a project's document directory.
func (s *Store) DeleteProjectData(projectID string) error {
	if projectID == "" || projectID == model.DefaultProjectID {
		return fmt.Errorf("refusing to delete default project data")
	}
	dir := filepath.Join(s.root, "projects", projectID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove project dir: %w", err)
	}
	return nil
}

// migrateLegacy copies a pre-registry data/tasks.json into the default
// project slot and seeds a registry entry for it. Runs once; the legacy
// file is renamed aside so the migration is not repeated.
func (s *Store) migrateLegacy() error {
	legacy := filepath.Join(s.root, "tasks.json")
	if _, err := os.Stat(legacy); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	target := s.tasksPath(model.DefaultProjectID)
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	data, err := os.ReadFile(legacy)
	if err != nil {
		return fmt.Errorf("read legacy tasks: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create default project dir: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("copy legacy tasks: %w", err)
	}
	err = s.UpdateProjects(func(reg *model.Registry) (bool, error) {
		if reg.Find(model.DefaultProjectID) != nil {
			return false, nil
		}
		reg.Projects = append(reg.Projects, &model.Project{
			ID:        model.DefaultProjectID,
			Name:      "Default",
			RepoPath:  "",
			Status:    model.ProjectActive,
			CreatedAt: model.NowISO(),
		})
		return true, nil
	})
	if err != nil {
		return err
	}
	if err := os.Rename(legacy, legacy+".migrated"); err != nil {
		s.logger.Warn("Failed to rename legacy tasks file", "error", err)
	}
	s.logger.Info("Migrated legacy task document", "target", target)
	return nil
}

func readDocument(path string) (*model.Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	doc := model.NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	doc.EnsureShape()
	return doc, nil
}

func readRegistry(path string) (*model.Registry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &model.Registry{SchemaVersion: model.SchemaVersion, Projects: []*model.Project{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	reg := &model.Registry{}
	if err := json.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	reg.EnsureShape()
	return reg, nil
}

// writeJSON rewrites the file whole, pretty-printed UTF-8. Not atomic
// against a crash mid-write; callers accept possibly-torn documents on
// hard kill.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}
