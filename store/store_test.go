package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/agentboard/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), 2000, nil)
	require.NoError(t, err)
	return s
}

func TestReadTasksMissingFile(t *testing.T) {
	s := newTestStore(t)
	doc, err := s.ReadTasks("proj-x")
	require.NoError(t, err)
	assert.Empty(t, doc.Tasks)
	assert.Empty(t, doc.Events)
	assert.Equal(t, model.SchemaVersion, doc.SchemaVersion)
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	doc := model.NewDocument()
	doc.Tasks = append(doc.Tasks, &model.Task{
		ID:    "task-001",
		Title: "add caching layer",
	})
	require.NoError(t, s.WriteTasks("proj-x", doc))

	back, err := s.ReadTasks("proj-x")
	require.NoError(t, err)
	require.Len(t, back.Tasks, 1)
	assert.Equal(t, "task-001", back.Tasks[0].ID)
	assert.Equal(t, model.StatusPending, back.Tasks[0].Status, "shape applied on read")
	assert.NotEmpty(t, back.Meta.LastUpdated, "meta recomputed on write")
}

func TestUpdateTasksTransaction(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateTasks("proj-x", func(doc *model.Document) (bool, error) {
		doc.Tasks = append(doc.Tasks, &model.Task{ID: doc.NextTaskID(), Title: "one"})
		return true, nil
	})
	require.NoError(t, err)

	// A returned error must not persist partial changes.
	boom := errors.New("boom")
	err = s.UpdateTasks("proj-x", func(doc *model.Document) (bool, error) {
		doc.Tasks = append(doc.Tasks, &model.Task{ID: "task-999"})
		return true, boom
	})
	assert.ErrorIs(t, err, boom)

	// Returning false skips the write.
	err = s.UpdateTasks("proj-x", func(doc *model.Document) (bool, error) {
		doc.Tasks = append(doc.Tasks, &model.Task{ID: "task-998"})
		return false, nil
	})
	require.NoError(t, err)

	doc, err := s.ReadTasks("proj-x")
	require.NoError(t, err)
	assert.Len(t, doc.Tasks, 1)
}

func TestEventRingTrimmedToCap(t *testing.T) {
	s, err := New(t.TempDir(), 10, nil)
	require.NoError(t, err)

	doc := model.NewDocument()
	for i := 0; i < 25; i++ {
		doc.Events = append(doc.Events, &model.Event{
			ID:      fmt.Sprintf("evt-%08d", i),
			Type:    model.EventTaskCreated,
			Level:   model.LevelInfo,
			Message: "x",
		})
	}
	require.NoError(t, s.WriteTasks("proj-x", doc))

	back, err := s.ReadTasks("proj-x")
	require.NoError(t, err)
	require.Len(t, back.Events, 10)
	assert.Equal(t, "evt-00000015", back.Events[0].ID, "oldest events dropped first")
	assert.Equal(t, "evt-00000024", back.Events[9].ID)
}

func TestCorruptDocument(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.Root(), "projects", "proj-x", "tasks.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := s.ReadTasks("proj-x")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestProjectsRegistryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	reg, err := s.ReadProjects()
	require.NoError(t, err)
	assert.Empty(t, reg.Projects)

	err = s.UpdateProjects(func(reg *model.Registry) (bool, error) {
		reg.Projects = append(reg.Projects, &model.Project{
			ID: "proj-abc", Name: "Demo", Status: model.ProjectActive,
		})
		return true, nil
	})
	require.NoError(t, err)

	back, err := s.ReadProjects()
	require.NoError(t, err)
	require.Len(t, back.Projects, 1)
	assert.Equal(t, "Demo", back.Projects[0].Name)
}

func TestDeleteProjectDataGuards(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.DeleteProjectData(model.DefaultProjectID))
	assert.Error(t, s.DeleteProjectData(""))

	doc := model.NewDocument()
	require.NoError(t, s.WriteTasks("proj-x", doc))
	require.NoError(t, s.DeleteProjectData("proj-x"))
	_, err := os.Stat(filepath.Join(s.Root(), "projects", "proj-x"))
	assert.True(t, os.IsNotExist(err))
}

func TestLegacyMigration(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"schema_version": 1, "tasks": [{"id": "task-001", "title": "old"}], "events": []}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.json"), []byte(legacy), 0o644))

	s, err := New(dir, 2000, nil)
	require.NoError(t, err)

	doc, err := s.ReadTasks(model.DefaultProjectID)
	require.NoError(t, err)
	require.Len(t, doc.Tasks, 1)
	assert.Equal(t, "task-001", doc.Tasks[0].ID)

	reg, err := s.ReadProjects()
	require.NoError(t, err)
	require.NotNil(t, reg.Find(model.DefaultProjectID), "registry seeded with default project")

	_, err = os.Stat(filepath.Join(dir, "tasks.json.migrated"))
	assert.NoError(t, err, "legacy file renamed aside")

	// A second open must not migrate again.
	_, err = New(dir, 2000, nil)
	require.NoError(t, err)
}

func TestLockPathDerivation(t *testing.T) {
	assert.Equal(t, "/data/projects/p/tasks.lock", lockPath("/data/projects/p/tasks.json"))
	assert.Equal(t, "/data/projects.lock", lockPath("/data/projects.json"))
}
