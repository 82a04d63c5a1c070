package model

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMergeCommitIDsProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	commitGen := gen.RegexMatch(`[0-9a-f]{7,12}`)

	properties.Property("result never contains duplicates", prop.ForAll(
		func(existing, incoming []string) bool {
			task := &Task{CommitIDs: nil}
			task.MergeCommitIDs(existing)
			task.MergeCommitIDs(incoming)
			seen := map[string]bool{}
			for _, id := range task.CommitIDs {
				if seen[id] {
					return false
				}
				seen[id] = true
			}
			return true
		},
		gen.SliceOf(commitGen),
		gen.SliceOf(commitGen),
	))

	properties.Property("merging is idempotent", prop.ForAll(
		func(ids []string) bool {
			task := &Task{}
			task.MergeCommitIDs(ids)
			before := len(task.CommitIDs)
			task.MergeCommitIDs(ids)
			return len(task.CommitIDs) == before
		},
		gen.SliceOf(commitGen),
	))

	properties.Property("existing order is preserved", prop.ForAll(
		func(existing, incoming []string) bool {
			task := &Task{}
			task.MergeCommitIDs(existing)
			prefix := append([]string(nil), task.CommitIDs...)
			task.MergeCommitIDs(incoming)
			for i, id := range prefix {
				if task.CommitIDs[i] != id {
					return false
				}
			}
			return true
		},
		gen.SliceOf(commitGen),
		gen.SliceOf(commitGen),
	))

	properties.TestingRun(t)
}

func TestNextTaskIDProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("allocated id is never already in the document", prop.ForAll(
		func(ns []int) bool {
			doc := NewDocument()
			for _, n := range ns {
				doc.Tasks = append(doc.Tasks, &Task{ID: FormatTaskID(n)})
			}
			next := doc.NextTaskID()
			for _, task := range doc.Tasks {
				if task.ID == next {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 500)),
	))

	properties.TestingRun(t)
}

func TestSuccessRateProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	statusGen := gen.OneConstOf(
		StatusPending, StatusInProgress, StatusReviewing,
		StatusCompleted, StatusFailed, StatusCancelled,
	)

	properties.Property("success rate stays within [0,1]", prop.ForAll(
		func(statuses []TaskStatus) bool {
			doc := NewDocument()
			for i, st := range statuses {
				doc.Tasks = append(doc.Tasks, &Task{ID: FormatTaskID(i + 1), Status: st})
			}
			doc.RecomputeMeta()
			return doc.Meta.SuccessRate >= 0 && doc.Meta.SuccessRate <= 1
		},
		gen.SliceOf(statusGen),
	))

	properties.TestingRun(t)
}
