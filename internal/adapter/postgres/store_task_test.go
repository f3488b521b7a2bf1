package postgres_test

import (
	"context"
	"testing"

	"github.com/lancejames221b/haivemind/internal/domain/task"
)

func TestStore_TaskLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created, err := store.CreateTask(ctx, task.CreateRequest{
		Description:          "rotate the staging TLS cert",
		RequiredCapabilities: []string{"infra", "tls"},
		Priority:             task.PriorityHigh,
		CreatedBy:            "agent-1",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.Status != task.StatusPending {
		t.Fatalf("expected new task to be pending, got %v", created.Status)
	}

	t.Run("Get", func(t *testing.T) {
		got, err := store.GetTask(ctx, created.TaskID)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if got.Description != created.Description {
			t.Fatalf("expected description %q, got %q", created.Description, got.Description)
		}
	})

	t.Run("Assign", func(t *testing.T) {
		assigned, err := store.AssignTask(ctx, created.TaskID, "agent-2")
		if err != nil {
			t.Fatalf("AssignTask: %v", err)
		}
		if assigned.Status != task.StatusAssigned {
			t.Fatalf("expected status assigned, got %v", assigned.Status)
		}
		if assigned.AssignedTo != "agent-2" {
			t.Fatalf("expected assigned to agent-2, got %q", assigned.AssignedTo)
		}
	})

	t.Run("ListByAgent", func(t *testing.T) {
		tasks, err := store.ListTasksByAgent(ctx, "agent-2")
		if err != nil {
			t.Fatalf("ListTasksByAgent: %v", err)
		}
		found := false
		for _, tk := range tasks {
			if tk.TaskID == created.TaskID {
				found = true
			}
		}
		if !found {
			t.Fatal("expected ListTasksByAgent to include the assigned task")
		}
	})

	t.Run("Complete", func(t *testing.T) {
		done, err := store.UpdateTaskStatus(ctx, created.TaskID, task.StatusDone, &task.Result{Output: "rotated"})
		if err != nil {
			t.Fatalf("UpdateTaskStatus: %v", err)
		}
		if done.Status != task.StatusDone {
			t.Fatalf("expected status done, got %v", done.Status)
		}
		if done.Result == nil || done.Result.Output != "rotated" {
			t.Fatalf("expected result output 'rotated', got %+v", done.Result)
		}
	})

	t.Run("ListByStatus", func(t *testing.T) {
		tasks, err := store.ListTasksByStatus(ctx, task.StatusDone)
		if err != nil {
			t.Fatalf("ListTasksByStatus: %v", err)
		}
		found := false
		for _, tk := range tasks {
			if tk.TaskID == created.TaskID {
				found = true
			}
		}
		if !found {
			t.Fatal("expected ListTasksByStatus to include the completed task")
		}
	})
}
