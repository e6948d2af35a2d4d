package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"opsdesk/api/internal/taskstore"
)

func TestCreateBoardRequiresResourceLink(t *testing.T) {
	svc := newTestService(nil, nil, nil)

	_, err := svc.CreateBoard(context.Background(), BoardInput{
		Name:      "Order follow-ups",
		Owner:     "u1",
		CreatedBy: "u1",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Message != "resourceType and resourceId are required" {
		t.Fatalf("unexpected message: %q", domainErr.Message)
	}
}

func TestCreateBoardUsesCollectionStyleResourceTypes(t *testing.T) {
	svc := newTestService(nil, nil, nil)

	// Task-style capitalized names are not valid for boards
	_, err := svc.CreateBoard(context.Background(), BoardInput{
		Name:         "Order follow-ups",
		Owner:        "u1",
		CreatedBy:    "u1",
		ResourceType: "Order",
		ResourceID:   "o-1",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Message != "invalid resource type: Order" {
		t.Fatalf("unexpected message: %q", domainErr.Message)
	}

	var inserted taskstore.TaskBoard
	docs := &fakeDocs{
		insertBoardFn: func(_ context.Context, board *taskstore.TaskBoard) error {
			board.ID = primitive.NewObjectID()
			inserted = *board
			return nil
		},
	}
	svc = newTestService(nil, docs, nil)
	board, err := svc.CreateBoard(context.Background(), BoardInput{
		Name:         "Order follow-ups",
		Owner:        "u1",
		CreatedBy:    "u2",
		ResourceType: "orders",
		ResourceID:   "o-1",
	})
	if err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}
	if inserted.ResourceType != "orders" || inserted.ResourceID != "o-1" {
		t.Fatalf("unexpected board link: %+v", inserted)
	}
	if board.Name != "Order follow-ups" {
		t.Fatalf("unexpected board name: %q", board.Name)
	}
}

func TestCreateBoardRejectsMissingResource(t *testing.T) {
	gateway := &fakeGateway{
		customerExistsFn: func(context.Context, string) (bool, error) { return false, nil },
	}
	svc := newTestService(gateway, nil, nil)

	_, err := svc.CreateBoard(context.Background(), BoardInput{
		Name:         "Customer onboarding",
		Owner:        "u1",
		CreatedBy:    "u1",
		ResourceType: "customers",
		ResourceID:   "c-9",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "NOT_FOUND" || domainErr.Message != "customers with ID c-9 not found" {
		t.Fatalf("unexpected error: %s %q", domainErr.Code, domainErr.Message)
	}
}

func TestArchiveBoardCascadesToTasks(t *testing.T) {
	boardID := primitive.NewObjectID()
	var cascadeBy string
	var cascadeAt time.Time
	var captured bson.M
	docs := &fakeDocs{
		getBoardFn: func(_ context.Context, id primitive.ObjectID) (taskstore.TaskBoard, error) {
			return taskstore.TaskBoard{ID: id}, nil
		},
		archiveTasksByBoardFn: func(_ context.Context, id primitive.ObjectID, archivedBy string, archivedAt time.Time) (int64, error) {
			if id != boardID {
				t.Fatalf("expected cascade on board %s, got %s", boardID.Hex(), id.Hex())
			}
			cascadeBy = archivedBy
			cascadeAt = archivedAt
			return 3, nil
		},
		updateBoardFn: func(_ context.Context, id primitive.ObjectID, set bson.M) (taskstore.TaskBoard, error) {
			captured = set
			return taskstore.TaskBoard{ID: id, IsArchived: true}, nil
		},
	}
	svc := newTestService(nil, docs, nil)

	payload, err := svc.ArchiveBoard(context.Background(), "actor", boardID.Hex())
	if err != nil {
		t.Fatalf("ArchiveBoard() error = %v", err)
	}
	if payload["archivedTasks"] != int64(3) {
		t.Fatalf("expected 3 cascaded tasks, got %v", payload["archivedTasks"])
	}
	if cascadeBy != "actor" {
		t.Fatalf("expected cascade stamped by actor, got %q", cascadeBy)
	}
	boardAt, ok := captured["archivedAt"].(time.Time)
	if !ok || !boardAt.Equal(cascadeAt) {
		t.Fatalf("expected board and tasks to share one archival timestamp, board=%v tasks=%v", captured["archivedAt"], cascadeAt)
	}
}

func TestUnarchiveBoardLeavesTasksArchived(t *testing.T) {
	boardID := primitive.NewObjectID()
	var captured bson.M
	docs := &fakeDocs{
		getBoardFn: func(_ context.Context, id primitive.ObjectID) (taskstore.TaskBoard, error) {
			return taskstore.TaskBoard{ID: id, IsArchived: true}, nil
		},
		archiveTasksByBoardFn: func(context.Context, primitive.ObjectID, string, time.Time) (int64, error) {
			t.Fatalf("expected no task cascade on unarchive")
			return 0, nil
		},
		updateBoardFn: func(_ context.Context, id primitive.ObjectID, set bson.M) (taskstore.TaskBoard, error) {
			captured = set
			return taskstore.TaskBoard{ID: id}, nil
		},
	}
	svc := newTestService(nil, docs, nil)

	payload, err := svc.ArchiveBoard(context.Background(), "actor", boardID.Hex())
	if err != nil {
		t.Fatalf("ArchiveBoard() error = %v", err)
	}
	if payload["archivedTasks"] != int64(0) {
		t.Fatalf("expected no cascaded tasks, got %v", payload["archivedTasks"])
	}
	if captured["isArchived"] != false || captured["archivedAt"] != nil || captured["archivedBy"] != "" {
		t.Fatalf("expected archival metadata cleared, got %v", captured)
	}
}

func TestDeleteBoardRefusesWhileTasksRemain(t *testing.T) {
	boardID := primitive.NewObjectID()
	boardDeleted := false
	docs := &fakeDocs{
		tasksByBoardFn: func(context.Context, primitive.ObjectID) ([]taskstore.Task, error) {
			return []taskstore.Task{{}, {}}, nil
		},
		deleteBoardFn: func(context.Context, primitive.ObjectID) error {
			boardDeleted = true
			return nil
		},
	}
	svc := newTestService(nil, docs, nil)

	_, err := svc.DeleteBoard(context.Background(), boardID.Hex(), false)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %s", domainErr.Code)
	}
	if boardDeleted {
		t.Fatalf("expected board to survive while tasks remain")
	}
}

func TestDeleteBoardRemovesTasksWhenAsked(t *testing.T) {
	boardID := primitive.NewObjectID()
	boardDeleted := false
	docs := &fakeDocs{
		deleteTasksByBoardFn: func(context.Context, primitive.ObjectID) (int64, error) {
			return 4, nil
		},
		deleteBoardFn: func(context.Context, primitive.ObjectID) error {
			boardDeleted = true
			return nil
		},
	}
	svc := newTestService(nil, docs, nil)

	deleted, err := svc.DeleteBoard(context.Background(), boardID.Hex(), true)
	if err != nil {
		t.Fatalf("DeleteBoard() error = %v", err)
	}
	if deleted != 4 {
		t.Fatalf("expected 4 deleted tasks, got %d", deleted)
	}
	if !boardDeleted {
		t.Fatalf("expected board deleted")
	}
}

func TestBoardStatsComputesCompletionRate(t *testing.T) {
	boardID := primitive.NewObjectID()
	docs := &fakeDocs{
		countTaskStatsFn: func(_ context.Context, base bson.M) (taskstore.TaskCounts, error) {
			if base["taskBoard"] != boardID || base["isArchived"] != false {
				t.Fatalf("unexpected stats filter: %v", base)
			}
			return taskstore.TaskCounts{Total: 8, Completed: 2, Pending: 4, InProgress: 2}, nil
		},
	}
	svc := newTestService(nil, docs, nil)

	stats, err := svc.BoardStats(context.Background(), boardID.Hex())
	if err != nil {
		t.Fatalf("BoardStats() error = %v", err)
	}
	if stats["completionRate"] != 25.0 {
		t.Fatalf("expected completion rate 25, got %v", stats["completionRate"])
	}
	if stats["total"] != int64(8) {
		t.Fatalf("expected total 8, got %v", stats["total"])
	}
}
