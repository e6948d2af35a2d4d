package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"opsdesk/api/internal/store"
	"opsdesk/api/internal/taskstore"
)

type fakeDirectory struct {
	getUsersByIDsFn func(context.Context, []string) ([]store.User, error)
}

func (f *fakeDirectory) GetUsersByIDs(ctx context.Context, userIDs []string) ([]store.User, error) {
	if f.getUsersByIDsFn != nil {
		return f.getUsersByIDsFn(ctx, userIDs)
	}
	users := make([]store.User, len(userIDs))
	for i, id := range userIDs {
		users[i] = store.User{UserID: id, Username: id, Email: id + "@example.com"}
	}
	return users, nil
}

type fakeNotifications struct {
	mu       sync.Mutex
	inserted []taskstore.Notification
	insertFn func(context.Context, *taskstore.Notification) error
}

func (f *fakeNotifications) InsertNotification(ctx context.Context, notification *taskstore.Notification) error {
	if f.insertFn != nil {
		return f.insertFn(ctx, notification)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, *notification)
	return nil
}

func (f *fakeNotifications) all() []taskstore.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]taskstore.Notification(nil), f.inserted...)
}

func TestStakeholdersDedupesAndExcludesActor(t *testing.T) {
	task := taskstore.Task{
		AssignedTo:          "u1",
		SecondaryAssignedTo: "u1",
		Watchers:            []string{"u2", "u3", "u1"},
	}

	got := stakeholders(task, "u2", "u3")
	if len(got) != 2 {
		t.Fatalf("expected 2 recipients, got %d: %v", len(got), got)
	}
	if got[0].userID != "u1" || got[0].role != RolePrimary {
		t.Fatalf("expected u1 as primary assignee, got %+v", got[0])
	}
	if got[1].userID != "u2" || got[1].role != RoleWatcher {
		t.Fatalf("expected u2 as watcher, got %+v", got[1])
	}
}

func TestStakeholdersIncludesBoardOwner(t *testing.T) {
	task := taskstore.Task{AssignedTo: "u1"}
	got := stakeholders(task, "u9", "actor")
	if len(got) != 2 {
		t.Fatalf("expected 2 recipients, got %d", len(got))
	}
	if got[1].userID != "u9" || got[1].role != RoleBoardOwner {
		t.Fatalf("expected u9 as board owner, got %+v", got[1])
	}
}

func TestNotifyTaskStakeholdersTailorsMessagePerRole(t *testing.T) {
	notifications := &fakeNotifications{}
	svc := NewService(&fakeDirectory{}, notifications, nil, "")

	task := taskstore.Task{
		TaskID:              "TSK0101202600001",
		Title:               "Ship Q3 report",
		AssignedTo:          "u1",
		SecondaryAssignedTo: "u2",
		Watchers:            []string{"u3"},
	}
	if err := svc.NotifyTaskStakeholders(context.Background(), task, "u4", "actor", "assigned"); err != nil {
		t.Fatalf("NotifyTaskStakeholders() error = %v", err)
	}

	got := notifications.all()
	if len(got) != 4 {
		t.Fatalf("expected 4 notifications, got %d", len(got))
	}
	byUser := make(map[string]taskstore.Notification, len(got))
	for _, n := range got {
		if n.Title != "Task assigned" {
			t.Fatalf("unexpected title %q", n.Title)
		}
		byUser[n.UserID] = n
	}
	for userID, suffix := range map[string]string{
		"u1": "(primary assignee)",
		"u2": "(secondary assignee)",
		"u3": "(watcher)",
		"u4": "(board owner)",
	} {
		n, ok := byUser[userID]
		if !ok {
			t.Fatalf("missing notification for %s", userID)
		}
		want := "Task TSK0101202600001 (Ship Q3 report) was assigned " + suffix
		if n.Message != want {
			t.Fatalf("message for %s = %q, want %q", userID, n.Message, want)
		}
	}
}

func TestNotifyTaskStakeholdersSkipsUnknownUsers(t *testing.T) {
	directory := &fakeDirectory{
		getUsersByIDsFn: func(_ context.Context, userIDs []string) ([]store.User, error) {
			// u2 no longer exists in the relational store
			return []store.User{{UserID: "u1"}}, nil
		},
	}
	notifications := &fakeNotifications{}
	svc := NewService(directory, notifications, nil, "")

	task := taskstore.Task{TaskID: "TSK0101202600002", AssignedTo: "u1", SecondaryAssignedTo: "u2"}
	if err := svc.NotifyTaskStakeholders(context.Background(), task, "", "actor", "updated"); err != nil {
		t.Fatalf("NotifyTaskStakeholders() error = %v", err)
	}
	got := notifications.all()
	if len(got) != 1 || got[0].UserID != "u1" {
		t.Fatalf("expected one notification for u1, got %v", got)
	}
}

func TestNotifyTaskStakeholdersNoRecipientsIsNoop(t *testing.T) {
	directory := &fakeDirectory{
		getUsersByIDsFn: func(context.Context, []string) ([]store.User, error) {
			t.Fatalf("expected no directory lookup")
			return nil, nil
		},
	}
	svc := NewService(directory, &fakeNotifications{}, nil, "")

	task := taskstore.Task{AssignedTo: "actor"}
	if err := svc.NotifyTaskStakeholders(context.Background(), task, "", "actor", "updated"); err != nil {
		t.Fatalf("NotifyTaskStakeholders() error = %v", err)
	}
}

func TestNotifyTaskStakeholdersSurfacesPersistFailure(t *testing.T) {
	notifications := &fakeNotifications{
		insertFn: func(context.Context, *taskstore.Notification) error {
			return errors.New("mongo down")
		},
	}
	svc := NewService(&fakeDirectory{}, notifications, nil, "")

	task := taskstore.Task{TaskID: "TSK0101202600003", AssignedTo: "u1"}
	err := svc.NotifyTaskStakeholders(context.Background(), task, "", "actor", "deleted")
	if err == nil || !strings.Contains(err.Error(), "mongo down") {
		t.Fatalf("expected persist error, got %v", err)
	}
}

func TestSendFallsBackToDefaultRecipient(t *testing.T) {
	notifications := &fakeNotifications{}
	svc := NewService(&fakeDirectory{}, notifications, nil, "ops-admin")

	got, err := svc.Send(context.Background(), "", "Heads up", "Order o-1 shipped")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.UserID != "ops-admin" {
		t.Fatalf("expected fallback recipient ops-admin, got %q", got.UserID)
	}
	inserted := notifications.all()
	if len(inserted) != 1 || inserted[0].UserID != "ops-admin" {
		t.Fatalf("expected persisted notification for ops-admin, got %v", inserted)
	}
}

func TestSendRejectsUnknownRecipient(t *testing.T) {
	directory := &fakeDirectory{
		getUsersByIDsFn: func(context.Context, []string) ([]store.User, error) {
			return nil, nil
		},
	}
	svc := NewService(directory, &fakeNotifications{}, nil, "")

	_, err := svc.Send(context.Background(), "ghost", "Title", "Message")
	if !errors.Is(err, ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("expected the recipient named in the error, got %v", err)
	}
}

func TestSendReturnsPersistedNotification(t *testing.T) {
	storedID := primitive.NewObjectID()
	notifications := &fakeNotifications{
		insertFn: func(_ context.Context, notification *taskstore.Notification) error {
			notification.ID = storedID
			return nil
		},
	}
	svc := NewService(&fakeDirectory{}, notifications, nil, "")

	got, err := svc.Send(context.Background(), "u1", "Heads up", "Order o-1 shipped")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.ID != storedID {
		t.Fatalf("expected the stored document id %s, got %s", storedID.Hex(), got.ID.Hex())
	}
	if got.UserID != "u1" || got.Title != "Heads up" {
		t.Fatalf("unexpected notification returned: %+v", got)
	}
}
