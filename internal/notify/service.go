// Package notify fans out task event notifications to stakeholders.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"opsdesk/api/internal/email"
	"opsdesk/api/internal/logging"
	"opsdesk/api/internal/store"
	"opsdesk/api/internal/taskstore"
)

// ErrRecipientNotFound reports a notification recipient with no relational
// user record.
var ErrRecipientNotFound = errors.New("notification recipient not found")

// Stakeholder roles used to tailor the per-recipient message.
const (
	RolePrimary    = "primary assignee"
	RoleSecondary  = "secondary assignee"
	RoleWatcher    = "watcher"
	RoleBoardOwner = "board owner"
)

// UserDirectory resolves recipient ids against the relational store.
type UserDirectory interface {
	GetUsersByIDs(ctx context.Context, userIDs []string) ([]store.User, error)
}

// NotificationStore persists notifications to the document store.
type NotificationStore interface {
	InsertNotification(ctx context.Context, notification *taskstore.Notification) error
}

// Service persists notifications and sends best-effort emails behind a
// circuit breaker.
type Service struct {
	users            UserDirectory
	notifications    NotificationStore
	mailer           *email.Service
	breaker          *gobreaker.CircuitBreaker
	defaultRecipient string
}

func NewService(users UserDirectory, notifications NotificationStore, mailer *email.Service, defaultRecipient string) *Service {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notification-email",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Logger.Infof("circuit breaker %q changed from %s to %s", name, from.String(), to.String())
		},
	})
	return &Service{
		users:            users,
		notifications:    notifications,
		mailer:           mailer,
		breaker:          breaker,
		defaultRecipient: defaultRecipient,
	}
}

type recipient struct {
	userID string
	role   string
}

// stakeholders builds the deduplicated recipient set for a task event. The
// first role wins when a user holds several, and the actor never notifies
// themselves.
func stakeholders(task taskstore.Task, boardOwner, actorID string) []recipient {
	ordered := []recipient{
		{task.AssignedTo, RolePrimary},
		{task.SecondaryAssignedTo, RoleSecondary},
	}
	for _, watcher := range task.Watchers {
		ordered = append(ordered, recipient{watcher, RoleWatcher})
	}
	if boardOwner != "" {
		ordered = append(ordered, recipient{boardOwner, RoleBoardOwner})
	}

	seen := make(map[string]bool, len(ordered))
	var recipients []recipient
	for _, r := range ordered {
		if r.userID == "" || r.userID == actorID || seen[r.userID] {
			continue
		}
		seen[r.userID] = true
		recipients = append(recipients, r)
	}
	return recipients
}

// NotifyTaskStakeholders notifies every stakeholder of the task about the
// given action. Sends run concurrently; the combined error is returned for
// the caller to log, the primary operation has already succeeded.
func (s *Service) NotifyTaskStakeholders(ctx context.Context, task taskstore.Task, boardOwner, actorID, action string) error {
	recipients := stakeholders(task, boardOwner, actorID)
	if len(recipients) == 0 {
		return nil
	}

	ids := make([]string, len(recipients))
	for i, r := range recipients {
		ids[i] = r.userID
	}
	users, err := s.users.GetUsersByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolve notification recipients: %w", err)
	}
	byID := make(map[string]store.User, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}

	title := fmt.Sprintf("Task %s", action)
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range recipients {
		user, ok := byID[r.userID]
		if !ok {
			// Stale stakeholder id, skip rather than fail the batch
			logging.Logger.Warnf("notify: skipping unknown user %s on task %s", r.userID, task.TaskID)
			continue
		}
		message := fmt.Sprintf("Task %s (%s) was %s (%s)", task.TaskID, task.Title, action, r.role)
		g.Go(func() error {
			_, err := s.deliver(gctx, user, title, message, task)
			return err
		})
	}
	return g.Wait()
}

// Send persists a single direct notification. The recipient must exist in
// the relational store; an empty userID falls back to the configured default
// recipient.
func (s *Service) Send(ctx context.Context, userID, title, message string) (taskstore.Notification, error) {
	if userID == "" {
		userID = s.defaultRecipient
	}
	if userID == "" {
		return taskstore.Notification{}, fmt.Errorf("no notification recipient")
	}
	users, err := s.users.GetUsersByIDs(ctx, []string{userID})
	if err != nil {
		return taskstore.Notification{}, fmt.Errorf("resolve notification recipient: %w", err)
	}
	if len(users) == 0 {
		return taskstore.Notification{}, fmt.Errorf("user %s: %w", userID, ErrRecipientNotFound)
	}

	return s.deliver(ctx, users[0], title, message, taskstore.Task{})
}

// deliver persists the notification and returns the stored document, id
// included, so callers can reference it afterwards.
func (s *Service) deliver(ctx context.Context, user store.User, title, message string, task taskstore.Task) (taskstore.Notification, error) {
	notification := &taskstore.Notification{
		UserID:  user.UserID,
		Title:   title,
		Message: message,
	}
	if err := s.notifications.InsertNotification(ctx, notification); err != nil {
		return taskstore.Notification{}, fmt.Errorf("persist notification for %s: %w", user.UserID, err)
	}

	if s.mailer == nil || !s.mailer.IsConfigured() || user.Email == "" {
		return *notification, nil
	}

	data := email.TaskNotificationData{
		TaskID:    task.TaskID,
		TaskTitle: task.Title,
		Priority:  string(task.Priority),
	}
	if task.DueDate != nil {
		data.DueDate = task.DueDate.Format("2006-01-02")
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.mailer.SendTaskNotificationEmail(user.Email, user.Name, title, message, data)
	})
	if err != nil {
		// Notification is persisted, email is best-effort on top
		logging.Logger.Warnf("notify: email to %s failed: %v", user.UserID, err)
	}
	return *notification, nil
}
