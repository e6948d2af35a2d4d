package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"opsdesk/api/internal/logging"
	"opsdesk/api/internal/search"
	"opsdesk/api/internal/store"
	"opsdesk/api/internal/taskstore"
	"opsdesk/api/internal/upload"
)

// relationalGateway is the read-mostly view of the relational store used for
// existence and membership checks.
type relationalGateway interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUsersByIDs(ctx context.Context, userIDs []string) ([]store.User, error)
	ListTeamMembers(ctx context.Context, teamID string) ([]store.TeamMember, error)
	TeamExists(ctx context.Context, teamID string) (bool, error)
	UserExists(ctx context.Context, userID string) (bool, error)
	OrderExists(ctx context.Context, id string) (bool, error)
	CustomerExists(ctx context.Context, id string) (bool, error)
	ProductExists(ctx context.Context, id string) (bool, error)
	QuotationExists(ctx context.Context, id string) (bool, error)
	InvoiceExists(ctx context.Context, id string) (bool, error)
	GetOrderByID(ctx context.Context, id string) (store.Order, error)
	UpdateOrderStatus(ctx context.Context, id, status string) (store.Order, error)
	Ping(ctx context.Context) error
}

// documentStore is the task/board/comment/notification side.
type documentStore interface {
	InsertTask(ctx context.Context, task *taskstore.Task) error
	GetTask(ctx context.Context, id primitive.ObjectID) (taskstore.Task, error)
	GetTasksByIDs(ctx context.Context, ids []primitive.ObjectID, unarchivedOnly bool) ([]taskstore.Task, error)
	ListTasks(ctx context.Context, filter taskstore.TaskFilter) ([]taskstore.Task, int64, error)
	TasksByBoard(ctx context.Context, boardID primitive.ObjectID) ([]taskstore.Task, error)
	TasksByResource(ctx context.Context, resourceType, resourceID string) ([]taskstore.Task, error)
	OverdueTasks(ctx context.Context, assignedTo, teamID string) ([]taskstore.Task, error)
	UpdateTask(ctx context.Context, id primitive.ObjectID, set bson.M) (taskstore.Task, error)
	UpdateTasks(ctx context.Context, ids []primitive.ObjectID, set bson.M) (int64, error)
	DependentTaskCount(ctx context.Context, id primitive.ObjectID) (int64, error)
	DeleteTask(ctx context.Context, id primitive.ObjectID) error
	ArchiveTasksByBoard(ctx context.Context, boardID primitive.ObjectID, archivedBy string, archivedAt time.Time) (int64, error)
	DeleteTasksByBoard(ctx context.Context, boardID primitive.ObjectID) (int64, error)
	CountTaskStats(ctx context.Context, base bson.M) (taskstore.TaskCounts, error)

	InsertBoard(ctx context.Context, board *taskstore.TaskBoard) error
	GetBoard(ctx context.Context, id primitive.ObjectID) (taskstore.TaskBoard, error)
	UpdateBoard(ctx context.Context, id primitive.ObjectID, set bson.M) (taskstore.TaskBoard, error)
	DeleteBoard(ctx context.Context, id primitive.ObjectID) error
	BoardsByResource(ctx context.Context, resourceType, resourceID string) ([]taskstore.TaskBoard, error)
	BoardsByOwner(ctx context.Context, ownerID string) ([]taskstore.TaskBoard, error)
	BoardsByCreator(ctx context.Context, creatorID string) ([]taskstore.TaskBoard, error)

	InsertComment(ctx context.Context, comment *taskstore.Comment) error
	GetComment(ctx context.Context, id primitive.ObjectID) (taskstore.Comment, error)
	ListComments(ctx context.Context, resourceID, resourceType string, page, limit int64) ([]taskstore.Comment, int64, error)
	CountUserComments(ctx context.Context, resourceID, resourceType, userID string) (int64, error)
	DeleteComment(ctx context.Context, id primitive.ObjectID) error
	DeleteCommentsByResource(ctx context.Context, resourceID, resourceType string) (int64, error)

	ListNotifications(ctx context.Context, userID string) ([]taskstore.Notification, error)
	MarkNotificationRead(ctx context.Context, id primitive.ObjectID) (taskstore.Notification, error)

	Ping(ctx context.Context) error
}

// commentGuard is the atomic comment-ceiling counter.
type commentGuard interface {
	SeedMissing(ctx context.Context, resourceID, resourceType, userID string, load func(context.Context) (int64, error)) error
	Acquire(ctx context.Context, resourceID, resourceType, userID string, ceiling int64) (bool, error)
	Release(ctx context.Context, resourceID, resourceType, userID string) error
	ResetResource(ctx context.Context, resourceID, resourceType string) error
}

// notifier fans out task event notifications.
type notifier interface {
	NotifyTaskStakeholders(ctx context.Context, task taskstore.Task, boardOwner, actorID, action string) error
	Send(ctx context.Context, userID, title, message string) (taskstore.Notification, error)
}

// AttachmentStore uploads attachment payloads. Exported so main can pass a
// typed nil-free value only when uploads are configured.
type AttachmentStore interface {
	Store(ctx context.Context, filename, contentType string, size int64, body io.Reader) (upload.StoredFile, error)
}

// taskSearcher maintains the task search index.
type taskSearcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexTask(task taskstore.Task)
	DeleteTask(id string)
}

const commentCeiling = 3

// Service orchestrates the cross-store task subsystem.
type Service struct {
	relational relationalGateway
	docs       documentStore
	guard      commentGuard
	notify     notifier
	uploads    AttachmentStore
	search     taskSearcher

	maxAttachmentBytes int64
}

func NewService(relational relationalGateway, docs documentStore, guard commentGuard, notify notifier, uploads AttachmentStore, searcher taskSearcher, maxAttachmentBytes int64) *Service {
	return &Service{
		relational:         relational,
		docs:               docs,
		guard:              guard,
		notify:             notify,
		uploads:            uploads,
		search:             searcher,
		maxAttachmentBytes: maxAttachmentBytes,
	}
}

// Ping checks both backing stores.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.relational.Ping(ctx); err != nil {
		return err
	}
	return s.docs.Ping(ctx)
}

// MaxAttachmentBytes reports the configured attachment size ceiling.
func (s *Service) MaxAttachmentBytes() int64 {
	return s.maxAttachmentBytes
}

// SearchTasks queries the task search index.
func (s *Service) SearchTasks(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

// notifyAsync dispatches a stakeholder fan-out without blocking the caller.
// Failures are logged and swallowed, the primary operation already succeeded.
func (s *Service) notifyAsync(task taskstore.Task, boardOwner, actorID, action string) {
	if s.notify == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.notify.NotifyTaskStakeholders(ctx, task, boardOwner, actorID, action); err != nil {
			logging.Logger.Warnf("notify task %s %s: %v", task.TaskID, action, err)
		}
	}()
}

// boardOwnerOf resolves the owning user of the task's board, empty when the
// task has no board.
func (s *Service) boardOwnerOf(ctx context.Context, task taskstore.Task) string {
	if task.TaskBoard == nil {
		return ""
	}
	board, err := s.docs.GetBoard(ctx, *task.TaskBoard)
	if err != nil {
		return ""
	}
	return board.Owner
}

// userProjection is the public shape of a relational user embedded in
// cross-store responses.
func userProjection(user store.User) map[string]any {
	return map[string]any{
		"userId":   user.UserID,
		"username": user.Username,
		"name":     user.Name,
		"email":    user.Email,
	}
}

// resolveUsers batch-fetches the given ids and keys the result by user id.
func (s *Service) resolveUsers(ctx context.Context, ids []string) (map[string]store.User, error) {
	distinct := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		distinct = append(distinct, id)
	}
	if len(distinct) == 0 {
		return map[string]store.User{}, nil
	}
	users, err := s.relational.GetUsersByIDs(ctx, distinct)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.User, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}
	return byID, nil
}

// enrichTask joins a task with its collaborator projections.
func (s *Service) enrichTask(ctx context.Context, task taskstore.Task) (map[string]any, error) {
	users, err := s.resolveUsers(ctx, []string{task.AssignedTo, task.AssignedBy, task.SecondaryAssignedTo})
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"task":      task,
		"progress":  task.Progress(),
		"isOverdue": task.IsOverdue(time.Now().UTC()),
	}
	if u, ok := users[task.AssignedTo]; ok {
		payload["assignedToUser"] = userProjection(u)
	}
	if u, ok := users[task.AssignedBy]; ok {
		payload["assignedByUser"] = userProjection(u)
	}
	if u, ok := users[task.SecondaryAssignedTo]; ok {
		payload["secondaryAssignedToUser"] = userProjection(u)
	}
	return payload, nil
}

// enrichTasks joins a batch of tasks with collaborator projections using one
// relational round trip.
func (s *Service) enrichTasks(ctx context.Context, tasks []taskstore.Task) ([]map[string]any, error) {
	var ids []string
	for _, task := range tasks {
		ids = append(ids, task.AssignedTo, task.AssignedBy, task.SecondaryAssignedTo)
	}
	users, err := s.resolveUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	payloads := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		payload := map[string]any{
			"task":      task,
			"progress":  task.Progress(),
			"isOverdue": task.IsOverdue(now),
		}
		if u, ok := users[task.AssignedTo]; ok {
			payload["assignedToUser"] = userProjection(u)
		}
		if u, ok := users[task.AssignedBy]; ok {
			payload["assignedByUser"] = userProjection(u)
		}
		if u, ok := users[task.SecondaryAssignedTo]; ok {
			payload["secondaryAssignedToUser"] = userProjection(u)
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// isNotFound matches the not-found sentinels of both backing stores.
func isNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments) || errors.Is(err, sql.ErrNoRows)
}

func parseObjectID(raw, what string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, domainError(400, "VALIDATION_ERROR", "invalid "+what+" id", nil)
	}
	return id, nil
}
