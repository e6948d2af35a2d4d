package app

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"opsdesk/api/internal/search"
	"opsdesk/api/internal/store"
	"opsdesk/api/internal/taskstore"
)

// fakeGateway is permissive by default: every referenced user, team and
// resource exists. Tests override the relevant field to provoke failures.
type fakeGateway struct {
	getUserByIDFn       func(context.Context, string) (store.User, error)
	getUsersByIDsFn     func(context.Context, []string) ([]store.User, error)
	listTeamMembersFn   func(context.Context, string) ([]store.TeamMember, error)
	teamExistsFn        func(context.Context, string) (bool, error)
	userExistsFn        func(context.Context, string) (bool, error)
	orderExistsFn       func(context.Context, string) (bool, error)
	customerExistsFn    func(context.Context, string) (bool, error)
	productExistsFn     func(context.Context, string) (bool, error)
	quotationExistsFn   func(context.Context, string) (bool, error)
	invoiceExistsFn     func(context.Context, string) (bool, error)
	updateOrderStatusFn func(context.Context, string, string) (store.Order, error)
}

func (f *fakeGateway) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{UserID: userID, Username: userID}, nil
}
func (f *fakeGateway) GetUsersByIDs(ctx context.Context, userIDs []string) ([]store.User, error) {
	if f.getUsersByIDsFn != nil {
		return f.getUsersByIDsFn(ctx, userIDs)
	}
	users := make([]store.User, len(userIDs))
	for i, id := range userIDs {
		users[i] = store.User{UserID: id, Username: id}
	}
	return users, nil
}
func (f *fakeGateway) ListTeamMembers(ctx context.Context, teamID string) ([]store.TeamMember, error) {
	if f.listTeamMembersFn != nil {
		return f.listTeamMembersFn(ctx, teamID)
	}
	return nil, nil
}
func (f *fakeGateway) TeamExists(ctx context.Context, teamID string) (bool, error) {
	if f.teamExistsFn != nil {
		return f.teamExistsFn(ctx, teamID)
	}
	return true, nil
}
func (f *fakeGateway) UserExists(ctx context.Context, userID string) (bool, error) {
	if f.userExistsFn != nil {
		return f.userExistsFn(ctx, userID)
	}
	return true, nil
}
func (f *fakeGateway) OrderExists(ctx context.Context, id string) (bool, error) {
	if f.orderExistsFn != nil {
		return f.orderExistsFn(ctx, id)
	}
	return true, nil
}
func (f *fakeGateway) CustomerExists(ctx context.Context, id string) (bool, error) {
	if f.customerExistsFn != nil {
		return f.customerExistsFn(ctx, id)
	}
	return true, nil
}
func (f *fakeGateway) ProductExists(ctx context.Context, id string) (bool, error) {
	if f.productExistsFn != nil {
		return f.productExistsFn(ctx, id)
	}
	return true, nil
}
func (f *fakeGateway) QuotationExists(ctx context.Context, id string) (bool, error) {
	if f.quotationExistsFn != nil {
		return f.quotationExistsFn(ctx, id)
	}
	return true, nil
}
func (f *fakeGateway) InvoiceExists(ctx context.Context, id string) (bool, error) {
	if f.invoiceExistsFn != nil {
		return f.invoiceExistsFn(ctx, id)
	}
	return true, nil
}
func (f *fakeGateway) GetOrderByID(ctx context.Context, id string) (store.Order, error) {
	return store.Order{ID: id}, nil
}
func (f *fakeGateway) UpdateOrderStatus(ctx context.Context, id, status string) (store.Order, error) {
	if f.updateOrderStatusFn != nil {
		return f.updateOrderStatusFn(ctx, id, status)
	}
	return store.Order{ID: id, Status: status}, nil
}
func (f *fakeGateway) Ping(context.Context) error { return nil }

type fakeDocs struct {
	insertTaskFn          func(context.Context, *taskstore.Task) error
	getTaskFn             func(context.Context, primitive.ObjectID) (taskstore.Task, error)
	getTasksByIDsFn       func(context.Context, []primitive.ObjectID, bool) ([]taskstore.Task, error)
	listTasksFn           func(context.Context, taskstore.TaskFilter) ([]taskstore.Task, int64, error)
	tasksByBoardFn        func(context.Context, primitive.ObjectID) ([]taskstore.Task, error)
	updateTaskFn          func(context.Context, primitive.ObjectID, bson.M) (taskstore.Task, error)
	updateTasksFn         func(context.Context, []primitive.ObjectID, bson.M) (int64, error)
	dependentTaskCountFn  func(context.Context, primitive.ObjectID) (int64, error)
	deleteTaskFn          func(context.Context, primitive.ObjectID) error
	archiveTasksByBoardFn func(context.Context, primitive.ObjectID, string, time.Time) (int64, error)
	deleteTasksByBoardFn  func(context.Context, primitive.ObjectID) (int64, error)
	countTaskStatsFn      func(context.Context, bson.M) (taskstore.TaskCounts, error)
	insertBoardFn         func(context.Context, *taskstore.TaskBoard) error
	getBoardFn            func(context.Context, primitive.ObjectID) (taskstore.TaskBoard, error)
	updateBoardFn         func(context.Context, primitive.ObjectID, bson.M) (taskstore.TaskBoard, error)
	deleteBoardFn         func(context.Context, primitive.ObjectID) error
	insertCommentFn       func(context.Context, *taskstore.Comment) error
	getCommentFn          func(context.Context, primitive.ObjectID) (taskstore.Comment, error)
	countUserCommentsFn   func(context.Context, string, string, string) (int64, error)
	deleteCommentFn       func(context.Context, primitive.ObjectID) error
}

func (f *fakeDocs) InsertTask(ctx context.Context, task *taskstore.Task) error {
	if f.insertTaskFn != nil {
		return f.insertTaskFn(ctx, task)
	}
	task.ID = primitive.NewObjectID()
	return nil
}
func (f *fakeDocs) GetTask(ctx context.Context, id primitive.ObjectID) (taskstore.Task, error) {
	if f.getTaskFn != nil {
		return f.getTaskFn(ctx, id)
	}
	return taskstore.Task{}, mongo.ErrNoDocuments
}
func (f *fakeDocs) GetTasksByIDs(ctx context.Context, ids []primitive.ObjectID, unarchivedOnly bool) ([]taskstore.Task, error) {
	if f.getTasksByIDsFn != nil {
		return f.getTasksByIDsFn(ctx, ids, unarchivedOnly)
	}
	tasks := make([]taskstore.Task, len(ids))
	for i, id := range ids {
		tasks[i] = taskstore.Task{ID: id}
	}
	return tasks, nil
}
func (f *fakeDocs) ListTasks(ctx context.Context, filter taskstore.TaskFilter) ([]taskstore.Task, int64, error) {
	if f.listTasksFn != nil {
		return f.listTasksFn(ctx, filter)
	}
	return nil, 0, nil
}
func (f *fakeDocs) TasksByBoard(ctx context.Context, boardID primitive.ObjectID) ([]taskstore.Task, error) {
	if f.tasksByBoardFn != nil {
		return f.tasksByBoardFn(ctx, boardID)
	}
	return nil, nil
}
func (f *fakeDocs) TasksByResource(context.Context, string, string) ([]taskstore.Task, error) {
	return nil, nil
}
func (f *fakeDocs) OverdueTasks(context.Context, string, string) ([]taskstore.Task, error) {
	return nil, nil
}
func (f *fakeDocs) UpdateTask(ctx context.Context, id primitive.ObjectID, set bson.M) (taskstore.Task, error) {
	if f.updateTaskFn != nil {
		return f.updateTaskFn(ctx, id, set)
	}
	return taskstore.Task{ID: id}, nil
}
func (f *fakeDocs) UpdateTasks(ctx context.Context, ids []primitive.ObjectID, set bson.M) (int64, error) {
	if f.updateTasksFn != nil {
		return f.updateTasksFn(ctx, ids, set)
	}
	return int64(len(ids)), nil
}
func (f *fakeDocs) DependentTaskCount(ctx context.Context, id primitive.ObjectID) (int64, error) {
	if f.dependentTaskCountFn != nil {
		return f.dependentTaskCountFn(ctx, id)
	}
	return 0, nil
}
func (f *fakeDocs) DeleteTask(ctx context.Context, id primitive.ObjectID) error {
	if f.deleteTaskFn != nil {
		return f.deleteTaskFn(ctx, id)
	}
	return nil
}
func (f *fakeDocs) ArchiveTasksByBoard(ctx context.Context, boardID primitive.ObjectID, archivedBy string, archivedAt time.Time) (int64, error) {
	if f.archiveTasksByBoardFn != nil {
		return f.archiveTasksByBoardFn(ctx, boardID, archivedBy, archivedAt)
	}
	return 0, nil
}
func (f *fakeDocs) DeleteTasksByBoard(ctx context.Context, boardID primitive.ObjectID) (int64, error) {
	if f.deleteTasksByBoardFn != nil {
		return f.deleteTasksByBoardFn(ctx, boardID)
	}
	return 0, nil
}
func (f *fakeDocs) CountTaskStats(ctx context.Context, base bson.M) (taskstore.TaskCounts, error) {
	if f.countTaskStatsFn != nil {
		return f.countTaskStatsFn(ctx, base)
	}
	return taskstore.TaskCounts{}, nil
}
func (f *fakeDocs) InsertBoard(ctx context.Context, board *taskstore.TaskBoard) error {
	if f.insertBoardFn != nil {
		return f.insertBoardFn(ctx, board)
	}
	board.ID = primitive.NewObjectID()
	return nil
}
func (f *fakeDocs) GetBoard(ctx context.Context, id primitive.ObjectID) (taskstore.TaskBoard, error) {
	if f.getBoardFn != nil {
		return f.getBoardFn(ctx, id)
	}
	return taskstore.TaskBoard{ID: id, Name: "Board", Owner: "owner-1"}, nil
}
func (f *fakeDocs) UpdateBoard(ctx context.Context, id primitive.ObjectID, set bson.M) (taskstore.TaskBoard, error) {
	if f.updateBoardFn != nil {
		return f.updateBoardFn(ctx, id, set)
	}
	return taskstore.TaskBoard{ID: id}, nil
}
func (f *fakeDocs) DeleteBoard(ctx context.Context, id primitive.ObjectID) error {
	if f.deleteBoardFn != nil {
		return f.deleteBoardFn(ctx, id)
	}
	return nil
}
func (f *fakeDocs) BoardsByResource(context.Context, string, string) ([]taskstore.TaskBoard, error) {
	return nil, nil
}
func (f *fakeDocs) BoardsByOwner(context.Context, string) ([]taskstore.TaskBoard, error) {
	return nil, nil
}
func (f *fakeDocs) BoardsByCreator(context.Context, string) ([]taskstore.TaskBoard, error) {
	return nil, nil
}
func (f *fakeDocs) InsertComment(ctx context.Context, comment *taskstore.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, comment)
	}
	comment.ID = primitive.NewObjectID()
	return nil
}
func (f *fakeDocs) GetComment(ctx context.Context, id primitive.ObjectID) (taskstore.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, id)
	}
	return taskstore.Comment{}, mongo.ErrNoDocuments
}
func (f *fakeDocs) ListComments(context.Context, string, string, int64, int64) ([]taskstore.Comment, int64, error) {
	return nil, 0, nil
}
func (f *fakeDocs) CountUserComments(ctx context.Context, resourceID, resourceType, userID string) (int64, error) {
	if f.countUserCommentsFn != nil {
		return f.countUserCommentsFn(ctx, resourceID, resourceType, userID)
	}
	return 0, nil
}
func (f *fakeDocs) DeleteComment(ctx context.Context, id primitive.ObjectID) error {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, id)
	}
	return nil
}
func (f *fakeDocs) DeleteCommentsByResource(context.Context, string, string) (int64, error) {
	return 0, nil
}
func (f *fakeDocs) ListNotifications(context.Context, string) ([]taskstore.Notification, error) {
	return nil, nil
}
func (f *fakeDocs) MarkNotificationRead(context.Context, primitive.ObjectID) (taskstore.Notification, error) {
	return taskstore.Notification{}, mongo.ErrNoDocuments
}
func (f *fakeDocs) Ping(context.Context) error { return nil }

type fakeGuard struct {
	seedMissingFn   func(context.Context, string, string, string, func(context.Context) (int64, error)) error
	acquireFn       func(context.Context, string, string, string, int64) (bool, error)
	releaseFn       func(context.Context, string, string, string) error
	resetResourceFn func(context.Context, string, string) error
}

func (f *fakeGuard) SeedMissing(ctx context.Context, resourceID, resourceType, userID string, load func(context.Context) (int64, error)) error {
	if f.seedMissingFn != nil {
		return f.seedMissingFn(ctx, resourceID, resourceType, userID, load)
	}
	return nil
}
func (f *fakeGuard) Acquire(ctx context.Context, resourceID, resourceType, userID string, ceiling int64) (bool, error) {
	if f.acquireFn != nil {
		return f.acquireFn(ctx, resourceID, resourceType, userID, ceiling)
	}
	return true, nil
}
func (f *fakeGuard) Release(ctx context.Context, resourceID, resourceType, userID string) error {
	if f.releaseFn != nil {
		return f.releaseFn(ctx, resourceID, resourceType, userID)
	}
	return nil
}
func (f *fakeGuard) ResetResource(ctx context.Context, resourceID, resourceType string) error {
	if f.resetResourceFn != nil {
		return f.resetResourceFn(ctx, resourceID, resourceType)
	}
	return nil
}

type fakeNotifier struct {
	sendFn func(context.Context, string, string, string) (taskstore.Notification, error)
}

func (f *fakeNotifier) NotifyTaskStakeholders(context.Context, taskstore.Task, string, string, string) error {
	return nil
}
func (f *fakeNotifier) Send(ctx context.Context, userID, title, message string) (taskstore.Notification, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, userID, title, message)
	}
	return taskstore.Notification{UserID: userID, Title: title, Message: message}, nil
}

type fakeSearcher struct{}

func (f *fakeSearcher) Search(context.Context, search.Query) search.Response { return search.Response{} }
func (f *fakeSearcher) IndexTask(taskstore.Task)                             {}
func (f *fakeSearcher) DeleteTask(string)                                    {}

func newTestService(gateway *fakeGateway, docs *fakeDocs, guard *fakeGuard) *Service {
	if gateway == nil {
		gateway = &fakeGateway{}
	}
	if docs == nil {
		docs = &fakeDocs{}
	}
	if guard == nil {
		guard = &fakeGuard{}
	}
	return &Service{
		relational:         gateway,
		docs:               docs,
		guard:              guard,
		notify:             &fakeNotifier{},
		search:             &fakeSearcher{},
		maxAttachmentBytes: 5 * 1024 * 1024,
	}
}
