package taskstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore wraps the task, task board, comment and notification collections.
type MongoStore struct {
	tasks         *mongo.Collection
	boards        *mongo.Collection
	comments      *mongo.Collection
	notifications *mongo.Collection
	client        *mongo.Client
}

func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		tasks:         db.Collection("tasks"),
		boards:        db.Collection("task_boards"),
		comments:      db.Collection("comments"),
		notifications: db.Collection("notifications"),
		client:        client,
	}
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// TaskFilter drives ListTasks. Zero values mean "no constraint" except
// IsArchived, which always applies.
type TaskFilter struct {
	Statuses       []TaskStatus
	Priorities     []TaskPriority
	AssignedTo     string
	AssignedBy     string
	AssignedTeamID string
	ResourceType   string
	ResourceID     string
	Tags           []string
	OverdueOnly    bool
	IsArchived     bool
	Search         string
	TaskBoard      *primitive.ObjectID
	Page           int64
	Limit          int64
	SortBy         string
	SortOrder      string
}

func (f TaskFilter) query(now time.Time) bson.M {
	filter := bson.M{"isArchived": f.IsArchived}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": f.Statuses}
	}
	if len(f.Priorities) > 0 {
		filter["priority"] = bson.M{"$in": f.Priorities}
	}
	if f.AssignedTo != "" {
		filter["assignedTo"] = f.AssignedTo
	}
	if f.AssignedBy != "" {
		filter["assignedBy"] = f.AssignedBy
	}
	if f.AssignedTeamID != "" {
		filter["assignedTeamId"] = f.AssignedTeamID
	}
	if f.ResourceType != "" {
		filter["linkedResource.resourceType"] = f.ResourceType
	}
	if f.ResourceID != "" {
		filter["linkedResource.resourceId"] = f.ResourceID
	}
	if len(f.Tags) > 0 {
		filter["tags"] = bson.M{"$in": f.Tags}
	}
	if f.OverdueOnly {
		filter["dueDate"] = bson.M{"$lt": now}
		filter["status"] = bson.M{"$nin": []TaskStatus{StatusCompleted, StatusCancelled}}
	}
	if f.Search != "" {
		pattern := primitive.Regex{Pattern: f.Search, Options: "i"}
		filter["$or"] = []bson.M{
			{"title": pattern},
			{"description": pattern},
			{"taskId": pattern},
		}
	}
	if f.TaskBoard != nil {
		filter["taskBoard"] = *f.TaskBoard
	}
	return filter
}

// NextTaskID issues the next TSK<DDMMYYYY><serial> id for today.
func (s *MongoStore) NextTaskID(ctx context.Context) (string, error) {
	return s.nextDaySerial(ctx, s.tasks, "taskId", TaskIDPrefix)
}

// NextBoardID issues the next BRD<DDMMYYYY><serial> id for today.
func (s *MongoStore) NextBoardID(ctx context.Context) (string, error) {
	return s.nextDaySerial(ctx, s.boards, "boardId", BoardIDPrefix)
}

func (s *MongoStore) nextDaySerial(ctx context.Context, coll *mongo.Collection, field, prefix string) (string, error) {
	today := time.Now().UTC()
	count, err := coll.CountDocuments(ctx, bson.M{
		field: primitive.Regex{Pattern: dayPrefix(prefix, today)},
	})
	if err != nil {
		return "", fmt.Errorf("count %s ids: %w", prefix, err)
	}
	return daySerialID(prefix, today, count+1), nil
}

func (s *MongoStore) InsertTask(ctx context.Context, task *Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.TaskID == "" {
		taskID, err := s.NextTaskID(ctx)
		if err != nil {
			return err
		}
		task.TaskID = taskID
	}
	result, err := s.tasks.InsertOne(ctx, task)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	task.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *MongoStore) GetTask(ctx context.Context, id primitive.ObjectID) (Task, error) {
	var task Task
	err := s.tasks.FindOne(ctx, bson.M{"_id": id}).Decode(&task)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

// GetTasksByIDs fetches the given ids in one round trip. When unarchivedOnly
// is set, archived tasks are excluded, so a count mismatch against the input
// signals a missing or archived dependency.
func (s *MongoStore) GetTasksByIDs(ctx context.Context, ids []primitive.ObjectID, unarchivedOnly bool) ([]Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	filter := bson.M{"_id": bson.M{"$in": ids}}
	if unarchivedOnly {
		filter["isArchived"] = false
	}
	return s.findTasks(ctx, filter, nil)
}

func (s *MongoStore) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, int64, error) {
	query := filter.query(time.Now().UTC())

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "createdAt"
	}
	direction := -1
	if filter.SortOrder == "asc" {
		direction = 1
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}

	opts := options.Find().
		SetSort(bson.D{{Key: sortBy, Value: direction}}).
		SetSkip((page - 1) * limit).
		SetLimit(limit)

	tasks, err := s.findTasks(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.tasks.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	return tasks, total, nil
}

// TasksByBoard returns the board's unarchived tasks, newest first.
func (s *MongoStore) TasksByBoard(ctx context.Context, boardID primitive.ObjectID) ([]Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	return s.findTasks(ctx, bson.M{"taskBoard": boardID, "isArchived": false}, opts)
}

// TasksByResource returns unarchived tasks linked to the given relational
// record, newest first.
func (s *MongoStore) TasksByResource(ctx context.Context, resourceType, resourceID string) ([]Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	return s.findTasks(ctx, bson.M{
		"linkedResource.resourceType": resourceType,
		"linkedResource.resourceId":   resourceID,
		"isArchived":                  false,
	}, opts)
}

// OverdueTasks returns unarchived tasks past their due date and not in a
// terminal status, most urgent first.
func (s *MongoStore) OverdueTasks(ctx context.Context, assignedTo, teamID string) ([]Task, error) {
	filter := bson.M{
		"dueDate":    bson.M{"$lt": time.Now().UTC()},
		"status":     bson.M{"$nin": []TaskStatus{StatusCompleted, StatusCancelled}},
		"isArchived": false,
	}
	if assignedTo != "" {
		filter["assignedTo"] = assignedTo
	}
	if teamID != "" {
		filter["assignedTeamId"] = teamID
	}
	opts := options.Find().SetSort(bson.D{{Key: "dueDate", Value: 1}})
	return s.findTasks(ctx, filter, opts)
}

func (s *MongoStore) findTasks(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]Task, error) {
	var cursor *mongo.Cursor
	var err error
	if opts != nil {
		cursor, err = s.tasks.Find(ctx, filter, opts)
	} else {
		cursor, err = s.tasks.Find(ctx, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	defer cursor.Close(ctx)

	var tasks []Task
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTask $sets the given fields (plus updatedAt) and returns the updated
// document.
func (s *MongoStore) UpdateTask(ctx context.Context, id primitive.ObjectID, set bson.M) (Task, error) {
	set["updatedAt"] = time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var task Task
	err := s.tasks.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&task)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

// UpdateTasks bulk-applies the given $set to every unarchived task in ids and
// reports how many documents changed.
func (s *MongoStore) UpdateTasks(ctx context.Context, ids []primitive.ObjectID, set bson.M) (int64, error) {
	set["updatedAt"] = time.Now().UTC()
	result, err := s.tasks.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "isArchived": false},
		bson.M{"$set": set},
	)
	if err != nil {
		return 0, fmt.Errorf("bulk update tasks: %w", err)
	}
	return result.ModifiedCount, nil
}

// DependentTaskCount counts tasks that reference the given task through
// dependsOn or blockedBy. A non-zero count blocks deletion.
func (s *MongoStore) DependentTaskCount(ctx context.Context, id primitive.ObjectID) (int64, error) {
	count, err := s.tasks.CountDocuments(ctx, bson.M{
		"$or": []bson.M{{"dependsOn": id}, {"blockedBy": id}},
	})
	if err != nil {
		return 0, fmt.Errorf("count dependent tasks: %w", err)
	}
	return count, nil
}

func (s *MongoStore) DeleteTask(ctx context.Context, id primitive.ObjectID) error {
	result, err := s.tasks.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if result.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// ArchiveTasksByBoard soft-deletes every unarchived task on the board,
// stamping all of them with the same archival metadata.
func (s *MongoStore) ArchiveTasksByBoard(ctx context.Context, boardID primitive.ObjectID, archivedBy string, archivedAt time.Time) (int64, error) {
	result, err := s.tasks.UpdateMany(ctx,
		bson.M{"taskBoard": boardID, "isArchived": false},
		bson.M{"$set": bson.M{
			"isArchived": true,
			"archivedAt": archivedAt,
			"archivedBy": archivedBy,
			"updatedAt":  archivedAt,
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("archive board tasks: %w", err)
	}
	return result.ModifiedCount, nil
}

func (s *MongoStore) DeleteTasksByBoard(ctx context.Context, boardID primitive.ObjectID) (int64, error) {
	result, err := s.tasks.DeleteMany(ctx, bson.M{"taskBoard": boardID})
	if err != nil {
		return 0, fmt.Errorf("delete board tasks: %w", err)
	}
	return result.DeletedCount, nil
}

// TaskCounts holds the aggregate counters behind the stats endpoints.
type TaskCounts struct {
	Total      int64
	Pending    int64
	InProgress int64
	Completed  int64
	Overdue    int64
	Critical   int64
	High       int64
}

// CountTaskStats runs the stats counters against a base filter (unarchived
// only). Seven count queries per call.
func (s *MongoStore) CountTaskStats(ctx context.Context, base bson.M) (TaskCounts, error) {
	now := time.Now().UTC()
	var counts TaskCounts
	steps := []struct {
		extra bson.M
		dst   *int64
	}{
		{bson.M{}, &counts.Total},
		{bson.M{"status": StatusPending}, &counts.Pending},
		{bson.M{"status": StatusInProgress}, &counts.InProgress},
		{bson.M{"status": StatusCompleted}, &counts.Completed},
		{bson.M{"dueDate": bson.M{"$lt": now}, "status": bson.M{"$nin": []TaskStatus{StatusCompleted, StatusCancelled}}}, &counts.Overdue},
		{bson.M{"priority": PriorityCritical}, &counts.Critical},
		{bson.M{"priority": PriorityHigh}, &counts.High},
	}
	for _, step := range steps {
		filter := bson.M{}
		for key, value := range base {
			filter[key] = value
		}
		for key, value := range step.extra {
			filter[key] = value
		}
		count, err := s.tasks.CountDocuments(ctx, filter)
		if err != nil {
			return TaskCounts{}, fmt.Errorf("count tasks: %w", err)
		}
		*step.dst = count
	}
	return counts, nil
}

func (s *MongoStore) InsertBoard(ctx context.Context, board *TaskBoard) error {
	now := time.Now().UTC()
	board.CreatedAt = now
	board.UpdatedAt = now
	if board.BoardID == "" {
		boardID, err := s.NextBoardID(ctx)
		if err != nil {
			return err
		}
		board.BoardID = boardID
	}
	result, err := s.boards.InsertOne(ctx, board)
	if err != nil {
		return fmt.Errorf("insert task board: %w", err)
	}
	board.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *MongoStore) GetBoard(ctx context.Context, id primitive.ObjectID) (TaskBoard, error) {
	var board TaskBoard
	err := s.boards.FindOne(ctx, bson.M{"_id": id}).Decode(&board)
	if err != nil {
		return TaskBoard{}, err
	}
	return board, nil
}

func (s *MongoStore) UpdateBoard(ctx context.Context, id primitive.ObjectID, set bson.M) (TaskBoard, error) {
	set["updatedAt"] = time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var board TaskBoard
	err := s.boards.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&board)
	if err != nil {
		return TaskBoard{}, err
	}
	return board, nil
}

func (s *MongoStore) DeleteBoard(ctx context.Context, id primitive.ObjectID) error {
	result, err := s.boards.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete task board: %w", err)
	}
	if result.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (s *MongoStore) BoardsByResource(ctx context.Context, resourceType, resourceID string) ([]TaskBoard, error) {
	return s.findBoards(ctx, bson.M{
		"resourceType": resourceType,
		"resourceId":   resourceID,
		"isArchived":   false,
	})
}

func (s *MongoStore) BoardsByOwner(ctx context.Context, ownerID string) ([]TaskBoard, error) {
	return s.findBoards(ctx, bson.M{"owner": ownerID, "isArchived": false})
}

func (s *MongoStore) BoardsByCreator(ctx context.Context, creatorID string) ([]TaskBoard, error) {
	return s.findBoards(ctx, bson.M{"createdBy": creatorID, "isArchived": false})
}

func (s *MongoStore) findBoards(ctx context.Context, filter bson.M) ([]TaskBoard, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := s.boards.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find task boards: %w", err)
	}
	defer cursor.Close(ctx)

	var boards []TaskBoard
	if err := cursor.All(ctx, &boards); err != nil {
		return nil, fmt.Errorf("decode task boards: %w", err)
	}
	return boards, nil
}

func (s *MongoStore) InsertComment(ctx context.Context, comment *Comment) error {
	comment.CreatedAt = time.Now().UTC()
	result, err := s.comments.InsertOne(ctx, comment)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	comment.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *MongoStore) GetComment(ctx context.Context, id primitive.ObjectID) (Comment, error) {
	var comment Comment
	err := s.comments.FindOne(ctx, bson.M{"_id": id}).Decode(&comment)
	if err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// ListComments returns a newest-first page of comments on the resource plus
// the overall count.
func (s *MongoStore) ListComments(ctx context.Context, resourceID, resourceType string, page, limit int64) ([]Comment, int64, error) {
	filter := bson.M{"resourceId": resourceID, "resourceType": resourceType}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip((page - 1) * limit).
		SetLimit(limit)
	cursor, err := s.comments.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find comments: %w", err)
	}
	defer cursor.Close(ctx)

	var comments []Comment
	if err := cursor.All(ctx, &comments); err != nil {
		return nil, 0, fmt.Errorf("decode comments: %w", err)
	}
	total, err := s.comments.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count comments: %w", err)
	}
	return comments, total, nil
}

// CountUserComments counts comments by one user on one resource; a missing
// guard counter is seeded from this count.
func (s *MongoStore) CountUserComments(ctx context.Context, resourceID, resourceType, userID string) (int64, error) {
	count, err := s.comments.CountDocuments(ctx, bson.M{
		"resourceId":   resourceID,
		"resourceType": resourceType,
		"userId":       userID,
	})
	if err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return count, nil
}

func (s *MongoStore) DeleteComment(ctx context.Context, id primitive.ObjectID) error {
	result, err := s.comments.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if result.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (s *MongoStore) DeleteCommentsByResource(ctx context.Context, resourceID, resourceType string) (int64, error) {
	result, err := s.comments.DeleteMany(ctx, bson.M{
		"resourceId":   resourceID,
		"resourceType": resourceType,
	})
	if err != nil {
		return 0, fmt.Errorf("delete comments: %w", err)
	}
	return result.DeletedCount, nil
}

func (s *MongoStore) InsertNotification(ctx context.Context, notification *Notification) error {
	notification.CreatedAt = time.Now().UTC()
	result, err := s.notifications.InsertOne(ctx, notification)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	notification.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *MongoStore) ListNotifications(ctx context.Context, userID string) ([]Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := s.notifications.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var notifications []Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return notifications, nil
}

func (s *MongoStore) MarkNotificationRead(ctx context.Context, id primitive.ObjectID) (Notification, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var notification Notification
	err := s.notifications.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"read": true}},
		opts,
	).Decode(&notification)
	if err != nil {
		return Notification{}, err
	}
	return notification, nil
}
