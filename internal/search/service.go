package search

import (
	"context"

	"opsdesk/api/internal/logging"
	"opsdesk/api/internal/taskstore"
)

// Service is the facade that tries Meilisearch first and falls back to a
// regex scan of the document store.
type Service struct {
	meili *Meili
	tasks *taskstore.MongoStore
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, tasks *taskstore.MongoStore) *Service {
	return &Service{meili: meili, tasks: tasks}
}

// Search tries Meilisearch if healthy, otherwise falls back to the store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		logging.Logger.Warnf("search: meilisearch error, falling back to store scan: %v", err)
	}

	results, total, err := s.storeSearch(ctx, q)
	if err != nil {
		logging.Logger.Errorf("search: store scan error: %v", err)
		return Response{Results: []TaskRecord{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) storeSearch(ctx context.Context, q Query) ([]TaskRecord, int64, error) {
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	filter := taskstore.TaskFilter{
		Search:     q.Text,
		AssignedTo: q.AssignedTo,
		Page:       q.Offset/limit + 1,
		Limit:      limit,
	}
	if q.Status != "" {
		status, err := taskstore.ParseStatus(q.Status)
		if err == nil {
			filter.Statuses = []taskstore.TaskStatus{status}
		}
	}
	if q.Priority != "" {
		priority, err := taskstore.ParsePriority(q.Priority)
		if err == nil {
			filter.Priorities = []taskstore.TaskPriority{priority}
		}
	}

	tasks, total, err := s.tasks.ListTasks(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	records := make([]TaskRecord, 0, len(tasks))
	for _, task := range tasks {
		records = append(records, Record(task))
	}
	return records, total, nil
}

// IndexTask indexes a task (fire-and-forget to Meilisearch).
func (s *Service) IndexTask(task taskstore.Task) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := Record(task)
	go func() {
		if err := s.meili.IndexTask(record); err != nil {
			logging.Logger.Warnf("search: index task %s: %v", record.TaskID, err)
		}
	}()
}

// DeleteTask removes a task from the search index (fire-and-forget).
func (s *Service) DeleteTask(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTask(id); err != nil {
			logging.Logger.Warnf("search: delete task %s: %v", id, err)
		}
	}()
}

// Record converts a stored task into its index projection.
func Record(task taskstore.Task) TaskRecord {
	return TaskRecord{
		ID:          task.ID.Hex(),
		TaskID:      task.TaskID,
		Title:       task.Title,
		Description: task.Description,
		Status:      string(task.Status),
		Priority:    string(task.Priority),
		AssignedTo:  task.AssignedTo,
		Tags:        task.Tags,
		IsArchived:  task.IsArchived,
	}
}

func nonNil(records []TaskRecord) []TaskRecord {
	if records == nil {
		return []TaskRecord{}
	}
	return records
}
