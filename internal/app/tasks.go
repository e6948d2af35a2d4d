package app

import (
	"context"
	"fmt"
	"html"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"opsdesk/api/internal/taskstore"
)

// Titles are plain text; descriptions keep minimal formatting.
var (
	titlePolicy       = bluemonday.StrictPolicy()
	descriptionPolicy = bluemonday.NewPolicy().AllowElements("br", "p", "strong", "em")
)

func sanitizeTitle(raw string) string {
	return strings.TrimSpace(html.UnescapeString(titlePolicy.Sanitize(raw)))
}

func sanitizeDescription(raw string) string {
	return strings.TrimSpace(descriptionPolicy.Sanitize(raw))
}

// CreateTask validates the full payload, persists the task and fans out
// assignment notifications.
func (s *Service) CreateTask(ctx context.Context, actorID string, input TaskInput) (map[string]any, error) {
	resolved, err := s.validateTaskData(ctx, input)
	if err != nil {
		return nil, err
	}
	if input.LinkedResource != nil {
		if err := s.ValidateResourceLink(ctx, input.LinkedResource.ResourceType, input.LinkedResource.ResourceID, false, taskLink); err != nil {
			return nil, err
		}
	}

	status := resolved.Status
	if status == "" {
		status = taskstore.StatusPending
	}
	priority := resolved.Priority
	if priority == "" {
		priority = taskstore.PriorityMedium
	}

	task := taskstore.Task{
		Title:               sanitizeTitle(input.Title),
		Description:         sanitizeDescription(input.Description),
		Status:              status,
		Priority:            priority,
		AssignedTo:          input.AssignedTo,
		AssignedBy:          input.AssignedBy,
		SecondaryAssignedTo: input.SecondaryAssignedTo,
		AssignedTeamID:      input.AssignedTeamID,
		DueDate:             resolved.DueDate,
		StartDate:           resolved.StartDate,
		LinkedResource:      input.LinkedResource,
		Tags:                input.Tags,
		Checklist:           input.Checklist,
		EstimatedHours:      input.EstimatedHours,
		Watchers:            input.Watchers,
		DependsOn:           resolved.DependsOn,
		BlockedBy:           resolved.BlockedBy,
		TaskBoard:           &resolved.Board.ID,
	}
	if input.Recurrence != nil {
		task.Recurrence = *input.Recurrence
	}

	if err := s.docs.InsertTask(ctx, &task); err != nil {
		return nil, err
	}
	s.search.IndexTask(task)
	s.notifyAsync(task, resolved.Board.Owner, actorID, "assigned")

	payload := map[string]any{
		"task":           task,
		"progress":       task.Progress(),
		"isOverdue":      task.IsOverdue(time.Now().UTC()),
		"assignedToUser": userProjection(resolved.AssignedTo),
		"assignedByUser": userProjection(resolved.AssignedBy),
	}
	if resolved.HasSecondary {
		payload["secondaryAssignedToUser"] = userProjection(resolved.Secondary)
	}
	return payload, nil
}

// GetTaskByID returns one task joined with its collaborator projections.
func (s *Service) GetTaskByID(ctx context.Context, rawID string) (map[string]any, error) {
	id, err := parseObjectID(rawID, "task")
	if err != nil {
		return nil, err
	}
	task, err := s.docs.GetTask(ctx, id)
	if isNotFound(err) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return s.enrichTask(ctx, task)
}

// ListTasks returns a filtered, enriched task page.
func (s *Service) ListTasks(ctx context.Context, filter taskstore.TaskFilter) (map[string]any, error) {
	if err := validatePagination(filter.Page, filter.Limit); err != nil {
		return nil, err
	}
	tasks, total, err := s.docs.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	payloads, err := s.enrichTasks(ctx, tasks)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"tasks": payloads,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	}, nil
}

// TasksByResource lists the tasks linked to one relational record.
func (s *Service) TasksByResource(ctx context.Context, resourceType, resourceID string) ([]map[string]any, error) {
	if err := s.ValidateResourceLink(ctx, resourceType, resourceID, true, taskLink); err != nil {
		return nil, err
	}
	tasks, err := s.docs.TasksByResource(ctx, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	return s.enrichTasks(ctx, tasks)
}

// OverdueTasks lists unarchived tasks past their due date.
func (s *Service) OverdueTasks(ctx context.Context, assignedTo, teamID string) ([]map[string]any, error) {
	tasks, err := s.docs.OverdueTasks(ctx, assignedTo, teamID)
	if err != nil {
		return nil, err
	}
	return s.enrichTasks(ctx, tasks)
}

// TaskUpdateInput carries a partial update; nil fields are untouched.
type TaskUpdateInput struct {
	Title               *string                    `json:"title"`
	Description         *string                    `json:"description"`
	Status              *string                    `json:"status"`
	Priority            *string                    `json:"priority"`
	AssignedTo          *string                    `json:"assignedTo"`
	SecondaryAssignedTo *string                    `json:"secondaryAssignedTo"`
	AssignedTeamID      *string                    `json:"assignedTeamId"`
	DueDate             *string                    `json:"dueDate"`
	StartDate           *string                    `json:"startDate"`
	Tags                *[]string                  `json:"tags"`
	Checklist           *[]taskstore.ChecklistItem `json:"checklist"`
	EstimatedHours      *float64                   `json:"estimatedHours"`
	Watchers            *[]string                  `json:"watchers"`
	Recurrence          *taskstore.Recurrence      `json:"recurrence"`
}

// UpdateTask applies a partial update, re-validating only the touched
// foreign fields.
func (s *Service) UpdateTask(ctx context.Context, actorID, rawID string, input TaskUpdateInput) (map[string]any, error) {
	id, err := parseObjectID(rawID, "task")
	if err != nil {
		return nil, err
	}
	existing, err := s.docs.GetTask(ctx, id)
	if isNotFound(err) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	}
	if err != nil {
		return nil, err
	}

	var violations []string
	set := bson.M{}

	if input.Title != nil {
		if title := sanitizeTitle(*input.Title); title == "" {
			violations = append(violations, "title is required")
		} else {
			set["title"] = title
		}
	}
	if input.Description != nil {
		set["description"] = sanitizeDescription(*input.Description)
	}
	if input.Status != nil {
		status, err := taskstore.ParseStatus(*input.Status)
		if err != nil {
			violations = append(violations, fmt.Sprintf("invalid status: %s", *input.Status))
		} else {
			set["status"] = status
			if status == taskstore.StatusCompleted {
				set["completedDate"] = time.Now().UTC()
			}
		}
	}
	if input.Priority != nil {
		priority, err := taskstore.ParsePriority(*input.Priority)
		if err != nil {
			violations = append(violations, fmt.Sprintf("invalid priority: %s", *input.Priority))
		} else {
			set["priority"] = priority
		}
	}
	if input.DueDate != nil {
		if *input.DueDate == "" {
			set["dueDate"] = nil
		} else if t, err := parseDate(*input.DueDate); err != nil {
			violations = append(violations, fmt.Sprintf("invalid dueDate: %s", *input.DueDate))
		} else {
			set["dueDate"] = t
		}
	}
	if input.StartDate != nil {
		if t, err := parseDate(*input.StartDate); err != nil {
			violations = append(violations, fmt.Sprintf("invalid startDate: %s", *input.StartDate))
		} else {
			set["startDate"] = t
		}
	}
	if input.Tags != nil {
		set["tags"] = *input.Tags
	}
	if input.Checklist != nil {
		set["checklist"] = *input.Checklist
	}
	if input.EstimatedHours != nil {
		set["estimatedHours"] = *input.EstimatedHours
	}
	if input.Recurrence != nil {
		set["recurrence"] = *input.Recurrence
	}

	// Foreign fields: validate against the merged view of the task
	assignedTo := existing.AssignedTo
	secondary := existing.SecondaryAssignedTo
	teamID := existing.AssignedTeamID
	watchers := existing.Watchers
	if input.AssignedTo != nil {
		assignedTo = *input.AssignedTo
	}
	if input.SecondaryAssignedTo != nil {
		secondary = *input.SecondaryAssignedTo
	}
	if input.AssignedTeamID != nil {
		teamID = *input.AssignedTeamID
	}
	if input.Watchers != nil {
		watchers = *input.Watchers
	}
	touchedForeign := input.AssignedTo != nil || input.SecondaryAssignedTo != nil ||
		input.AssignedTeamID != nil || input.Watchers != nil
	if touchedForeign {
		users, err := s.resolveUsers(ctx, append([]string{assignedTo, secondary}, watchers...))
		if err != nil {
			return nil, err
		}
		if assignedTo == "" {
			violations = append(violations, "assignedTo is required")
		} else if _, ok := users[assignedTo]; !ok {
			violations = append(violations, fmt.Sprintf("assigned user %s not found", assignedTo))
		}
		if secondary != "" {
			if _, ok := users[secondary]; !ok {
				violations = append(violations, fmt.Sprintf("secondary assigned user %s not found", secondary))
			}
		}
		for _, watcher := range watchers {
			if _, ok := users[watcher]; !ok {
				violations = append(violations, "one or more watchers not found")
				break
			}
		}
		if teamID != "" {
			members, err := s.relational.ListTeamMembers(ctx, teamID)
			if err != nil {
				return nil, err
			}
			membership := make(map[string]bool, len(members))
			for _, m := range members {
				membership[m.UserID] = true
			}
			for _, userID := range append([]string{assignedTo, secondary}, watchers...) {
				if userID != "" && !membership[userID] {
					violations = append(violations, fmt.Sprintf("user %s is not a member of team %s", userID, teamID))
				}
			}
		}
		if input.AssignedTo != nil {
			set["assignedTo"] = assignedTo
		}
		if input.SecondaryAssignedTo != nil {
			set["secondaryAssignedTo"] = secondary
		}
		if input.AssignedTeamID != nil {
			set["assignedTeamId"] = teamID
		}
		if input.Watchers != nil {
			set["watchers"] = watchers
		}
	}

	if len(violations) > 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", strings.Join(violations, "; "), violations)
	}
	if len(set) == 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "no updatable fields supplied", nil)
	}

	task, err := s.docs.UpdateTask(ctx, id, set)
	if isNotFound(err) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	}
	if err != nil {
		return nil, err
	}
	s.search.IndexTask(task)
	s.notifyAsync(task, s.boardOwnerOf(ctx, task), actorID, "updated")
	return s.enrichTask(ctx, task)
}

// DeleteTask removes a task unless other tasks still depend on it.
func (s *Service) DeleteTask(ctx context.Context, actorID, rawID string) error {
	id, err := parseObjectID(rawID, "task")
	if err != nil {
		return err
	}
	task, err := s.docs.GetTask(ctx, id)
	if isNotFound(err) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	}
	if err != nil {
		return err
	}

	dependents, err := s.docs.DependentTaskCount(ctx, id)
	if err != nil {
		return err
	}
	if dependents > 0 {
		return domainError(http.StatusBadRequest, "CONFLICT",
			fmt.Sprintf("Cannot delete task: %d task(s) depend on it", dependents), nil)
	}

	if err := s.docs.DeleteTask(ctx, id); err != nil {
		if isNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
		}
		return err
	}
	s.search.DeleteTask(task.ID.Hex())
	s.notifyAsync(task, s.boardOwnerOf(ctx, task), actorID, "deleted")
	return nil
}

// ArchiveTask toggles the task's soft-delete flag. Archiving stamps the
// archival metadata; unarchiving clears it.
func (s *Service) ArchiveTask(ctx context.Context, actorID, rawID string) (taskstore.Task, error) {
	id, err := parseObjectID(rawID, "task")
	if err != nil {
		return taskstore.Task{}, err
	}
	existing, err := s.docs.GetTask(ctx, id)
	if isNotFound(err) {
		return taskstore.Task{}, domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	}
	if err != nil {
		return taskstore.Task{}, err
	}

	set := bson.M{}
	action := "archived"
	if existing.IsArchived {
		set["isArchived"] = false
		set["archivedAt"] = nil
		set["archivedBy"] = ""
		action = "unarchived"
	} else {
		set["isArchived"] = true
		set["archivedAt"] = time.Now().UTC()
		set["archivedBy"] = actorID
	}

	task, err := s.docs.UpdateTask(ctx, id, set)
	if err != nil {
		return taskstore.Task{}, err
	}
	s.search.IndexTask(task)
	s.notifyAsync(task, s.boardOwnerOf(ctx, task), actorID, action)
	return task, nil
}

// CloneInput names the fresh assigner plus optional overrides applied to
// the clone.
type CloneInput struct {
	AssignedBy string `json:"assignedBy"`
	AssignedTo string `json:"assignedTo"`
	DueDate    string `json:"dueDate"`
}

// CloneTask copies a task's content under a fresh id. The clone starts over:
// status PENDING, checklist completion cleared, new assigner.
func (s *Service) CloneTask(ctx context.Context, actorID, rawID string, input CloneInput) (map[string]any, error) {
	id, err := parseObjectID(rawID, "task")
	if err != nil {
		return nil, err
	}
	if input.AssignedBy == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "assignedBy is required for cloning", nil)
	}
	exists, err := s.relational.UserExists(ctx, input.AssignedBy)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("assigning user %s not found", input.AssignedBy), nil)
	}
	if input.AssignedTo != "" {
		exists, err := s.relational.UserExists(ctx, input.AssignedTo)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("assigned user %s not found", input.AssignedTo), nil)
		}
	}
	var dueDate *time.Time
	if input.DueDate != "" {
		t, err := parseDate(input.DueDate)
		if err != nil {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid dueDate: %s", input.DueDate), nil)
		}
		dueDate = &t
	}

	source, err := s.docs.GetTask(ctx, id)
	if isNotFound(err) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	}
	if err != nil {
		return nil, err
	}

	assignedTo := source.AssignedTo
	if input.AssignedTo != "" {
		assignedTo = input.AssignedTo
	}
	if dueDate == nil {
		dueDate = source.DueDate
	}

	checklist := make([]taskstore.ChecklistItem, len(source.Checklist))
	for i, item := range source.Checklist {
		checklist[i] = taskstore.ChecklistItem{Item: item.Item}
	}

	clone := taskstore.Task{
		Title:               "Copy of " + source.Title,
		Description:         source.Description,
		Status:              taskstore.StatusPending,
		Priority:            source.Priority,
		AssignedTo:          assignedTo,
		AssignedBy:          input.AssignedBy,
		SecondaryAssignedTo: source.SecondaryAssignedTo,
		AssignedTeamID:      source.AssignedTeamID,
		DueDate:             dueDate,
		StartDate:           source.StartDate,
		LinkedResource:      source.LinkedResource,
		Tags:                append([]string(nil), source.Tags...),
		Checklist:           checklist,
		EstimatedHours:      source.EstimatedHours,
		Watchers:            append([]string(nil), source.Watchers...),
		Recurrence:          source.Recurrence,
		TaskBoard:           source.TaskBoard,
	}

	if err := s.docs.InsertTask(ctx, &clone); err != nil {
		return nil, err
	}
	s.search.IndexTask(clone)
	s.notifyAsync(clone, s.boardOwnerOf(ctx, clone), actorID, "assigned")
	return s.enrichTask(ctx, clone)
}

// bulkUpdatableFields is the closed allow-list for bulk updates; a request
// naming any other field is rejected wholesale.
var bulkUpdatableFields = map[string]bool{
	"status":         true,
	"priority":       true,
	"assignedTo":     true,
	"assignedTeamId": true,
	"tags":           true,
	"dueDate":        true,
}

// BulkUpdateTasks applies one allow-listed update to many tasks at once.
func (s *Service) BulkUpdateTasks(ctx context.Context, rawIDs []string, updates map[string]any) (int64, error) {
	if len(rawIDs) == 0 {
		return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "taskIds is required", nil)
	}
	if len(updates) == 0 {
		return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "updates is required", nil)
	}

	var rejected []string
	for field := range updates {
		if !bulkUpdatableFields[field] {
			rejected = append(rejected, field)
		}
	}
	if len(rejected) > 0 {
		return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR",
			fmt.Sprintf("fields not allowed in bulk update: %s", strings.Join(rejected, ", ")), rejected)
	}

	ids := make([]primitive.ObjectID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := parseObjectID(raw, "task")
		if err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}

	set := bson.M{}
	for field, value := range updates {
		switch field {
		case "status":
			raw, ok := value.(string)
			if !ok {
				return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "status must be a string", nil)
			}
			status, err := taskstore.ParseStatus(raw)
			if err != nil {
				return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid status: %s", raw), nil)
			}
			set["status"] = status
		case "priority":
			raw, ok := value.(string)
			if !ok {
				return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "priority must be a string", nil)
			}
			priority, err := taskstore.ParsePriority(raw)
			if err != nil {
				return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid priority: %s", raw), nil)
			}
			set["priority"] = priority
		case "assignedTo":
			raw, ok := value.(string)
			if !ok || raw == "" {
				return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "assignedTo must be a user id", nil)
			}
			exists, err := s.relational.UserExists(ctx, raw)
			if err != nil {
				return 0, err
			}
			if !exists {
				return 0, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("assigned user %s not found", raw), nil)
			}
			set["assignedTo"] = raw
		case "assignedTeamId":
			raw, ok := value.(string)
			if !ok {
				return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "assignedTeamId must be a team id", nil)
			}
			if raw != "" {
				exists, err := s.relational.TeamExists(ctx, raw)
				if err != nil {
					return 0, err
				}
				if !exists {
					return 0, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("team %s not found", raw), nil)
				}
			}
			set["assignedTeamId"] = raw
		case "tags":
			set["tags"] = value
		case "dueDate":
			raw, ok := value.(string)
			if !ok {
				return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "dueDate must be a date string", nil)
			}
			t, err := parseDate(raw)
			if err != nil {
				return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid dueDate: %s", raw), nil)
			}
			set["dueDate"] = t
		}
	}

	return s.docs.UpdateTasks(ctx, ids, set)
}

// ManageWatcher adds or removes a watcher on a task.
func (s *Service) ManageWatcher(ctx context.Context, actorID, rawID, userID, action string) (taskstore.Task, error) {
	id, err := parseObjectID(rawID, "task")
	if err != nil {
		return taskstore.Task{}, err
	}
	if userID == "" {
		return taskstore.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "userId is required", nil)
	}
	if action != "add" && action != "remove" {
		return taskstore.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "action must be add or remove", nil)
	}

	task, err := s.docs.GetTask(ctx, id)
	if isNotFound(err) {
		return taskstore.Task{}, domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	}
	if err != nil {
		return taskstore.Task{}, err
	}

	watchers := append([]string(nil), task.Watchers...)
	if action == "add" {
		exists, err := s.relational.UserExists(ctx, userID)
		if err != nil {
			return taskstore.Task{}, err
		}
		if !exists {
			return taskstore.Task{}, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("user %s not found", userID), nil)
		}
		for _, w := range watchers {
			if w == userID {
				return task, nil
			}
		}
		watchers = append(watchers, userID)
	} else {
		kept := watchers[:0]
		for _, w := range watchers {
			if w != userID {
				kept = append(kept, w)
			}
		}
		watchers = kept
	}

	updated, err := s.docs.UpdateTask(ctx, id, bson.M{"watchers": watchers})
	if err != nil {
		return taskstore.Task{}, err
	}
	s.notifyAsync(updated, s.boardOwnerOf(ctx, updated), actorID, "updated")
	return updated, nil
}

// UpdateChecklistItem marks one checklist entry complete or incomplete.
func (s *Service) UpdateChecklistItem(ctx context.Context, actorID, rawID string, index int, isCompleted bool) (taskstore.Task, error) {
	id, err := parseObjectID(rawID, "task")
	if err != nil {
		return taskstore.Task{}, err
	}
	task, err := s.docs.GetTask(ctx, id)
	if isNotFound(err) {
		return taskstore.Task{}, domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	}
	if err != nil {
		return taskstore.Task{}, err
	}
	if index < 0 || index >= len(task.Checklist) {
		return taskstore.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "checklist item index out of range", nil)
	}

	checklist := append([]taskstore.ChecklistItem(nil), task.Checklist...)
	checklist[index].IsCompleted = isCompleted
	if isCompleted {
		now := time.Now().UTC()
		checklist[index].CompletedAt = &now
		checklist[index].CompletedBy = actorID
	} else {
		checklist[index].CompletedAt = nil
		checklist[index].CompletedBy = ""
	}

	return s.docs.UpdateTask(ctx, id, bson.M{"checklist": checklist})
}

// TimeTrackingInput adjusts a task's hour bookkeeping; nil fields untouched.
type TimeTrackingInput struct {
	ActualHours    *float64 `json:"actualHours"`
	EstimatedHours *float64 `json:"estimatedHours"`
}

// UpdateTimeTracking records actual or estimated hours on a task.
func (s *Service) UpdateTimeTracking(ctx context.Context, rawID string, input TimeTrackingInput) (taskstore.Task, error) {
	id, err := parseObjectID(rawID, "task")
	if err != nil {
		return taskstore.Task{}, err
	}
	set := bson.M{}
	if input.ActualHours != nil {
		if *input.ActualHours < 0 {
			return taskstore.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "actualHours must not be negative", nil)
		}
		set["actualHours"] = *input.ActualHours
	}
	if input.EstimatedHours != nil {
		if *input.EstimatedHours < 0 {
			return taskstore.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "estimatedHours must not be negative", nil)
		}
		set["estimatedHours"] = *input.EstimatedHours
	}
	if len(set) == 0 {
		return taskstore.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "actualHours or estimatedHours is required", nil)
	}

	task, err := s.docs.UpdateTask(ctx, id, set)
	if isNotFound(err) {
		return taskstore.Task{}, domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	}
	return task, err
}

// AddAttachment stores an uploaded file and appends it to the task.
func (s *Service) AddAttachment(ctx context.Context, actorID, rawID, filename, contentType string, size int64, body io.Reader) (taskstore.Task, error) {
	id, err := parseObjectID(rawID, "task")
	if err != nil {
		return taskstore.Task{}, err
	}
	if s.uploads == nil {
		return taskstore.Task{}, domainError(http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "attachment storage not configured", nil)
	}
	if size > s.maxAttachmentBytes {
		return taskstore.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR",
			fmt.Sprintf("attachment exceeds %d bytes", s.maxAttachmentBytes), nil)
	}

	task, err := s.docs.GetTask(ctx, id)
	if isNotFound(err) {
		return taskstore.Task{}, domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	}
	if err != nil {
		return taskstore.Task{}, err
	}

	stored, err := s.uploads.Store(ctx, filename, contentType, size, body)
	if err != nil {
		return taskstore.Task{}, err
	}

	attachments := append([]taskstore.Attachment(nil), task.Attachments...)
	attachments = append(attachments, taskstore.Attachment{
		Filename:   filename,
		FileURL:    stored.FileURL,
		UploadedAt: time.Now().UTC(),
		UploadedBy: actorID,
	})

	updated, err := s.docs.UpdateTask(ctx, id, bson.M{"attachments": attachments})
	if err != nil {
		return taskstore.Task{}, err
	}
	s.notifyAsync(updated, s.boardOwnerOf(ctx, updated), actorID, "updated")
	return updated, nil
}

// TaskStats aggregates task counters, optionally scoped to an assignee or a
// team.
func (s *Service) TaskStats(ctx context.Context, assignedTo, teamID string) (map[string]any, error) {
	base := bson.M{"isArchived": false}
	if assignedTo != "" {
		base["assignedTo"] = assignedTo
	}
	if teamID != "" {
		base["assignedTeamId"] = teamID
	}
	counts, err := s.docs.CountTaskStats(ctx, base)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total":          counts.Total,
		"pending":        counts.Pending,
		"inProgress":     counts.InProgress,
		"completed":      counts.Completed,
		"overdue":        counts.Overdue,
		"critical":       counts.Critical,
		"high":           counts.High,
		"completionRate": completionRate(counts.Completed, counts.Total),
	}, nil
}

// completionRate is the completed share in percent, two decimals.
func completionRate(completed, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(completed)/float64(total)*10000) / 100
}

func validatePagination(page, limit int64) error {
	if page < 1 {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "page must be at least 1", nil)
	}
	if limit < 1 || limit > 100 {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 1 and 100", nil)
	}
	return nil
}
