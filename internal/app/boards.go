package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"opsdesk/api/internal/taskstore"
)

// BoardInput carries the writable task board fields.
type BoardInput struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	ResourceType string   `json:"resourceType"`
	ResourceID   string   `json:"resourceId"`
	Owner        string   `json:"owner"`
	CreatedBy    string   `json:"createdBy"`
	Members      []string `json:"members"`
	Watchers     []string `json:"watchers"`
}

// CreateBoard validates and persists a new task board. A board link is
// mandatory, unlike a task's.
func (s *Service) CreateBoard(ctx context.Context, input BoardInput) (taskstore.TaskBoard, error) {
	var violations []string
	if strings.TrimSpace(input.Name) == "" {
		violations = append(violations, "name is required")
	}
	if input.Owner == "" {
		violations = append(violations, "owner is required")
	}
	if input.CreatedBy == "" {
		violations = append(violations, "createdBy is required")
	}

	users, err := s.resolveUsers(ctx, append([]string{input.Owner, input.CreatedBy}, append(input.Members, input.Watchers...)...))
	if err != nil {
		return taskstore.TaskBoard{}, err
	}
	if input.Owner != "" {
		if _, ok := users[input.Owner]; !ok {
			violations = append(violations, fmt.Sprintf("owner %s not found", input.Owner))
		}
	}
	if input.CreatedBy != "" {
		if _, ok := users[input.CreatedBy]; !ok {
			violations = append(violations, fmt.Sprintf("creating user %s not found", input.CreatedBy))
		}
	}
	for _, member := range input.Members {
		if _, ok := users[member]; !ok {
			violations = append(violations, "one or more members not found")
			break
		}
	}
	for _, watcher := range input.Watchers {
		if _, ok := users[watcher]; !ok {
			violations = append(violations, "one or more watchers not found")
			break
		}
	}
	if len(violations) > 0 {
		return taskstore.TaskBoard{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", strings.Join(violations, "; "), violations)
	}

	if err := s.ValidateResourceLink(ctx, input.ResourceType, input.ResourceID, true, boardLink); err != nil {
		return taskstore.TaskBoard{}, err
	}

	board := taskstore.TaskBoard{
		Name:         strings.TrimSpace(input.Name),
		Description:  input.Description,
		ResourceType: input.ResourceType,
		ResourceID:   input.ResourceID,
		Owner:        input.Owner,
		CreatedBy:    input.CreatedBy,
		Members:      input.Members,
		Watchers:     input.Watchers,
	}
	if err := s.docs.InsertBoard(ctx, &board); err != nil {
		return taskstore.TaskBoard{}, err
	}
	return board, nil
}

// GetBoardByID returns a board joined with its unarchived tasks and owner
// projection.
func (s *Service) GetBoardByID(ctx context.Context, rawID string) (map[string]any, error) {
	id, err := parseObjectID(rawID, "board")
	if err != nil {
		return nil, err
	}
	board, err := s.docs.GetBoard(ctx, id)
	if isNotFound(err) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "TaskBoard not found", nil)
	}
	if err != nil {
		return nil, err
	}

	tasks, err := s.docs.TasksByBoard(ctx, id)
	if err != nil {
		return nil, err
	}
	taskPayloads, err := s.enrichTasks(ctx, tasks)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"board": board,
		"tasks": taskPayloads,
	}
	users, err := s.resolveUsers(ctx, []string{board.Owner, board.CreatedBy})
	if err != nil {
		return nil, err
	}
	if u, ok := users[board.Owner]; ok {
		payload["ownerUser"] = userProjection(u)
	}
	if u, ok := users[board.CreatedBy]; ok {
		payload["createdByUser"] = userProjection(u)
	}
	return payload, nil
}

// BoardsByResource lists unarchived boards linked to one relational record.
func (s *Service) BoardsByResource(ctx context.Context, resourceType, resourceID string) ([]taskstore.TaskBoard, error) {
	if err := s.ValidateResourceLink(ctx, resourceType, resourceID, true, boardLink); err != nil {
		return nil, err
	}
	return s.docs.BoardsByResource(ctx, resourceType, resourceID)
}

// BoardsByOwner lists unarchived boards owned by the given user.
func (s *Service) BoardsByOwner(ctx context.Context, ownerID string) ([]taskstore.TaskBoard, error) {
	return s.docs.BoardsByOwner(ctx, ownerID)
}

// BoardsByCreator lists unarchived boards created by the given user.
func (s *Service) BoardsByCreator(ctx context.Context, creatorID string) ([]taskstore.TaskBoard, error) {
	return s.docs.BoardsByCreator(ctx, creatorID)
}

// BoardUpdateInput carries a partial board update; nil fields untouched.
type BoardUpdateInput struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Owner       *string   `json:"owner"`
	Watchers    *[]string `json:"watchers"`
}

// UpdateBoard applies a partial board update.
func (s *Service) UpdateBoard(ctx context.Context, rawID string, input BoardUpdateInput) (taskstore.TaskBoard, error) {
	id, err := parseObjectID(rawID, "board")
	if err != nil {
		return taskstore.TaskBoard{}, err
	}

	set := bson.M{}
	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return taskstore.TaskBoard{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
		}
		set["name"] = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		set["description"] = *input.Description
	}
	if input.Owner != nil {
		if *input.Owner == "" {
			return taskstore.TaskBoard{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "owner is required", nil)
		}
		exists, err := s.relational.UserExists(ctx, *input.Owner)
		if err != nil {
			return taskstore.TaskBoard{}, err
		}
		if !exists {
			return taskstore.TaskBoard{}, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("owner %s not found", *input.Owner), nil)
		}
		set["owner"] = *input.Owner
	}
	if input.Watchers != nil {
		users, err := s.resolveUsers(ctx, *input.Watchers)
		if err != nil {
			return taskstore.TaskBoard{}, err
		}
		for _, watcher := range *input.Watchers {
			if _, ok := users[watcher]; !ok {
				return taskstore.TaskBoard{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "one or more watchers not found", nil)
			}
		}
		set["watchers"] = *input.Watchers
	}
	if len(set) == 0 {
		return taskstore.TaskBoard{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "no updatable fields supplied", nil)
	}

	board, err := s.docs.UpdateBoard(ctx, id, set)
	if isNotFound(err) {
		return taskstore.TaskBoard{}, domainError(http.StatusNotFound, "NOT_FOUND", "TaskBoard not found", nil)
	}
	return board, err
}

// ArchiveBoard toggles the board's archived flag. Archiving cascades to the
// board's unarchived tasks with matching archival metadata; unarchiving does
// not restore them.
func (s *Service) ArchiveBoard(ctx context.Context, actorID, rawID string) (map[string]any, error) {
	id, err := parseObjectID(rawID, "board")
	if err != nil {
		return nil, err
	}
	existing, err := s.docs.GetBoard(ctx, id)
	if isNotFound(err) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "TaskBoard not found", nil)
	}
	if err != nil {
		return nil, err
	}

	var archivedTasks int64
	set := bson.M{}
	if existing.IsArchived {
		set["isArchived"] = false
		set["archivedAt"] = nil
		set["archivedBy"] = ""
	} else {
		archivedAt := time.Now().UTC()
		set["isArchived"] = true
		set["archivedAt"] = archivedAt
		set["archivedBy"] = actorID
		archivedTasks, err = s.docs.ArchiveTasksByBoard(ctx, id, actorID, archivedAt)
		if err != nil {
			return nil, err
		}
	}

	board, err := s.docs.UpdateBoard(ctx, id, set)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"board":         board,
		"archivedTasks": archivedTasks,
	}, nil
}

// DeleteBoard removes a board. Its tasks are deleted too when deleteTasks is
// set; otherwise a board that still has tasks cannot be deleted.
func (s *Service) DeleteBoard(ctx context.Context, rawID string, deleteTasks bool) (int64, error) {
	id, err := parseObjectID(rawID, "board")
	if err != nil {
		return 0, err
	}
	if _, err := s.docs.GetBoard(ctx, id); err != nil {
		if isNotFound(err) {
			return 0, domainError(http.StatusNotFound, "NOT_FOUND", "TaskBoard not found", nil)
		}
		return 0, err
	}

	var deleted int64
	if deleteTasks {
		deleted, err = s.docs.DeleteTasksByBoard(ctx, id)
		if err != nil {
			return 0, err
		}
	} else {
		tasks, err := s.docs.TasksByBoard(ctx, id)
		if err != nil {
			return 0, err
		}
		if len(tasks) > 0 {
			return 0, domainError(http.StatusBadRequest, "CONFLICT",
				fmt.Sprintf("Cannot delete board: %d task(s) remain; pass deleteTasks=true to remove them", len(tasks)), nil)
		}
	}

	if err := s.docs.DeleteBoard(ctx, id); err != nil {
		if isNotFound(err) {
			return 0, domainError(http.StatusNotFound, "NOT_FOUND", "TaskBoard not found", nil)
		}
		return 0, err
	}
	return deleted, nil
}

// ManageBoardMember adds or removes a board member.
func (s *Service) ManageBoardMember(ctx context.Context, rawID, userID, action string) (taskstore.TaskBoard, error) {
	id, err := parseObjectID(rawID, "board")
	if err != nil {
		return taskstore.TaskBoard{}, err
	}
	if userID == "" {
		return taskstore.TaskBoard{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "userId is required", nil)
	}
	if action != "add" && action != "remove" {
		return taskstore.TaskBoard{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "action must be add or remove", nil)
	}

	board, err := s.docs.GetBoard(ctx, id)
	if isNotFound(err) {
		return taskstore.TaskBoard{}, domainError(http.StatusNotFound, "NOT_FOUND", "TaskBoard not found", nil)
	}
	if err != nil {
		return taskstore.TaskBoard{}, err
	}

	members := append([]string(nil), board.Members...)
	if action == "add" {
		exists, err := s.relational.UserExists(ctx, userID)
		if err != nil {
			return taskstore.TaskBoard{}, err
		}
		if !exists {
			return taskstore.TaskBoard{}, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("user %s not found", userID), nil)
		}
		for _, m := range members {
			if m == userID {
				return board, nil
			}
		}
		members = append(members, userID)
	} else {
		kept := members[:0]
		for _, m := range members {
			if m != userID {
				kept = append(kept, m)
			}
		}
		members = kept
	}

	return s.docs.UpdateBoard(ctx, id, bson.M{"members": members})
}

// BoardStats aggregates the board's task counters and completion rate.
func (s *Service) BoardStats(ctx context.Context, rawID string) (map[string]any, error) {
	id, err := parseObjectID(rawID, "board")
	if err != nil {
		return nil, err
	}
	board, err := s.docs.GetBoard(ctx, id)
	if isNotFound(err) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "TaskBoard not found", nil)
	}
	if err != nil {
		return nil, err
	}

	counts, err := s.docs.CountTaskStats(ctx, bson.M{"taskBoard": id, "isArchived": false})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"boardId":        board.BoardID,
		"name":           board.Name,
		"total":          counts.Total,
		"pending":        counts.Pending,
		"inProgress":     counts.InProgress,
		"completed":      counts.Completed,
		"overdue":        counts.Overdue,
		"completionRate": completionRate(counts.Completed, counts.Total),
	}, nil
}
