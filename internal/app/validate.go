package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"opsdesk/api/internal/store"
	"opsdesk/api/internal/taskstore"
)

// linkScope selects which resource types a polymorphic link may name.
type linkScope int

const (
	taskLink linkScope = iota
	commentLink
	boardLink
)

// Task and comment links use the entity type names; board links use the
// collection-style names the board records carry.
var (
	taskLinkTypes = map[string]bool{
		"Order":     true,
		"Customer":  true,
		"Product":   true,
		"Quotation": true,
		"Invoice":   true,
	}
	commentLinkTypes = map[string]bool{
		"Order":    true,
		"Product":  true,
		"Customer": true,
	}
	boardLinkTypes = map[string]bool{
		"orders":     true,
		"customers":  true,
		"products":   true,
		"quotations": true,
		"invoices":   true,
		"teams":      true,
		"users":      true,
	}
)

func (s linkScope) allows(resourceType string) bool {
	switch s {
	case taskLink:
		return taskLinkTypes[resourceType]
	case commentLink:
		return commentLinkTypes[resourceType]
	case boardLink:
		return boardLinkTypes[resourceType]
	default:
		return false
	}
}

// resourceExists dispatches the existence check for one resource type. The
// switch is closed: adding a type means adding a case here.
func (s *Service) resourceExists(ctx context.Context, resourceType, resourceID string) (bool, error) {
	switch resourceType {
	case "Order", "orders":
		return s.relational.OrderExists(ctx, resourceID)
	case "Customer", "customers":
		return s.relational.CustomerExists(ctx, resourceID)
	case "Product", "products":
		return s.relational.ProductExists(ctx, resourceID)
	case "Quotation", "quotations":
		return s.relational.QuotationExists(ctx, resourceID)
	case "Invoice", "invoices":
		return s.relational.InvoiceExists(ctx, resourceID)
	case "teams":
		return s.relational.TeamExists(ctx, resourceID)
	case "users":
		return s.relational.UserExists(ctx, resourceID)
	default:
		return false, nil
	}
}

// ValidateResourceLink confirms a polymorphic (resourceType, resourceId) pair
// references an existing relational record. An absent link is accepted unless
// required is set; each caller decides whether absence is acceptable.
func (s *Service) ValidateResourceLink(ctx context.Context, resourceType, resourceID string, required bool, scope linkScope) error {
	if resourceType == "" && resourceID == "" {
		if required {
			return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "resourceType and resourceId are required", nil)
		}
		return nil
	}
	if resourceType == "" || resourceID == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "resourceType and resourceId must be supplied together", nil)
	}
	if !scope.allows(resourceType) {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid resource type: %s", resourceType), nil)
	}
	exists, err := s.resourceExists(ctx, resourceType, resourceID)
	if err != nil {
		return err
	}
	if !exists {
		return domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s with ID %s not found", resourceType, resourceID), nil)
	}
	return nil
}

// TaskInput carries the writable task fields as they arrive on the wire.
// Dates are strings so malformed values surface as accumulated violations
// instead of decode failures.
type TaskInput struct {
	Title               string                     `json:"title"`
	Description         string                     `json:"description"`
	Status              string                     `json:"status"`
	Priority            string                     `json:"priority"`
	AssignedTo          string                     `json:"assignedTo"`
	AssignedBy          string                     `json:"assignedBy"`
	SecondaryAssignedTo string                     `json:"secondaryAssignedTo"`
	AssignedTeamID      string                     `json:"assignedTeamId"`
	DueDate             string                     `json:"dueDate"`
	StartDate           string                     `json:"startDate"`
	LinkedResource      *taskstore.LinkedResource  `json:"linkedResource"`
	Tags                []string                   `json:"tags"`
	Checklist           []taskstore.ChecklistItem  `json:"checklist"`
	EstimatedHours      float64                    `json:"estimatedHours"`
	Watchers            []string                   `json:"watchers"`
	DependsOn           []string                   `json:"dependsOn"`
	BlockedBy           []string                   `json:"blockedBy"`
	Recurrence          *taskstore.Recurrence      `json:"recurrence"`
	TaskBoard           string                     `json:"taskBoard"`
}

// resolvedCollaborators is what the assignment validator hands back on
// success: plain projections for the caller to embed in create/notify flows.
type resolvedCollaborators struct {
	AssignedTo   store.User
	AssignedBy   store.User
	Secondary    store.User
	HasSecondary bool
	Board        taskstore.TaskBoard
	Status       taskstore.TaskStatus
	Priority     taskstore.TaskPriority
	DueDate      *time.Time
	StartDate    *time.Time
	DependsOn    []primitive.ObjectID
	BlockedBy    []primitive.ObjectID
}

// parseDate accepts RFC 3339 or plain dates.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// validateTaskData checks a full task payload, accumulating every violation
// before failing so callers get the complete list joined by "; ".
func (s *Service) validateTaskData(ctx context.Context, input TaskInput) (resolvedCollaborators, error) {
	var violations []string
	var resolved resolvedCollaborators

	if strings.TrimSpace(input.Title) == "" {
		violations = append(violations, "title is required")
	}
	if input.AssignedTo == "" {
		violations = append(violations, "assignedTo is required")
	}
	if input.AssignedBy == "" {
		violations = append(violations, "assignedBy is required")
	}

	users, err := s.resolveUsers(ctx, append([]string{input.AssignedTo, input.AssignedBy, input.SecondaryAssignedTo}, input.Watchers...))
	if err != nil {
		return resolved, err
	}
	if input.AssignedTo != "" {
		u, ok := users[input.AssignedTo]
		if !ok {
			violations = append(violations, fmt.Sprintf("assigned user %s not found", input.AssignedTo))
		}
		resolved.AssignedTo = u
	}
	if input.AssignedBy != "" {
		u, ok := users[input.AssignedBy]
		if !ok {
			violations = append(violations, fmt.Sprintf("assigning user %s not found", input.AssignedBy))
		}
		resolved.AssignedBy = u
	}
	if input.SecondaryAssignedTo != "" {
		u, ok := users[input.SecondaryAssignedTo]
		if !ok {
			violations = append(violations, fmt.Sprintf("secondary assigned user %s not found", input.SecondaryAssignedTo))
		}
		resolved.Secondary = u
		resolved.HasSecondary = true
	}
	for _, watcher := range input.Watchers {
		if _, ok := users[watcher]; !ok {
			violations = append(violations, "one or more watchers not found")
			break
		}
	}

	if input.AssignedTeamID != "" {
		members, err := s.relational.ListTeamMembers(ctx, input.AssignedTeamID)
		if err != nil {
			return resolved, err
		}
		membership := make(map[string]bool, len(members))
		for _, m := range members {
			membership[m.UserID] = true
		}
		mustBeMembers := []string{input.AssignedTo, input.SecondaryAssignedTo}
		mustBeMembers = append(mustBeMembers, input.Watchers...)
		for _, userID := range mustBeMembers {
			if userID == "" {
				continue
			}
			if !membership[userID] {
				violations = append(violations, fmt.Sprintf("user %s is not a member of team %s", userID, input.AssignedTeamID))
			}
		}
	}

	if input.Priority != "" {
		priority, err := taskstore.ParsePriority(input.Priority)
		if err != nil {
			violations = append(violations, fmt.Sprintf("invalid priority: %s", input.Priority))
		} else {
			resolved.Priority = priority
		}
	}
	if input.Status != "" {
		status, err := taskstore.ParseStatus(input.Status)
		if err != nil {
			violations = append(violations, fmt.Sprintf("invalid status: %s", input.Status))
		} else {
			resolved.Status = status
		}
	}

	if input.DueDate != "" {
		t, err := parseDate(input.DueDate)
		if err != nil {
			violations = append(violations, fmt.Sprintf("invalid dueDate: %s", input.DueDate))
		} else {
			resolved.DueDate = &t
		}
	}
	if input.StartDate != "" {
		t, err := parseDate(input.StartDate)
		if err != nil {
			violations = append(violations, fmt.Sprintf("invalid startDate: %s", input.StartDate))
		} else {
			resolved.StartDate = &t
		}
	}

	resolved.DependsOn, violations = s.validateTaskRefs(ctx, input.DependsOn, "dependsOn", violations)
	resolved.BlockedBy, violations = s.validateTaskRefs(ctx, input.BlockedBy, "blockedBy", violations)

	if input.TaskBoard == "" {
		violations = append(violations, "taskBoard is required")
	} else if boardID, err := primitive.ObjectIDFromHex(input.TaskBoard); err != nil {
		violations = append(violations, fmt.Sprintf("invalid taskBoard id: %s", input.TaskBoard))
	} else {
		board, err := s.docs.GetBoard(ctx, boardID)
		switch {
		case isNotFound(err):
			violations = append(violations, "TaskBoard not found")
		case err != nil:
			return resolved, err
		case board.IsArchived:
			violations = append(violations, "Cannot assign task to an archived TaskBoard")
		default:
			resolved.Board = board
		}
	}

	if len(violations) > 0 {
		return resolved, domainError(http.StatusBadRequest, "VALIDATION_ERROR", strings.Join(violations, "; "), violations)
	}
	return resolved, nil
}

// validateTaskRefs parses and resolves a self-referential id list; every
// referenced task must exist and be unarchived.
func (s *Service) validateTaskRefs(ctx context.Context, raw []string, field string, violations []string) ([]primitive.ObjectID, []string) {
	if len(raw) == 0 {
		return nil, violations
	}
	ids := make([]primitive.ObjectID, 0, len(raw))
	for _, r := range raw {
		id, err := primitive.ObjectIDFromHex(r)
		if err != nil {
			violations = append(violations, fmt.Sprintf("invalid %s id: %s", field, r))
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) != len(raw) {
		return nil, violations
	}
	tasks, err := s.docs.GetTasksByIDs(ctx, ids, true)
	if err != nil {
		violations = append(violations, fmt.Sprintf("could not resolve %s tasks", field))
		return nil, violations
	}
	if len(tasks) != len(ids) {
		violations = append(violations, fmt.Sprintf("one or more %s tasks not found or archived", field))
		return nil, violations
	}
	return ids, violations
}
