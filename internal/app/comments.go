package app

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"opsdesk/api/internal/notify"
	"opsdesk/api/internal/taskstore"
)

var commentPolicy = bluemonday.StrictPolicy()

// sanitizeComment strips all markup and normalizes whitespace.
func sanitizeComment(text string) string {
	clean := commentPolicy.Sanitize(text)
	return strings.TrimSpace(html.UnescapeString(clean))
}

// CommentInput is a new comment on a relational record.
type CommentInput struct {
	ResourceID   string `json:"resourceId"`
	ResourceType string `json:"resourceType"`
	UserID       string `json:"userId"`
	Comment      string `json:"comment"`
}

// AddComment appends a comment to a resource. The per-user ceiling is held
// by the guard: the slot is claimed atomically before the insert and rolled
// back if anything after the claim fails.
func (s *Service) AddComment(ctx context.Context, input CommentInput) (map[string]any, error) {
	if input.ResourceID == "" || input.ResourceType == "" || input.UserID == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "resourceId, resourceType and userId are required", nil)
	}
	if err := s.ValidateResourceLink(ctx, input.ResourceType, input.ResourceID, true, commentLink); err != nil {
		return nil, err
	}
	user, err := s.relational.GetUserByID(ctx, input.UserID)
	if isNotFound(err) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("user %s not found", input.UserID), nil)
	}
	if err != nil {
		return nil, err
	}

	text := sanitizeComment(input.Comment)
	if text == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "comment must not be empty", nil)
	}
	if utf8.RuneCountInString(text) > 1000 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "comment must be at most 1000 characters", nil)
	}

	// A fresh counter starts from the persisted comment count, not zero
	err = s.guard.SeedMissing(ctx, input.ResourceID, input.ResourceType, input.UserID, func(ctx context.Context) (int64, error) {
		return s.docs.CountUserComments(ctx, input.ResourceID, input.ResourceType, input.UserID)
	})
	if err != nil {
		return nil, err
	}

	ok, err := s.guard.Acquire(ctx, input.ResourceID, input.ResourceType, input.UserID, commentCeiling)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusBadRequest, "CONFLICT",
			fmt.Sprintf("comment limit of %d reached for this resource", commentCeiling), nil)
	}

	comment := taskstore.Comment{
		ResourceID:   input.ResourceID,
		ResourceType: input.ResourceType,
		UserID:       input.UserID,
		Text:         text,
	}
	if err := s.docs.InsertComment(ctx, &comment); err != nil {
		// Give the claimed slot back, the comment never landed
		_ = s.guard.Release(ctx, input.ResourceID, input.ResourceType, input.UserID)
		return nil, err
	}

	return map[string]any{
		"comment": comment,
		"user":    userProjection(user),
	}, nil
}

// GetComments returns a newest-first comment page with author projections.
func (s *Service) GetComments(ctx context.Context, resourceID, resourceType string, page, limit int64) (map[string]any, error) {
	if resourceID == "" || resourceType == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "resourceId and resourceType are required", nil)
	}
	if !commentLinkTypes[resourceType] {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid resource type: %s", resourceType), nil)
	}
	if err := validatePagination(page, limit); err != nil {
		return nil, err
	}

	comments, total, err := s.docs.ListComments(ctx, resourceID, resourceType, page, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(comments))
	for _, c := range comments {
		ids = append(ids, c.UserID)
	}
	users, err := s.resolveUsers(ctx, ids)
	if err != nil {
		return nil, err
	}

	payloads := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		payload := map[string]any{"comment": c}
		if u, ok := users[c.UserID]; ok {
			payload["user"] = userProjection(u)
		}
		payloads = append(payloads, payload)
	}
	return map[string]any{
		"comments": payloads,
		"total":    total,
		"page":     page,
		"limit":    limit,
	}, nil
}

// DeleteComment removes one comment and frees its guard slot.
func (s *Service) DeleteComment(ctx context.Context, rawID string) error {
	id, err := parseObjectID(rawID, "comment")
	if err != nil {
		return err
	}
	comment, err := s.docs.GetComment(ctx, id)
	if isNotFound(err) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Comment not found", nil)
	}
	if err != nil {
		return err
	}
	if err := s.docs.DeleteComment(ctx, id); err != nil {
		if isNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Comment not found", nil)
		}
		return err
	}
	return s.guard.Release(ctx, comment.ResourceID, comment.ResourceType, comment.UserID)
}

// DeleteCommentsByResource removes every comment on a resource and resets
// the guard counters.
func (s *Service) DeleteCommentsByResource(ctx context.Context, resourceID, resourceType string) (int64, error) {
	if resourceID == "" || resourceType == "" {
		return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "resourceId and resourceType are required", nil)
	}
	deleted, err := s.docs.DeleteCommentsByResource(ctx, resourceID, resourceType)
	if err != nil {
		return 0, err
	}
	if err := s.guard.ResetResource(ctx, resourceID, resourceType); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// Order statuses the fulfilment flow recognizes.
var orderStatuses = map[string]bool{
	"pending":    true,
	"processing": true,
	"shipped":    true,
	"delivered":  true,
	"cancelled":  true,
}

// UpdateOrderStatus advances an order's fulfilment status.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID, status string) (map[string]any, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if !orderStatuses[status] {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid order status: %s", status), nil)
	}
	order, err := s.relational.UpdateOrderStatus(ctx, orderID, status)
	if isNotFound(err) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("Order with ID %s not found", orderID), nil)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"order": order}, nil
}

// SendNotification persists a direct notification for one user.
func (s *Service) SendNotification(ctx context.Context, userID, title, message string) (taskstore.Notification, error) {
	if title == "" || message == "" {
		return taskstore.Notification{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title and message are required", nil)
	}
	notification, err := s.notify.Send(ctx, userID, title, message)
	if err != nil {
		if errors.Is(err, notify.ErrRecipientNotFound) {
			return taskstore.Notification{}, domainError(http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
		}
		return taskstore.Notification{}, err
	}
	return notification, nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, userID string) ([]taskstore.Notification, error) {
	if userID == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "userId is required", nil)
	}
	return s.docs.ListNotifications(ctx, userID)
}

// MarkNotificationRead flags one notification as read.
func (s *Service) MarkNotificationRead(ctx context.Context, rawID string) (taskstore.Notification, error) {
	id, err := parseObjectID(rawID, "notification")
	if err != nil {
		return taskstore.Notification{}, err
	}
	notification, err := s.docs.MarkNotificationRead(ctx, id)
	if isNotFound(err) {
		return taskstore.Notification{}, domainError(http.StatusNotFound, "NOT_FOUND", "Notification not found", nil)
	}
	return notification, err
}
