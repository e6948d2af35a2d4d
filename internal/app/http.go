package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"opsdesk/api/internal/logging"
	"opsdesk/api/internal/search"
	"opsdesk/api/internal/taskstore"
	"opsdesk/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

// Handler builds the full route table.
func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.withMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)

	tasks := api.PathPrefix("/tasks").Subrouter()
	tasks.HandleFunc("", s.handleCreateTask).Methods(http.MethodPost, http.MethodOptions)
	tasks.HandleFunc("", s.handleListTasks).Methods(http.MethodGet)
	tasks.HandleFunc("/search", s.handleSearchTasks).Methods(http.MethodGet, http.MethodOptions)
	tasks.HandleFunc("/my/{userId}", s.handleMyTasks).Methods(http.MethodGet, http.MethodOptions)
	tasks.HandleFunc("/created/{userId}", s.handleCreatedTasks).Methods(http.MethodGet, http.MethodOptions)
	tasks.HandleFunc("/overdue", s.handleOverdueTasks).Methods(http.MethodGet, http.MethodOptions)
	tasks.HandleFunc("/stats", s.handleTaskStats).Methods(http.MethodGet, http.MethodOptions)
	tasks.HandleFunc("/bulk-update", s.handleBulkUpdate).Methods(http.MethodPut, http.MethodOptions)
	tasks.HandleFunc("/resource/{resourceType}/{resourceId}", s.handleTasksByResource).Methods(http.MethodGet, http.MethodOptions)
	tasks.HandleFunc("/{id}", s.handleGetTask).Methods(http.MethodGet, http.MethodOptions)
	tasks.HandleFunc("/{id}", s.handleUpdateTask).Methods(http.MethodPut)
	tasks.HandleFunc("/{id}", s.handleDeleteTask).Methods(http.MethodDelete)
	tasks.HandleFunc("/{id}/archive", s.handleArchiveTask).Methods(http.MethodPut, http.MethodOptions)
	tasks.HandleFunc("/{id}/watchers", s.handleManageWatcher).Methods(http.MethodPut, http.MethodOptions)
	tasks.HandleFunc("/{id}/checklist", s.handleUpdateChecklist).Methods(http.MethodPut, http.MethodOptions)
	tasks.HandleFunc("/{id}/time-tracking", s.handleTimeTracking).Methods(http.MethodPut, http.MethodOptions)
	tasks.HandleFunc("/{id}/clone", s.handleCloneTask).Methods(http.MethodPost, http.MethodOptions)
	tasks.HandleFunc("/{id}/attachments", s.handleAddAttachment).Methods(http.MethodPost, http.MethodOptions)

	boards := api.PathPrefix("/taskboards").Subrouter()
	boards.HandleFunc("", s.handleCreateBoard).Methods(http.MethodPost, http.MethodOptions)
	boards.HandleFunc("/resource/{resourceType}/{resourceId}", s.handleBoardsByResource).Methods(http.MethodGet, http.MethodOptions)
	boards.HandleFunc("/owner/{userId}", s.handleBoardsByOwner).Methods(http.MethodGet, http.MethodOptions)
	boards.HandleFunc("/creator/{userId}", s.handleBoardsByCreator).Methods(http.MethodGet, http.MethodOptions)
	boards.HandleFunc("/{id}", s.handleGetBoard).Methods(http.MethodGet, http.MethodOptions)
	boards.HandleFunc("/{id}", s.handleUpdateBoard).Methods(http.MethodPut)
	boards.HandleFunc("/{id}", s.handleDeleteBoard).Methods(http.MethodDelete)
	boards.HandleFunc("/{id}/archive", s.handleArchiveBoard).Methods(http.MethodPut, http.MethodOptions)
	boards.HandleFunc("/{id}/members", s.handleManageBoardMember).Methods(http.MethodPut, http.MethodOptions)
	boards.HandleFunc("/{id}/stats", s.handleBoardStats).Methods(http.MethodGet, http.MethodOptions)

	comments := api.PathPrefix("/comments").Subrouter()
	comments.HandleFunc("", s.handleAddComment).Methods(http.MethodPost, http.MethodOptions)
	comments.HandleFunc("", s.handleGetComments).Methods(http.MethodGet)
	comments.HandleFunc("", s.handleDeleteCommentsByResource).Methods(http.MethodDelete)
	comments.HandleFunc("/{id}", s.handleDeleteComment).Methods(http.MethodDelete, http.MethodOptions)

	notifications := api.PathPrefix("/notifications").Subrouter()
	notifications.HandleFunc("", s.handleSendNotification).Methods(http.MethodPost, http.MethodOptions)
	notifications.HandleFunc("/user/{userId}", s.handleListNotifications).Methods(http.MethodGet, http.MethodOptions)
	notifications.HandleFunc("/{id}/read", s.handleMarkNotificationRead).Methods(http.MethodPut, http.MethodOptions)

	api.HandleFunc("/orders/{id}/status", s.handleUpdateOrderStatus).Methods(http.MethodPut, http.MethodOptions)

	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":     false,
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
}

// actor returns the authenticated caller id populated by the upstream
// gateway.
func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-Id"))
}

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var input TaskInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	payload, err := s.service.CreateTask(r.Context(), actor(r), input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusCreated, "Task created successfully", payload)
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := taskFilterFromQuery(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	payload, err := s.service.ListTasks(r.Context(), filter)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Tasks retrieved successfully", payload)
}

func (s *HTTPServer) handleSearchTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := int64(20), int64(0)
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number", nil)
			return
		}
		limit = parsed
	}
	if raw := q.Get("offset"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "offset must be a number", nil)
			return
		}
		offset = parsed
	}
	resp := s.service.SearchTasks(r.Context(), search.Query{
		Text:       q.Get("q"),
		Status:     q.Get("status"),
		Priority:   q.Get("priority"),
		AssignedTo: q.Get("assignedTo"),
		Limit:      limit,
		Offset:     offset,
	})
	respond(w, http.StatusOK, "Search results", resp)
}

func (s *HTTPServer) handleMyTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := taskFilterFromQuery(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	filter.AssignedTo = mux.Vars(r)["userId"]
	if filter.SortBy == "" {
		filter.SortBy = "dueDate"
		filter.SortOrder = "asc"
	}
	payload, err := s.service.ListTasks(r.Context(), filter)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Tasks retrieved successfully", payload)
}

func (s *HTTPServer) handleCreatedTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := taskFilterFromQuery(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	filter.AssignedBy = mux.Vars(r)["userId"]
	payload, err := s.service.ListTasks(r.Context(), filter)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Tasks retrieved successfully", payload)
}

func (s *HTTPServer) handleOverdueTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payload, err := s.service.OverdueTasks(r.Context(), q.Get("assignedTo"), q.Get("teamId"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Overdue tasks retrieved successfully", payload)
}

func (s *HTTPServer) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payload, err := s.service.TaskStats(r.Context(), q.Get("assignedTo"), q.Get("teamId"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Task statistics retrieved successfully", payload)
}

func (s *HTTPServer) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskIDs []string       `json:"taskIds"`
		Updates map[string]any `json:"updates"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	updated, err := s.service.BulkUpdateTasks(r.Context(), body.TaskIDs, body.Updates)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Tasks updated successfully", map[string]any{"updated": updated})
}

func (s *HTTPServer) handleTasksByResource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	payload, err := s.service.TasksByResource(r.Context(), vars["resourceType"], vars["resourceId"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Tasks retrieved successfully", payload)
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.GetTaskByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Task retrieved successfully", payload)
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var input TaskUpdateInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateTask(r.Context(), actor(r), mux.Vars(r)["id"], input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Task updated successfully", payload)
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTask(r.Context(), actor(r), mux.Vars(r)["id"]); err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Task deleted successfully", nil)
}

func (s *HTTPServer) handleArchiveTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.ArchiveTask(r.Context(), actor(r), mux.Vars(r)["id"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	message := "Task archived successfully"
	if !task.IsArchived {
		message = "Task unarchived successfully"
	}
	respond(w, http.StatusOK, message, map[string]any{"task": task})
}

func (s *HTTPServer) handleManageWatcher(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		Action string `json:"action"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	task, err := s.service.ManageWatcher(r.Context(), actor(r), mux.Vars(r)["id"], body.UserID, body.Action)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Watchers updated successfully", map[string]any{"task": task})
}

func (s *HTTPServer) handleUpdateChecklist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Index       *int `json:"index"`
		IsCompleted bool `json:"isCompleted"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if body.Index == nil {
		writeError(w, http.StatusBadRequest, "index is required", nil)
		return
	}
	task, err := s.service.UpdateChecklistItem(r.Context(), actor(r), mux.Vars(r)["id"], *body.Index, body.IsCompleted)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Checklist updated successfully", map[string]any{
		"task":     task,
		"progress": task.Progress(),
	})
}

func (s *HTTPServer) handleTimeTracking(w http.ResponseWriter, r *http.Request) {
	var input TimeTrackingInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	task, err := s.service.UpdateTimeTracking(r.Context(), mux.Vars(r)["id"], input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Time tracking updated successfully", map[string]any{"task": task})
}

func (s *HTTPServer) handleCloneTask(w http.ResponseWriter, r *http.Request) {
	var input CloneInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	payload, err := s.service.CloneTask(r.Context(), actor(r), mux.Vars(r)["id"], input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusCreated, "Task cloned successfully", payload)
}

func (s *HTTPServer) handleAddAttachment(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.service.MaxAttachmentBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+4096)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse multipart form", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required", nil)
		return
	}
	defer file.Close()

	task, err := s.service.AddAttachment(r.Context(), actor(r), mux.Vars(r)["id"],
		header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusCreated, "Attachment added successfully", map[string]any{"task": task})
}

func (s *HTTPServer) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	var input BoardInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	board, err := s.service.CreateBoard(r.Context(), input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusCreated, "TaskBoard created successfully", map[string]any{"board": board})
}

func (s *HTTPServer) handleBoardsByResource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	boards, err := s.service.BoardsByResource(r.Context(), vars["resourceType"], vars["resourceId"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "TaskBoards retrieved successfully", map[string]any{"boards": boards})
}

func (s *HTTPServer) handleBoardsByOwner(w http.ResponseWriter, r *http.Request) {
	boards, err := s.service.BoardsByOwner(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "TaskBoards retrieved successfully", map[string]any{"boards": boards})
}

func (s *HTTPServer) handleBoardsByCreator(w http.ResponseWriter, r *http.Request) {
	boards, err := s.service.BoardsByCreator(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "TaskBoards retrieved successfully", map[string]any{"boards": boards})
}

func (s *HTTPServer) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.GetBoardByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "TaskBoard retrieved successfully", payload)
}

func (s *HTTPServer) handleUpdateBoard(w http.ResponseWriter, r *http.Request) {
	var input BoardUpdateInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	board, err := s.service.UpdateBoard(r.Context(), mux.Vars(r)["id"], input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "TaskBoard updated successfully", map[string]any{"board": board})
}

func (s *HTTPServer) handleDeleteBoard(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeleteTasks bool `json:"deleteTasks"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	deleted, err := s.service.DeleteBoard(r.Context(), mux.Vars(r)["id"], body.DeleteTasks)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "TaskBoard deleted successfully", map[string]any{"deletedTasks": deleted})
}

func (s *HTTPServer) handleArchiveBoard(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ArchiveBoard(r.Context(), actor(r), mux.Vars(r)["id"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "TaskBoard archive state updated", payload)
}

func (s *HTTPServer) handleManageBoardMember(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		Action string `json:"action"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	board, err := s.service.ManageBoardMember(r.Context(), mux.Vars(r)["id"], body.UserID, body.Action)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Members updated successfully", map[string]any{"board": board})
}

func (s *HTTPServer) handleBoardStats(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.BoardStats(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "TaskBoard statistics retrieved successfully", payload)
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var input CommentInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if input.UserID == "" {
		input.UserID = actor(r)
	}
	payload, err := s.service.AddComment(r.Context(), input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusCreated, "Comment added successfully", payload)
}

func (s *HTTPServer) handleGetComments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := int64(1), int64(20)
	if raw := q.Get("page"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "page must be a number", nil)
			return
		}
		page = parsed
	}
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number", nil)
			return
		}
		limit = parsed
	}
	payload, err := s.service.GetComments(r.Context(), q.Get("resourceId"), q.Get("resourceType"), page, limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Comments retrieved successfully", payload)
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteComment(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Comment deleted successfully", nil)
}

func (s *HTTPServer) handleDeleteCommentsByResource(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deleted, err := s.service.DeleteCommentsByResource(r.Context(), q.Get("resourceId"), q.Get("resourceType"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Comments deleted successfully", map[string]any{"deleted": deleted})
}

func (s *HTTPServer) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID  string `json:"userId"`
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	notification, err := s.service.SendNotification(r.Context(), body.UserID, body.Title, body.Message)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusCreated, "Notification sent successfully", map[string]any{"notification": notification})
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := s.service.ListNotifications(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Notifications retrieved successfully", map[string]any{"notifications": notifications})
}

func (s *HTTPServer) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	notification, err := s.service.MarkNotificationRead(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Notification marked as read", map[string]any{"notification": notification})
}

func (s *HTTPServer) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateOrderStatus(r.Context(), mux.Vars(r)["id"], body.Status)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK, "Order status updated successfully", payload)
}

// taskFilterFromQuery builds a list filter from query parameters.
func taskFilterFromQuery(r *http.Request) (taskstore.TaskFilter, error) {
	q := r.URL.Query()
	filter := taskstore.TaskFilter{
		AssignedTo:     q.Get("assignedTo"),
		AssignedBy:     q.Get("assignedBy"),
		AssignedTeamID: q.Get("assignedTeamId"),
		ResourceType:   q.Get("resourceType"),
		ResourceID:     q.Get("resourceId"),
		Search:         q.Get("search"),
		SortBy:         q.Get("sortBy"),
		SortOrder:      q.Get("sortOrder"),
		Page:           1,
		Limit:          20,
	}

	for _, raw := range splitCSV(q.Get("status")) {
		status, err := taskstore.ParseStatus(raw)
		if err != nil {
			return filter, domainError(http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid status: %s", raw), nil)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, raw := range splitCSV(q.Get("priority")) {
		priority, err := taskstore.ParsePriority(raw)
		if err != nil {
			return filter, domainError(http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid priority: %s", raw), nil)
		}
		filter.Priorities = append(filter.Priorities, priority)
	}
	filter.Tags = splitCSV(q.Get("tags"))
	filter.OverdueOnly = q.Get("isOverdue") == "true"
	filter.IsArchived = q.Get("isArchived") == "true"

	if raw := q.Get("taskBoard"); raw != "" {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return filter, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid taskBoard id", nil)
		}
		filter.TaskBoard = &id
	}
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "page must be a number", nil)
		}
		filter.Page = page
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a number", nil)
		}
		filter.Limit = limit
	}
	return filter, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(writer, r)

		logging.Logger.WithFields(map[string]any{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-Id")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respond writes the success envelope.
func respond(w http.ResponseWriter, status int, message string, data any) {
	body := map[string]any{"message": message}
	if data != nil {
		body["data"] = data
	}
	writeJSON(w, status, body)
}

// writeError writes the error envelope.
func writeError(w http.ResponseWriter, status int, message string, details any) {
	body := map[string]any{"message": message}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, message, details := mapError(err)
	writeError(w, status, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		// An absent body decodes to the zero value
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Message, domainErr.Details
	}
	if isNotFound(err) {
		return http.StatusNotFound, "Not found", nil
	}
	logging.Logger.Errorf("unhandled error: %v", err)
	return http.StatusInternalServerError, "Server error", nil
}
