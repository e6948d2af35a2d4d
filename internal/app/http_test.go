package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"opsdesk/api/internal/taskstore"
)

type failingDocs struct {
	fakeDocs
	pingFn func(context.Context) error
}

func (f *failingDocs) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func newTestServer() *HTTPServer {
	return NewHTTPServer(newTestService(nil, nil, nil), "*")
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["ok"] != true {
		t.Fatalf("expected ok=true, got %v", response["ok"])
	}
}

func TestReadyEndpointReportsStoreFailure(t *testing.T) {
	docs := &failingDocs{
		pingFn: func(context.Context) error { return errors.New("connection refused") },
	}
	svc := &Service{
		relational: &fakeGateway{},
		docs:       docs,
		guard:      &fakeGuard{},
		notify:     &fakeNotifier{},
		search:     &fakeSearcher{},
	}
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["status"] != "not_ready" {
		t.Fatalf("expected status=not_ready, got %v", response["status"])
	}
}

func TestOptionsRequestShortCircuits(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
}

func TestMiddlewareSetsCORSAndRequestID(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req_test123")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("expected CORS origin=*, got %q", origin)
	}
	if got := rr.Header().Get("X-Request-ID"); got != "req_test123" {
		t.Fatalf("expected request id echoed, got %q", got)
	}

	// A fresh id is minted when the caller sends none
	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); !strings.HasPrefix(got, "req_") {
		t.Fatalf("expected generated request id, got %q", got)
	}
}

func TestCreateTaskReturnsValidationEnvelope(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString(`{}`))
	req.Header.Set("X-User-Id", "u1")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	message, _ := response["message"].(string)
	if !strings.Contains(message, "title is required") {
		t.Fatalf("expected accumulated violations in message, got %q", message)
	}
	details, ok := response["details"].([]any)
	if !ok || len(details) == 0 {
		t.Fatalf("expected violation details list, got %v", response["details"])
	}
}

func TestCreateTaskSuccessEnvelope(t *testing.T) {
	server := newTestServer()

	body, _ := json.Marshal(map[string]any{
		"title":      "Reconcile Q3 invoices",
		"assignedTo": "u1",
		"assignedBy": "u2",
		"taskBoard":  primitive.NewObjectID().Hex(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBuffer(body))
	req.Header.Set("X-User-Id", "u2")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["message"] != "Task created successfully" {
		t.Fatalf("unexpected message: %v", response["message"])
	}
	data, ok := response["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data envelope, got %v", response["data"])
	}
	if data["task"] == nil {
		t.Fatalf("expected task in data, got %v", data)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/"+primitive.NewObjectID().Hex(), nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["message"] != "Task not found" {
		t.Fatalf("unexpected message: %v", response["message"])
	}
}

func TestMyTasksUsesPathParam(t *testing.T) {
	var filter taskstore.TaskFilter
	docs := &fakeDocs{
		listTasksFn: func(_ context.Context, f taskstore.TaskFilter) ([]taskstore.Task, int64, error) {
			filter = f
			return nil, 0, nil
		},
	}
	server := NewHTTPServer(newTestService(nil, docs, nil), "*")

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/my/u7", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if filter.AssignedTo != "u7" {
		t.Fatalf("expected assignee filter u7, got %q", filter.AssignedTo)
	}
	if filter.SortBy != "dueDate" || filter.SortOrder != "asc" {
		t.Fatalf("expected due-date ascending default sort, got %s %s", filter.SortBy, filter.SortOrder)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tasks/created/u8", nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if filter.AssignedBy != "u8" {
		t.Fatalf("expected assigner filter u8, got %q", filter.AssignedBy)
	}
}

func TestListTasksReadsDocumentedFilterNames(t *testing.T) {
	var filter taskstore.TaskFilter
	docs := &fakeDocs{
		listTasksFn: func(_ context.Context, f taskstore.TaskFilter) ([]taskstore.Task, int64, error) {
			filter = f
			return nil, 0, nil
		},
	}
	server := NewHTTPServer(newTestService(nil, docs, nil), "*")

	req := httptest.NewRequest(http.MethodGet, "/api/tasks?assignedTeamId=team-1&isOverdue=true&isArchived=true", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if filter.AssignedTeamID != "team-1" {
		t.Fatalf("expected team filter team-1, got %q", filter.AssignedTeamID)
	}
	if !filter.OverdueOnly || !filter.IsArchived {
		t.Fatalf("expected isOverdue and isArchived honored, got %+v", filter)
	}
}

func TestDeleteBoardReadsBodyFlag(t *testing.T) {
	boardID := primitive.NewObjectID()
	var hardDeleted bool
	docs := &fakeDocs{
		deleteTasksByBoardFn: func(context.Context, primitive.ObjectID) (int64, error) {
			hardDeleted = true
			return 4, nil
		},
	}
	server := NewHTTPServer(newTestService(nil, docs, nil), "*")

	req := httptest.NewRequest(http.MethodDelete, "/api/taskboards/"+boardID.Hex(),
		bytes.NewBufferString(`{"deleteTasks":true}`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !hardDeleted {
		t.Fatalf("expected deleteTasks body flag to trigger the task purge")
	}

	// An absent body defaults to keeping the tasks
	hardDeleted = false
	req = httptest.NewRequest(http.MethodDelete, "/api/taskboards/"+boardID.Hex(), nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if hardDeleted {
		t.Fatalf("expected tasks kept without the deleteTasks flag")
	}
}

func TestSearchTasksRejectsMalformedLimit(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/search?q=invoice&limit=lots", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["message"] != "limit must be a number" {
		t.Fatalf("unexpected message: %v", response["message"])
	}
}

func TestListTasksRejectsUnknownStatusFilter(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/tasks?status=bogus", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["message"] != "invalid status: bogus" {
		t.Fatalf("unexpected message: %v", response["message"])
	}
}
