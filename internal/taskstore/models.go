// Package taskstore holds the MongoDB side of the system: tasks, task boards,
// comments and notifications. Records reference relational entities (users,
// teams, orders, ...) by plain string ids; integrity is checked procedurally
// by the validators in internal/app, never by the schema.
package taskstore

import (
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusReview     TaskStatus = "REVIEW"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusCancelled  TaskStatus = "CANCELLED"
	StatusOnHold     TaskStatus = "ON_HOLD"
)

type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
)

// LinkedResource is a polymorphic reference into the relational store.
type LinkedResource struct {
	ResourceType string `json:"resourceType" bson:"resourceType"`
	ResourceID   string `json:"resourceId" bson:"resourceId"`
}

type Attachment struct {
	Filename   string    `json:"filename" bson:"filename"`
	FileURL    string    `json:"fileUrl" bson:"fileUrl"`
	UploadedAt time.Time `json:"uploadedAt" bson:"uploadedAt"`
	UploadedBy string    `json:"uploadedBy" bson:"uploadedBy"`
}

type ChecklistItem struct {
	Item        string     `json:"item" bson:"item"`
	IsCompleted bool       `json:"isCompleted" bson:"isCompleted"`
	CompletedAt *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	CompletedBy string     `json:"completedBy,omitempty" bson:"completedBy,omitempty"`
}

type Recurrence struct {
	Enabled       bool       `json:"enabled" bson:"enabled"`
	Frequency     string     `json:"frequency,omitempty" bson:"frequency,omitempty"`
	Interval      int        `json:"interval,omitempty" bson:"interval,omitempty"`
	EndDate       *time.Time `json:"endDate,omitempty" bson:"endDate,omitempty"`
	LastGenerated *time.Time `json:"lastGenerated,omitempty" bson:"lastGenerated,omitempty"`
}

type Task struct {
	ID                  primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	TaskID              string               `json:"taskId" bson:"taskId"`
	Title               string               `json:"title" bson:"title"`
	Description         string               `json:"description,omitempty" bson:"description,omitempty"`
	Status              TaskStatus           `json:"status" bson:"status"`
	Priority            TaskPriority         `json:"priority" bson:"priority"`
	AssignedTo          string               `json:"assignedTo" bson:"assignedTo"`
	AssignedBy          string               `json:"assignedBy" bson:"assignedBy"`
	SecondaryAssignedTo string               `json:"secondaryAssignedTo,omitempty" bson:"secondaryAssignedTo,omitempty"`
	AssignedTeamID      string               `json:"assignedTeamId,omitempty" bson:"assignedTeamId,omitempty"`
	DueDate             *time.Time           `json:"dueDate,omitempty" bson:"dueDate,omitempty"`
	StartDate           *time.Time           `json:"startDate,omitempty" bson:"startDate,omitempty"`
	CompletedDate       *time.Time           `json:"completedDate,omitempty" bson:"completedDate,omitempty"`
	LinkedResource      *LinkedResource      `json:"linkedResource,omitempty" bson:"linkedResource,omitempty"`
	Tags                []string             `json:"tags" bson:"tags"`
	Attachments         []Attachment         `json:"attachments" bson:"attachments"`
	Checklist           []ChecklistItem      `json:"checklist" bson:"checklist"`
	EstimatedHours      float64              `json:"estimatedHours,omitempty" bson:"estimatedHours,omitempty"`
	ActualHours         float64              `json:"actualHours" bson:"actualHours"`
	Watchers            []string             `json:"watchers" bson:"watchers"`
	DependsOn           []primitive.ObjectID `json:"dependsOn" bson:"dependsOn"`
	BlockedBy           []primitive.ObjectID `json:"blockedBy" bson:"blockedBy"`
	Recurrence          Recurrence           `json:"recurrence" bson:"recurrence"`
	TaskBoard           *primitive.ObjectID  `json:"taskBoard,omitempty" bson:"taskBoard,omitempty"`
	IsArchived          bool                 `json:"isArchived" bson:"isArchived"`
	ArchivedAt          *time.Time           `json:"archivedAt,omitempty" bson:"archivedAt,omitempty"`
	ArchivedBy          string               `json:"archivedBy,omitempty" bson:"archivedBy,omitempty"`
	CreatedAt           time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt           time.Time            `json:"updatedAt" bson:"updatedAt"`
}

// Progress is the rounded percentage of completed checklist items.
func (t *Task) Progress() int {
	if len(t.Checklist) == 0 {
		return 0
	}
	completed := 0
	for _, item := range t.Checklist {
		if item.IsCompleted {
			completed++
		}
	}
	return int(math.Round(float64(completed) / float64(len(t.Checklist)) * 100))
}

// IsOverdue reports whether the due date has passed and the task is still in
// a non-terminal status.
func (t *Task) IsOverdue(now time.Time) bool {
	if t.DueDate == nil || t.Status == StatusCompleted || t.Status == StatusCancelled {
		return false
	}
	return now.After(*t.DueDate)
}

type TaskBoard struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	BoardID      string             `json:"boardId" bson:"boardId"`
	Name         string             `json:"name" bson:"name"`
	Description  string             `json:"description,omitempty" bson:"description,omitempty"`
	ResourceType string             `json:"resourceType" bson:"resourceType"`
	ResourceID   string             `json:"resourceId" bson:"resourceId"`
	Owner        string             `json:"owner" bson:"owner"`
	CreatedBy    string             `json:"createdBy" bson:"createdBy"`
	Members      []string           `json:"members" bson:"members"`
	Watchers     []string           `json:"watchers" bson:"watchers"`
	IsArchived   bool               `json:"isArchived" bson:"isArchived"`
	ArchivedAt   *time.Time         `json:"archivedAt,omitempty" bson:"archivedAt,omitempty"`
	ArchivedBy   string             `json:"archivedBy,omitempty" bson:"archivedBy,omitempty"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updatedAt"`
}

type Comment struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ResourceID   string             `json:"resourceId" bson:"resourceId"`
	ResourceType string             `json:"resourceType" bson:"resourceType"`
	UserID       string             `json:"userId" bson:"userId"`
	Text         string             `json:"text" bson:"text"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
}

type Notification struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID    string             `json:"userId" bson:"userId"`
	Title     string             `json:"title" bson:"title"`
	Message   string             `json:"message" bson:"message"`
	Read      bool               `json:"read" bson:"read"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
}

// ParseStatus normalizes a case-insensitive status string.
func ParseStatus(raw string) (TaskStatus, error) {
	switch TaskStatus(normalizeUpper(raw)) {
	case StatusPending:
		return StatusPending, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusReview:
		return StatusReview, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusCancelled:
		return StatusCancelled, nil
	case StatusOnHold:
		return StatusOnHold, nil
	}
	return "", fmt.Errorf("unknown task status %q", raw)
}

// ParsePriority normalizes a case-insensitive priority string.
func ParsePriority(raw string) (TaskPriority, error) {
	switch TaskPriority(normalizeLower(raw)) {
	case PriorityCritical:
		return PriorityCritical, nil
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityMedium:
		return PriorityMedium, nil
	case PriorityLow:
		return PriorityLow, nil
	}
	return "", fmt.Errorf("unknown task priority %q", raw)
}
