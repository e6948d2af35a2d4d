package search

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"opsdesk/api/internal/logging"
)

const idxTasks = "opsdesk_tasks"

// Meili pushes task records to Meilisearch and queries them.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the task index.
// The caller should proceed without search when the instance stays unhealthy.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	// Initial health check
	if _, err := client.Health(); err != nil {
		logging.Logger.Warnf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxTasks,
		PrimaryKey: "id",
	}); err != nil {
		logging.Logger.Warnf("search: create index %s (may already exist): %v", idxTasks, err)
	}

	index := m.client.Index(idxTasks)
	filterable := []interface{}{"status", "priority", "assignedTo", "isArchived", "tags"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		logging.Logger.Warnf("search: update filterable attrs for %s: %v", idxTasks, err)
	}
	searchable := []string{"title", "description", "taskId"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		logging.Logger.Warnf("search: update searchable attrs for %s: %v", idxTasks, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				logging.Logger.Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the task index.
func (m *Meili) Search(q Query) ([]TaskRecord, int64, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := q.Limit
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit:  limit,
		Offset: q.Offset,
	}

	filters := []string{"isArchived = false"}
	if q.Status != "" {
		filters = append(filters, fmt.Sprintf("status = %q", q.Status))
	}
	if q.Priority != "" {
		filters = append(filters, fmt.Sprintf("priority = %q", q.Priority))
	}
	if q.AssignedTo != "" {
		filters = append(filters, fmt.Sprintf("assignedTo = %q", q.AssignedTo))
	}
	sr.Filter = filters

	resp, err := m.client.Index(idxTasks).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]TaskRecord, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		raw, err := json.Marshal(hit)
		if err != nil {
			continue
		}
		var record TaskRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		results = append(results, record)
	}

	return results, resp.EstimatedTotalHits, nil
}

// IndexTask adds or updates a task in the search index.
func (m *Meili) IndexTask(record TaskRecord) error {
	_, err := m.client.Index(idxTasks).AddDocuments([]TaskRecord{record}, nil)
	return err
}

// IndexTasks bulk-indexes tasks.
func (m *Meili) IndexTasks(records []TaskRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTasks).AddDocuments(records, nil)
	return err
}

// DeleteTask removes a task from the search index.
func (m *Meili) DeleteTask(id string) error {
	_, err := m.client.Index(idxTasks).DeleteDocument(id, nil)
	return err
}
