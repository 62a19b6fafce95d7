package search

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxGroups = "roomly_groups"

// Meili indexes and searches groups via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the group index. The
// client keeps checking health in the background so an instance that comes up
// later is picked up without a restart.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		slog.Warn("search: meilisearch unavailable", "url", url, "error", err)
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
		Uid:        idxGroups,
		PrimaryKey: "id",
	}); err != nil {
		slog.Debug("search: create index (may already exist)", "index", idxGroups, "error", err)
	}

	index := m.client.Index(idxGroups)
	filterable := []interface{}{"status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		slog.Warn("search: update filterable attrs failed", "error", err)
	}
	searchable := []string{"name", "description", "purpose", "properties"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		slog.Warn("search: update searchable attrs failed", "error", err)
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
				slog.Info("search: meilisearch recovered, reconfiguring index")
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

// Search queries the group index.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	req := &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if q.ActiveOnly {
		req.Filter = []string{`status = "active"`}
	}

	resp, err := m.client.Index(idxGroups).Search(q.Text, req)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:      decodeString(hit, "id"),
		Name:    firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name")),
		Snippet: firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description")),
		Status:  decodeString(hit, "status"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexGroup adds or updates a group in the search index.
func (m *Meili) IndexGroup(g GroupRecord) error {
	_, err := m.client.Index(idxGroups).AddDocuments([]GroupRecord{g}, nil)
	return err
}

// DeleteGroup removes a group from the search index.
func (m *Meili) DeleteGroup(id string) error {
	_, err := m.client.Index(idxGroups).DeleteDocument(id, nil)
	return err
}

// IndexGroups bulk-indexes groups.
func (m *Meili) IndexGroups(groups []GroupRecord) error {
	if len(groups) == 0 {
		return nil
	}
	_, err := m.client.Index(idxGroups).AddDocuments(groups, nil)
	return err
}
