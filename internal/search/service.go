package search

import (
	"context"
	"log/slog"
	"strings"
)

// GroupLister supplies the fallback scan and reindexing with current groups.
type GroupLister interface {
	ListGroupRecords(ctx context.Context) ([]GroupRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to a
// store scan.
type Service struct {
	meili  *Meili
	groups GroupLister
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, groups GroupLister) *Service {
	return &Service{meili: meili, groups: groups}
}

// Search tries Meilisearch if healthy, otherwise scans the store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		slog.Warn("search: meilisearch error, falling back to store scan", "error", err)
	}

	results, total, err := s.scan(ctx, q)
	if err != nil {
		slog.Warn("search: store scan failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// scan is the degraded path: substring match over every group record.
func (s *Service) scan(ctx context.Context, q Query) ([]Result, int, error) {
	records, err := s.groups.ListGroupRecords(ctx)
	if err != nil {
		return nil, 0, err
	}

	needle := strings.ToLower(strings.TrimSpace(q.Text))
	var matched []Result
	for _, rec := range records {
		if q.ActiveOnly && rec.Status != "active" {
			continue
		}
		if needle != "" && !recordMatches(rec, needle) {
			continue
		}
		matched = append(matched, Result{
			ID:      rec.ID,
			Name:    rec.Name,
			Snippet: rec.Description,
			Status:  rec.Status,
		})
	}

	total := len(matched)
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	if q.Offset >= total {
		return nil, total, nil
	}
	matched = matched[q.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func recordMatches(rec GroupRecord, needle string) bool {
	if strings.Contains(strings.ToLower(rec.Name), needle) ||
		strings.Contains(strings.ToLower(rec.Description), needle) ||
		strings.Contains(strings.ToLower(rec.Purpose), needle) {
		return true
	}
	for _, p := range rec.Properties {
		if strings.Contains(strings.ToLower(p), needle) {
			return true
		}
	}
	return false
}

// IndexGroup indexes a group (fire-and-forget to Meilisearch).
func (s *Service) IndexGroup(rec GroupRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexGroup(rec); err != nil {
			slog.Warn("search: index group failed", "group_id", rec.ID, "error", err)
		}
	}()
}

// DeleteGroup removes a group from the search index (fire-and-forget).
func (s *Service) DeleteGroup(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteGroup(id); err != nil {
			slog.Warn("search: delete group failed", "group_id", id, "error", err)
		}
	}()
}

// ReindexAll pushes every current group into Meilisearch. Called at startup
// when Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records, err := s.groups.ListGroupRecords(ctx)
	if err != nil {
		slog.Warn("search: reindex load failed", "error", err)
		return
	}
	if err := s.meili.IndexGroups(records); err != nil {
		slog.Warn("search: reindex failed", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
