package search

import (
	"context"
	"testing"
)

type staticLister []GroupRecord

func (l staticLister) ListGroupRecords(context.Context) ([]GroupRecord, error) {
	return l, nil
}

func testRecords() staticLister {
	return staticLister{
		{ID: "g1", Name: "Mission District crew", Description: "Looking for a 3BR near Dolores Park", Purpose: "roommates", Status: "active"},
		{ID: "g2", Name: "Quiet professionals", Description: "Early risers, no parties", Purpose: "roommates", Status: "active"},
		{ID: "g3", Name: "Old group", Description: "Dolores Park veterans", Purpose: "roommates", Status: "expired"},
	}
}

func TestScanMatchesNameAndDescription(t *testing.T) {
	svc := NewService(nil, testRecords())

	resp := svc.Search(context.Background(), Query{Text: "dolores"})
	if resp.Total != 2 {
		t.Fatalf("expected 2 hits, got %d", resp.Total)
	}
}

func TestScanActiveOnly(t *testing.T) {
	svc := NewService(nil, testRecords())

	resp := svc.Search(context.Background(), Query{Text: "dolores", ActiveOnly: true})
	if resp.Total != 1 {
		t.Fatalf("expected 1 hit, got %d", resp.Total)
	}
	if resp.Results[0].ID != "g1" {
		t.Errorf("expected g1, got %s", resp.Results[0].ID)
	}
}

func TestScanEmptyQueryReturnsAll(t *testing.T) {
	svc := NewService(nil, testRecords())

	resp := svc.Search(context.Background(), Query{})
	if resp.Total != 3 {
		t.Fatalf("expected 3 hits, got %d", resp.Total)
	}
}

func TestScanPagination(t *testing.T) {
	svc := NewService(nil, testRecords())

	resp := svc.Search(context.Background(), Query{Limit: 2})
	if len(resp.Results) != 2 {
		t.Errorf("expected 2 results with limit 2, got %d", len(resp.Results))
	}
	if resp.Total != 3 {
		t.Errorf("expected total 3, got %d", resp.Total)
	}

	resp = svc.Search(context.Background(), Query{Offset: 5})
	if len(resp.Results) != 0 {
		t.Errorf("expected no results past the end, got %d", len(resp.Results))
	}
}
