package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"roomly/api/internal/config"
	"roomly/api/internal/session"
	"roomly/api/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	docs := store.NewRedisStoreWithClient(client, "test", 5*time.Second)
	sessions := session.NewRedisStore(client, "test")
	cfg := config.Config{
		JWTSecret:             "test-secret",
		AccessTTL:             15 * time.Minute,
		RefreshTTL:            720 * time.Hour,
		GroupTimeoutHours:     24,
		GroupThresholdPercent: 40,
		StoreOpTimeout:        5 * time.Second,
		CORSOrigin:            "*",
	}
	svc := New(cfg, docs, nil, sessions, nil, nil, nil)

	server := httptest.NewServer(NewHTTPServer(svc, nil, cfg.CORSOrigin).Handler())
	t.Cleanup(server.Close)
	return server, svc
}

func sessionToken(t *testing.T, svc *Service, userID, name, role string) string {
	t.Helper()
	s, err := svc.IssueSession(context.Background(), store.User{ID: userID, DisplayName: name, Role: role})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	return s.Token
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["ok"] != true {
		t.Fatalf("payload = %v", payload)
	}
}

func TestGroupRoutesRequireSession(t *testing.T) {
	server, _ := newTestServer(t)

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/groups", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("payload = %v", payload)
	}

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/groups", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d", resp.StatusCode)
	}
}

func TestGroupLifecycleOverHTTP(t *testing.T) {
	server, svc := newTestServer(t)
	adminToken := sessionToken(t, svc, "usr_admin", "Ada", "member")
	bobToken := sessionToken(t, svc, "usr_bob", "Bob", "member")

	resp, created := doJSON(t, http.MethodPost, server.URL+"/api/groups", adminToken, map[string]any{
		"name":            "Flat hunters",
		"requiredMembers": 4,
		"purpose":         "2-bedroom near campus",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %v", resp.StatusCode, created)
	}
	groupID, _ := created["id"].(string)
	if groupID == "" {
		t.Fatalf("no group id in %v", created)
	}
	if created["thresholdPercent"] != float64(40) {
		t.Fatalf("thresholdPercent = %v", created["thresholdPercent"])
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/groups/"+groupID+"/invitations", adminToken, map[string]any{
		"recipientId": "usr_bob",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("invite status = %d", resp.StatusCode)
	}

	resp, pending := doJSON(t, http.MethodGet, server.URL+"/api/invitations", bobToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list invitations status = %d", resp.StatusCode)
	}
	invitations, _ := pending["invitations"].([]any)
	if len(invitations) != 1 {
		t.Fatalf("invitations = %v", pending)
	}
	invID := invitations[0].(map[string]any)["id"].(string)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/invitations/"+invID+"/respond", bobToken, map[string]any{
		"decision": "accepted",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("respond status = %d", resp.StatusCode)
	}

	resp, group := doJSON(t, http.MethodGet, server.URL+"/api/groups/"+groupID, bobToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get group status = %d", resp.StatusCode)
	}
	members, _ := group["members"].([]any)
	if len(members) != 2 {
		t.Fatalf("members = %v", members)
	}

	// Admin self-removal is rejected with its dedicated code.
	resp, payload := doJSON(t, http.MethodDelete, fmt.Sprintf("%s/api/groups/%s/members/usr_admin", server.URL, groupID), adminToken, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("self-removal status = %d", resp.StatusCode)
	}
	if payload["code"] != "CANNOT_SELF_REMOVE_ADMIN" {
		t.Fatalf("payload = %v", payload)
	}

	// Bob leaves on his own.
	resp, _ = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/api/groups/%s/members/usr_bob", server.URL, groupID), bobToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leave status = %d", resp.StatusCode)
	}
}

func TestFormationSettingsOverHTTP(t *testing.T) {
	server, svc := newTestServer(t)
	memberToken := sessionToken(t, svc, "usr_a", "Ava", "member")
	adminToken := sessionToken(t, svc, "usr_root", "Root", "admin")

	resp, settings := doJSON(t, http.MethodGet, server.URL+"/api/settings/group-formation", memberToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get settings status = %d", resp.StatusCode)
	}
	if settings["timeoutHours"] != float64(24) || settings["thresholdPercent"] != float64(40) {
		t.Fatalf("default settings = %v", settings)
	}

	resp, _ = doJSON(t, http.MethodPut, server.URL+"/api/settings/group-formation", memberToken, map[string]any{
		"timeoutHours": 48, "thresholdPercent": 50,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member update status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPut, server.URL+"/api/settings/group-formation", adminToken, map[string]any{
		"timeoutHours": 48, "thresholdPercent": 50,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin update status = %d", resp.StatusCode)
	}

	resp, settings = doJSON(t, http.MethodGet, server.URL+"/api/settings/group-formation", memberToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get settings status = %d", resp.StatusCode)
	}
	if settings["timeoutHours"] != float64(48) || settings["thresholdPercent"] != float64(50) {
		t.Fatalf("updated settings = %v", settings)
	}
}

func TestSessionRefreshRotates(t *testing.T) {
	server, svc := newTestServer(t)

	s, err := svc.IssueSession(context.Background(), store.User{ID: "usr_a", DisplayName: "Ava", Role: "member"})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/session/refresh", "", map[string]any{
		"refreshToken": s.RefreshToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d: %v", resp.StatusCode, payload)
	}
	if payload["userId"] != "usr_a" {
		t.Fatalf("payload = %v", payload)
	}

	// The old refresh token is single-use.
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/session/refresh", "", map[string]any{
		"refreshToken": s.RefreshToken,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed refresh status = %d", resp.StatusCode)
	}
}
