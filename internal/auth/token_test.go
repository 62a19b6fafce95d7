package auth

import (
	"testing"
	"time"
)

var secret = []byte("test-secret")

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(secret, "user-1", "Avery", "member", "jti-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("expected subject user-1, got %s", claims.Subject)
	}
	if claims.Name != "Avery" {
		t.Errorf("expected name Avery, got %s", claims.Name)
	}
	if claims.Role != "member" {
		t.Errorf("expected role member, got %s", claims.Role)
	}
	if claims.ID != "jti-1" {
		t.Errorf("expected jti jti-1, got %s", claims.ID)
	}
}

func TestParseExpiredToken(t *testing.T) {
	token, err := IssueToken(secret, "user-1", "Avery", "member", "jti-1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := ParseToken(secret, token); err != ErrExpiredToken {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTamperedToken(t *testing.T) {
	token, err := IssueToken(secret, "user-1", "Avery", "member", "jti-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := ParseToken([]byte("other-secret"), token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	if _, err := ParseToken(secret, token+"x"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestHashTokenStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("expected identical hashes for identical input")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("expected different hashes for different input")
	}
}
