package authpw

import (
	"context"
	"strings"
	"testing"
	"time"

	"roomly/api/internal/store"
)

type fakeUserStore struct {
	users  map[string]store.User // by id
	resets map[string]string     // token -> user id
	used   map[string]bool
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:  make(map[string]store.User),
		resets: make(map[string]string),
		used:   make(map[string]bool),
	}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	u := f.users[userID]
	u.VerificationToken = token
	f.users[userID] = u
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(_ context.Context, token string) error {
	for id, u := range f.users {
		if u.VerificationToken == token && token != "" {
			u.IsEmailVerified = true
			u.VerificationToken = ""
			f.users[id] = u
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	u := f.users[userID]
	u.PasswordHash = passwordHash
	f.users[userID] = u
	return nil
}

func (f *fakeUserStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.resets[token] = userID
	return nil
}

func (f *fakeUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	if f.used[token] {
		return "", store.ErrNotFound
	}
	userID, ok := f.resets[token]
	if !ok {
		return "", store.ErrNotFound
	}
	return userID, nil
}

func (f *fakeUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.used[token] = true
	return nil
}

func signUp(t *testing.T, svc *Service) *SignUpResponse {
	t.Helper()
	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "avery@example.com",
		Password:    "hunter2hunter2",
		DisplayName: "Avery",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	return resp
}

func TestSignUpAndVerify(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	resp := signUp(t, svc)
	if resp.UserID == "" {
		t.Fatal("expected non-empty user id")
	}
	if resp.VerificationToken == "" {
		t.Fatal("expected verification token")
	}

	// Unverified sign-in is flagged, not rejected.
	signIn, err := svc.SignIn(ctx, SignInRequest{Email: "avery@example.com", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !signIn.RequiresVerify {
		t.Error("expected RequiresVerify before email verification")
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	signIn, err = svc.SignIn(ctx, SignInRequest{Email: "avery@example.com", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("SignIn after verify failed: %v", err)
	}
	if signIn.RequiresVerify {
		t.Error("did not expect RequiresVerify after verification")
	}
	if signIn.User.ID != resp.UserID {
		t.Errorf("expected user %s, got %s", resp.UserID, signIn.User.ID)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	svc := NewService(newFakeUserStore())
	signUp(t, svc)

	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "avery@example.com",
		Password:    "hunter2hunter2",
		DisplayName: "Other",
	})
	if err != ErrEmailExists {
		t.Errorf("expected ErrEmailExists, got %v", err)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "avery@example.com",
		Password:    "short",
		DisplayName: "Avery",
	})
	if err == nil {
		t.Error("expected error for short password")
	}
}

func TestSignInWrongPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	signUp(t, svc)

	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "avery@example.com", Password: "wrong-password"}); err == nil {
		t.Error("expected error for wrong password")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()
	resp := signUp(t, svc)
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	token, err := svc.RequestPasswordReset(ctx, "avery@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected reset token for known email")
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "newpassword123"}); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "avery@example.com", Password: "hunter2hunter2"}); err == nil {
		t.Error("expected old password to be rejected")
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "avery@example.com", Password: "newpassword123"}); err != nil {
		t.Errorf("expected new password to work: %v", err)
	}

	// A used token cannot be replayed.
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "anotherpassword"}); err == nil {
		t.Error("expected used reset token to be rejected")
	}
}

func TestPasswordResetUnknownEmail(t *testing.T) {
	svc := NewService(newFakeUserStore())

	token, err := svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if token != "" {
		t.Error("expected empty token for unknown email")
	}
}
