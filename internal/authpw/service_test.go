package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"extrapl/api/internal/store"
)

type passwordReset struct {
	userID    string
	expiresAt time.Time
	used      bool
}

// memoryUserStore backs the auth flows with maps keyed the way the real
// store indexes users: by id and by org/email pair.
type memoryUserStore struct {
	users   map[string]store.User
	byEmail map[string]string
	resets  map[string]passwordReset
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{
		users:   make(map[string]store.User),
		byEmail: make(map[string]string),
		resets:  make(map[string]passwordReset),
	}
}

func (m *memoryUserStore) GetUserByEmail(_ context.Context, orgID, email string) (store.User, error) {
	if id, ok := m.byEmail[orgID+"/"+email]; ok {
		return m.users[id], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *memoryUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *memoryUserStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.ID] = user
	m.byEmail[user.OrgID+"/"+user.Email] = user.ID
	return nil
}

func (m *memoryUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	u, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	u.VerificationToken = token
	u.VerificationExpiresAt = &expiresAt
	m.users[userID] = u
	return nil
}

func (m *memoryUserStore) VerifyUserEmail(_ context.Context, token string) error {
	for id, u := range m.users {
		if u.VerificationToken == token {
			u.IsEmailVerified = true
			m.users[id] = u
			return nil
		}
	}
	return errors.New("invalid token")
}

func (m *memoryUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	u, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	u.PasswordHash = passwordHash
	m.users[userID] = u
	return nil
}

func (m *memoryUserStore) CreatePasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = passwordReset{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memoryUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	r, ok := m.resets[token]
	if !ok || r.used || time.Now().After(r.expiresAt) {
		return "", errors.New("invalid or expired token")
	}
	return r.userID, nil
}

func (m *memoryUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	if r, ok := m.resets[token]; ok {
		r.used = true
		m.resets[token] = r
	}
	return nil
}

func signUpReviewer(t *testing.T, svc *Service, orgID, email string) *SignUpResponse {
	t.Helper()
	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		OrgID:       orgID,
		Email:       email,
		Password:    "reviewpass1",
		DisplayName: "Reviewer",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	return resp
}

func TestSignUpCreatesUnverifiedUser(t *testing.T) {
	us := newMemoryUserStore()
	svc := NewService(us)

	resp := signUpReviewer(t, svc, "org-acme", "reviewer@acme.test")
	if resp.UserID == "" || resp.VerificationToken == "" {
		t.Fatalf("incomplete response: %+v", resp)
	}
	if !resp.RequiresEmailVerify {
		t.Fatal("new accounts should require verification")
	}
	u, _ := us.GetUserByID(context.Background(), resp.UserID)
	if u.IsEmailVerified {
		t.Fatal("user should start unverified")
	}
	if u.Role != "member" {
		t.Fatalf("default role = %q, want member", u.Role)
	}
}

func TestSignUpNormalizesEmail(t *testing.T) {
	us := newMemoryUserStore()
	svc := NewService(us)

	resp := signUpReviewer(t, svc, "org-acme", "  Reviewer@Acme.Test ")
	u, _ := us.GetUserByID(context.Background(), resp.UserID)
	if u.Email != "reviewer@acme.test" {
		t.Fatalf("stored email = %q, want lowercased/trimmed", u.Email)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	svc := NewService(newMemoryUserStore())
	signUpReviewer(t, svc, "org-acme", "reviewer@acme.test")

	_, err := svc.SignUp(context.Background(), SignUpRequest{
		OrgID:       "org-acme",
		Email:       "reviewer@acme.test",
		Password:    "reviewpass1",
		DisplayName: "Second Reviewer",
	})
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("SignUp() error = %v, want ErrEmailExists", err)
	}
}

func TestSignUpSameEmailDifferentOrg(t *testing.T) {
	svc := NewService(newMemoryUserStore())
	signUpReviewer(t, svc, "org-acme", "reviewer@acme.test")

	if _, err := svc.SignUp(context.Background(), SignUpRequest{
		OrgID:       "org-rival",
		Email:       "reviewer@acme.test",
		Password:    "reviewpass1",
		DisplayName: "Rival Reviewer",
	}); err != nil {
		t.Fatalf("same email in another org should register: %v", err)
	}
}

func TestSignUpRejectsWeakInput(t *testing.T) {
	svc := NewService(newMemoryUserStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{}); err == nil {
		t.Fatal("empty request should fail")
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{
		OrgID: "org-acme", Email: "a@b.test", Password: "short", DisplayName: "A",
	}); err == nil {
		t.Fatal("short password should fail")
	}
}

func TestSignInFlow(t *testing.T) {
	us := newMemoryUserStore()
	svc := NewService(us)
	ctx := context.Background()

	resp := signUpReviewer(t, svc, "org-acme", "reviewer@acme.test")

	// Unverified login reports RequiresVerify rather than failing.
	in, err := svc.SignIn(ctx, SignInRequest{OrgID: "org-acme", Email: "reviewer@acme.test", Password: "reviewpass1"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if !in.RequiresVerify {
		t.Fatal("unverified account should require verification")
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	in, err = svc.SignIn(ctx, SignInRequest{OrgID: "org-acme", Email: "reviewer@acme.test", Password: "reviewpass1"})
	if err != nil || in.RequiresVerify {
		t.Fatalf("verified sign-in failed: resp=%+v err=%v", in, err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{OrgID: "org-acme", Email: "reviewer@acme.test", Password: "wrong-password"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{OrgID: "org-rival", Email: "reviewer@acme.test", Password: "reviewpass1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("cross-org sign-in error = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifyEmailRejectsBadTokens(t *testing.T) {
	svc := NewService(newMemoryUserStore())
	ctx := context.Background()

	if err := svc.VerifyEmail(ctx, ""); err == nil {
		t.Fatal("empty token should fail")
	}
	if err := svc.VerifyEmail(ctx, "nope"); err == nil {
		t.Fatal("unknown token should fail")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	us := newMemoryUserStore()
	svc := NewService(us)
	ctx := context.Background()

	resp := signUpReviewer(t, svc, "org-acme", "reviewer@acme.test")
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	// Unknown addresses must not be distinguishable from known ones.
	if tok, err := svc.RequestPasswordReset(ctx, "org-acme", "stranger@acme.test"); err != nil || tok != "" {
		t.Fatalf("unknown email: token=%q err=%v", tok, err)
	}

	token, err := svc.RequestPasswordReset(ctx, "org-acme", "reviewer@acme.test")
	if err != nil || token == "" {
		t.Fatalf("RequestPasswordReset() token=%q err=%v", token, err)
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "rotatedpass1"}); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{OrgID: "org-acme", Email: "reviewer@acme.test", Password: "reviewpass1"}); err == nil {
		t.Fatal("old password should no longer work")
	}
	if _, err := svc.SignIn(ctx, SignInRequest{OrgID: "org-acme", Email: "reviewer@acme.test", Password: "rotatedpass1"}); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}

	// Tokens are single use.
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "anotherpass1"}); err == nil {
		t.Fatal("reused token should fail")
	}
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: "bogus", NewPassword: "anotherpass1"}); err == nil {
		t.Fatal("unknown token should fail")
	}
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "short"}); err == nil {
		t.Fatal("short password should fail")
	}
}
