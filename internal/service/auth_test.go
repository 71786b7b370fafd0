package service_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/service"

	"go.uber.org/zap"
)

func newAuth(store *mockUserStore, mailer *mockMailer) *service.AuthService {
	return service.NewAuthService(store, mailer, service.AuthConfig{
		JWTSecret:   "test-secret",
		AccessTTL:   time.Hour,
		ResetTTL:    time.Hour,
		FrontendURL: "http://app.local/",
	}, zap.NewNop())
}

func register(t *testing.T, svc *service.AuthService, email, password string) *domain.User {
	t.Helper()
	u, err := svc.Register(context.Background(), &domain.RegisterRequest{Email: email, Password: password})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return u
}

func TestRegister_Success(t *testing.T) {
	store := newMockUserStore()
	svc := newAuth(store, &mockMailer{})

	u, err := svc.Register(context.Background(), &domain.RegisterRequest{
		Email:    "  Ana@Example.com ",
		Name:     strPtr(" Ana "),
		Password: "secret1",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if u.Email != "ana@example.com" {
		t.Errorf("expected normalized email, got %q", u.Email)
	}
	if u.Name == nil || *u.Name != "Ana" {
		t.Errorf("expected trimmed name, got %v", u.Name)
	}
	if u.PasswordHash == "" || u.PasswordHash == "secret1" {
		t.Error("expected a bcrypt hash to be stored")
	}
}

func TestRegister_Validation(t *testing.T) {
	svc := newAuth(newMockUserStore(), &mockMailer{})

	cases := []domain.RegisterRequest{
		{Email: "", Password: "secret1"},
		{Email: "not-an-email", Password: "secret1"},
		{Email: "a@b.c", Password: "12345"},
	}
	for _, req := range cases {
		_, err := svc.Register(context.Background(), &req)
		var valErr *domain.ErrValidation
		if !errors.As(err, &valErr) {
			t.Errorf("%+v: expected ErrValidation, got %v", req, err)
		}
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc := newAuth(newMockUserStore(), &mockMailer{})
	register(t, svc, "ana@example.com", "secret1")

	_, err := svc.Register(context.Background(), &domain.RegisterRequest{Email: "ANA@example.com", Password: "secret2"})
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc := newAuth(newMockUserStore(), &mockMailer{})
	u := register(t, svc, "ana@example.com", "secret1")

	res, err := svc.Login(context.Background(), &domain.LoginRequest{Email: "ana@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.User.ID != u.ID || res.Token == "" || res.ExpiresIn != time.Hour {
		t.Errorf("unexpected login result: %+v", res)
	}

	claims, err := svc.ValidateAccessToken(res.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != u.ID || claims.Email != u.Email {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := newAuth(newMockUserStore(), &mockMailer{})
	register(t, svc, "ana@example.com", "secret1")

	for _, req := range []domain.LoginRequest{
		{Email: "ana@example.com", Password: "wrong-password"},
		{Email: "nobody@example.com", Password: "secret1"},
	} {
		_, err := svc.Login(context.Background(), &req)
		var unauth *domain.ErrUnauthorized
		if !errors.As(err, &unauth) || unauth.Message != "invalid credentials" {
			t.Errorf("%s: expected invalid credentials, got %v", req.Email, err)
		}
	}
}

func TestValidateAccessToken_Rejects(t *testing.T) {
	svc := newAuth(newMockUserStore(), &mockMailer{})
	other := service.NewAuthService(newMockUserStore(), &mockMailer{}, service.AuthConfig{JWTSecret: "other", AccessTTL: time.Hour}, zap.NewNop())
	register(t, other, "ana@example.com", "secret1")
	res, err := other.Login(context.Background(), &domain.LoginRequest{Email: "ana@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	for name, token := range map[string]string{
		"garbage":      "not.a.jwt",
		"wrong secret": res.Token,
	} {
		if _, err := svc.ValidateAccessToken(token); err == nil {
			t.Errorf("%s: expected rejection", name)
		}
	}
}

func TestMe_NotFound(t *testing.T) {
	svc := newAuth(newMockUserStore(), &mockMailer{})

	_, err := svc.Me(context.Background(), "ghost")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func resetTokenFrom(t *testing.T, msg domain.MailMessage) string {
	t.Helper()
	i := strings.Index(msg.Text, "token=")
	if i < 0 {
		t.Fatalf("no reset link in mail: %q", msg.Text)
	}
	raw := strings.Fields(msg.Text[i+len("token="):])[0]
	token, err := url.QueryUnescape(raw)
	if err != nil {
		t.Fatalf("unescape token: %v", err)
	}
	return token
}

func TestForgetAndResetPassword(t *testing.T) {
	mailer := &mockMailer{}
	svc := newAuth(newMockUserStore(), mailer)
	register(t, svc, "ana@example.com", "secret1")

	resp, err := svc.ForgetPassword(context.Background(), &domain.ForgetPasswordRequest{Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("forget: %v", err)
	}
	if resp.Message != service.ForgetPasswordMessage {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if msg.To != "ana@example.com" || !strings.Contains(msg.Text, "http://app.local/reset-password?token=") || msg.HTML == "" {
		t.Errorf("unexpected mail: %+v", msg)
	}

	token := resetTokenFrom(t, msg)

	// a reset token is not a session
	if _, err := svc.ValidateAccessToken(token); err == nil {
		t.Error("reset token must not validate as an access token")
	}

	if _, err := svc.ResetPassword(context.Background(), &domain.ResetPasswordRequest{Token: token, NewPassword: "brand-new"}); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if _, err := svc.Login(context.Background(), &domain.LoginRequest{Email: "ana@example.com", Password: "brand-new"}); err != nil {
		t.Errorf("login with new password: %v", err)
	}
	if _, err := svc.Login(context.Background(), &domain.LoginRequest{Email: "ana@example.com", Password: "secret1"}); err == nil {
		t.Error("old password must stop working")
	}
}

func TestForgetPassword_UnknownEmailLooksTheSame(t *testing.T) {
	mailer := &mockMailer{}
	svc := newAuth(newMockUserStore(), mailer)

	resp, err := svc.ForgetPassword(context.Background(), &domain.ForgetPasswordRequest{Email: "nobody@example.com"})
	if err != nil {
		t.Fatalf("forget: %v", err)
	}
	if resp.Message != service.ForgetPasswordMessage || len(mailer.sent) != 0 {
		t.Errorf("unexpected outcome: %q, %d mails", resp.Message, len(mailer.sent))
	}
}

func TestForgetPassword_MailFailureIsHidden(t *testing.T) {
	mailer := &mockMailer{err: errors.New("smtp down")}
	svc := newAuth(newMockUserStore(), mailer)
	register(t, svc, "ana@example.com", "secret1")

	resp, err := svc.ForgetPassword(context.Background(), &domain.ForgetPasswordRequest{Email: "ana@example.com"})
	if err != nil || resp.Message != service.ForgetPasswordMessage {
		t.Errorf("expected the generic answer, got %v, %v", resp, err)
	}
}

func TestResetPassword_InvalidToken(t *testing.T) {
	svc := newAuth(newMockUserStore(), &mockMailer{})
	u := register(t, svc, "ana@example.com", "secret1")
	session, err := svc.Login(context.Background(), &domain.LoginRequest{Email: u.Email, Password: "secret1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	for name, token := range map[string]string{
		"garbage":       "abc",
		"session token": session.Token,
	} {
		_, err := svc.ResetPassword(context.Background(), &domain.ResetPasswordRequest{Token: token, NewPassword: "brand-new"})
		var valErr *domain.ErrValidation
		if !errors.As(err, &valErr) || valErr.Error() != "invalid or expired reset link" {
			t.Errorf("%s: expected invalid reset link, got %v", name, err)
		}
	}
}
