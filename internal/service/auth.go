// Package service holds the application logic behind the HTTP routes:
// accounts, categories, purchases, stats and the assistant.
package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var authTracer = otel.Tracer("service/auth")

const (
	bcryptCost        = 10
	minPasswordLength = 6

	purposeAccess = "access"
	purposeReset  = "password-reset"

	// ForgetPasswordMessage is returned whether or not the account exists.
	ForgetPasswordMessage = "If an account exists for this email, a reset link has been sent."
	// ResetPasswordMessage confirms a successful reset.
	ResetPasswordMessage = "Your password has been reset. You can now log in with your new password."

	invalidResetLink = "invalid or expired reset link"
)

// JWTClaims are the claims of both session and reset tokens.
// Purpose keeps a reset token from being accepted as a session and vice versa.
type JWTClaims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// AuthConfig holds token lifetimes and the reset link base.
type AuthConfig struct {
	JWTSecret   string
	AccessTTL   time.Duration
	ResetTTL    time.Duration
	FrontendURL string
}

// AuthService orchestrates authentication flows.
type AuthService struct {
	store       port.UserStore
	mailer      port.Mailer
	jwtSecret   []byte
	accessTTL   time.Duration
	resetTTL    time.Duration
	frontendURL string
	logger      *zap.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(store port.UserStore, mailer port.Mailer, cfg AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		store:       store,
		mailer:      mailer,
		jwtSecret:   []byte(cfg.JWTSecret),
		accessTTL:   cfg.AccessTTL,
		resetTTL:    cfg.ResetTTL,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		logger:      logger,
	}
}

// AccessTTL is the lifetime of session tokens, used for the cookie Max-Age.
func (s *AuthService) AccessTTL() time.Duration { return s.accessTTL }

// ============================================================
// Register: POST /api/register
// ============================================================

func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Register")
	defer span.End()

	email := normalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, &domain.ErrValidation{Field: "email", Message: "a valid email is required"}
	}
	if len(req.Password) < minPasswordLength {
		return nil, &domain.ErrValidation{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if existing != nil {
		return nil, &domain.ErrConflict{Message: "email already registered"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var name *string
	if req.Name != nil {
		if n := strings.TrimSpace(*req.Name); n != "" {
			name = &n
		}
	}

	user, err := s.store.CreateUser(ctx, email, name, string(hash))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// ============================================================
// Login: POST /api/login
// ============================================================

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResult, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, &domain.ErrValidation{Message: "email and password are required"}
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("login: wrong password", zap.String("user_id", user.ID))
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}

	token, err := s.sign(user, purposeAccess, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	span.SetAttributes(attribute.String("user.id", user.ID))
	s.logger.Info("user logged in", zap.String("user_id", user.ID))

	return &domain.LoginResult{User: user, Token: token, ExpiresIn: s.accessTTL}, nil
}

// Me returns the authenticated user.
func (s *AuthService) Me(ctx context.Context, userID string) (*domain.User, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Me")
	defer span.End()

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
	}
	return user, nil
}

// ============================================================
// Password reset: POST /api/forget-password, /api/reset-password
// ============================================================

// ForgetPassword mails a reset link when the account exists. The answer is
// the same either way so the endpoint cannot be used to probe accounts.
func (s *AuthService) ForgetPassword(ctx context.Context, req *domain.ForgetPasswordRequest) (*domain.MessageResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.ForgetPassword")
	defer span.End()

	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, &domain.ErrValidation{Field: "email", Message: "email is required"}
	}

	generic := &domain.MessageResponse{Message: ForgetPasswordMessage}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		s.logger.Info("password reset requested for unknown email")
		return generic, nil
	}

	token, err := s.sign(user, purposeReset, s.resetTTL)
	if err != nil {
		return nil, fmt.Errorf("sign reset token: %w", err)
	}

	link := s.frontendURL + "/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.Send(ctx, resetMail(user.Email, link, s.resetTTL)); err != nil {
		s.logger.Error("failed to send reset email",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		return generic, nil
	}

	s.logger.Info("password reset email sent", zap.String("user_id", user.ID))
	return generic, nil
}

// ResetPassword checks a reset token and stores the new password hash.
func (s *AuthService) ResetPassword(ctx context.Context, req *domain.ResetPasswordRequest) (*domain.MessageResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.ResetPassword")
	defer span.End()

	if req.Token == "" || req.NewPassword == "" {
		return nil, &domain.ErrValidation{Message: "token and new password are required"}
	}
	if len(req.NewPassword) < minPasswordLength {
		return nil, &domain.ErrValidation{Field: "newPassword", Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	}

	claims, err := s.parse(req.Token, purposeReset)
	if err != nil {
		s.logger.Warn("reset password: rejected token", zap.Error(err))
		return nil, &domain.ErrValidation{Message: invalidResetLink}
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil || user.Email != claims.Email {
		return nil, &domain.ErrValidation{Message: invalidResetLink}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return nil, fmt.Errorf("update password: %w", err)
	}

	s.logger.Info("password reset", zap.String("user_id", user.ID))
	return &domain.MessageResponse{Message: ResetPasswordMessage}, nil
}

// ============================================================
// Tokens
// ============================================================

// ValidateAccessToken parses a session token and returns its claims.
func (s *AuthService) ValidateAccessToken(tokenStr string) (*JWTClaims, error) {
	claims, err := s.parse(tokenStr, purposeAccess)
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}
	return claims, nil
}

func (s *AuthService) sign(user *domain.User, purpose string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Email:   user.Email,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func (s *AuthService) parse(tokenStr, purpose string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("token purpose %q, want %q", claims.Purpose, purpose)
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func resetMail(to, link string, ttl time.Duration) domain.MailMessage {
	validity := fmt.Sprintf("%.0f minutes", ttl.Minutes())
	if ttl >= time.Hour && ttl%time.Hour == 0 {
		validity = fmt.Sprintf("%d hour(s)", int(ttl.Hours()))
	}

	text := fmt.Sprintf("You asked to reset your password.\n\nOpen this link to choose a new one (valid for %s):\n%s\n\nIf you did not ask for this, ignore this email.\n", validity, link)

	escaped := html.EscapeString(link)
	body := fmt.Sprintf(`<p>You asked to reset your password.</p>
<p><a href="%s">Choose a new password</a> (valid for %s).</p>
<p>If the button does not work, copy this link into your browser:<br>%s</p>
<p>If you did not ask for this, ignore this email.</p>`, escaped, validity, escaped)

	return domain.MailMessage{
		To:      to,
		Subject: "Reset your password",
		Text:    text,
		HTML:    body,
	}
}
