package domain

import "time"

// ============================================================
// Users & Auth: Request / Response types
// ============================================================

// User is an account stored in the relational store.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         *string   `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RegisterRequest is the body for POST /api/register.
type RegisterRequest struct {
	Email    string  `json:"email"`
	Name     *string `json:"name,omitempty"`
	Password string  `json:"password"`
}

// LoginRequest is the body for POST /api/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult carries the signed session token alongside the user.
// The handler moves the token into the authToken cookie.
type LoginResult struct {
	User      *User
	Token     string
	ExpiresIn time.Duration
}

// LoginResponse is the body for 200 from POST /api/login.
type LoginResponse struct {
	*User
	Token string `json:"token"`
}

// ForgetPasswordRequest is the body for POST /api/forget-password.
type ForgetPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the body for POST /api/reset-password.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// MessageResponse wraps a human readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// MailMessage is an outgoing email.
type MailMessage struct {
	To      string
	Subject string
	Text    string
	HTML    string
}
