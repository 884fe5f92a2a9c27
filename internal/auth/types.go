// Package auth issues and validates the JWT tokens that guard the admin
// API. Users live in the store; passwords are bcrypt hashes.
package auth

// UserClaims identify an authenticated user inside a token.
type UserClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// LoginRequest is the login endpoint's body.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is returned on a successful login.
type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expires_in"` // seconds
	TokenType string      `json:"token_type"` // always "Bearer"
	User      UserSummary `json:"user"`
}

// UserSummary is the user data returned to the client.
type UserSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AuthError pairs a stable code with a human message.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid email or password"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
)
