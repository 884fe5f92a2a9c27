package auth

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/database"
)

// UserStore is the slice of the store the auth service touches.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*database.User, error)
	CreateUser(ctx context.Context, user *database.User) error
}

// Service authenticates users against the store and issues tokens.
type Service struct {
	store  UserStore
	jwt    *JWTManager
	logger zerolog.Logger
}

// NewService creates a new auth service.
func NewService(store UserStore, jwtManager *JWTManager, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		jwt:    jwtManager,
		logger: logger,
	}
}

// Login verifies the credentials and returns a signed token. Unknown emails
// and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || !VerifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateToken(UserClaims{UserID: user.ID, Email: user.Email})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", user.ID).Msg("user logged in")
	return &LoginResponse{
		Token:     token,
		ExpiresIn: s.jwt.TokenDuration(),
		TokenType: "Bearer",
		User:      UserSummary{ID: user.ID, Email: user.Email},
	}, nil
}

// SeedAdmin creates a bootstrap user when ADMIN_EMAIL and ADMIN_PASSWORD are
// set and no such user exists yet. Without them the store's existing users
// are the only way in.
func (s *Service) SeedAdmin(ctx context.Context) error {
	email := strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL")))
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check for admin user: %w", err)
	}
	if user != nil {
		return nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.CreateUser(ctx, &database.User{Email: email, PasswordHash: hash}); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	s.logger.Info().Str("email", email).Msg("seeded admin user")
	return nil
}
