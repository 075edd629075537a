package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"liftmates/internal/model"
	"liftmates/internal/repository"
)

// AuthService handles registration, login and token validation.
type AuthService struct {
	users     repository.UserRepo
	social    *SocialService
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(users repository.UserRepo, social *SocialService, jwtSecret string) *AuthService {
	return &AuthService{
		users:     users,
		social:    social,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  30 * 24 * time.Hour,
	}
}

// Register creates a profile. The username goes through the compare-and-set
// claim first, so two concurrent registrations of the same name cannot both
// succeed.
func (s *AuthService) Register(ctx context.Context, username, password, displayName string) (*model.LoginResponse, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	userID := "u_" + uuid.NewString()
	if err := s.social.ClaimUsername(ctx, userID, username); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &model.User{
		ID:           userID,
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.generateToken(userID)
	if err != nil {
		return nil, err
	}
	return &model.LoginResponse{Token: token, User: user}, nil
}

// Login validates credentials and returns a token.
func (s *AuthService) Login(ctx context.Context, username, password string) (*model.LoginResponse, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.generateToken(user.ID)
	if err != nil {
		return nil, err
	}
	return &model.LoginResponse{Token: token, User: user}, nil
}

// ValidateToken validates a user JWT and returns its claims.
func (s *AuthService) ValidateToken(tokenString string) (*model.UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &model.UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*model.UserClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *AuthService) generateToken(userID string) (string, error) {
	now := time.Now()
	claims := &model.UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}
