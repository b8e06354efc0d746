package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Dan9191/card-service/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// TokenClaims are the JWT claims issued at login. Subject is the user id.
type TokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Register creates a new user with hashed password
func (s *Service) Register(ctx context.Context, username, phoneNumber, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	phoneNumber = strings.TrimSpace(phoneNumber)
	if username == "" || phoneNumber == "" || password == "" {
		return nil, fmt.Errorf("%w: username, phone number and password are required", models.ErrInvalidInput)
	}

	// Hash password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		PhoneNumber:  phoneNumber,
		PasswordHash: string(hashedPassword),
		Role:         models.RoleUser,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Infof("User registered: %d", user.ID)
	return user, nil
}

// Login authenticates a user and returns a JWT token
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.repo.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return "", models.ErrInvalidCredentials
		}
		return "", err
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", models.ErrInvalidCredentials
	}

	// Generate JWT
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.JWTTTL)),
		},
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Infof("User logged in: %d", user.ID)
	return tokenString, nil
}

// ParseToken verifies a login token and resolves the caller it names
func ParseToken(tokenString, secret string) (models.Principal, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return models.Principal{}, fmt.Errorf("invalid token: %w", err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return models.Principal{}, fmt.Errorf("invalid token subject: %w", err)
	}
	role := models.Role(claims.Role)
	if role != models.RoleUser && role != models.RoleAdmin {
		return models.Principal{}, fmt.Errorf("invalid token role %q", claims.Role)
	}
	return models.Principal{UserID: userID, Role: role}, nil
}

// GetUser returns a user by id
func (s *Service) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	return s.repo.UserByID(ctx, userID)
}

// PromoteToAdmin grants the admin role
func (s *Service) PromoteToAdmin(ctx context.Context, userID int64) error {
	if err := s.repo.UpdateUserRole(ctx, userID, models.RoleAdmin); err != nil {
		return err
	}
	s.log.Infof("User %d promoted to admin", userID)
	return nil
}

// DeleteUser removes a user and cascades to every card it owns
func (s *Service) DeleteUser(ctx context.Context, userID int64) error {
	cardIDs, err := s.repo.DeleteUser(ctx, userID)
	if err != nil {
		return err
	}
	s.log.Infof("User %d deleted with %d cards %v", userID, len(cardIDs), cardIDs)
	return nil
}
