package services

import (
	"fmt"
	"time"

	"dm-engine/auth"
	"dm-engine/errors"
	"dm-engine/repositories"
)

type IAuthService interface {
	Register(email, password string) (Token, string, error)
	Login(email, password string) (Token, string, error)
}

type Token string

type AuthService struct {
	userRepository repositories.IUserRepository
	tokenDuration  time.Duration
}

func NewAuthService(repo repositories.IUserRepository, tokenDuration time.Duration) IAuthService {
	return &AuthService{userRepository: repo, tokenDuration: tokenDuration}
}

// Register creates an account and returns its first session token.
// Validation runs before any cryptographic work.
func (s *AuthService) Register(email, password string) (Token, string, error) {
	valReq := auth.RegisterRequest{Email: email, Password: password}
	if err := auth.ValidateRegister(valReq); err != nil {
		return "", "", fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}

	// Hashing happens here so the repository never sees a plain password.
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return "", "", fmt.Errorf("hashing failed: %w", err)
	}

	userID, err := s.userRepository.CreateUser(email, hashedPassword)
	if err != nil {
		return "", "", err // Propagates ErrUserAlreadyExists if the email is taken
	}

	token, err := auth.GenerateToken(userID, []string{"user"}, s.tokenDuration)
	if err != nil {
		return "", "", errors.ErrTokenGeneration
	}
	return Token(token), userID, nil
}

// Login verifies credentials and issues a JWT.
func (s *AuthService) Login(email, password string) (Token, string, error) {
	user, err := s.userRepository.GetUserByEmail(email)
	if err != nil {
		// Generic error to prevent user enumeration attacks
		return "", "", errors.ErrInvalidCredentials
	}

	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return "", "", errors.ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(user.ID, user.Roles, s.tokenDuration)
	if err != nil {
		return "", "", errors.ErrTokenGeneration
	}
	return Token(token), user.ID, nil
}
