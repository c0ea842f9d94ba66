package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"dm-engine/auth"
	"dm-engine/errors"
	"dm-engine/mocks"
	"dm-engine/repositories"
)

func Test_Register_Issues_A_Token_For_The_New_Account(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	userRepository := mocks.NewMockIUserRepository(ctrl)

	var storedHash string
	userRepository.EXPECT().
		CreateUser("alice@example.com", gomock.Any()).
		DoAndReturn(func(_, hashedPassword string) (string, error) {
			storedHash = hashedPassword
			return "user-1", nil
		})

	service := NewAuthService(userRepository, time.Hour)

	// When a valid account registers
	token, userID, err := service.Register("alice@example.com", "Str0ng&Secret!x")
	req.NoError(err)
	req.Equal("user-1", userID)

	// Then the token identifies the new account
	claims, err := auth.ValidateToken(string(token))
	req.NoError(err)
	req.Equal("user-1", claims.UserID)

	// And the repository never saw the plain password
	req.NotEqual("Str0ng&Secret!x", storedHash)
	match, err := auth.ComparePassword("Str0ng&Secret!x", storedHash)
	req.NoError(err)
	req.True(match)
}

func Test_Register_Rejects_Invalid_Credentials_Before_Touching_Storage(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	userRepository := mocks.NewMockIUserRepository(ctrl)
	// No CreateUser expectation: validation must short-circuit
	service := NewAuthService(userRepository, time.Hour)

	_, _, err := service.Register("not-an-email", "Str0ng&Secret!x")
	req.ErrorIs(err, errors.ErrValidation)

	_, _, err = service.Register("alice@example.com", "weak")
	req.ErrorIs(err, errors.ErrValidation)
}

func Test_Register_Propagates_Duplicate_Email(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	userRepository := mocks.NewMockIUserRepository(ctrl)
	userRepository.EXPECT().
		CreateUser("alice@example.com", gomock.Any()).
		Return("", errors.ErrUserAlreadyExists)

	service := NewAuthService(userRepository, time.Hour)

	_, _, err := service.Register("alice@example.com", "Str0ng&Secret!x")
	req.ErrorIs(err, errors.ErrUserAlreadyExists)
}

func Test_Login_With_Correct_Password(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	userRepository := mocks.NewMockIUserRepository(ctrl)

	hash, err := auth.HashPassword("Str0ng&Secret!x")
	req.NoError(err)
	userRepository.EXPECT().
		GetUserByEmail("alice@example.com").
		Return(repositories.User{ID: "user-1", Email: "alice@example.com", PasswordHash: hash, Roles: []string{"user"}}, nil)

	service := NewAuthService(userRepository, time.Hour)

	token, userID, err := service.Login("alice@example.com", "Str0ng&Secret!x")
	req.NoError(err)
	req.Equal("user-1", userID)

	claims, err := auth.ValidateToken(string(token))
	req.NoError(err)
	req.Equal("user-1", claims.UserID)
	req.Equal([]string{"user"}, claims.Roles)
}

func Test_Login_Failures_Are_Indistinguishable(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	userRepository := mocks.NewMockIUserRepository(ctrl)

	hash, err := auth.HashPassword("Str0ng&Secret!x")
	req.NoError(err)

	// Unknown account and wrong password produce the same error
	userRepository.EXPECT().
		GetUserByEmail("ghost@example.com").
		Return(repositories.User{}, errors.ErrUserNotFound)
	userRepository.EXPECT().
		GetUserByEmail("alice@example.com").
		Return(repositories.User{ID: "user-1", PasswordHash: hash}, nil)

	service := NewAuthService(userRepository, time.Hour)

	_, _, err = service.Login("ghost@example.com", "Str0ng&Secret!x")
	req.ErrorIs(err, errors.ErrInvalidCredentials)

	_, _, err = service.Login("alice@example.com", "wrong-password")
	req.ErrorIs(err, errors.ErrInvalidCredentials)
}
