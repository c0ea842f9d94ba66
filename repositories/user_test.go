package repositories

import (
	"testing"

	"github.com/stretchr/testify/require"

	"dm-engine/errors"
)

func Test_CreateUser_Then_Lookup_By_Email(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openTestDB(t))

	// When an account is created
	id, err := repository.CreateUser("alice@example.com", "argon2-hash")
	req.NoError(err)
	req.NotEmpty(id)

	// Then the email index resolves to the same account
	user, err := repository.GetUserByEmail("alice@example.com")
	req.NoError(err)
	req.Equal(id, user.ID)
	req.Equal("alice@example.com", user.Email)
	req.Equal("argon2-hash", user.PasswordHash)
	req.Equal([]string{"user"}, user.Roles)

	// And existence checks see it
	found, err := repository.Exists(id)
	req.NoError(err)
	req.True(found)
}

func Test_CreateUser_Rejects_Duplicate_Email(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openTestDB(t))

	_, err := repository.CreateUser("bob@example.com", "hash-1")
	req.NoError(err)

	// A second sign-up with the same email is refused
	_, err = repository.CreateUser("bob@example.com", "hash-2")
	req.ErrorIs(err, errors.ErrUserAlreadyExists)
}

func Test_GetUserByEmail_Unknown_Email(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openTestDB(t))

	_, err := repository.GetUserByEmail("nobody@example.com")
	req.ErrorIs(err, errors.ErrUserNotFound)
}

func Test_Exists_Unknown_ID(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openTestDB(t))

	found, err := repository.Exists("4fd1f00b-0000-0000-0000-000000000000")
	req.NoError(err)
	req.False(found)
}
