//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"dm-engine/errors"
)

type IUserRepository interface {
	CreateUser(email, hashedPassword string) (string, error)
	GetUserByEmail(email string) (User, error)
	Exists(id string) (bool, error)
}

// User is the storage representation of an account. The delivery engine
// itself only ever needs the opaque ID; credentials stay in this layer.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"createdAt"`
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) IUserRepository {
	return &UserRepository{db: db}
}

func userKey(id string) []byte {
	return []byte("user:" + id)
}

// userEmailKey is a secondary index: email -> user id.
func userEmailKey(email string) []byte {
	return []byte("useremail:" + email)
}

func (r *UserRepository) CreateUser(email, hashedPassword string) (string, error) {
	id := uuid.NewString()
	user := User{
		ID:           id,
		Email:        email,
		PasswordHash: hashedPassword,
		Roles:        []string{"user"},
		CreatedAt:    time.Now().UTC(),
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return "", err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(userEmailKey(email))
		if err == nil {
			return errors.ErrUserAlreadyExists
		}
		if !stderrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(userKey(id), raw); err != nil {
			return err
		}
		return txn.Set(userEmailKey(email), []byte(id))
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *UserRepository) GetUserByEmail(email string) (User, error) {
	var user User
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userEmailKey(email))
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		var id []byte
		if id, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get(userKey(string(id)))
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: dangling email index for %s", errors.ErrUserNotFound, email)
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &user)
		})
	})
	return user, err
}

func (r *UserRepository) Exists(id string) (bool, error) {
	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(id))
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}
