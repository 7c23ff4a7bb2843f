package repositories

import (
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

type IUserRepository interface {
	UpsertUser(user User) error
	GetUser(id string) (User, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) UserRepository {
	return UserRepository{db: db}
}

// User is an identity registered with the embedded provider.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserPrefix namespaces user records.
const UserPrefix = "user:"

func userKey(id string) []byte { return []byte(UserPrefix + id) }

// UpsertUser creates the user or refreshes its name and role, keeping the
// original creation date.
func (u UserRepository) UpsertUser(user User) error {
	now := time.Now().UTC()
	return u.db.Update(func(txn *badger.Txn) error {
		existing, err := getUser(txn, user.ID)
		switch {
		case err == nil:
			user.CreatedAt = existing.CreatedAt
		case errors.Is(err, errors.ErrUserNotFound):
			user.CreatedAt = now
		default:
			return err
		}
		user.UpdatedAt = now
		data, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("marshal failed: %w", err)
		}
		return txn.Set(userKey(user.ID), data)
	})
}

func (u UserRepository) GetUser(id string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = getUser(txn, id)
		return err
	})
	return user, err
}

func getUser(txn *badger.Txn, id string) (User, error) {
	item, err := txn.Get(userKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return User{}, errors.ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	var user User
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &user)
	})
	return user, err
}
