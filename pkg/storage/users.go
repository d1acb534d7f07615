package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

var ErrUserNotFound = errors.New("user not found")

// User is a venue account record. The password is stored as a bcrypt hash,
// never in the clear.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserStore persists users in Pebble, keyed by email.
type UserStore struct {
	db *pebble.DB
}

func OpenUserStore(path string) (*UserStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &UserStore{db: db}, nil
}

func (s *UserStore) Close() error { return s.db.Close() }

// keys: u:<email>
func userKey(email string) []byte { return append([]byte("u:"), email...) }

func (s *UserStore) Save(u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := s.db.Set(userKey(u.Email), data, pebble.Sync); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *UserStore) GetByEmail(email string) (*User, error) {
	data, closer, err := s.db.Get(userKey(email))
	if err == pebble.ErrNotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	defer closer.Close()

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}
