package auth

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"perpd/pkg/storage"
	"perpd/pkg/util"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrMissingFields      = errors.New("email and password are required")
)

// Service handles user registration and sign-in.
type Service struct {
	users  *storage.UserStore
	tokens *TokenIssuer
	clock  util.Clock
	log    *zap.SugaredLogger
}

func NewService(users *storage.UserStore, tokens *TokenIssuer, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{users: users, tokens: tokens, clock: util.RealClock{}, log: log}
}

// Register creates a user with a bcrypt-hashed password.
func (s *Service) Register(email, password string) (*storage.User, error) {
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}
	if _, err := s.users.GetByEmail(email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, storage.ErrUserNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &storage.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.users.Save(u); err != nil {
		return nil, err
	}
	s.log.Infow("user registered", "user_id", u.ID, "email", email)
	return u, nil
}

// Login verifies credentials and issues a session token. Unknown emails and
// wrong passwords fail identically.
func (s *Service) Login(email, password string) (string, error) {
	u, err := s.users.GetByEmail(email)
	if errors.Is(err, storage.ErrUserNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	return s.tokens.Issue(u.ID)
}
