package client

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized is returned for unknown, disabled or mismatching clients.
var ErrUnauthorized = errors.New("invalid client credentials")

const minSecretLength = 16

// Service registers and authenticates API clients.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a client service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Register stores a client with a bcrypt hash of its secret.
func (s *Service) Register(ctx context.Context, creds Credentials) (Client, error) {
	id := strings.TrimSpace(creds.ID)
	if id == "" {
		return Client{}, errors.New("client id is required")
	}
	if len(creds.Secret) < minSecretLength {
		return Client{}, errors.New("client secret must be at least 16 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Secret), bcrypt.DefaultCost)
	if err != nil {
		return Client{}, err
	}
	c := Client{ID: id, SecretHash: hash, CreatedAt: s.now().UTC()}
	if err := s.repo.Create(ctx, c); err != nil {
		return Client{}, err
	}
	return c, nil
}

// Seed registers every id:secret pair, skipping ids already present.
func (s *Service) Seed(ctx context.Context, clients map[string]string) error {
	for id, secret := range clients {
		if _, err := s.Register(ctx, Credentials{ID: id, Secret: secret}); err != nil && !errors.Is(err, ErrExists) {
			return err
		}
	}
	return nil
}

// Authenticate verifies a client's secret. Every failure reads the same to
// callers.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (Client, error) {
	if creds.ID == "" || creds.Secret == "" {
		return Client{}, ErrUnauthorized
	}
	c, err := s.repo.FindByID(ctx, creds.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Client{}, ErrUnauthorized
		}
		return Client{}, err
	}
	if c.Disabled {
		return Client{}, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(c.SecretHash, []byte(creds.Secret)); err != nil {
		return Client{}, ErrUnauthorized
	}
	now := s.now().UTC()
	if err := s.repo.Touch(ctx, c.ID, now); err != nil {
		return Client{}, err
	}
	c.LastSeen = now
	return c, nil
}
