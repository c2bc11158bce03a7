// Package auth implements the session validator collaborator: token lookup
// at connect time, per-message revalidation, and activity tracking. Token
// issuance lives here too so the binary is self-contained, but the core only
// depends on Validate/Touch/GetIdentity.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"palaver/internal/models"
)

const DefaultTokenExpiry = 24 * time.Hour

var (
	ErrUserExists     = errors.New("user already exists")
	ErrLoginFailed    = errors.New("login failed")
	ErrInvalidSession = errors.New("invalid or expired session")
)

// Credentials is the persisted login record for one user.
type Credentials struct {
	UserID       string
	Username     string
	DisplayName  string
	PasswordHash string
}

// CredentialStore is the slice of the document store auth needs.
type CredentialStore interface {
	UpsertCredentials(c Credentials) error
	GetCredentials(username string) (Credentials, error)
	GetUser(id string) (models.User, error)
}

type Config struct {
	TokenExpiry time.Duration
}

type Service struct {
	Config
	store CredentialStore
	// token -> userID, expires with the token itself
	liveTokens geche.Geche[string, string]
	issuedAt   geche.Geche[string, int64]
	lastActive geche.Geche[string, int64]
	now        func() time.Time
}

func NewService(ctx context.Context, cfg Config, store CredentialStore) *Service {
	if cfg.TokenExpiry <= 0 {
		cfg.TokenExpiry = DefaultTokenExpiry
	}
	return &Service{
		Config:     cfg,
		store:      store,
		liveTokens: geche.NewMapTTLCache[string, string](ctx, cfg.TokenExpiry, time.Minute),
		issuedAt:   geche.NewMapTTLCache[string, int64](ctx, cfg.TokenExpiry, time.Minute),
		lastActive: geche.NewMapTTLCache[string, int64](ctx, cfg.TokenExpiry, time.Minute),
		now:        time.Now,
	}
}

// AddUser creates credentials with a bcrypt password hash.
func (s *Service) AddUser(username, displayName, password string) (Credentials, error) {
	if _, err := s.store.GetCredentials(username); err == nil {
		return Credentials{}, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Credentials{}, fmt.Errorf("hash password: %w", err)
	}

	creds := Credentials{
		UserID:       uuid.NewString(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	}
	if err := s.store.UpsertCredentials(creds); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Login checks the password and issues a session token.
func (s *Service) Login(username, password string) (string, error) {
	creds, err := s.store.GetCredentials(username)
	if err != nil {
		return "", ErrLoginFailed
	}
	if bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)) != nil {
		return "", ErrLoginFailed
	}
	// Deleted profiles keep their credential record but cannot sign in.
	user, err := s.store.GetUser(creds.UserID)
	if err != nil || user.Status == models.UserStatusDeleted {
		return "", ErrLoginFailed
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}
	s.liveTokens.Set(token, creds.UserID)
	s.issuedAt.Set(token, s.now().UnixMilli())
	return token, nil
}

func (s *Service) Logoff(token string) error {
	return s.liveTokens.Del(token)
}

// GetIdentity resolves a token into the identity it was issued to. Used by
// the gateway at connect time.
func (s *Service) GetIdentity(token string) (models.Identity, error) {
	userID, err := s.liveTokens.Get(token)
	if err != nil {
		return models.Identity{}, ErrInvalidSession
	}
	user, err := s.store.GetUser(userID)
	if err != nil {
		return models.Identity{}, fmt.Errorf("resolve identity: %w", err)
	}
	issued, _ := s.issuedAt.Get(token)
	return models.Identity{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Token:       token,
		IssuedAt:    issued,
	}, nil
}

// Validate re-checks that a session token is still live and still belongs to
// the given identity. Called per message, not just at connect, so a token
// expiring mid-session stops further sends.
func (s *Service) Validate(identityID, token string) (bool, string) {
	userID, err := s.liveTokens.Get(token)
	if err != nil {
		return false, "session expired"
	}
	if userID != identityID {
		return false, "token does not belong to identity"
	}
	return true, ""
}

// Touch records activity for an identity.
func (s *Service) Touch(identityID string) {
	s.lastActive.Set(identityID, s.now().UnixMilli())
}

// LastActive returns the last recorded activity time, if any.
func (s *Service) LastActive(identityID string) (int64, bool) {
	at, err := s.lastActive.Get(identityID)
	if err != nil {
		return 0, false
	}
	return at, true
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
