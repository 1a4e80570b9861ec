package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mudler/xlog"

	"agenthub/internal/domain"
	"agenthub/internal/repo"
)

// ErrInvalidCredentials covers every login failure. Callers must not
// reveal which check failed.
var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	minUsernameLen = 3
	minPasswordLen = 8
	defaultTier    = "Free"
)

// Service registers and authenticates users.
type Service struct {
	Repo   repo.Repo
	Signer *Signer
	Now    func() time.Time
}

func NewService(r repo.Repo, signer *Signer) *Service {
	return &Service{Repo: r, Signer: signer, Now: time.Now}
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     string
}

// Register validates the input, hashes the password and stores a new
// active user. The role defaults to "user" when empty.
func (s *Service) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	if len(strings.TrimSpace(in.Username)) < minUsernameLen {
		return domain.User{}, domain.ValidationError{Field: "username", Reason: fmt.Sprintf("must be at least %d characters", minUsernameLen)}
	}
	if !strings.Contains(in.Email, "@") {
		return domain.User{}, domain.ValidationError{Field: "email", Reason: "must be a valid email address"}
	}
	if len(in.Password) < minPasswordLen {
		return domain.User{}, domain.ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", minPasswordLen)}
	}
	role := in.Role
	if role == "" {
		role = domain.RoleUser
	}
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return domain.User{}, domain.ValidationError{Field: "role", Reason: "must be user or admin"}
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return domain.User{}, err
	}
	now := s.Now().UTC().Format(time.RFC3339)
	u := domain.User{
		ID:           uuid.NewString(),
		Username:     strings.TrimSpace(in.Username),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		Role:         role,
		Tier:         defaultTier,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	xlog.Info("user registered", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// Login checks the email and password and returns the user with a fresh
// signed token. Unknown email, deactivated account and wrong password
// all map to ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	u, err := s.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			xlog.Debug("login rejected", "reason", "unknown email")
			return domain.User{}, "", ErrInvalidCredentials
		}
		return domain.User{}, "", err
	}
	if !u.IsActive {
		xlog.Debug("login rejected", "reason", "inactive user", "user_id", u.ID)
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !VerifyPassword(password, u.PasswordHash) {
		xlog.Debug("login rejected", "reason", "bad password", "user_id", u.ID)
		return domain.User{}, "", ErrInvalidCredentials
	}
	now := s.Now().UTC().Format(time.RFC3339)
	if err := s.Repo.TouchLogin(ctx, u.ID, now); err != nil {
		return domain.User{}, "", err
	}
	u.LastLoginAt = &now
	u.LoginCount++
	token, err := s.Signer.Issue(Claims{
		Subject:  u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		Tier:     u.Tier,
	})
	if err != nil {
		return domain.User{}, "", err
	}
	xlog.Info("user logged in", "user_id", u.ID, "login_count", u.LoginCount)
	return u, token, nil
}
