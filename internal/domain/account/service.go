package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

// Issuer signs access tokens. Satisfied by *auth.TokenIssuer.
type Issuer interface {
	Issue(userID, username, role string) (string, time.Time, error)
}

type Service struct {
	users  UserRepository
	issuer Issuer
	logger zerolog.Logger
}

func NewService(users UserRepository, issuer Issuer, logger zerolog.Logger) *Service {
	return &Service{users: users, issuer: issuer, logger: logger}
}

// Login checks the credentials of an active user and issues a token.
// Unknown emails and wrong passwords both yield auth.ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalid)
	}
	u, err := s.users.GetActiveByEmail(ctx, normalizeEmail(req.Email))
	if errors.Is(err, ErrNotFound) {
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		return nil, err
	}

	token, exp, err := s.issuer.Issue(u.ID.String(), u.Username, u.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	if err := s.users.TouchLastLogin(ctx, u.ID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("failed to record last login")
	}
	return &LoginResponse{Token: token, ExpiresAt: exp, User: u.Profile()}, nil
}

func parseUserID(userID string) (uuid.UUID, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid user id", ErrInvalid)
	}
	return id, nil
}

func (s *Service) Me(ctx context.Context, userID string) (*User, error) {
	id, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, id)
}

func (s *Service) UpdateMe(ctx context.Context, userID string, p ProfileUpdate) (*User, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.Apply(u)
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser registers an account. Used by the user create command.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	u := &User{
		Username:     strings.TrimSpace(in.Username),
		Email:        normalizeEmail(in.Email),
		PasswordHash: hash,
		Role:         in.Role,
		IsActive:     true,
		ProfileID:    in.ProfileID,
	}
	if u.Role == "" {
		u.Role = auth.RolePatient
	}
	if in.BlockchainAddr != "" {
		addr := in.BlockchainAddr
		u.BlockchainAddr = &addr
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// BlockchainAddr returns the user's registered address, or "" for users
// without one or ids that are not user accounts.
func (s *Service) BlockchainAddr(ctx context.Context, userID string) (string, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return "", nil
	}
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if u.BlockchainAddr == nil {
		return "", nil
	}
	return *u.BlockchainAddr, nil
}
