package account

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/auth"
)

var (
	ErrNotFound  = errors.New("user not found")
	ErrDuplicate = errors.New("username or email already in use")
	ErrInvalid   = errors.New("invalid input")
)

// User maps to the users table.
type User struct {
	ID             uuid.UUID  `json:"id"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	Role           string     `json:"role"`
	IsActive       bool       `json:"is_active"`
	BlockchainAddr *string    `json:"blockchain_addr"`
	ProfileID      *uuid.UUID `json:"profile_id"`
	LastLogin      *time.Time `json:"last_login"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Profile is the user view returned by login and /auth/me.
type Profile struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	Role           string    `json:"role"`
	BlockchainAddr *string   `json:"blockchain_addr"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:             u.ID,
		Email:          u.Email,
		Username:       u.Username,
		Role:           u.Role,
		BlockchainAddr: u.BlockchainAddr,
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      Profile   `json:"user"`
}

// ProfileUpdate changes the caller's own account. Nil fields are kept.
type ProfileUpdate struct {
	Username       *string `json:"username"`
	Email          *string `json:"email"`
	BlockchainAddr *string `json:"blockchain_addr"`
}

func (p ProfileUpdate) Apply(u *User) {
	if p.Username != nil {
		u.Username = strings.TrimSpace(*p.Username)
	}
	if p.Email != nil {
		u.Email = normalizeEmail(*p.Email)
	}
	if p.BlockchainAddr != nil {
		if *p.BlockchainAddr == "" {
			u.BlockchainAddr = nil
		} else {
			u.BlockchainAddr = p.BlockchainAddr
		}
	}
}

// NewUser describes an account created from the command line.
type NewUser struct {
	Username       string
	Email          string
	Password       string
	Role           string
	BlockchainAddr string
	ProfileID      *uuid.UUID
}

// Column widths of users.username and users.email, in characters.
const (
	maxUsernameLength = 80
	maxEmailLength    = 120
)

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (u *User) Validate() error {
	if u.Username == "" || utf8.RuneCountInString(u.Username) > maxUsernameLength {
		return fmt.Errorf("%w: username must be 1 to 80 characters", ErrInvalid)
	}
	if _, err := mail.ParseAddress(u.Email); err != nil || utf8.RuneCountInString(u.Email) > maxEmailLength {
		return fmt.Errorf("%w: invalid email", ErrInvalid)
	}
	if !auth.ValidRole(u.Role) {
		return fmt.Errorf("%w: role must be patient, doctor or admin", ErrInvalid)
	}
	if u.BlockchainAddr != nil && !common.IsHexAddress(*u.BlockchainAddr) {
		return fmt.Errorf("%w: invalid blockchain_addr", ErrInvalid)
	}
	return nil
}
