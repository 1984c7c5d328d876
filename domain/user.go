package domain

import "time"

// Role is the authority granted to a user.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole maps stored role values (including the legacy ROLE_ prefixed and
// numeric forms) to a Role. Unknown values fall back to RoleUser.
func ParseRole(value string) Role {
	switch value {
	case "ADMIN", "ROLE_ADMIN", "1":
		return RoleAdmin
	default:
		return RoleUser
	}
}

// User represents a registered account.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Email        string     `json:"email,omitempty"`
	Nickname     string     `json:"nickname,omitempty"`
	Role         Role       `json:"role"`
	Enabled      bool       `json:"enabled"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (u *User) IsActive() bool {
	return u != nil && u.Enabled
}

// Principal builds the request identity for this user.
func (u *User) Principal() Principal {
	return Principal{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
		Enabled:  u.Enabled,
	}
}
