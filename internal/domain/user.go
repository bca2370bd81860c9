package domain

import (
	"context"
	"time"
)

// User kinds.
const (
	UserRegistered = "registered"
	UserAnonymous  = "anonymous"
	UserTest       = "test"
)

// Roles carried in JWT claims.
const (
	RoleUser      = "user"
	RoleAdmin     = "admin"
	RoleAnonymous = "anonymous"
)

type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:191;not null" json:"username"`
	PasswordHash string    `gorm:"size:100" json:"-"`
	Kind         string    `gorm:"size:16;not null;default:anonymous" json:"kind"`
	Role         string    `gorm:"size:16;not null;default:user" json:"role"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Registered reports whether the user signed up with a credential.
func (u *User) Registered() bool { return u.Kind == UserRegistered }

type UserRepository interface {
	// GetOrCreate returns the user with the given username, inserting it
	// first when absent. Safe under concurrent first contact.
	GetOrCreate(ctx context.Context, u *User) (*User, error)
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id uint64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context, q string, offset, limit int) ([]User, int64, error)
	SetRole(ctx context.Context, id uint64, role string) error
}
