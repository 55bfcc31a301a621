package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("identity not found")
	ErrUserExists   = errors.New("directory user already exists")
	ErrUserNotFound = errors.New("directory user not found")
)

// User is a directory entry. Sub is the stable patient identifier.
type User struct {
	Username      string
	Sub           string
	Name          string
	Phone         string
	PhoneVerified bool
}

type Attributes struct {
	Phone         string
	Name          string
	PhoneVerified bool
}

// Directory is the external user directory.
type Directory interface {
	FindByPhone(ctx context.Context, e164 string) ([]User, error)
	// FindByPhonePrefix matches entries whose phone, ignoring a leading "+", starts with digits.
	FindByPhonePrefix(ctx context.Context, digits string) ([]User, error)
	CreateUser(ctx context.Context, username string, attrs Attributes) (User, error)
	AddToGroup(ctx context.Context, username, group string) error
}

// Resolver maps a normalized phone number to a directory user.
type Resolver struct {
	dir             Directory
	requireVerified bool
	logger          *zap.Logger
}

func NewResolver(dir Directory, requireVerified bool, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{dir: dir, requireVerified: requireVerified, logger: logger}
}

// Resolve tries an exact match first and falls back to a prefix match on the
// bare digits, which catches entries stored without the leading "+".
func (r *Resolver) Resolve(ctx context.Context, e164 string) (User, error) {
	users, err := r.dir.FindByPhone(ctx, e164)
	if err != nil {
		return User{}, fmt.Errorf("find by phone: %w", err)
	}
	if len(users) == 0 {
		users, err = r.dir.FindByPhonePrefix(ctx, strings.TrimPrefix(e164, "+"))
		if err != nil {
			return User{}, fmt.Errorf("find by phone prefix: %w", err)
		}
	}
	if len(users) == 0 {
		return User{}, ErrNotFound
	}

	u := users[0]
	if r.requireVerified && !u.PhoneVerified {
		r.logger.Info("directory user has unverified phone", zap.String("phone", e164), zap.String("username", u.Username))
		return User{}, ErrNotFound
	}
	if u.Sub == "" {
		u.Sub = u.Username
	}
	return u, nil
}
