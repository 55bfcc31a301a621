package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-process Directory used in tests and local runs.
type MemoryDirectory struct {
	mu     sync.RWMutex
	users  map[string]User
	order  []string
	groups map[string]map[string]struct{}
}

func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{
		users:  make(map[string]User),
		groups: make(map[string]map[string]struct{}),
	}
	for _, u := range users {
		d.add(u)
	}
	return d
}

func (d *MemoryDirectory) add(u User) {
	if _, ok := d.users[u.Username]; !ok {
		d.order = append(d.order, u.Username)
	}
	d.users[u.Username] = u
}

func (d *MemoryDirectory) FindByPhone(ctx context.Context, e164 string) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []User
	for _, name := range d.order {
		if u := d.users[name]; u.Phone == e164 {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *MemoryDirectory) FindByPhonePrefix(ctx context.Context, digits string) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []User
	for _, name := range d.order {
		if u := d.users[name]; strings.HasPrefix(strings.TrimPrefix(u.Phone, "+"), digits) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *MemoryDirectory) CreateUser(ctx context.Context, username string, attrs Attributes) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[username]; ok {
		return User{}, ErrUserExists
	}
	u := User{
		Username:      username,
		Sub:           uuid.NewString(),
		Name:          attrs.Name,
		Phone:         attrs.Phone,
		PhoneVerified: attrs.PhoneVerified,
	}
	d.add(u)
	return u, nil
}

func (d *MemoryDirectory) AddToGroup(ctx context.Context, username, group string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[username]; !ok {
		return ErrUserNotFound
	}
	if d.groups[username] == nil {
		d.groups[username] = make(map[string]struct{})
	}
	d.groups[username][group] = struct{}{}
	return nil
}

// InGroup reports whether username has been added to group.
func (d *MemoryDirectory) InGroup(username, group string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.groups[username][group]
	return ok
}
