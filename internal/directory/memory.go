package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDirectory keeps users in process memory.
// It backs tests and single-process development deployments.
type MemoryDirectory struct {
	mu    sync.Mutex
	users map[string]*User
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]*User)}
}

func (d *MemoryDirectory) Lookup(_ context.Context, username string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[username]
	if !ok {
		return nil, nil
	}
	return clone(u), nil
}

func (d *MemoryDirectory) Create(_ context.Context, username, email, timezone string) (*User, error) {
	if username == "" {
		return nil, ErrInvalidUsername
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if u, ok := d.users[username]; ok {
		return clone(u), nil
	}

	now := time.Now().UTC()
	u := &User{
		ID:        uuid.New(),
		Username:  username,
		Email:     email,
		Timezone:  timezone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.users[username] = u
	return clone(u), nil
}

func (d *MemoryDirectory) Update(_ context.Context, u *User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.users[u.Username]
	if !ok {
		return fmt.Errorf("directory: user %q not found", u.Username)
	}
	existing.Email = u.Email
	existing.Timezone = u.Timezone
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (d *MemoryDirectory) SetGroups(_ context.Context, username string, groups []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.users[username]
	if !ok {
		return fmt.Errorf("directory: user %q not found", username)
	}
	existing.Groups = normalizeGroups(groups)
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// Len returns the number of stored users.
func (d *MemoryDirectory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.users)
}

func clone(u *User) *User {
	c := *u
	if u.Groups != nil {
		c.Groups = append([]string(nil), u.Groups...)
	}
	return &c
}

// normalizeGroups returns a sorted, de-duplicated copy without empty names.
func normalizeGroups(groups []string) []string {
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if g == "" {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
