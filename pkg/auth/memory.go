// Copyright 2023 The emqx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrUserNotFound is returned for operations on unknown users.
var ErrUserNotFound = errors.New("user not found")

// MemoryAuthenticator checks credentials against an in-memory user table.
type MemoryAuthenticator struct {
	users   map[string]*User
	enabled bool
	mu      sync.RWMutex
}

// NewMemoryAuthenticator creates a new memory-based authenticator
func NewMemoryAuthenticator() *MemoryAuthenticator {
	return &MemoryAuthenticator{
		users:   make(map[string]*User),
		enabled: true,
	}
}

func (ma *MemoryAuthenticator) Name() string { return "memory" }

func (ma *MemoryAuthenticator) Enabled() bool {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return ma.enabled
}

// SetEnabled enables or disables this authenticator
func (ma *MemoryAuthenticator) SetEnabled(enabled bool) {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	ma.enabled = enabled
}

// AddUser stores username with password hashed by algorithm. An existing
// user of the same name is replaced.
func (ma *MemoryAuthenticator) AddUser(username, password string, algorithm HashAlgorithm) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	user, err := newUser(username, password, algorithm)
	if err != nil {
		return err
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()
	ma.users[username] = user
	slog.Info("added user", "username", username, "algorithm", algorithm)
	return nil
}

// RemoveUser removes a user from the authenticator
func (ma *MemoryAuthenticator) RemoveUser(username string) error {
	ma.mu.Lock()
	defer ma.mu.Unlock()

	if _, exists := ma.users[username]; !exists {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	delete(ma.users, username)
	return nil
}

// UpdateUser replaces the password of an existing user.
func (ma *MemoryAuthenticator) UpdateUser(username, password string, algorithm HashAlgorithm) error {
	updated, err := newUser(username, password, algorithm)
	if err != nil {
		return err
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()
	user, exists := ma.users[username]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	user.PasswordHash = updated.PasswordHash
	user.Algorithm = updated.Algorithm
	user.Salt = updated.Salt
	return nil
}

// GetUser returns a copy of the user without its password hash.
func (ma *MemoryAuthenticator) GetUser(username string) (*User, error) {
	ma.mu.RLock()
	defer ma.mu.RUnlock()

	user, exists := ma.users[username]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return &User{
		Username:  user.Username,
		Algorithm: user.Algorithm,
		Enabled:   user.Enabled,
		Superuser: user.Superuser,
	}, nil
}

// SetUserEnabled enables or disables a specific user
func (ma *MemoryAuthenticator) SetUserEnabled(username string, enabled bool) error {
	return ma.update(username, func(u *User) { u.Enabled = enabled })
}

// SetSuperuser grants or revokes superuser rights.
func (ma *MemoryAuthenticator) SetSuperuser(username string, superuser bool) error {
	return ma.update(username, func(u *User) { u.Superuser = superuser })
}

func (ma *MemoryAuthenticator) update(username string, fn func(*User)) error {
	ma.mu.Lock()
	defer ma.mu.Unlock()

	user, exists := ma.users[username]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	fn(user)
	return nil
}

// Authenticate ignores unknown and empty usernames so that later
// authenticators in a chain may decide.
func (ma *MemoryAuthenticator) Authenticate(username, password string) Verdict {
	ma.mu.RLock()
	defer ma.mu.RUnlock()

	if !ma.enabled || username == "" {
		return Verdict{Outcome: Ignore}
	}
	user, exists := ma.users[username]
	if !exists {
		return Verdict{Outcome: Ignore}
	}
	if !user.Enabled {
		slog.Warn("user is disabled", "username", username)
		return Verdict{Outcome: Deny}
	}
	if !verifyPassword(password, user.PasswordHash, user.Salt, user.Algorithm) {
		return Verdict{Outcome: Deny}
	}
	return Verdict{Outcome: Allow, Superuser: user.Superuser}
}

// Count returns the number of users
func (ma *MemoryAuthenticator) Count() int {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return len(ma.users)
}

func newUser(username, password string, algorithm HashAlgorithm) (*User, error) {
	// SHA256 digests are salted with the username.
	salt := ""
	if algorithm == HashSHA256 {
		salt = username
	}
	hash, err := hashPassword(password, salt, algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return &User{
		Username:     username,
		PasswordHash: hash,
		Algorithm:    algorithm,
		Salt:         salt,
		Enabled:      true,
	}, nil
}
