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

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/turtacn/exproto-go/pkg/auth"
)

var (
	// ErrUserExists is returned when adding a user that is already
	// configured.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when a user is not configured.
	ErrUserNotFound = errors.New("user not found")
)

func checkAlgorithm(algorithm string) error {
	switch auth.HashAlgorithm(algorithm) {
	case auth.HashPlain, auth.HashSHA256, auth.HashBcrypt:
		return nil
	default:
		return fmt.Errorf("unsupported algorithm: %s (supported: plain, sha256, bcrypt)", algorithm)
	}
}

func (c *Config) userIndex(username string) int {
	return slices.IndexFunc(c.Gateway.Auth.Users, func(u UserConfig) bool { return u.Username == username })
}

// AddUser adds a user to the auth section.
func (c *Config) AddUser(username, password, algorithm string, enabled bool) error {
	if c.userIndex(username) >= 0 {
		return fmt.Errorf("%w: %s", ErrUserExists, username)
	}
	if err := checkAlgorithm(algorithm); err != nil {
		return err
	}
	c.Gateway.Auth.Users = append(c.Gateway.Auth.Users, UserConfig{
		Username:  username,
		Password:  password,
		Algorithm: algorithm,
		Enabled:   enabled,
	})
	slog.Debug("added user to configuration", "username", username)
	return nil
}

// UpdateUser changes a user. An empty password or algorithm leaves the
// current value.
func (c *Config) UpdateUser(username, password, algorithm string, enabled bool) error {
	i := c.userIndex(username)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	u := &c.Gateway.Auth.Users[i]
	if algorithm != "" {
		if err := checkAlgorithm(algorithm); err != nil {
			return err
		}
		u.Algorithm = algorithm
	}
	if password != "" {
		u.Password = password
	}
	u.Enabled = enabled
	slog.Debug("updated user in configuration", "username", username)
	return nil
}

// SetUserEnabled enables or disables a user.
func (c *Config) SetUserEnabled(username string, enabled bool) error {
	i := c.userIndex(username)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	c.Gateway.Auth.Users[i].Enabled = enabled
	return nil
}

// SetSuperuser grants or revokes the superuser flag of a user.
func (c *Config) SetSuperuser(username string, superuser bool) error {
	i := c.userIndex(username)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	c.Gateway.Auth.Users[i].Superuser = superuser
	return nil
}

// RemoveUser removes a user from the auth section.
func (c *Config) RemoveUser(username string) error {
	i := c.userIndex(username)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	c.Gateway.Auth.Users = slices.Delete(c.Gateway.Auth.Users, i, i+1)
	slog.Debug("removed user from configuration", "username", username)
	return nil
}

// ListUsers returns the configured users.
func (c *Config) ListUsers() []UserConfig {
	return c.Gateway.Auth.Users
}
