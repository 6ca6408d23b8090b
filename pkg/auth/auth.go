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

// Package auth provides username/password authentication for gateway
// clients. Credentials are checked by a chain of authenticators; passwords
// may be stored plain, as salted SHA256 or as bcrypt hashes.
package auth

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashAlgorithm defines the password hashing algorithm type
type HashAlgorithm string

const (
	// HashPlain stores passwords as given.
	HashPlain HashAlgorithm = "plain"
	// HashSHA256 stores salted SHA256 digests.
	HashSHA256 HashAlgorithm = "sha256"
	// HashBcrypt stores bcrypt hashes.
	HashBcrypt HashAlgorithm = "bcrypt"
)

// User represents a user credential entry
type User struct {
	Username     string        `json:"username"`
	PasswordHash string        `json:"password_hash"`
	Algorithm    HashAlgorithm `json:"algorithm"`
	Salt         string        `json:"salt,omitempty"`
	Enabled      bool          `json:"enabled"`
	Superuser    bool          `json:"superuser"`
}

// Outcome is the answer of a single authenticator.
type Outcome int

const (
	// Allow accepts the credentials.
	Allow Outcome = iota
	// Deny rejects the credentials.
	Deny
	// Errored means the authenticator could not decide.
	Errored
	// Ignore passes the decision to the next authenticator.
	Ignore
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Errored:
		return "error"
	case Ignore:
		return "ignore"
	default:
		return "unknown"
	}
}

// Verdict is the result of checking one set of credentials.
type Verdict struct {
	Outcome   Outcome
	Superuser bool
	// By names the authenticator that decided.
	By string
}

// Authenticator defines the interface for authentication providers
type Authenticator interface {
	Authenticate(username, password string) Verdict
	Name() string
	Enabled() bool
}

// AuthChain runs authenticators in order until one allows or denies.
type AuthChain struct {
	authenticators []Authenticator
	enabled        bool
	mu             sync.RWMutex
}

// NewAuthChain creates a new, enabled authentication chain.
func NewAuthChain() *AuthChain {
	return &AuthChain{enabled: true}
}

// AddAuthenticator appends auth to the chain.
func (ac *AuthChain) AddAuthenticator(auth Authenticator) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.authenticators = append(ac.authenticators, auth)
}

// Authenticate processes authentication through the chain:
//   - the first Allow or Deny decides
//   - Errored and Ignore fall through to the next authenticator
//   - a chain where nobody decided denies
//   - an empty chain allows
//   - a disabled chain ignores
func (ac *AuthChain) Authenticate(username, password string) Verdict {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	if !ac.enabled {
		return Verdict{Outcome: Ignore}
	}
	if len(ac.authenticators) == 0 {
		slog.Warn("no authenticators configured, allowing client", "username", username)
		return Verdict{Outcome: Allow}
	}

	for _, auth := range ac.authenticators {
		if !auth.Enabled() {
			continue
		}
		v := auth.Authenticate(username, password)
		v.By = auth.Name()
		switch v.Outcome {
		case Allow:
			slog.Debug("authentication succeeded", "username", username, "authenticator", v.By)
			return v
		case Deny:
			slog.Warn("authentication failed", "username", username, "authenticator", v.By)
			return v
		case Errored:
			slog.Error("authenticator error", "username", username, "authenticator", v.By)
		}
	}

	slog.Warn("no authenticator accepted client, denying", "username", username)
	return Verdict{Outcome: Deny}
}

// SetEnabled enables or disables the authentication chain
func (ac *AuthChain) SetEnabled(enabled bool) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.enabled = enabled
}

// IsEnabled returns whether the authentication chain is enabled
func (ac *AuthChain) IsEnabled() bool {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.enabled
}

// Clear removes all authenticators from the chain
func (ac *AuthChain) Clear() {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.authenticators = nil
}

// Count returns the number of authenticators in the chain
func (ac *AuthChain) Count() int {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return len(ac.authenticators)
}

func hashPassword(password, salt string, algorithm HashAlgorithm) (string, error) {
	switch algorithm {
	case HashPlain:
		return password, nil
	case HashSHA256:
		sum := sha256.Sum256([]byte(salt + password))
		return fmt.Sprintf("%x", sum), nil
	case HashBcrypt:
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		return string(hash), nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}

func verifyPassword(password, hash, salt string, algorithm HashAlgorithm) bool {
	switch algorithm {
	case HashPlain:
		return password == hash
	case HashSHA256:
		expected, err := hashPassword(password, salt, HashSHA256)
		return err == nil && expected == hash
	case HashBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	default:
		return false
	}
}
