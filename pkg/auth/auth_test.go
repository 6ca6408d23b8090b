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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/exproto-go/pkg/blacklist"
	"github.com/turtacn/exproto-go/pkg/exproto"
)

func TestHashPassword(t *testing.T) {
	testCases := []struct {
		name      string
		salt      string
		algorithm HashAlgorithm
		expectErr bool
	}{
		{name: "plain", algorithm: HashPlain},
		{name: "sha256", salt: "user1", algorithm: HashSHA256},
		{name: "bcrypt", algorithm: HashBcrypt},
		{name: "unsupported", algorithm: "md5", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			hash, err := hashPassword("password123", tc.salt, tc.algorithm)
			if tc.expectErr {
				assert.Error(t, err)
				assert.Empty(t, hash)
				return
			}
			require.NoError(t, err)
			assert.True(t, verifyPassword("password123", hash, tc.salt, tc.algorithm))
			assert.False(t, verifyPassword("wrongpassword", hash, tc.salt, tc.algorithm))
		})
	}
}

func TestVerifyPasswordUnsupportedAlgorithm(t *testing.T) {
	assert.False(t, verifyPassword("password123", "password123", "", "md5"))
}

func TestMemoryAuthenticator(t *testing.T) {
	ma := NewMemoryAuthenticator()
	assert.Equal(t, "memory", ma.Name())
	assert.True(t, ma.Enabled())

	require.NoError(t, ma.AddUser("user1", "password123", HashPlain))
	require.NoError(t, ma.AddUser("user2", "password456", HashSHA256))
	require.NoError(t, ma.AddUser("user3", "password789", HashBcrypt))
	assert.Error(t, ma.AddUser("", "password", HashPlain))
	assert.Equal(t, 3, ma.Count())

	assert.Equal(t, Allow, ma.Authenticate("user1", "password123").Outcome)
	assert.Equal(t, Deny, ma.Authenticate("user1", "wrongpassword").Outcome)
	assert.Equal(t, Allow, ma.Authenticate("user2", "password456").Outcome)
	assert.Equal(t, Allow, ma.Authenticate("user3", "password789").Outcome)
	assert.Equal(t, Ignore, ma.Authenticate("nobody", "password").Outcome)
	assert.Equal(t, Ignore, ma.Authenticate("", "password").Outcome)

	require.NoError(t, ma.SetUserEnabled("user1", false))
	assert.Equal(t, Deny, ma.Authenticate("user1", "password123").Outcome)
	require.NoError(t, ma.SetUserEnabled("user1", true))

	require.NoError(t, ma.UpdateUser("user1", "newpassword", HashSHA256))
	assert.Equal(t, Deny, ma.Authenticate("user1", "password123").Outcome)
	assert.Equal(t, Allow, ma.Authenticate("user1", "newpassword").Outcome)
	assert.ErrorIs(t, ma.UpdateUser("nobody", "x", HashPlain), ErrUserNotFound)

	user, err := ma.GetUser("user1")
	require.NoError(t, err)
	assert.Empty(t, user.PasswordHash)
	assert.Equal(t, HashSHA256, user.Algorithm)

	require.NoError(t, ma.RemoveUser("user1"))
	assert.ErrorIs(t, ma.RemoveUser("user1"), ErrUserNotFound)
	assert.Equal(t, Ignore, ma.Authenticate("user1", "newpassword").Outcome)

	ma.SetEnabled(false)
	assert.Equal(t, Ignore, ma.Authenticate("user2", "password456").Outcome)
}

func TestMemoryAuthenticatorSuperuser(t *testing.T) {
	ma := NewMemoryAuthenticator()
	require.NoError(t, ma.AddUser("admin", "secret", HashPlain))
	assert.False(t, ma.Authenticate("admin", "secret").Superuser)

	require.NoError(t, ma.SetSuperuser("admin", true))
	v := ma.Authenticate("admin", "secret")
	assert.Equal(t, Allow, v.Outcome)
	assert.True(t, v.Superuser)
	assert.ErrorIs(t, ma.SetSuperuser("nobody", true), ErrUserNotFound)
}

func TestAuthChain(t *testing.T) {
	chain := NewAuthChain()
	assert.True(t, chain.IsEnabled())
	assert.Equal(t, Allow, chain.Authenticate("user", "password").Outcome)

	auth1 := NewMemoryAuthenticator()
	require.NoError(t, auth1.AddUser("user1", "password1", HashPlain))
	chain.AddAuthenticator(auth1)

	auth2 := NewMemoryAuthenticator()
	require.NoError(t, auth2.AddUser("user2", "password2", HashSHA256))
	chain.AddAuthenticator(auth2)
	assert.Equal(t, 2, chain.Count())

	v := chain.Authenticate("user2", "password2")
	assert.Equal(t, Allow, v.Outcome)
	assert.Equal(t, "memory", v.By)
	assert.Equal(t, Deny, chain.Authenticate("user1", "wrongpassword").Outcome)
	assert.Equal(t, Deny, chain.Authenticate("nobody", "password").Outcome)

	auth1.SetEnabled(false)
	assert.Equal(t, Deny, chain.Authenticate("user1", "password1").Outcome)

	chain.SetEnabled(false)
	assert.Equal(t, Ignore, chain.Authenticate("user2", "password2").Outcome)
	chain.SetEnabled(true)

	chain.Clear()
	assert.Equal(t, 0, chain.Count())
	assert.Equal(t, Allow, chain.Authenticate("anyuser", "anypassword").Outcome)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "allow", Allow.String())
	assert.Equal(t, "deny", Deny.String())
	assert.Equal(t, "error", Errored.String())
	assert.Equal(t, "ignore", Ignore.String())
	assert.Equal(t, "unknown", Outcome(999).String())
}

func TestClientAuthenticator(t *testing.T) {
	ma := NewMemoryAuthenticator()
	require.NoError(t, ma.AddUser("alice", "pw", HashBcrypt))
	require.NoError(t, ma.SetSuperuser("alice", true))
	chain := NewAuthChain()
	chain.AddAuthenticator(ma)
	ctx := context.Background()

	t.Run("valid credentials", func(t *testing.T) {
		a := NewClientAuthenticator(chain, false)
		res, err := a.Authenticate(ctx, exproto.ClientInfo{ClientID: "c1", Username: "alice"}, "pw")
		require.NoError(t, err)
		assert.True(t, res.IsSuperuser)
		assert.False(t, res.Anonymous)
		assert.Equal(t, "memory", res.Attrs["authenticator"])
	})

	t.Run("bad password", func(t *testing.T) {
		a := NewClientAuthenticator(chain, false)
		_, err := a.Authenticate(ctx, exproto.ClientInfo{Username: "alice"}, "nope")
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("anonymous allowed", func(t *testing.T) {
		a := NewClientAuthenticator(chain, true)
		res, err := a.Authenticate(ctx, exproto.ClientInfo{ClientID: "c2"}, "")
		require.NoError(t, err)
		assert.True(t, res.Anonymous)
	})

	t.Run("anonymous denied", func(t *testing.T) {
		a := NewClientAuthenticator(chain, false)
		_, err := a.Authenticate(ctx, exproto.ClientInfo{ClientID: "c2"}, "")
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("no chain", func(t *testing.T) {
		a := NewClientAuthenticator(nil, false)
		res, err := a.Authenticate(ctx, exproto.ClientInfo{Username: "bob"}, "x")
		require.NoError(t, err)
		assert.False(t, res.Anonymous)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewClientAuthenticator(chain, false).Authenticate(cctx, exproto.ClientInfo{Username: "alice"}, "pw")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("banned", func(t *testing.T) {
		banned := blacklist.New(0)
		require.NoError(t, banned.Add(blacklist.Entry{Kind: blacklist.KindClientID, Value: "c1", Reason: "abuse"}))
		require.NoError(t, banned.Add(blacklist.Entry{Kind: blacklist.KindPeerHost, Value: "10.9.0.0/16"}))
		a := NewClientAuthenticator(chain, true).WithBanlist(banned)

		_, err := a.Authenticate(ctx, exproto.ClientInfo{ClientID: "c1", Username: "alice"}, "pw")
		assert.ErrorIs(t, err, ErrBanned)
		assert.EqualError(t, err, "banned: abuse")

		_, err = a.Authenticate(ctx, exproto.ClientInfo{ClientID: "c2", PeerHost: "10.9.1.1"}, "")
		assert.Equal(t, ErrBanned, err)

		_, err = a.Authenticate(ctx, exproto.ClientInfo{ClientID: "c2", PeerHost: "10.8.1.1"}, "")
		assert.NoError(t, err)
	})
}
