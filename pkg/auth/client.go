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
	"errors"
	"fmt"

	"github.com/turtacn/exproto-go/pkg/blacklist"
	"github.com/turtacn/exproto-go/pkg/exproto"
)

var (
	// ErrNotAuthorized is returned when a client's credentials are rejected.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrBanned is returned for clients on the ban list.
	ErrBanned = errors.New("banned")
)

// Banlist reports whether a client is banned, and why.
type Banlist interface {
	Check(clientID, username, peerHost string) (blacklist.Entry, bool)
}

// ClientAuthenticator serves channel logins from an AuthChain.
type ClientAuthenticator struct {
	chain          *AuthChain
	allowAnonymous bool
	banned         Banlist
}

// NewClientAuthenticator wraps chain. With allowAnonymous, clients that
// present no username skip the chain.
func NewClientAuthenticator(chain *AuthChain, allowAnonymous bool) *ClientAuthenticator {
	return &ClientAuthenticator{chain: chain, allowAnonymous: allowAnonymous}
}

// WithBanlist makes a consult banned before checking any credentials.
func (a *ClientAuthenticator) WithBanlist(banned Banlist) *ClientAuthenticator {
	a.banned = banned
	return a
}

// Authenticate implements exproto.Authenticator.
func (a *ClientAuthenticator) Authenticate(ctx context.Context, info exproto.ClientInfo, password string) (exproto.AuthResult, error) {
	if err := ctx.Err(); err != nil {
		return exproto.AuthResult{}, err
	}
	if a.banned != nil {
		if e, ok := a.banned.Check(info.ClientID, info.Username, info.PeerHost); ok {
			if e.Reason != "" {
				return exproto.AuthResult{}, fmt.Errorf("%w: %s", ErrBanned, e.Reason)
			}
			return exproto.AuthResult{}, ErrBanned
		}
	}
	if a.chain == nil || !a.chain.IsEnabled() || a.chain.Count() == 0 {
		return exproto.AuthResult{Anonymous: info.Username == ""}, nil
	}
	if info.Username == "" && a.allowAnonymous {
		return exproto.AuthResult{Anonymous: true}, nil
	}

	v := a.chain.Authenticate(info.Username, password)
	if v.Outcome != Allow {
		return exproto.AuthResult{}, ErrNotAuthorized
	}
	return exproto.AuthResult{
		IsSuperuser: v.Superuser,
		Attrs:       map[string]string{"authenticator": v.By},
	}, nil
}
