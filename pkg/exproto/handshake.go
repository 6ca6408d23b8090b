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

package exproto

import (
	"context"
	"maps"
	"strings"

	"github.com/turtacn/exproto-go/pkg/metrics"
	"github.com/turtacn/exproto-go/pkg/topic"
)

// authenticate runs the authentication and session handshake. Both
// collaborator calls block the owning goroutine; the dispatcher keeps its
// state untouched meanwhile.
func (c *Channel) authenticate(ctx context.Context, cmd Authenticate) Result {
	if c.authorized {
		return Reply{Err: ErrAlreadyAuthorized}
	}

	cand := cmd.Info
	if cand.ClientID == "" {
		cand.ClientID = NewClientID()
	}
	c.clientInfo = enrichClientInfo(c.clientInfo, cand)
	c.connInfo = enrichConnInfo(c.connInfo, cand)
	c.logger = c.logger.With("clientid", c.clientInfo.ClientID)

	res, err := c.deps.Auth.Authenticate(ctx, c.clientInfo, cmd.Password)
	if err != nil {
		metrics.AuthTotal.WithLabelValues("failure").Inc()
		c.logger.Warn("login failed", "username", c.clientInfo.Username, "err", err)
		reason := Reason{Kind: ReasonAuthFailed, Err: err}
		return Shutdown{Reason: reason, Reply: &Reply{Err: reason}}
	}
	metrics.AuthTotal.WithLabelValues("success").Inc()
	if res.Anonymous {
		metrics.AuthTotal.WithLabelValues("anonymous").Inc()
	}

	c.authorized = true
	c.clientInfo = mergeAuthResult(c.clientInfo, res)

	if err := c.deps.Sessions.OpenSession(ctx, true, c.clientInfo, c.connInfo, c.deps.Inbox); err != nil {
		c.logger.Warn("failed to open session", "err", err)
		reason := Reason{Kind: ReasonSessionFailed, Err: err}
		return Shutdown{Reason: reason, Reply: &Reply{Err: reason}}
	}
	c.sessionOpen = true
	c.logger.Debug("client authorized", "username", c.clientInfo.Username, "protocol", c.clientInfo.Protocol)
	return Reply{Actions: []Action{EmitEvent{Name: EventAuthorized}}}
}

func enrichClientInfo(ci ClientInfo, cand Candidate) ClientInfo {
	ci.ClientID = cand.ClientID
	ci.Username = cand.Username
	if cand.Mountpoint != "" {
		ci.Mountpoint = cand.Mountpoint
	}
	ci.Mountpoint = topic.ReplaceVars(ci.Mountpoint, ci.ClientID, ci.Username)
	ci.Protocol = strings.ToLower(cand.ProtoName)
	return ci
}

func enrichConnInfo(ci ConnInfo, cand Candidate) ConnInfo {
	ci.ProtoName = cand.ProtoName
	ci.ProtoVer = cand.ProtoVer
	ci.ClientID = cand.ClientID
	ci.Username = cand.Username
	ci.Keepalive = cand.Keepalive
	return ci
}

func mergeAuthResult(ci ClientInfo, res AuthResult) ClientInfo {
	ci.Anonymous = res.Anonymous
	ci.IsSuperuser = res.IsSuperuser
	if len(res.Attrs) > 0 {
		if ci.Attrs == nil {
			ci.Attrs = make(map[string]string, len(res.Attrs))
		}
		maps.Copy(ci.Attrs, res.Attrs)
	}
	return ci
}
