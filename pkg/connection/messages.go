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

package connection

import (
	"context"

	"github.com/turtacn/exproto-go/pkg/exproto"
)

// incoming carries bytes read by the transport reader.
type incoming struct {
	data []byte
}

// transportClosed is sent once the transport reader stops.
type transportClosed struct {
	err error
}

// deliveries is a batch of broker deliveries drained from the inbox.
type deliveries struct {
	items []exproto.Deliver
}

// inboxInfo is any other message found in the inbox.
type inboxInfo struct {
	msg any
}

// commandRequest is a synchronous command; the actor responds with a
// commandResponse.
type commandRequest struct {
	ctx context.Context
	cmd exproto.Command
}

type commandResponse struct {
	err error
}

// castCommand is a command nobody waits for, such as a session takeover.
type castCommand struct {
	cmd exproto.Command
}

// lingerExpired stops a terminated connection that is still waiting for
// backend replies.
type lingerExpired struct{}
