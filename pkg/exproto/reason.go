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
	"errors"
	"fmt"
)

// ErrAlreadyAuthorized is returned by authenticate on an authorized channel.
var ErrAlreadyAuthorized = errors.New("already-authorized")

// ReasonKind classifies why a channel terminated.
type ReasonKind string

const (
	ReasonNormal          ReasonKind = "normal"
	ReasonKicked          ReasonKind = "kicked"
	ReasonDiscarded       ReasonKind = "discarded"
	ReasonBackendError    ReasonKind = "backend_error"
	ReasonTransportClosed ReasonKind = "transport_closed"
	ReasonAuthFailed      ReasonKind = "auth_failed"
	ReasonSessionFailed   ReasonKind = "session_failed"
	ReasonInternalError   ReasonKind = "internal_error"
)

// Reason is the structured termination reason of a channel.
type Reason struct {
	Kind ReasonKind
	// Call is the failing backend call for backend_error.
	Call CallName
	Err  error
}

// NormalReason is the reason of an orderly shutdown.
var NormalReason = Reason{Kind: ReasonNormal}

// BackendError builds the reason for a failed backend call.
func BackendError(call CallName, err error) Reason {
	return Reason{Kind: ReasonBackendError, Call: call, Err: err}
}

// TransportClosed builds the reason for a closed transport.
func TransportClosed(err error) Reason {
	return Reason{Kind: ReasonTransportClosed, Err: err}
}

// String renders the reason for logs and for the socket-closed
// notification, e.g. "backend_error(socket-created): unreachable".
func (r Reason) String() string {
	s := string(r.Kind)
	if r.Call != "" {
		s = fmt.Sprintf("%s(%s)", s, r.Call)
	}
	if r.Err != nil {
		s = fmt.Sprintf("%s: %v", s, r.Err)
	}
	return s
}

func (r Reason) Error() string { return r.String() }

func (r Reason) Unwrap() error { return r.Err }

// Abnormal reports whether the reason is an error rather than an orderly
// shutdown.
func (r Reason) Abnormal() bool {
	switch r.Kind {
	case ReasonNormal, ReasonKicked, ReasonDiscarded:
		return false
	}
	return true
}
