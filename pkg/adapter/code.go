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

package adapter

import (
	"errors"
	"fmt"

	"github.com/turtacn/exproto-go/pkg/exproto"
	"github.com/turtacn/exproto-go/pkg/rpc"
)

// ErrConnNotAlive is returned by Connections when the target connection
// does not exist or stopped before answering.
var ErrConnNotAlive = errors.New("connection process not alive")

// Code is the result code carried by every adapter response.
type Code int

const (
	Success Code = iota
	Unknown
	ConnProcessNotAlive
	RequiredParamsMissed
	ParamsTypeError
	PermissionDeny
)

func (c Code) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case Unknown:
		return "UNKNOWN"
	case ConnProcessNotAlive:
		return "CONN_PROCESS_NOT_ALIVE"
	case RequiredParamsMissed:
		return "REQUIRED_PARAMS_MISSED"
	case ParamsTypeError:
		return "PARAMS_TYPE_ERROR"
	case PermissionDeny:
		return "PERMISSION_DENY"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// CodeError is a non-success response seen by a Client.
type CodeError struct {
	Code    Code
	Message string
}

func (e *CodeError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Message
}

// codeOf maps the error of a command to its result code.
func codeOf(err error) Code {
	var reason exproto.Reason
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrConnNotAlive):
		return ConnProcessNotAlive
	case errors.Is(err, rpc.ErrMissing):
		return RequiredParamsMissed
	case errors.Is(err, rpc.ErrType):
		return ParamsTypeError
	case errors.Is(err, exproto.ErrAlreadyAuthorized):
		return PermissionDeny
	case errors.As(err, &reason) && reason.Kind == exproto.ReasonAuthFailed:
		return PermissionDeny
	default:
		return Unknown
	}
}
