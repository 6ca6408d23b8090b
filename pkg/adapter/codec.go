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
	"fmt"

	"github.com/turtacn/exproto-go/pkg/exproto"
	"github.com/turtacn/exproto-go/pkg/rpc"
)

func decodeSend(f rpc.Fields) (exproto.Command, error) {
	data, err := f.Bytes("bytes")
	if err != nil {
		return nil, err
	}
	return exproto.Send{Data: data}, nil
}

func decodeClose(rpc.Fields) (exproto.Command, error) {
	return exproto.Close{}, nil
}

func decodeKick(rpc.Fields) (exproto.Command, error) {
	return exproto.Kick{}, nil
}

// decodeStartTimer accepts the request so that backends written against
// the full service do not fail, but the channel keeps no timers.
func decodeStartTimer(f rpc.Fields) (exproto.Command, error) {
	if _, err := f.OptString("type"); err != nil {
		return nil, err
	}
	if _, err := f.OptInt("interval"); err != nil {
		return nil, err
	}
	return exproto.Unknown{Command: "start_timer"}, nil
}

func decodeAuthenticate(f rpc.Fields) (exproto.Command, error) {
	ci, err := f.Struct("clientinfo")
	if err != nil {
		return nil, err
	}
	var cand exproto.Candidate
	if cand.ProtoName, err = ci.String("proto_name"); err != nil {
		return nil, err
	}
	if cand.ProtoVer, err = ci.String("proto_ver"); err != nil {
		return nil, err
	}
	if cand.ClientID, err = ci.OptString("clientid"); err != nil {
		return nil, err
	}
	if cand.Username, err = ci.OptString("username"); err != nil {
		return nil, err
	}
	if cand.Mountpoint, err = ci.OptString("mountpoint"); err != nil {
		return nil, err
	}
	keepalive, err := ci.OptInt("keepalive")
	if err != nil {
		return nil, err
	}
	cand.Keepalive = int(keepalive)

	password, err := f.OptString("password")
	if err != nil {
		return nil, err
	}
	return exproto.Authenticate{Info: cand, Password: password}, nil
}

func decodeQoS(f rpc.Fields) (byte, error) {
	qos, err := f.OptInt("qos")
	if err != nil {
		return 0, err
	}
	if qos < 0 || qos > 2 {
		return 0, fmt.Errorf("%w: qos must be 0, 1 or 2", rpc.ErrType)
	}
	return byte(qos), nil
}

func decodeSubscribe(f rpc.Fields) (exproto.Command, error) {
	filter, err := f.String("topic")
	if err != nil {
		return nil, err
	}
	qos, err := decodeQoS(f)
	if err != nil {
		return nil, err
	}
	return exproto.Subscribe{Filters: []exproto.TopicFilter{{Filter: filter, QoS: qos}}}, nil
}

func decodeUnsubscribe(f rpc.Fields) (exproto.Command, error) {
	filter, err := f.String("topic")
	if err != nil {
		return nil, err
	}
	return exproto.Unsubscribe{Filters: []string{filter}}, nil
}

func decodePublish(f rpc.Fields) (exproto.Command, error) {
	topic, err := f.String("topic")
	if err != nil {
		return nil, err
	}
	qos, err := decodeQoS(f)
	if err != nil {
		return nil, err
	}
	payload, err := f.OptBytes("payload")
	if err != nil {
		return nil, err
	}
	return exproto.Publish{Topic: topic, QoS: qos, Payload: payload}, nil
}
