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

package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/exproto-go/pkg/exproto"
)

func TestUDPServerDemultiplexesPeers(t *testing.T) {
	opener := make(chanOpener, 2)
	s := NewUDPServer("udp-test", "127.0.0.1:0", 0, opener)
	startServer(t, s, func(ctx context.Context) error { return s.Start(ctx, nil) })

	client, err := net.Dial("udp", s.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("one"))
	require.NoError(t, err)
	tr := opener.next(t)
	assert.Equal(t, exproto.SocketUDP, tr.Kind())
	assert.Equal(t, client.LocalAddr().String(), tr.RemoteAddr().String())

	data, err := tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)

	_, err = client.Write([]byte("two"))
	require.NoError(t, err)
	data, err = tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
	assert.Empty(t, opener, "same peer must reuse its transport")
	assert.Equal(t, 1, s.Peers())

	require.NoError(t, tr.Send([]byte("reply")))
	buf := make([]byte, 16)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("reply"), buf[:n])

	other, err := net.Dial("udp", s.Addr().String())
	require.NoError(t, err)
	defer other.Close()
	_, err = other.Write([]byte("three"))
	require.NoError(t, err)
	second := opener.next(t)
	assert.NotSame(t, tr, second)

	require.NoError(t, tr.Close())
	_, err = tr.Recv()
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.ErrorIs(t, tr.Send([]byte("x")), net.ErrClosed)
	require.Eventually(t, func() bool { return s.Peers() == 1 }, time.Second, 10*time.Millisecond)
}

func TestUDPPeerIdleTimeout(t *testing.T) {
	opener := make(chanOpener, 1)
	s := NewUDPServer("udp-idle", "127.0.0.1:0", 50*time.Millisecond, opener)
	startServer(t, s, func(ctx context.Context) error { return s.Start(ctx, nil) })

	client, err := net.Dial("udp", s.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write([]byte("hi"))
	require.NoError(t, err)

	tr := opener.next(t)
	_, err = tr.Recv()
	require.NoError(t, err)
	_, err = tr.Recv()
	assert.ErrorIs(t, err, ErrIdleTimeout)
}
