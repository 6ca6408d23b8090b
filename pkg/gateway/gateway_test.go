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

package gateway

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/exproto-go/pkg/adapter"
	"github.com/turtacn/exproto-go/pkg/admin"
	"github.com/turtacn/exproto-go/pkg/config"
	"github.com/turtacn/exproto-go/pkg/exproto"
	"github.com/turtacn/exproto-go/pkg/handler"
	"google.golang.org/grpc"
)

// echoBackend authenticates every connection and writes back what it
// receives.
type echoBackend struct {
	adapter atomic.Pointer[adapter.Client]

	mu     sync.Mutex
	closed map[string]string
}

func (b *echoBackend) OnSocketCreated(ctx context.Context, req *exproto.SocketCreated) error {
	return b.adapter.Load().Authenticate(ctx, req.Conn, exproto.Candidate{
		ProtoName: "echo",
		ProtoVer:  "1",
		ClientID:  "client-" + req.Conn,
	}, "")
}

func (b *echoBackend) OnReceivedBytes(ctx context.Context, req *exproto.ReceivedBytes) error {
	return b.adapter.Load().Send(ctx, req.Conn, req.Bytes)
}

func (b *echoBackend) OnReceivedMessages(context.Context, *exproto.ReceivedMessages) error {
	return nil
}

func (b *echoBackend) OnSocketClosed(_ context.Context, req *exproto.SocketClosed) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed[req.Conn] = req.Reason
	return nil
}

func (b *echoBackend) closedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.closed)
}

func startBackend(t *testing.T, b *echoBackend) string {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := grpc.NewServer()
	handler.RegisterServer(s, b)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	return lis.Addr().String()
}

func testConfig(handlerAddr string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Gateway.NodeID = "test-node"
	cfg.Gateway.Listeners = []config.ListenerConfig{{Name: "tcp", Type: config.ListenerTCP, Bind: "127.0.0.1:0"}}
	cfg.Gateway.Adapter.Bind = "127.0.0.1:0"
	cfg.Gateway.MetricsPort = ""
	cfg.Gateway.Handler.Address = handlerAddr
	cfg.Gateway.Handler.Timeout = "2s"
	return cfg
}

func TestGatewayEcho(t *testing.T) {
	backend := &echoBackend{closed: make(map[string]string)}
	g, err := New(testConfig(startBackend(t, backend)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, func() bool {
		return g.ListenerAddr("tcp") != nil && g.AdapterAddr() != nil
	}, 2*time.Second, 10*time.Millisecond)

	client, err := adapter.Dial(g.AdapterAddr().String())
	require.NoError(t, err)
	defer client.Close()
	backend.adapter.Store(client)

	conn, err := net.DialTimeout("tcp", g.ListenerAddr("tcp").String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return g.Sessions().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 5)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), buf)

	assert.Eventually(t, func() bool {
		return g.Health().Run(context.Background()).Healthy()
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop")
	}
	assert.Equal(t, 1, backend.closedCount())
	assert.Equal(t, 0, g.Manager().Count())
}

func TestNewRejectsBadTLSListener(t *testing.T) {
	cfg := testConfig("127.0.0.1:1")
	cfg.Gateway.Listeners = []config.ListenerConfig{{
		Name:     "tls",
		Type:     config.ListenerTLS,
		Bind:     "127.0.0.1:0",
		CertFile: "missing-cert.pem",
		KeyFile:  "missing-key.pem",
	}}
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewBuildsListeners(t *testing.T) {
	cfg := testConfig("127.0.0.1:1")
	cfg.Gateway.Listeners = append(cfg.Gateway.Listeners, config.ListenerConfig{
		Name:        "udp",
		Type:        config.ListenerUDP,
		Bind:        "127.0.0.1:0",
		IdleTimeout: "30s",
	})
	cfg.Gateway.MetricsPort = "127.0.0.1:0"
	cfg.Gateway.Banned = []config.BannedConfig{{Type: "clientid", Value: "bad"}}

	g, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { g.handler.Close() })
	assert.Len(t, g.specs, 5)
	assert.Equal(t, 1, g.banned.Len())
	assert.Nil(t, g.ListenerAddr("udp"))
	assert.Nil(t, g.ListenerAddr("missing"))

	ms, ok := g.specs[len(g.specs)-1].Actor.(metricsServer)
	require.True(t, ok)
	require.Len(t, ms.routes, 2)
	assert.Same(t, g.health, ms.routes[0])
	assert.IsType(t, &admin.APIServer{}, ms.routes[1])
}
