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

package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/exproto-go/pkg/config"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(args, &out)
	return out.String(), err
}

func TestUserLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := runCmd(t, "-config", path, "-cmd", "generate")
	require.NoError(t, err)
	assert.Contains(t, out, "Sample configuration saved to")

	out, err = runCmd(t, "-config", path, "-cmd", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No users configured")

	out, err = runCmd(t, "-config", path, "-cmd", "add", "-user", "admin", "-pass", "admin-password", "-algo", "sha256")
	require.NoError(t, err)
	assert.Contains(t, out, "User 'admin' added")

	_, err = runCmd(t, "-config", path, "-cmd", "add", "-user", "admin", "-pass", "again")
	assert.ErrorIs(t, err, config.ErrUserExists)

	_, err = runCmd(t, "-config", path, "-cmd", "superuser", "-user", "admin")
	require.NoError(t, err)
	_, err = runCmd(t, "-config", path, "-cmd", "disable", "-user", "admin")
	require.NoError(t, err)

	out, err = runCmd(t, "-config", path, "-cmd", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "admin")
	assert.Contains(t, out, "sha256")
	assert.Contains(t, out, "admi****word")
	assert.NotContains(t, out, "admin-password")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.ListUsers(), 1)
	assert.False(t, cfg.ListUsers()[0].Enabled)
	assert.True(t, cfg.ListUsers()[0].Superuser)

	_, err = runCmd(t, "-config", path, "-cmd", "update", "-user", "admin", "-pass", "new-password")
	require.NoError(t, err)
	cfg, err = config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "new-password", cfg.ListUsers()[0].Password)
	assert.Equal(t, "sha256", cfg.ListUsers()[0].Algorithm)
	assert.True(t, cfg.ListUsers()[0].Enabled)

	_, err = runCmd(t, "-config", path, "-cmd", "remove", "-user", "admin")
	require.NoError(t, err)
	_, err = runCmd(t, "-config", path, "-cmd", "remove", "-user", "admin")
	assert.ErrorIs(t, err, config.ErrUserNotFound)
}

func TestRunErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	_, err := runCmd(t, "-config", path, "-cmd", "generate")
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
	}{
		{"no command", []string{"-config", path}},
		{"missing user", []string{"-config", path, "-cmd", "add"}},
		{"missing password", []string{"-config", path, "-cmd", "add", "-user", "x"}},
		{"unknown command", []string{"-config", path, "-cmd", "explode", "-user", "x"}},
		{"missing config", []string{"-config", filepath.Join(t.TempDir(), "none.yaml"), "-cmd", "list"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCmd(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestMaskPassword(t *testing.T) {
	assert.Equal(t, "****", maskPassword("abc"))
	assert.Equal(t, "ab****ef", maskPassword("abcdef"))
	assert.Equal(t, "abcd****ijkl", maskPassword("abcdefghijkl"))
}
