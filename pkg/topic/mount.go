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

package topic

import "strings"

const (
	clientIDVar = "${clientid}"
	usernameVar = "${username}"
)

// Mount places filter under mountpoint. For a shared filter only the inner
// filter is mounted, so the group name stays addressable.
func Mount(mountpoint, filter string) string {
	if mountpoint == "" {
		return filter
	}
	if group, inner, ok := parseShared(filter); ok {
		return sharePrefix + group + "/" + mountpoint + inner
	}
	return mountpoint + filter
}

// Unmount strips mountpoint from topic. Topics outside the mountpoint are
// returned unchanged.
func Unmount(mountpoint, topic string) string {
	if mountpoint == "" {
		return topic
	}
	if rest, ok := strings.CutPrefix(topic, mountpoint); ok {
		return rest
	}
	return topic
}

// ReplaceVars expands the ${clientid} and ${username} placeholders of a
// mountpoint.
func ReplaceVars(mountpoint, clientID, username string) string {
	if !strings.Contains(mountpoint, "${") {
		return mountpoint
	}
	return strings.NewReplacer(clientIDVar, clientID, usernameVar, username).Replace(mountpoint)
}
