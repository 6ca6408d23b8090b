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
	"sync/atomic"
)

// gate pauses the transport reader while the channel is throttled.
type gate struct {
	paused atomic.Bool
	resume chan struct{}
}

func newGate() *gate {
	return &gate{resume: make(chan struct{}, 1)}
}

func (g *gate) set(paused bool) {
	g.paused.Store(paused)
	if !paused {
		select {
		case g.resume <- struct{}{}:
		default:
		}
	}
}

// wait blocks while the gate is paused. It returns false if ctx ends first.
func (g *gate) wait(ctx context.Context) bool {
	for g.paused.Load() {
		select {
		case <-g.resume:
		case <-ctx.Done():
			return false
		}
	}
	return ctx.Err() == nil
}
