// Copyright 2024 The gVisor Authors.
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

// Package ocall tracks the per-thread chain of outstanding outside calls.
//
// Every exit to untrusted code saves a context frame recording where
// trusted execution suspended; the matching re-entry restores exactly that
// frame. The chain therefore behaves as a strict stack, and any mismatch
// between a frame's recorded depth and its stack position means the saved
// state was corrupted between exit and re-entry.
package ocall

import (
	"fmt"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/sgx"
)

// Stack is one thread's chain of outstanding outside-call frames. It is
// owned by the bound thread and is not safe for concurrent use.
type Stack struct {
	frames []sgx.OCallContext
}

// Depth returns the number of outstanding outside calls.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Push records a new outside call, stamping the frame with its nesting
// depth. The first outstanding call has depth 1.
func (s *Stack) Push(ctx sgx.OCallContext) {
	ctx.OCallDepth = uint64(len(s.frames) + 1)
	s.frames = append(s.frames, ctx)
}

// Pop removes and returns the innermost frame. Popping an empty stack, or
// a frame whose recorded depth disagrees with its position, is corruption
// of the saved trusted state and aborts.
func (s *Stack) Pop() sgx.OCallContext {
	n := len(s.frames)
	if n == 0 {
		panic("ocall: returning from an outside call with none outstanding")
	}
	ctx := s.frames[n-1]
	if ctx.OCallDepth != uint64(n) {
		panic(fmt.Sprintf("ocall: frame records depth %d at stack depth %d", ctx.OCallDepth, n))
	}
	s.frames = s.frames[:n-1]
	return ctx
}

// Top returns a copy of the innermost frame without removing it.
func (s *Stack) Top() (sgx.OCallContext, bool) {
	if len(s.frames) == 0 {
		return sgx.OCallContext{}, false
	}
	return s.frames[len(s.frames)-1], true
}
