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

package ocall

import (
	"testing"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/sgx"
)

func TestStackDepthTracking(t *testing.T) {
	var s Stack
	if got, want := s.Depth(), 0; got != want {
		t.Fatalf("Depth() = %d, want %d", got, want)
	}

	s.Push(sgx.OCallContext{OCallIndex: 2, PreLastSP: 0x4f000})
	s.Push(sgx.OCallContext{OCallIndex: 5, PreLastSP: 0x4e000})
	s.Push(sgx.OCallContext{OCallIndex: 9, PreLastSP: 0x4d000})
	if got, want := s.Depth(), 3; got != want {
		t.Fatalf("Depth() = %d, want %d", got, want)
	}

	// Frames unwind innermost first, each stamped with its nesting depth.
	for i, want := range []struct {
		index uint64
		depth uint64
	}{
		{9, 3},
		{5, 2},
		{2, 1},
	} {
		ctx := s.Pop()
		if ctx.OCallIndex != want.index {
			t.Errorf("pop %d: OCallIndex = %d, want %d", i, ctx.OCallIndex, want.index)
		}
		if ctx.OCallDepth != want.depth {
			t.Errorf("pop %d: OCallDepth = %d, want %d", i, ctx.OCallDepth, want.depth)
		}
	}
	if got, want := s.Depth(), 0; got != want {
		t.Errorf("Depth() = %d, want %d", got, want)
	}
}

func TestTop(t *testing.T) {
	var s Stack
	if _, ok := s.Top(); ok {
		t.Error("Top() of an empty stack reported a frame")
	}
	s.Push(sgx.OCallContext{OCallIndex: 7})
	ctx, ok := s.Top()
	if !ok || ctx.OCallIndex != 7 {
		t.Errorf("Top() = %+v, %t; want frame with index 7", ctx, ok)
	}
	if got, want := s.Depth(), 1; got != want {
		t.Errorf("Top() changed the depth to %d", got)
	}
}

func TestPopEmptyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Pop of an empty stack did not panic")
		}
	}()
	var s Stack
	s.Pop()
}

func TestPopCorruptDepthPanics(t *testing.T) {
	var s Stack
	s.Push(sgx.OCallContext{})
	s.frames[0].OCallDepth = 5
	defer func() {
		if recover() == nil {
			t.Error("Pop of a frame with a forged depth did not panic")
		}
	}()
	s.Pop()
}
