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

package thread

import (
	"testing"
	"time"
)

func TestParkAfterUnparkReturnsImmediately(t *testing.T) {
	self := Current()
	self.Unpark()
	done := make(chan struct{})
	go func() {
		// Watchdog only; Park must not block.
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			panic("park blocked despite a pending notification")
		}
	}()
	self.Park()
	close(done)
}

func TestUnparkDoesNotAccumulate(t *testing.T) {
	h := Spawn(func() int {
		self := Current()
		self.Park() // consumes the single token
		// A second park must block until the main thread notifies again.
		self.Park()
		return 1
	})

	child := h.Thread()
	child.Unpark()
	child.Unpark() // coalesces with the first

	// Give the child time to consume the token and block on its second
	// park, then wake it. If the child instead consumed both unparks it is
	// already finishing and the extra token is harmless.
	time.Sleep(50 * time.Millisecond)
	child.Unpark()

	if n, err := h.Join(); err != nil || n != 1 {
		t.Fatalf("Join() = %d, %v; want 1, nil", n, err)
	}
}

func TestParkWakesOnUnpark(t *testing.T) {
	h := Spawn(func() int {
		Current().Park()
		return 7
	})
	// The child may not have parked yet; Unpark must work either way.
	time.Sleep(10 * time.Millisecond)
	h.Thread().Unpark()
	if n, err := h.Join(); err != nil || n != 7 {
		t.Fatalf("Join() = %d, %v; want 7, nil", n, err)
	}
}

func TestParkUnparkRounds(t *testing.T) {
	const rounds = 100
	h := Spawn(func() int {
		self := Current()
		for i := 0; i < rounds; i++ {
			self.Park()
		}
		return rounds
	})
	child := h.Thread()
	for i := 0; i < rounds; i++ {
		child.Unpark()
		// Pause so notifications do not coalesce while the child is
		// between parks.
		time.Sleep(time.Millisecond)
	}
	// The child may still be short of rounds if any notification coalesced;
	// top it up until it finishes.
	for !h.IsFinished() {
		child.Unpark()
		time.Sleep(time.Millisecond)
	}
	if n, err := h.Join(); err != nil || n != rounds {
		t.Fatalf("Join() = %d, %v; want %d, nil", n, err, rounds)
	}
}

func TestParkTimeoutExpires(t *testing.T) {
	self := Current()
	start := time.Now()
	self.ParkTimeout(20 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("timed park blocked for %v", elapsed)
	}
	// The slot must be reusable afterward.
	self.Unpark()
	self.Park()
}

func TestParkTimeoutConsumesToken(t *testing.T) {
	self := Current()
	self.Unpark()
	start := time.Now()
	self.ParkTimeout(10 * time.Second)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timed park ignored a pending notification, blocked %v", elapsed)
	}
}
