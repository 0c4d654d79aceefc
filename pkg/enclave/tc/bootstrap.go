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

package tc

import (
	"fmt"
	"sync"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/enclave"
)

var defaultPool struct {
	mu sync.Mutex
	p  *Pool
}

// InstallPool publishes p as the process-wide slot pool. Like the global
// descriptor, it is installed exactly once by the bootstrap; a second call
// aborts.
func InstallPool(p *Pool) {
	defaultPool.mu.Lock()
	defer defaultPool.mu.Unlock()
	if defaultPool.p != nil {
		panic("tc: slot pool installed twice")
	}
	defaultPool.p = p
}

// DefaultPool returns the installed slot pool, aborting if the bootstrap
// has not run.
func DefaultPool() *Pool {
	defaultPool.mu.Lock()
	defer defaultPool.mu.Unlock()
	if defaultPool.p == nil {
		panic("tc: slot pool not installed")
	}
	return defaultPool.p
}

// PoolInstalled returns true if the process-wide slot pool is available.
func PoolInstalled() bool {
	defaultPool.mu.Lock()
	defer defaultPool.mu.Unlock()
	return defaultPool.p != nil
}

// Bootstrap performs the loader's job for a simulated enclave: builds the
// image from cfg, publishes the global descriptor, and installs the slot
// pool. It returns the image so the caller can inspect or tear it down.
func Bootstrap(cfg *enclave.Config) (*enclave.Image, error) {
	img, err := enclave.Load(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading enclave image: %w", err)
	}
	enclave.Install(img.Global)
	InstallPool(NewPool(img))
	return img, nil
}
