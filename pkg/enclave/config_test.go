// Copyright 2023 The gVisor Authors.
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

package enclave

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/sgx"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enclave.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
prod_id = 7
stack_max_size = 0x20000
tcs_num = 2
tcs_policy = "unbind"
`))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got, want := cfg.ProdID, uint16(7); got != want {
		t.Errorf("ProdID = %d, want %d", got, want)
	}
	if got, want := cfg.StackMaxSize, uint64(0x20000); got != want {
		t.Errorf("StackMaxSize = %#x, want %#x", got, want)
	}
	// Absent fields keep their defaults.
	if got, want := cfg.HeapMaxSize, DefaultConfig().HeapMaxSize; got != want {
		t.Errorf("HeapMaxSize = %#x, want default %#x", got, want)
	}
	policy, err := cfg.Policy()
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if policy != sgx.TcsPolicyUnbind {
		t.Errorf("Policy() = %v, want %v", policy, sgx.TcsPolicyUnbind)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	for _, test := range []struct {
		name     string
		contents string
	}{
		{"unknown key", `tsc_num = 4`},
		{"unaligned stack", `stack_max_size = 0x20004`},
		{"zero threads", `tcs_num = 0`},
		{"bad policy", `tcs_policy = "rebind"`},
		{"max below num", "tcs_num = 4\ntcs_max_num = 2"},
		{"zero ssa frames", `ssa_num = 0`},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, test.contents)); err == nil {
				t.Error("LoadConfig accepted a bad config")
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}
