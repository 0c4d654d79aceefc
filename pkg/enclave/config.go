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

package enclave

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/sgx"
)

// Config is the enclave metadata consumed by the loader: the geometry and
// thread policy that the signer would ordinarily read from the enclave
// configuration file.
type Config struct {
	ProdID       uint16 `toml:"prod_id"`
	IsvSvn       uint16 `toml:"isv_svn"`
	StackMaxSize uint64 `toml:"stack_max_size"`
	HeapMaxSize  uint64 `toml:"heap_max_size"`
	TcsNum       uint32 `toml:"tcs_num"`
	TcsMaxNum    uint32 `toml:"tcs_max_num"`
	TcsPolicy    string `toml:"tcs_policy"`
	SsaFrameSize uint32 `toml:"ssa_frame_size"` // pages per SSA frame
	SsaNum       uint32 `toml:"ssa_num"`        // frames per thread (NSSA)
	Debug        bool   `toml:"debug"`
}

// DefaultConfig returns the defaults used when a field is absent from the
// configuration file.
func DefaultConfig() *Config {
	return &Config{
		StackMaxSize: 0x40000,
		HeapMaxSize:  0x100000,
		TcsNum:       4,
		TcsPolicy:    "bind",
		SsaFrameSize: 1,
		SsaNum:       2,
	}
}

// LoadConfig reads a TOML enclave configuration, applying defaults for
// absent fields.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("reading enclave config %q: %w", path, err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("unknown key %q in enclave config %q", undec[0], path)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("enclave config %q: %w", path, err)
	}
	return c, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if !sgx.IsPageAligned(c.StackMaxSize) || c.StackMaxSize == 0 {
		return fmt.Errorf("stack_max_size %#x must be a positive multiple of the page size", c.StackMaxSize)
	}
	if !sgx.IsPageAligned(c.HeapMaxSize) {
		return fmt.Errorf("heap_max_size %#x must be a multiple of the page size", c.HeapMaxSize)
	}
	if c.TcsNum == 0 {
		return fmt.Errorf("tcs_num must be at least 1")
	}
	if c.TcsMaxNum != 0 && c.TcsMaxNum < c.TcsNum {
		return fmt.Errorf("tcs_max_num %d is below tcs_num %d", c.TcsMaxNum, c.TcsNum)
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if c.SsaFrameSize == 0 {
		return fmt.Errorf("ssa_frame_size must be at least 1 page")
	}
	if c.SsaNum == 0 {
		return fmt.Errorf("ssa_num must be at least 1")
	}
	return nil
}

// Policy parses the configured TCS policy.
func (c *Config) Policy() (sgx.TcsPolicy, error) {
	switch c.TcsPolicy {
	case "bind", "bound", "":
		return sgx.TcsPolicyBind, nil
	case "unbind":
		return sgx.TcsPolicyUnbind, nil
	default:
		return 0, fmt.Errorf("unknown tcs_policy %q (want \"bind\" or \"unbind\")", c.TcsPolicy)
	}
}
