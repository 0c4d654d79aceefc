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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/enclave"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	config string
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "build a simulated enclave image and print its memory layout"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump [-config <file>]

Builds a simulated enclave image from the enclave configuration and prints
every resolved memory region, the SECS summary, and the TCS offsets.

OPTIONS:
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.config, "config", "", "enclave configuration file (TOML); defaults apply if empty")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	cfg := enclave.DefaultConfig()
	if d.config != "" {
		c, err := enclave.LoadConfig(d.config)
		if err != nil {
			logrus.Errorf("%v", err)
			return subcommands.ExitFailure
		}
		cfg = c
	}

	img, err := enclave.Load(cfg)
	if err != nil {
		logrus.Errorf("loading enclave image: %v", err)
		return subcommands.ExitFailure
	}
	defer img.Close()

	fmt.Fprintf(os.Stdout, "%v\n", img.Secs.String())
	fmt.Fprintf(os.Stdout, "tcs policy: %v, threads: %d\n", img.Global.TcsPolicy, img.Global.TcsNum)
	for _, r := range img.Global.LayoutTable().Regions() {
		fmt.Fprintln(os.Stdout, r)
	}
	for i, off := range img.TcsOffsets {
		fmt.Fprintf(os.Stdout, "tcs[%d] at %#x\n", i, off)
	}
	return subcommands.ExitSuccess
}
