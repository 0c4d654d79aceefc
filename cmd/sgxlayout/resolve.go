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

// Resolve implements subcommands.Command for the "resolve" command.
type Resolve struct{}

// Name implements subcommands.Command.Name.
func (*Resolve) Name() string {
	return "resolve"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Resolve) Synopsis() string {
	return "decode a raw layout table and print its resolved regions"
}

// Usage implements subcommands.Command.Usage.
func (*Resolve) Usage() string {
	return `resolve <file>

Decodes the raw layout table in <file> (a sequence of 32-byte descriptor
slots) and prints every resolved memory region, with group-covered entries
expanded for every repetition.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Resolve) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Resolve) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	b, err := os.ReadFile(f.Arg(0))
	if err != nil {
		logrus.Errorf("reading layout table: %v", err)
		return subcommands.ExitFailure
	}
	table, err := decodeTable(b)
	if err != nil {
		logrus.Errorf("decoding layout table: %v", err)
		return subcommands.ExitFailure
	}
	for _, r := range table.Regions() {
		fmt.Fprintln(os.Stdout, r)
	}
	return subcommands.ExitSuccess
}

// decodeTable parses an untrusted layout blob. Inside the enclave a
// malformed table is a violated loader contract and aborts; here the input
// is an arbitrary file, so contract violations are demoted to errors.
func decodeTable(b []byte) (table *enclave.LayoutTable, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return enclave.ParseLayoutBlob(b)
}
