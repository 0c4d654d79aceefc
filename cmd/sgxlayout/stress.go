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
	"golang.org/x/sync/errgroup"

	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/enclave"
	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/enclave/tc"
	"github.com/apache/incubator-teaclave-sgx-sdk-sub002/pkg/thread"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	config  string
	rounds  int
	workers int
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "spawn and join threads against a live simulated enclave"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [-config <file>] [-rounds N] [-workers N]

Bootstraps a simulated enclave, then repeatedly spawns batches of threads
that exercise park/unpark and slot binding, joining every batch. Fails if
any thread reports an error or any stack canary is clobbered.

OPTIONS:
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.config, "config", "", "enclave configuration file (TOML); defaults apply if empty")
	f.IntVar(&s.rounds, "rounds", 16, "number of spawn/join rounds")
	f.IntVar(&s.workers, "workers", 0, "threads per round; 0 means the enclave's TCS count")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	cfg := enclave.DefaultConfig()
	if s.config != "" {
		c, err := enclave.LoadConfig(s.config)
		if err != nil {
			logrus.Errorf("%v", err)
			return subcommands.ExitFailure
		}
		cfg = c
	}

	img, err := tc.Bootstrap(cfg)
	if err != nil {
		logrus.Errorf("bootstrapping enclave: %v", err)
		return subcommands.ExitFailure
	}
	defer img.Close()

	workers := s.workers
	if workers == 0 {
		workers = int(img.Global.TcsNum)
	}

	for round := 0; round < s.rounds; round++ {
		var g errgroup.Group
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				h := thread.Spawn(func() int {
					self := thread.Current()
					self.Unpark()
					self.Park()
					return 1
				})
				n, err := h.Join()
				if err != nil {
					return err
				}
				if n != 1 {
					return fmt.Errorf("thread returned %d", n)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			logrus.Errorf("round %d: %v", round, err)
			return subcommands.ExitFailure
		}
	}

	fmt.Fprintf(os.Stdout, "%d rounds x %d threads ok\n", s.rounds, workers)
	return subcommands.ExitSuccess
}
