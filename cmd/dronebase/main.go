// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/AimBought/Drone-swarm/commander"
	"github.com/AimBought/Drone-swarm/config"
	"github.com/AimBought/Drone-swarm/logging"
)

func main() {
	args := os.Args[1:]
	if err := runSimulate(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runSimulate is the only sub-command this binary has today, broken
// out as its own function the way cmd/snellerd splits runDaemon and
// runWorker, so a future sub-command (e.g. a dry-run config
// validator) has a natural home beside it rather than crowding main.
func runSimulate(args []string) error {
	fs := flag.NewFlagSet("dronebase", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML file overriding the default tunables")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return fmt.Errorf("usage: dronebase [-config path] P N")
	}

	var p, n int
	if _, err := fmt.Sscanf(rest[0], "%d", &p); err != nil {
		return fmt.Errorf("invalid P %q: %w", rest[0], err)
	}
	if _, err := fmt.Sscanf(rest[1], "%d", &n); err != nil {
		return fmt.Errorf("invalid N %q: %w", rest[1], err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log.SetOutput(logging.Sink)
	log.SetFlags(0)

	c, err := commander.New(p, n, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return c.Run(ctx)
}
