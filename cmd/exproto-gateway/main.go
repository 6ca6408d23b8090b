// Copyright 2023 The emqx-go Authors
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

// Package main is the entrypoint of the exproto gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/exproto-go/pkg/config"
	"github.com/turtacn/exproto-go/pkg/gateway"
	"github.com/turtacn/exproto-go/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (.yaml, .json or .toml)")
	writeDefault := flag.String("write-default-config", "", "Write the default configuration to this path and exit")
	flag.Parse()

	if *writeDefault != "" {
		if err := config.SaveConfig(config.DefaultConfig(), *writeDefault); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write default config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration saved to %s\n", *writeDefault)
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("gateway failed", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := logger.Setup(cfg.Log); err != nil {
		return err
	}

	g, err := gateway.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return g.Run(ctx)
}
