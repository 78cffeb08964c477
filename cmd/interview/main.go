// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package main

import (
	"fmt"
	"os"

	"github.com/interviewx/client/config"
	"github.com/interviewx/client/internal/cli"
	"github.com/interviewx/client/pkg/commons"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	vConfig, err := config.InitConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.Name("interviewx-client"),
		commons.Level(cfg.LogLevel),
		commons.Path(cfg.LogPath),
	)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	deps := &cli.Dependencies{
		Config: cfg,
		Logger: logger,
		In:     os.Stdin,
		Out:    os.Stdout,
	}
	return cli.NewRootCmd(deps).Execute()
}
