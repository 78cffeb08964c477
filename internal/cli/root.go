// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/interviewx/client/config"
	"github.com/interviewx/client/pkg/commons"
)

type Dependencies struct {
	Config *config.AppConfig
	Logger commons.Logger
	In     io.Reader
	Out    io.Writer
}

// NewRootCmd is the headless interview client.
func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "interview",
		Short:         "Run an InterviewX session from the terminal",
		Long:          "Answers interview questions from the terminal, records audio answers and streams them for analysis.",
		Version:       deps.Config.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(NewRunCmd(deps))
	rootCmd.AddCommand(NewDevicesCmd(deps))
	rootCmd.AddCommand(NewValidateCmd(deps))

	return rootCmd
}
