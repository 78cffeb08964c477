// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	internal_type "github.com/interviewx/client/internal/type"
)

// ParseSeed decodes and validates a YAML session descriptor.
func ParseSeed(data []byte) (*internal_type.SessionDescriptor, error) {
	var descriptor internal_type.SessionDescriptor
	if err := yaml.Unmarshal(data, &descriptor); err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}
	if err := descriptor.Validate(); err != nil {
		return nil, err
	}
	return &descriptor, nil
}

func LoadSeed(path string) (*internal_type.SessionDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed: %w", err)
	}
	return ParseSeed(data)
}

func NewValidateCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <seed.yaml>...",
		Short: "Check session seed files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				descriptor, err := LoadSeed(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(deps.Out, "%s: session %s, %d questions\n", path, descriptor.ID, len(descriptor.Questions))
			}
			return nil
		},
	}
}
