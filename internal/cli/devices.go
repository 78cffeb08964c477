// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	internal_host "github.com/interviewx/client/internal/audio/host"
	internal_recorder "github.com/interviewx/client/internal/audio/recorder"
	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/commons"
)

// mediaHost picks the ffmpeg host when it is installed. The synthetic host
// stands in when asked for or when ffmpeg is missing.
func mediaHost(logger commons.Logger, synthetic bool) internal_type.MediaHost {
	if !synthetic {
		if host := internal_host.NewFFmpegHost(logger); host.Supported() {
			return host
		}
		logger.Warnw("ffmpeg not found, using the synthetic audio source")
	}
	return internal_host.NewSyntheticHost()
}

func NewDevicesCmd(deps *Dependencies) *cobra.Command {
	var synthetic bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder := internal_recorder.NewAudioRecorder(deps.Logger, deps.Config.Recorder, mediaHost(deps.Logger, synthetic))
			defer recorder.Release()
			devices, err := recorder.EnumerateDevices(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing devices: %w", err)
			}
			if len(devices) == 0 {
				fmt.Fprintln(deps.Out, "no audio input devices found")
				return nil
			}
			for _, d := range devices {
				fmt.Fprintf(deps.Out, "%s\t%s\n", d.ID, d.Label)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&synthetic, "synthetic", false, "Use the synthetic tone source instead of ffmpeg")
	return cmd
}
