// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	internal_analysis "github.com/interviewx/client/internal/analysis"
	internal_recorder "github.com/interviewx/client/internal/audio/recorder"
	internal_persistence "github.com/interviewx/client/internal/persistence"
	internal_session "github.com/interviewx/client/internal/session"
	internal_transport "github.com/interviewx/client/internal/transport"
	internal_type "github.com/interviewx/client/internal/type"
	backend_client "github.com/interviewx/client/pkg/clients/backend"
	"github.com/interviewx/client/pkg/storages"
)

type runFlags struct {
	session   string
	seed      string
	token     string
	device    string
	synthetic bool
}

func NewRunCmd(deps *Dependencies) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Take an interview session",
		Long: `Loads a session from the backend (--session) or from a local seed file (--seed)
and walks through its questions. Seeded sessions run fully offline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (flags.session == "") == (flags.seed == "") {
				return errors.New("exactly one of --session or --seed is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSession(ctx, deps, flags)
		},
	}

	cmd.Flags().StringVar(&flags.session, "session", "", "Backend session id")
	cmd.Flags().StringVar(&flags.seed, "seed", "", "Path to a YAML session seed")
	cmd.Flags().StringVar(&flags.token, "token", "", "Bearer credential to store before connecting")
	cmd.Flags().StringVar(&flags.device, "device", "", "Audio input device id")
	cmd.Flags().BoolVar(&flags.synthetic, "synthetic", false, "Use the synthetic tone source instead of ffmpeg")
	return cmd
}

func runSession(ctx context.Context, deps *Dependencies, flags runFlags) error {
	logger, cfg := deps.Logger, deps.Config

	storage, err := storages.NewStorage(logger, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer storage.Close()
	creds := internal_persistence.NewCredentialStore(storage)
	if flags.token != "" {
		if err := creds.SetToken(ctx, flags.token); err != nil {
			return fmt.Errorf("storing credential: %w", err)
		}
	}

	var (
		persistence internal_type.Persistence
		sessionID   = flags.session
		opts        = []internal_session.Option{
			internal_session.WithSnapshotStore(internal_persistence.NewSnapshotStore(storage)),
		}
	)
	if flags.seed != "" {
		descriptor, err := LoadSeed(flags.seed)
		if err != nil {
			return err
		}
		store := internal_persistence.NewMemoryAdapter(logger)
		if err := store.Seed(*descriptor); err != nil {
			return err
		}
		persistence, sessionID = store, descriptor.ID
	} else {
		persistence = backend_client.NewBackendClient(cfg.Backend, logger, creds)
	}

	var recorderOpts []internal_recorder.Option
	if flags.device != "" {
		recorderOpts = append(recorderOpts, internal_recorder.WithDevice(flags.device))
	}
	recorder := internal_recorder.NewAudioRecorder(logger, cfg.Recorder, mediaHost(logger, flags.synthetic), recorderOpts...)
	defer recorder.Release()
	if result, err := recorder.RequestPermission(ctx); err != nil {
		logger.Warnw("audio capture unavailable, answers will be text only", "permission", result.State, "error", err)
	} else {
		logger.Infow("audio capture ready", "device", result.SelectedDeviceID)
		opts = append(opts, internal_session.WithRecorder(recorder))
	}

	if flags.session != "" {
		token, err := creds.Token(ctx)
		if err != nil {
			return fmt.Errorf("a credential is required for backend sessions: %w", err)
		}
		transport := internal_transport.NewClient(logger, cfg.Transport, cfg.Backend.WebsocketURL, internal_transport.WithCredentials(creds))
		defer transport.Release()
		if err := transport.Connect(ctx, token); err != nil {
			logger.Warnw("analysis stream unavailable, continuing without live analysis", "error", err)
		}
		bridge := internal_analysis.NewBridge(logger, cfg.Analysis, transport)
		defer bridge.Close()
		opts = append(opts,
			internal_session.WithBridge(bridge),
			internal_session.WithSender(transport),
			internal_session.WithTransportErrors(transport),
		)
	}

	runner := internal_session.NewRunner(logger, cfg.SessionRunner, cfg.Analysis, persistence, opts...)
	defer runner.Release()
	if err := runner.Load(ctx, sessionID); err != nil {
		return fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	return newConsole(logger, runner, deps.In, deps.Out).run(ctx)
}
