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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	internal_mockbackend "github.com/interviewx/client/internal/mockbackend"
	internal_persistence "github.com/interviewx/client/internal/persistence"
)

const shutdownGrace = 5 * time.Second

type mockBackendFlags struct {
	addr     string
	seeds    []string
	secret   string
	tokenTTL time.Duration
}

// NewMockBackendCmd serves the REST and websocket endpoints the client talks
// to, backed by in-memory seeded sessions.
func NewMockBackendCmd(deps *Dependencies) *cobra.Command {
	var flags mockBackendFlags

	cmd := &cobra.Command{
		Use:           "mock-backend",
		Short:         "Serve seeded interview sessions for local development",
		Version:       deps.Config.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveMockBackend(ctx, deps, flags)
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringSliceVar(&flags.seeds, "seed", nil, "YAML session seed to serve (repeatable)")
	cmd.Flags().StringVar(&flags.secret, "secret", "", "Token signing secret (random when empty)")
	cmd.Flags().DurationVar(&flags.tokenTTL, "token-ttl", time.Hour, "Lifetime of issued tokens")
	return cmd
}

func serveMockBackend(ctx context.Context, deps *Dependencies, flags mockBackendFlags) error {
	store := internal_persistence.NewMemoryAdapter(deps.Logger)
	for _, path := range flags.seeds {
		descriptor, err := LoadSeed(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := store.Seed(*descriptor); err != nil {
			return err
		}
		fmt.Fprintf(deps.Out, "serving session %s (%d questions)\n", descriptor.ID, len(descriptor.Questions))
	}

	opts := []internal_mockbackend.Option{internal_mockbackend.WithTokenTTL(flags.tokenTTL)}
	if flags.secret != "" {
		opts = append(opts, internal_mockbackend.WithSecret([]byte(flags.secret)))
	}
	server := internal_mockbackend.New(deps.Logger, store, opts...)
	token, err := server.IssueToken("candidate")
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintf(deps.Out, "token: %s\n", token)

	httpServer := &http.Server{
		Addr:              flags.addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	deps.Logger.Infow("mock backend listening", "addr", flags.addr)

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	deps.Logger.Info("shutting down mock backend")
	return httpServer.Shutdown(shutdownCtx)
}
