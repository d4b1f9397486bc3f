package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gamelink/internal/bridge"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen   string
	Target   string
	SyncTime bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the host bridge",
		Long: `Run a tracker and expose it to the host application over WebSocket.

Routes:
  GET /ws       host message and command channel
  GET /state    current session state
  GET /healthz  liveness

Examples:
  gamelink serve
  gamelink serve --listen 127.0.0.1:9000 --target staging`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (defaults to the configured address)")
	cmd.Flags().StringVar(&opts.Target, "target", "", "backend target (defaults to the configured target)")
	cmd.Flags().BoolVar(&opts.SyncTime, "sync-time", true, "fetch the server time on start")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := loadEnvironment(opts.RootOptions)
	if err != nil {
		return formatter.Fail(err)
	}
	defer env.Close()

	addr := opts.Listen
	if addr == "" {
		addr = env.cfg.Listen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "failed to listen", err))
	}

	tr, err := env.targetTracker(opts.Target)
	if err != nil {
		ln.Close()
		return formatter.Fail(err)
	}
	stop := startTracker(context.WithoutCancel(ctx), tr)
	defer stop()

	if opts.SyncTime {
		if err := tr.SyncServerTime(ctx); err != nil {
			slog.Warn("server time sync not started", "error", err)
		}
	}

	b := bridge.New(tr, bridge.WithAllowedOrigins(env.cfg.AllowedOrigins...))
	defer b.Close()

	srv := &http.Server{
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving host bridge on %s\n", ln.Addr())
	slog.Info("bridge listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return formatter.Fail(WrapExitError(ExitCommandError, "bridge server failed", err))

	case <-ctx.Done():
		slog.Info("bridge shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return formatter.Fail(WrapExitError(ExitCommandError, "bridge shutdown failed", err))
		}
		return nil
	}
}
