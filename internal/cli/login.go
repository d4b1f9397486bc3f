package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gamelink/internal/notify"
)

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Target  string
	Timeout time.Duration
}

// LoginResult holds the outcome of a completed login.
type LoginResult struct {
	Target      string `json:"target"`
	LoginURL    string `json:"login_url"`
	RedirectURL string `json:"redirect_url"`
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in through the device flow",
		Long: `Announce a device flow against the configured backend, print the URL
to open on a secondary device, and wait until the login completes.

Exit codes:
  0 - Logged in
  1 - Login not completed (timeout or interrupted)
  2 - Command error (announce failed, invalid config, etc.)

Examples:
  gamelink login
  gamelink login --target staging --timeout 5m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Target, "target", "", "backend target (defaults to the configured target)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Minute, "give up after this long (0 waits forever)")

	return cmd
}

func runLogin(ctx context.Context, opts *LoginOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	env, err := loadEnvironment(opts.RootOptions)
	if err != nil {
		return formatter.Fail(err)
	}
	defer env.Close()

	tr, err := env.targetTracker(opts.Target)
	if err != nil {
		return formatter.Fail(err)
	}
	stop := startTracker(context.WithoutCancel(ctx), tr)
	defer stop()

	loggedIn := make(chan notify.UserLoggedIn, 1)
	unsubscribe := tr.Subscribe(func(n notify.Notification) {
		if u, ok := n.(notify.UserLoggedIn); ok {
			select {
			case loggedIn <- u:
			default:
			}
		}
	})
	defer unsubscribe()

	started := make(chan string, 1)
	if err := tr.StartDeviceFlow(ctx, func(loginURL string) { started <- loginURL }); err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "failed to start device flow", err))
	}

	var loginURL string
	select {
	case loginURL = <-started:
	case <-ctx.Done():
		return formatter.Fail(WrapExitError(ExitFailure, "device flow not announced", ctx.Err()))
	}
	if loginURL == "" {
		return formatter.Fail(NewExitError(ExitCommandError, "device flow announce failed"))
	}

	w := cmd.OutOrStdout()
	if opts.Format != "json" {
		fmt.Fprintf(w, "Open %s on another device to log in.\n", loginURL)
	}

	st, err := tr.State(ctx)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "failed to read state", err))
	}

	select {
	case u := <-loggedIn:
		result := LoginResult{Target: st.Target, LoginURL: loginURL, RedirectURL: u.RedirectURL}
		if opts.Format == "json" {
			return formatter.Success(result)
		}
		fmt.Fprintf(w, "Logged in. Continue at %s\n", result.RedirectURL)
		return nil

	case <-ctx.Done():
		_ = tr.StopDeviceFlow(context.WithoutCancel(ctx))
		return formatter.Fail(WrapExitError(ExitFailure, "login not completed", ctx.Err()))
	}
}
