package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is the release version, set at build time with
// -ldflags "-X github.com/roach88/gamelink/internal/cli.Version=v1.2.3".
var Version = "dev"

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version string `json:"version"`
	Go      string `json:"go"`
	Commit  string `json:"commit,omitempty"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print version information",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo()
			if rootOpts.Format == "json" {
				return newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "gamelink %s (%s)\n", info.Version, info.Go)
			return nil
		},
	}
}

func versionInfo() VersionInfo {
	info := VersionInfo{Version: Version, Go: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				info.Commit = s.Value
			}
		}
	}
	return info
}
