package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"ghdesk/internal/app"
	"ghdesk/internal/config"
)

var (
	authQuiet   bool
	authVerbose bool
)

// authCmd represents the auth command group.
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the GitHub login session",
	Long: `Manage the GitHub login session.

The auth command group provides subcommands to login through the browser,
inspect the current session, refresh the profile snapshot, and logout.

Examples:
  ghdesk auth login     # Sign in via the browser
  ghdesk auth status    # Show session status
  ghdesk auth refresh   # Refresh the profile snapshot now
  ghdesk auth token     # Print a validated access token
  ghdesk auth logout    # Clear the stored session`,
}

// authPrint prints output only if the --quiet flag is not set.
func authPrint(format string, args ...interface{}) {
	if !authQuiet {
		fmt.Printf(format, args...)
	}
}

// authPrintln prints a line only if the --quiet flag is not set.
func authPrintln(a ...interface{}) {
	if !authQuiet {
		fmt.Println(a...)
	}
}

// newService loads and validates the OAuth configuration and builds the
// application service. Missing credentials print setup instructions and
// surface a *config.SetupError so Execute maps it to ExitCodeNotConfigured.
func newService() (*app.Service, error) {
	level := slog.LevelWarn
	if authVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.FromEnv()
	if err != nil {
		var setupErr *config.SetupError
		if errors.As(err, &setupErr) {
			fmt.Fprintln(os.Stderr, setupErr.Instructions())
		}
		return nil, err
	}

	return app.New(cfg)
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authRefreshCmd)
	authCmd.AddCommand(authTokenCmd)

	authCmd.PersistentFlags().BoolVarP(&authQuiet, "quiet", "q", false, "Suppress progress output")
	authCmd.PersistentFlags().BoolVarP(&authVerbose, "verbose", "v", false, "Enable debug logging")
}
