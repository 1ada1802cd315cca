package cmd

import (
	"github.com/spf13/cobra"
)

// authRefreshCmd represents the auth refresh command.
var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the profile snapshot now",
	Long: `Refresh the session's profile snapshot immediately.

The background maintenance refreshes the profile periodically; this command
forces one refresh cycle right away. If a refresh is already running, the
current session is reported unchanged.

Examples:
  ghdesk auth refresh`,
	RunE: runAuthRefresh,
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	service, err := newService()
	if err != nil {
		return err
	}
	defer service.Close()

	if _, err := service.Init(); err != nil {
		return err
	}

	if !service.Status().IsLoggedIn {
		authPrintln("Not logged in. Run 'ghdesk auth login' first.")
		return nil
	}

	sess, err := service.ManualRefresh(cmd.Context())
	if err != nil {
		return err
	}

	authPrint("Refreshed profile for %s\n", sess.User.Login)
	return nil
}
