package cmd

import (
	"github.com/spf13/cobra"
)

// authLogoutCmd represents the auth logout command.
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored session",
	Long: `Clear the stored GitHub session.

This removes the persisted credential and profile snapshot, requiring a new
browser login next time. Logout always succeeds: storage problems are logged
but never keep you signed in.

Examples:
  ghdesk auth logout`,
	RunE: runAuthLogout,
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	service, err := newService()
	if err != nil {
		return err
	}
	defer service.Close()

	if _, err := service.Init(); err != nil {
		return err
	}

	if !service.Status().IsLoggedIn {
		authPrintln("Not logged in.")
		return nil
	}

	service.Logout()
	authPrintln("Logged out.")
	return nil
}
