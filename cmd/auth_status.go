package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"ghdesk/internal/app"
	"ghdesk/internal/session"
)

// Status-specific flags
var statusJSON bool

// authStatusCmd represents the auth status command.
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Long: `Show the current GitHub session status.

Displays whether a session exists, who it belongs to, when it was last
validated against the provider, and background maintenance diagnostics.

Examples:
  ghdesk auth status          # Human-readable status
  ghdesk auth status --json   # Machine-readable status`,
	RunE: runAuthStatus,
}

func init() {
	authStatusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	service, err := newService()
	if err != nil {
		return err
	}
	defer service.Close()

	if _, err := service.Init(); err != nil {
		return err
	}

	status := service.Status()
	sessionStatus := service.SessionStatus()

	if statusJSON {
		return printStatusJSON(status, sessionStatus)
	}

	printStatusHuman(status, sessionStatus)
	return nil
}

func printStatusJSON(status app.UserStatus, sessionStatus session.Status) error {
	out := struct {
		app.UserStatus
		Session session.Status `json:"session"`
	}{UserStatus: status, Session: sessionStatus}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStatusHuman(status app.UserStatus, sessionStatus session.Status) {
	if !status.IsLoggedIn {
		fmt.Printf("%s Not logged in\n", text.FgRed.Sprint("✗"))
		fmt.Println("\nRun 'ghdesk auth login' to sign in.")
		return
	}

	fmt.Printf("%s Logged in as %s\n", text.FgGreen.Sprint("✓"), text.Bold.Sprint(status.User.Login))
	if status.User.Name != "" {
		fmt.Printf("  Name:        %s\n", status.User.Name)
	}
	if status.User.Email != "" {
		fmt.Printf("  Email:       %s\n", status.User.Email)
	}
	fmt.Printf("  Public repos: %d  Followers: %d  Following: %d\n",
		status.User.PublicRepos, status.User.Followers, status.User.Following)

	if !sessionStatus.LastValidated.IsZero() {
		fmt.Printf("  Last validated: %s (%s ago)\n",
			sessionStatus.LastValidated.Format(time.RFC3339),
			sessionStatus.TimeSinceLastValidation.Round(time.Second))
	}
	if sessionStatus.IsRefreshing {
		fmt.Printf("  %s refresh in progress\n", text.FgYellow.Sprint("⟳"))
	}
	if sessionStatus.RetryCount > 0 {
		fmt.Printf("  %s %d consecutive validation failure(s)\n",
			text.FgYellow.Sprint("!"), sessionStatus.RetryCount)
	}
}
