package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"ghdesk/internal/authflow"
	"ghdesk/internal/config"
)

// Exit codes for CLI commands. These follow common conventions so scripts
// can distinguish setup problems from failed logins.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
	// ExitCodeNotConfigured indicates OAuth credentials are not set up.
	ExitCodeNotConfigured = 2
	// ExitCodeAuthFailed indicates the OAuth flow failed or was cancelled.
	ExitCodeAuthFailed = 3
)

// rootCmd represents the base command for the ghdesk application.
var rootCmd = &cobra.Command{
	Use:   "ghdesk",
	Short: "GitHub login and session management for the desktop",
	Long: `ghdesk signs you in to GitHub through your browser and keeps the
session alive in the background: it persists the credential locally,
re-validates it periodically, and refreshes the profile snapshot so the
application never has to ask you to log in again on every launch.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// Called from the main package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "ghdesk version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the exit code based on the error type, giving
// scripts semantic exit codes.
func getExitCode(err error) int {
	var setupErr *config.SetupError
	if errors.As(err, &setupErr) {
		return ExitCodeNotConfigured
	}

	var providerErr *authflow.ProviderError
	if errors.As(err, &providerErr) {
		return ExitCodeAuthFailed
	}
	switch {
	case errors.Is(err, authflow.ErrAuthTimeout),
		errors.Is(err, authflow.ErrAuthCancelled),
		errors.Is(err, authflow.ErrLoginSuperseded),
		errors.Is(err, authflow.ErrStateMismatch),
		errors.Is(err, authflow.ErrMissingCode):
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}
