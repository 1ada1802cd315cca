package cmd

import (
	"os"
	"os/signal"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// authLoginCmd represents the auth login command.
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to GitHub through the browser",
	Long: `Sign in to GitHub using the OAuth browser flow.

Your default browser opens GitHub's authorization page; credentials are
typed there and never pass through this process. After you approve, GitHub
redirects to a local listener and the session is persisted for future
launches.

Examples:
  ghdesk auth login           # Sign in
  ghdesk auth login --quiet   # Sign in without progress output`,
	RunE: runAuthLogin,
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	service, err := newService()
	if err != nil {
		return err
	}
	defer service.Close()

	if _, err := service.Init(); err != nil {
		return err
	}

	if status := service.Status(); status.IsLoggedIn {
		printLoggedIn(status.User.Login)
		return nil
	}

	// Ctrl-C cancels the pending attempt instead of leaving the listener up.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		service.CancelLogin()
	}()

	authPrintln("Opening your browser to authorize ghdesk...")

	var s *spinner.Spinner
	if !authQuiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = " Waiting for authorization in the browser..."
		s.Start()
	}

	sess, err := service.Login(ctx)

	if s != nil {
		s.Stop()
	}
	if err != nil {
		return err
	}

	printLoggedIn(sess.User.Login)
	return nil
}

func printLoggedIn(login string) {
	authPrint("Logged in as %s\n", login)
}
