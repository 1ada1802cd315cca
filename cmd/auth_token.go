package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// authTokenCmd represents the auth token command.
var authTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a validated access token",
	Long: `Print the current access token after validating it against the
provider, so a dead token is never handed to a script.

The token is written to stdout on its own line; everything else goes to
stderr, making the output safe for command substitution.

Examples:
  curl -H "Authorization: Bearer $(ghdesk auth token)" https://api.github.com/user`,
	RunE: runAuthToken,
}

func runAuthToken(cmd *cobra.Command, args []string) error {
	service, err := newService()
	if err != nil {
		return err
	}
	defer service.Close()

	if _, err := service.Init(); err != nil {
		return err
	}

	token, err := service.Token(cmd.Context())
	if err != nil {
		return err
	}

	// The one place the secret is intentionally revealed.
	fmt.Println(token.Value())
	return nil
}
