package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"parcelhub/internal/config"
	"parcelhub/internal/ui"
	"parcelhub/pkg/errors"
)

// passwordPrompt builds the interactive prompt; tests replace it
var passwordPrompt = config.TerminalPrompt

func newEncryptPasswordCmd() *cobra.Command {
	var (
		fromStdin   bool
		keyringName string
	)

	cmd := &cobra.Command{
		Use:   "encrypt-password",
		Short: "Produce a password value for the credentials file",
		Long: `Encrypt a warehouse password with AES-256-GCM and print the ENC[...] value to
paste into the credentials file.

The encryption key is derived from:
1. PARCELHUB_ENCRYPTION_KEY environment variable (if set)
2. Machine-specific identifier (hostname + home directory)

With --keyring NAME the password is stored in the system keyring instead and
the command prints the @keyring:NAME reference to use as the password.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, fromStdin)
			if err != nil {
				return err
			}

			if keyringName != "" {
				if err := config.StoreKeyringPassword(keyringName, password); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "@keyring:%s\n", keyringName)
				ui.ShowSuccess(cmd.ErrOrStderr(), fmt.Sprintf("password stored in the system keyring as %q", keyringName))
				return nil
			}

			encrypted, err := config.EncryptPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encrypted)
			ui.ShowSuccess(cmd.ErrOrStderr(), "paste the value above as the credentials password")
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the password from the first line of stdin")
	cmd.Flags().StringVar(&keyringName, "keyring", "", "store the password in the system keyring under this name")
	return cmd
}

func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	var password string
	if fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", errors.InvalidInput("stdin", "", "no password on stdin")
		}
		password = strings.TrimRight(line, "\r\n")
	} else {
		prompt := passwordPrompt()
		if prompt == nil {
			return "", errors.InvalidInput("stdin", "", "not a terminal").
				WithSuggestions("Pipe the password in and pass --stdin")
		}
		var err error
		if password, err = prompt("Warehouse password:"); err != nil {
			return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "Password prompt failed")
		}
	}

	if password == "" {
		return "", errors.InvalidInput("password", "", "password is empty")
	}
	return password, nil
}
