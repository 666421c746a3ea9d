package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benaskins/lectern/internal/config"
	"github.com/benaskins/lectern/internal/keychain"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage credentials handed to the backend",
	Long: `Credentials are kept in the macOS login Keychain, or in a 0600 file under
~/.lectern on other systems.

backend.secrets in the config maps environment variables to secret keys, and
backend.token_secret names the key holding the backend API token.`,
}

func init() {
	secretCmd.AddCommand(
		&cobra.Command{
			Use:   "set <key> [value]",
			Short: "Store a secret, prompting for the value when omitted",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  runSecretSet,
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print a secret",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := secretStore().Get(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List stored keys and the variables that use them",
			Args:    cobra.NoArgs,
			RunE:    runSecretList,
		},
		&cobra.Command{
			Use:     "delete <key>",
			Aliases: []string{"rm"},
			Short:   "Remove a secret",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := secretStore().Delete(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			},
		},
	)
	rootCmd.AddCommand(secretCmd)
}

func secretStore() keychain.Store {
	return keychain.NewSystemStore(lecternHome())
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], ""
	if len(args) == 2 {
		value = args[1]
	} else {
		var err error
		if value, err = readSecretValue(cmd, key); err != nil {
			return err
		}
	}
	if value == "" {
		return fmt.Errorf("refusing to store an empty value for %s", key)
	}
	if err := secretStore().Set(key, value); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", key)
	return nil
}

// readSecretValue prompts without echo on a terminal, otherwise it takes the
// first line of stdin.
func readSecretValue(cmd *cobra.Command, key string) (string, error) {
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		fmt.Fprintf(cmd.ErrOrStderr(), "value for %s: ", key)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		return string(b), err
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runSecretList(cmd *cobra.Command, args []string) error {
	keys, err := secretStore().List()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no secrets")
		return nil
	}

	var users map[string][]string
	if cfg, err := loadConfig(); err == nil {
		users = secretUsers(cfg)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tUSED BY")
	for _, k := range keys {
		used := strings.Join(users[k], ", ")
		if used == "" {
			used = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\n", k, used)
	}
	return tw.Flush()
}

// secretUsers maps each secret key to the settings that read it.
func secretUsers(cfg *config.Config) map[string][]string {
	users := map[string][]string{}
	for env, key := range cfg.Backend.Secrets {
		users[key] = append(users[key], env)
	}
	for _, envs := range users {
		slices.Sort(envs)
	}
	if k := cfg.Backend.TokenSecret; k != "" {
		users[k] = append(users[k], "api token")
	}
	return users
}
