package cmd

import (
	"fmt"
	"log"
	"syscall"

	"github.com/kirin-3/stickykeeper/stickykeeper"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// tokenReader is a function type for reading the token. It's really only
// here to make testing easier.
type tokenReader func() ([]byte, error)

var customTokenReader tokenReader

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token",
	Short: "Generate the argon2id hash of an API token, for SK_API_TOKEN_HASH",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()

		if customTokenReader == nil {
			customTokenReader = func() ([]byte, error) {
				return term.ReadPassword(int(syscall.Stdin))
			}
		}

		fmt.Fprint(out, "Enter API token: ")
		tokenBytes, err := customTokenReader()
		fmt.Fprintln(out)
		if err != nil {
			log.Fatalf("Error reading token: %v", err)
		}
		if len(tokenBytes) == 0 {
			log.Fatal("Token must not be empty")
		}

		hash, err := stickykeeper.HashToken(string(tokenBytes))
		if err != nil {
			log.Fatalf("Error hashing token: %v", err)
		}
		fmt.Fprintln(out, hash)
	},
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}
