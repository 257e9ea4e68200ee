package cmd

import (
	"github.com/kirin-3/stickykeeper/stickykeeper"
	"github.com/spf13/cobra"
	"log"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the StickyKeeper bot and backend API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		sk, err := stickykeeper.New(cfg)
		if err != nil {
			log.Fatalf("error creating stickykeeper: %s", err.Error())
		}

		if err = sk.Run(ctx); err != nil {
			log.Fatalf("error running stickykeeper: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
