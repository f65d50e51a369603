package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Validate the credential, ensure a subscription, and run the initial sync",
	Long: `Bootstrap runs the startup protocol in-process: validate the bearer
credential against the provider, ensure a live push subscription for the
default drive, perform a full initial sync, and enable the credential gate.

Note that the gate state is process-local: bootstrapping with this command
prepares the store and subscription but a separately running 'dsd serve'
must be bootstrapped through its own POST /bootstrap endpoint.`,
	RunE: runBootstrap,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.boot.Run(cmd.Context())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
