// Command dsd is the driveshadow daemon: it mirrors a single user's cloud
// drive hierarchy into a local store and keeps an append-only audit log of
// structural changes, driven by the provider's delta feed and push
// notifications.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped by the build.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "dsd",
	Short:         "driveshadow daemon: cloud drive mirror and change audit log",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dsd: %v\n", err)
		os.Exit(1)
	}
}
