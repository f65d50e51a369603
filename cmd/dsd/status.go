package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mirror counts and per-drive cursor state",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit machine-readable JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.store.Stats(cmd.Context())
	if err != nil {
		return err
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Printf("items:         %d (%d deleted)\n", stats.Items, stats.DeletedItems)
	fmt.Printf("events:        %d\n", stats.Events)
	fmt.Printf("subscriptions: %d\n", stats.Subscriptions)
	if len(stats.Drives) == 0 {
		fmt.Println("drives:        none synced yet")
		return nil
	}
	for _, d := range stats.Drives {
		cursor := d.Cursor
		if len(cursor) > 48 {
			cursor = cursor[:48] + "..."
		}
		fmt.Printf("drive %s: cursor %q, last sync %s\n", d.DriveID, cursor, d.LastSyncAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
