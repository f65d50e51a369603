package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	historyDrive string
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history <external-id>",
	Short: "Show the change audit log for one item",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDrive, "drive", "", "drive id the item belongs to (required)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum events to show, 0 for all")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "emit machine-readable JSON")
	_ = historyCmd.MarkFlagRequired("drive")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	item, err := a.store.GetItemByExternalID(ctx, historyDrive, args[0])
	if err != nil {
		return fmt.Errorf("lookup item %s: %w", args[0], err)
	}

	events, err := a.store.History(ctx, item.InternalID, historyLimit)
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	fmt.Printf("%s (%s, path %s)\n", item.Name, item.Kind, item.Path)
	for _, ev := range events {
		line := fmt.Sprintf("%s  %-6s", ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Kind)
		if ev.OldName != nil && ev.NewName != nil && *ev.OldName != *ev.NewName {
			line += fmt.Sprintf("  %s -> %s", *ev.OldName, *ev.NewName)
		} else if ev.NewName != nil {
			line += "  " + *ev.NewName
		} else if ev.OldName != nil {
			line += "  " + *ev.OldName
		}
		fmt.Println(line)
	}
	return nil
}
