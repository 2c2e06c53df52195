package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild the signature index from the identity records",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	report, err := c.catalog.Reconcile(context.Background())
	if err != nil {
		return err
	}
	if !report.Changed() {
		fmt.Println("Index already consistent")
		return nil
	}

	printIDs := func(label string, ids []string) {
		if len(ids) > 0 {
			fmt.Printf("%s (%d): %s\n", label, len(ids), strings.Join(ids, ", "))
		}
	}
	printIDs("Added", report.Added)
	printIDs("Removed", report.Removed)
	printIDs("Updated", report.Updated)
	return nil
}
