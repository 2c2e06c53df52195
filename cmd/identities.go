package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var identitiesCmd = &cobra.Command{
	Use:     "identities",
	Aliases: []string{"students"},
	Short:   "Manage enrolled identities",
}

var identitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	Args:  cobra.NoArgs,
	RunE:  runIdentitiesList,
}

var identitiesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an identity, keeping an archived copy",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentitiesRemove,
}

var identitiesArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "List archived identities",
	Args:  cobra.NoArgs,
	RunE:  runIdentitiesArchive,
}

var identitiesPurgeCmd = &cobra.Command{
	Use:   "purge <archive-dir>",
	Short: "Permanently delete an archived identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentitiesPurge,
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
	identitiesCmd.AddCommand(identitiesListCmd, identitiesRemoveCmd, identitiesArchiveCmd, identitiesPurgeCmd)

	identitiesListCmd.Flags().String("query", "", "Only list identities whose id or name matches")
}

func runIdentitiesList(cmd *cobra.Command, args []string) error {
	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	idents, err := c.catalog.Search(context.Background(), mustGetString(cmd, "query"))
	if err != nil {
		return err
	}
	if len(idents) == 0 {
		fmt.Println("No identities enrolled")
		return nil
	}

	fmt.Printf("%-8s %-30s %-10s %s\n", "ID", "NAME", "CAPTURES", "ENROLLED")
	for _, ident := range idents {
		fmt.Printf("%-8s %-30s %-10d %s\n", ident.ID, ident.DisplayName, len(ident.Signatures),
			ident.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Printf("\nTotal: %d\n", len(idents))
	return nil
}

func runIdentitiesRemove(cmd *cobra.Command, args []string) error {
	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	archived, err := c.catalog.Remove(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Removed %s (%s), archived as %s\n", archived.DisplayName, archived.ID, archived.Dir)
	return nil
}

func runIdentitiesArchive(cmd *cobra.Command, args []string) error {
	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	archived, err := c.catalog.ListArchived(context.Background())
	if err != nil {
		return err
	}
	if len(archived) == 0 {
		fmt.Println("Archive is empty")
		return nil
	}

	for _, a := range archived {
		fmt.Printf("%-36s %-8s %s\n", a.Dir, a.ID, a.DisplayName)
	}
	return nil
}

func runIdentitiesPurge(cmd *cobra.Command, args []string) error {
	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.catalog.PurgeArchived(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Purged %s\n", args[0])
	return nil
}
