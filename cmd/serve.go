package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the attendance HTTP API.
The index is reconciled with the identity records before the listener opens.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	if port := mustGetInt(cmd, "port"); port > 0 {
		c.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		c.cfg.Web.Host = host
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	report, err := c.catalog.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconciling index: %w", err)
	}
	if report.Changed() {
		c.log.Info("index reconciled at startup",
			"added", len(report.Added), "removed", len(report.Removed), "updated", len(report.Updated))
	}

	if !c.cfg.AdminKeyRequired() {
		c.log.Warn("admin key not set, destructive endpoints are unprotected")
	}

	server := web.NewServer(c.cfg, web.Dependencies{
		Catalog:     c.catalog,
		Recognition: c.recognition,
		Ledger:      c.ledger,
		Registry:    c.registry,
	}, c.log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting attendance API on http://%s\n", c.cfg.Web.Addr())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
