package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rtext-lang/rtext/internal/lsp"
)

// NewLSPCommand creates the LSP command
func NewLSPCommand() *cobra.Command {
	var flags workspaceFlags

	cmd := &cobra.Command{
		Use:   "lsp",
		Short: "Start the Language Server Protocol server",
		Long: `Start the RText Language Server Protocol (LSP) server.

The server offers the same features as the backend service to LSP clients:
  • Code completion
  • Diagnostics for every model file
  • Go-to-definition and find references
  • Hover information
  • Document and workspace symbols

The LSP server communicates via JSON-RPC over stdin/stdout.
It is typically started automatically by your editor/IDE.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openWorkspace(flags)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := lsp.NewServer(e.api, lsp.WithLogger(e.logger))
			if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
