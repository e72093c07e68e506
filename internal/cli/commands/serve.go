package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rtext-lang/rtext/internal/cli/config"
	"github.com/rtext-lang/rtext/internal/service"
	"github.com/rtext-lang/rtext/internal/watch"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	var (
		flags      workspaceFlags
		watchFiles bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the backend service",
		Long: `Start the RText backend service for the workspace described by rtext.yml.

The service binds the first free port of service.port_min..service.port_max on
service.host and prints

  RText service, listening on port <N>

to stdout. Editor frontends read that line and connect. The service exits when
a client sends "stop", when no client has been active for
service.idle_timeout, or on interrupt.

Examples:
  # Serve the project in the current directory
  rtext serve

  # Reload changed model files automatically
  rtext serve --watch --log-level debug
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := openWorkspace(flags)
			if err != nil {
				return err
			}
			defer e.Close()

			if cmd.Flags().Changed("watch") {
				e.cfg.Workspace.Watch = watchFiles
			}

			opts := []service.Option{
				service.WithLogger(e.logger),
				service.WithStdout(cmd.OutOrStdout()),
			}

			if e.cfg.Workspace.Watch {
				changes := make(chan []string, 16)
				fw, err := watch.NewFileWatcher(e.cfg.Workspace.Root, e.model.Matches, func(files []string) {
					select {
					case changes <- files:
					case <-ctx.Done():
					}
				}, watch.WithLogger(e.logger))
				if err != nil {
					return err
				}
				if err := fw.Start(); err != nil {
					return err
				}
				defer fw.Stop()
				opts = append(opts, service.WithChanges(changes))
			}

			svc := service.New(serviceConfig(e.cfg), e.api, opts...)
			if err := svc.Listen(); err != nil {
				return err
			}

			if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&watchFiles, "watch", false, "Reload model files when they change on disk")

	return cmd
}

func serviceConfig(cfg *config.Config) service.Config {
	return service.Config{
		Host:          cfg.Service.Host,
		PortMin:       cfg.Service.PortMin,
		PortMax:       cfg.Service.PortMax,
		IdleTimeout:   cfg.Service.IdleTimeout,
		PollInterval:  cfg.Service.PollInterval,
		FlushInterval: cfg.Service.FlushInterval,
	}
}
