package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rtext-lang/rtext/internal/cli/config"
	"github.com/rtext-lang/rtext/internal/cli/ui"
	"github.com/rtext-lang/rtext/internal/connector"
	"github.com/rtext-lang/rtext/internal/logger"
	"github.com/rtext-lang/rtext/internal/wire"
)

// requestFlags locate the backend and the cursor
type requestFlags struct {
	file     string
	line     int
	column   int
	logLevel string
	timeout  time.Duration
}

// NewRequestCommand creates the request command
func NewRequestCommand() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Send a request to a backend",
		Long: `Start the backend configured for a model file and send it one request,
the way an editor frontend does.

The backend command comes from the nearest .rtext file above --file whose
patterns match the file name. The backend is started, the model is loaded,
the request is answered and the backend is stopped again.

Examples:
  rtext request load --file model/a.rt
  rtext request complete --file model/a.rt --line 3 --column 12
  rtext request links --file model/a.rt --line 5 --column 20
  rtext request find --file model/a.rt w1
`,
	}

	cmd.PersistentFlags().StringVarP(&flags.file, "file", "f", "", "Model file that selects the backend (required)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "Connector log level")
	cmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "Give up after this long")
	_ = cmd.MarkPersistentFlagRequired("file")

	cursor := func(c *cobra.Command) {
		c.Flags().IntVarP(&flags.line, "line", "l", 1, "1-based line of the cursor")
		c.Flags().IntVarP(&flags.column, "column", "c", 1, "1-based column of the cursor")
	}

	complete := &cobra.Command{
		Use:   "complete",
		Short: "List completion options at a position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, flags, true, func(ctx context.Context, c *connector.Connector, out io.Writer) error {
				req, err := contextRequest(flags)
				if err != nil {
					return err
				}
				m, err := c.ExecuteSync(ctx, wire.CommandContentComplete, req, nil)
				if err != nil {
					return err
				}
				var resp wire.CompleteResponse
				if err := m.Bind(&resp); err != nil {
					return err
				}

				table := ui.NewTable(out, []string{"INSERT", "DISPLAY"}, noColor(cmd))
				for _, o := range resp.Options {
					table.AddRow(o.Insert, o.Display)
				}
				table.Render()
				return nil
			})
		},
	}
	cursor(complete)

	links := &cobra.Command{
		Use:   "links",
		Short: "List the link targets of the token at a position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, flags, true, func(ctx context.Context, c *connector.Connector, out io.Writer) error {
				req, err := contextRequest(flags)
				if err != nil {
					return err
				}
				m, err := c.ExecuteSync(ctx, wire.CommandLinkTargets, req, nil)
				if err != nil {
					return err
				}
				var resp wire.LinkTargetsResponse
				if err := m.Bind(&resp); err != nil {
					return err
				}
				if len(resp.Targets) == 0 {
					fmt.Fprintln(out, "No link at this position")
					return nil
				}

				kv := ui.NewKeyValueTable(out, noColor(cmd))
				kv.Add("Columns", fmt.Sprintf("%d-%d", resp.BeginColumn, resp.EndColumn))
				kv.Render()
				writeTargets(out, resp.Targets, noColor(cmd))
				return nil
			})
		},
	}
	cursor(links)

	find := &cobra.Command{
		Use:   "find <pattern>",
		Short: "Search model elements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, flags, true, func(ctx context.Context, c *connector.Connector, out io.Writer) error {
				m, err := c.ExecuteSync(ctx, wire.CommandFindElements, wire.FindElementsRequest{SearchPattern: args[0]}, nil)
				if err != nil {
					return err
				}
				var resp wire.FindElementsResponse
				if err := m.Bind(&resp); err != nil {
					return err
				}
				writeTargets(out, resp.Elements, noColor(cmd))
				fmt.Fprintf(out, "%d of %d element(s)\n", len(resp.Elements), resp.TotalElements)
				return nil
			})
		},
	}

	load := &cobra.Command{
		Use:   "load",
		Short: "Load the model and report its problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, flags, false, func(ctx context.Context, c *connector.Connector, out io.Writer) error {
				resp, err := loadModel(ctx, c, cmd.ErrOrStderr(), noColor(cmd))
				if err != nil {
					return err
				}
				ui.WriteProblems(out, resp.Problems, resp.TotalProblems, noColor(cmd))
				return nil
			})
		},
	}

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Start the backend and ask it to stop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, flags, false, func(ctx context.Context, c *connector.Connector, out io.Writer) error {
				if _, err := c.ExecuteSync(ctx, wire.CommandStop, nil, nil); err != nil && !errors.Is(err, connector.ErrClosed) {
					return err
				}
				ui.WriteSuccess(out, "Backend stopped", noColor(cmd))
				return nil
			})
		},
	}

	cmd.AddCommand(complete, links, find, load, stop)
	return cmd
}

type requestFunc func(ctx context.Context, c *connector.Connector, out io.Writer) error

// runRequest starts the backend for flags.file, optionally loads the model
// and runs fn. The backend is stopped afterwards in every case.
func runRequest(cmd *cobra.Command, flags requestFlags, load bool, fn requestFunc) error {
	section, err := config.FindConfig(flags.file)
	if errors.Is(err, config.ErrNoConfig) {
		fmt.Fprint(cmd.ErrOrStderr(), ui.NoConfigError(flags.file, noColor(cmd)))
		return err
	}
	if err != nil {
		return err
	}

	log, err := logger.New(flags.logLevel, true)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	spinner := ui.NewSpinner(cmd.ErrOrStderr(), ui.SpinnerOptions{
		Message: "Starting backend...",
		NoColor: noColor(cmd),
	})

	c := connector.New(connector.Config{
		Command: section.Command,
		Dir:     section.Dir,
		Logger:  log,
		OnConnect: func(port int) {
			spinner.Stop()
			log.Debug("backend connected", zap.Int(logger.FieldPort, port))
		},
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
	defer cancel()

	spinner.Start()
	defer spinner.Stop()
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := c.Stop(stopCtx); err != nil {
			log.Warn("backend did not stop", zap.Error(err))
		}
	}()

	if load {
		if _, err := loadModel(ctx, c, cmd.ErrOrStderr(), noColor(cmd)); err != nil {
			return backendFailure(cmd, c, err)
		}
	}
	if err := fn(ctx, c, cmd.OutOrStdout()); err != nil {
		return backendFailure(cmd, c, err)
	}
	return nil
}

func backendFailure(cmd *cobra.Command, c *connector.Connector, err error) error {
	if errors.Is(err, connector.ErrClosed) {
		msg := "The backend exited unexpectedly."
		if path := c.OutputPath(); path != "" {
			msg += " Its output was written to " + path + "."
		}
		fmt.Fprint(cmd.ErrOrStderr(), ui.BackendError(msg, noColor(cmd)))
	}
	return err
}

func loadModel(ctx context.Context, c *connector.Connector, w io.Writer, noColor bool) (wire.LoadModelResponse, error) {
	var bar *ui.ProgressBar
	m, err := c.ExecuteSync(ctx, wire.CommandLoadModel, nil, func(percent int) {
		if bar == nil {
			bar = ui.NewProgressBar(w, ui.ProgressBarOptions{Message: "Loading model", NoColor: noColor})
		}
		bar.Set(percent)
	})
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return wire.LoadModelResponse{}, err
	}

	var resp wire.LoadModelResponse
	if err := m.Bind(&resp); err != nil {
		return wire.LoadModelResponse{}, err
	}
	return resp, nil
}

// contextRequest reads flags.file up to the cursor line
func contextRequest(flags requestFlags) (wire.ContextRequest, error) {
	if flags.line < 1 || flags.column < 1 {
		return wire.ContextRequest{}, fmt.Errorf("line and column are 1-based")
	}

	lines, err := readLines(flags.file, flags.line)
	if err != nil {
		return wire.ContextRequest{}, err
	}
	if len(lines) < flags.line {
		return wire.ContextRequest{}, fmt.Errorf("%s has only %d line(s)", flags.file, len(lines))
	}
	return wire.ContextRequest{Column: flags.column, Context: lines}, nil
}

func readLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for len(lines) < n && scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func writeTargets(w io.Writer, targets []wire.Target, noColor bool) {
	table := ui.NewTable(w, []string{"FILE", "LINE", "ELEMENT"}, noColor)
	for _, t := range targets {
		file := t.File
		if wd, err := os.Getwd(); err == nil {
			if rel, err := filepath.Rel(wd, t.File); err == nil {
				file = rel
			}
		}
		table.AddRow(file, strconv.Itoa(t.Line), t.Display)
	}
	table.Render()
}
