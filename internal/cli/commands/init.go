package commands

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/rtext-lang/rtext/internal/cli/config"
	"github.com/rtext-lang/rtext/internal/cli/ui"
)

const defaultBackendCommand = "rtext serve"

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	var (
		dir      string
		patterns string
		command  string
		yes      bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a .rtext file",
		Long: `Write a .rtext file telling editor frontends which backend serves which
model files.

Without flags the file patterns and the backend command are asked for
interactively. A .rtext file holds one or more sections:

  *.rt, *.rt2:
  rtext serve

Examples:
  rtext init
  rtext init --patterns "*.rt" --command "rtext serve --watch" --yes
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(dir, config.RTextFile)

			if patterns == "" {
				prompt := &survey.Input{
					Message: "File patterns (comma separated):",
					Default: "*.rt",
				}
				if err := survey.AskOne(prompt, &patterns, survey.WithValidator(survey.Required), survey.WithValidator(validatePatterns)); err != nil {
					return err
				}
			}
			if command == "" {
				prompt := &survey.Input{
					Message: "Backend command:",
					Default: defaultBackendCommand,
				}
				if err := survey.AskOne(prompt, &command, survey.WithValidator(survey.Required)); err != nil {
					return err
				}
			}

			if _, err := os.Stat(path); err == nil && !yes {
				overwrite := false
				prompt := &survey.Confirm{
					Message: fmt.Sprintf("%s exists. Overwrite?", path),
				}
				if err := survey.AskOne(prompt, &overwrite); err != nil {
					return err
				}
				if !overwrite {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
			}

			if err := writeRTextFile(path, patterns, command); err != nil {
				return err
			}
			ui.WriteSuccess(cmd.OutOrStdout(), "Wrote "+path, noColor(cmd))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "C", ".", "Directory to write .rtext into")
	cmd.Flags().StringVar(&patterns, "patterns", "", "Comma separated file patterns, e.g. \"*.rt, *.rt2\"")
	cmd.Flags().StringVar(&command, "command", "", "Backend command line")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Overwrite an existing .rtext without asking")

	return cmd
}

func validatePatterns(ans any) error {
	s, ok := ans.(string)
	if !ok {
		return errors.New("patterns must be text")
	}
	_, err := config.ParseRText(strings.NewReader(normalizePatterns(s)+":\n"+defaultBackendCommand+"\n"), ".")
	return err
}

// writeRTextFile writes a single section, checked by parsing it back
func writeRTextFile(path, patterns, command string) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s:\n%s\n", normalizePatterns(patterns), strings.TrimSpace(command))

	sections, err := config.ParseRText(bytes.NewReader(buf.Bytes()), filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("invalid .rtext section: %w", err)
	}

	buf.Reset()
	if err := config.WriteRText(&buf, sections); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func normalizePatterns(s string) string {
	return strings.TrimSuffix(strings.TrimSpace(s), ":")
}
