package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rtext-lang/rtext/internal/cli/config"
	"github.com/rtext-lang/rtext/internal/logger"
	"github.com/rtext-lang/rtext/internal/metamodel"
	"github.com/rtext-lang/rtext/internal/tooling"
	"github.com/rtext-lang/rtext/internal/workspace"
)

// workspaceFlags are shared by the commands that serve a workspace
type workspaceFlags struct {
	dir      string
	logLevel string
}

func (f *workspaceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.dir, "dir", "C", ".", "Project directory holding rtext.yml")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides log.level")
}

// env is a loaded project: its configuration, model and tooling API
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	model  *workspace.Model
	api    *tooling.API
}

func openWorkspace(f workspaceFlags) (*env, error) {
	dir := f.dir
	if root, err := config.FindProjectRoot(dir); err == nil {
		dir = root
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if f.logLevel != "" {
		level = f.logLevel
	}
	log, err := logger.New(level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	schema, err := metamodel.LoadSchema(cfg.Workspace.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	desc := metamodel.NewAdapter(schema)

	if _, err := os.Stat(cfg.Workspace.Root); err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	model, err := workspace.New(desc, cfg.Workspace.Root, cfg.Workspace.Patterns, workspace.WithLogger(log))
	if err != nil {
		return nil, err
	}

	api := tooling.NewAPIWithConfig(desc, model, &tooling.Config{MaxSearchResults: cfg.Search.MaxResults})

	log.Debug("workspace opened",
		zap.String(logger.FieldFile, cfg.Workspace.Root),
		zap.Strings("patterns", cfg.Workspace.Patterns))

	return &env{cfg: cfg, logger: log, model: model, api: api}, nil
}

func (e *env) Close() {
	if err := e.model.Close(); err != nil {
		e.logger.Warn("failed to close workspace", zap.Error(err))
	}
	_ = e.logger.Sync()
}
