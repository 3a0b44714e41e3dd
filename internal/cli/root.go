package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/app"
	"github.com/phrazzld/coursegen/internal/config"
	"github.com/phrazzld/coursegen/internal/platform/logger"
	"github.com/spf13/cobra"
)

// Opener builds the application for one command invocation.
type Opener func(ctx context.Context, opts app.Options) (*app.App, error)

type options struct {
	configPath string
	open       Opener
}

// NewRootCommand returns the coursegenctl command tree. A nil open loads
// configuration from --config and connects to the configured database.
func NewRootCommand(open Opener) *cobra.Command {
	o := &options{open: open}

	root := &cobra.Command{
		Use:           "coursegenctl",
		Short:         "Operate the course generation queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "",
		"path to a config file (default: ./config.yaml)")

	root.AddCommand(
		submitCmd(o),
		statusCmd(o),
		jobsCmd(o),
		processCmd(o),
		workCmd(o),
		sweepCmd(o),
		cancelCmd(o),
		documentCmd(o),
		migrateCmd(o),
		tokenCmd(o),
	)
	return root
}

// Execute runs the command tree against the configured environment.
func Execute(ctx context.Context) error {
	return NewRootCommand(nil).ExecuteContext(ctx)
}

// withApp opens the application, runs fn and releases it.
func (o *options) withApp(cmd *cobra.Command, opts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	open := o.open
	if open == nil {
		open = o.openFromConfig
	}

	a, err := open(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			a.Logger.Warn("failed to release resources", "error", cerr)
		}
	}()
	return fn(ctx, a)
}

func (o *options) openFromConfig(ctx context.Context, opts app.Options) (*app.App, error) {
	cfg, err := config.LoadFrom(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.SetupWriter(cfg.Server, os.Stderr)

	db, err := app.OpenDatabase(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, log, db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func parseID(kind, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q: %w", kind, raw, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
