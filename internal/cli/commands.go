package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/app"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/jobqueue"
	"github.com/phrazzld/coursegen/internal/platform/postgres"
	"github.com/spf13/cobra"
)

func submitCmd(o *options) *cobra.Command {
	var file, document string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Enumerate a course file into a batch of pending jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := readCourseFile(file)
			if err != nil {
				return err
			}
			sub, err := f.submission(document)
			if err != nil {
				return err
			}
			return o.withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
				res, err := a.Service.Submit(ctx, sub)
				if err != nil {
					return fmt.Errorf("submit failed: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "course file (YAML or JSON)")
	cmd.Flags().StringVar(&document, "document", "", "merge into this existing document")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// batchCmd builds a command taking one batch id argument.
func batchCmd(o *options, use, short string, opts app.Options,
	fn func(ctx context.Context, cmd *cobra.Command, a *app.App, batchID uuid.UUID) error,
) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <batch-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID, err := parseID("batch", args[0])
			if err != nil {
				return err
			}
			return o.withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				return fn(ctx, cmd, a, batchID)
			})
		},
	}
}

func statusCmd(o *options) *cobra.Command {
	return batchCmd(o, "status", "Show job counts by status", app.Options{},
		func(ctx context.Context, cmd *cobra.Command, a *app.App, batchID uuid.UUID) error {
			progress, err := a.Service.Status(ctx, batchID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), progress)
		})
}

func jobsCmd(o *options) *cobra.Command {
	var status string
	cmd := batchCmd(o, "jobs", "List a batch's jobs", app.Options{},
		func(ctx context.Context, cmd *cobra.Command, a *app.App, batchID uuid.UUID) error {
			filter := domain.JobStatus(status)
			if filter != "" && !filter.IsValid() {
				return fmt.Errorf("unknown job status %q", status)
			}
			jobs, err := a.Service.Jobs(ctx, batchID, filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jobs)
		})
	cmd.Flags().StringVar(&status, "status", "", "only jobs in this status (pending, processing, completed, failed)")
	return cmd
}

func processCmd(o *options) *cobra.Command {
	return batchCmd(o, "process", "Claim and run at most one job of a batch", app.Options{WithWorker: true},
		func(ctx context.Context, cmd *cobra.Command, a *app.App, batchID uuid.UUID) error {
			res, err := a.Service.ProcessOne(ctx, batchID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
}

func cancelCmd(o *options) *cobra.Command {
	return batchCmd(o, "cancel", "Fail a batch's pending jobs and stop new claims", app.Options{},
		func(ctx context.Context, cmd *cobra.Command, a *app.App, batchID uuid.UUID) error {
			n, err := a.Service.Cancel(ctx, batchID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"batch_id":       batchID,
				"cancelled_jobs": n,
			})
		})
}

func documentCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "document <document-id>",
		Short: "Print a course document with its merged results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("document", args[0])
			if err != nil {
				return err
			}
			return o.withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
				doc, err := a.Service.Document(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), doc)
			})
		},
	}
}

func workCmd(o *options) *cobra.Command {
	var workers int
	var batch string
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run workers until interrupted, or until --batch is drained",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var batchID uuid.UUID
			if batch != "" {
				id, err := parseID("batch", batch)
				if err != nil {
					return err
				}
				batchID = id
			}
			if workers < 0 {
				return fmt.Errorf("--workers must not be negative")
			}

			return o.withApp(cmd, app.Options{WithWorker: true}, func(ctx context.Context, a *app.App) error {
				cfg := jobqueue.PoolConfigFromQueue(a.Config.Queue)
				if workers > 0 {
					cfg.Workers = workers
				}
				pool := jobqueue.NewPool(a.Worker, a.Jobs, a.Sweeper, cfg, a.Logger)

				if batchID != uuid.Nil {
					progress, err := pool.RunUntilDrained(ctx, batchID)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), progress)
				}

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				return pool.Run(ctx)
			})
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of workers (default: queue.worker_count)")
	cmd.Flags().StringVar(&batch, "batch", "", "drain this batch and exit")
	return cmd
}

func sweepCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Requeue or fail jobs whose lease has expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
				res, err := a.Sweeper.SweepOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func migrateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down|reset|status|version>",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "reset", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
				if a.DB == nil {
					return fmt.Errorf("migrations need a database connection")
				}
				return postgres.Migrate(ctx, a.DB, args[0], a.Logger)
			})
		},
	}
}

func tokenCmd(o *options) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
				token, err := a.JWT.GenerateToken(ctx, subject)
				if err != nil {
					return fmt.Errorf("failed to issue token: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, e.g. the calling service")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
