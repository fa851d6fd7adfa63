package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"clipfit/internal/config"
	"clipfit/internal/daemonrun"
	"clipfit/internal/delivery"
	"clipfit/internal/jobstore"
	"clipfit/internal/logging"
	"clipfit/internal/media"
	"clipfit/internal/workflow"
)

const cliRequester = "cli:local"

type fetchOptions struct {
	URL       string
	Kind      media.OutputKind
	OutputDir string
	LogLevel  string
	Record    bool
}

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var audio bool
	var outputDir string
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a URL, fit it under the ceiling and save it locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dir, err := config.ExpandPath(outputDir)
			if err != nil {
				return fmt.Errorf("resolve output directory: %w", err)
			}
			kind := media.KindVideo
			if audio {
				kind = media.KindAudio
			}
			return runFetch(cmd.Context(), cmd.OutOrStdout(), cfg, fetchOptions{
				URL:       args[0],
				Kind:      kind,
				OutputDir: dir,
				LogLevel:  ctx.logLevel("warn"),
				Record:    !noHistory,
			})
		},
	}
	cmd.Flags().BoolVar(&audio, "audio", false, "Extract audio as MP3 instead of video")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory to copy the finished file into")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the job in the history database")
	return cmd
}

// runFetch runs one job in-process and waits for it. It fails when no file
// was delivered; the console channel has already printed the reason.
func runFetch(ctx context.Context, out io.Writer, cfg *config.Config, opts fetchOptions) error {
	logger, err := logging.New(logging.Options{
		Level:       opts.LogLevel,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	var store workflow.Store
	if opts.Record {
		if s := openHistory(cfg, logger); s != nil {
			defer s.Close()
			store = s
		}
	}

	console := delivery.NewConsole(out, opts.OutputDir)
	router := delivery.NewRouter(nil)
	router.Handle("cli", console)

	pipeline := daemonrun.NewPipeline(cfg, logger, daemonrun.PipelineOptions{
		Delivery:      router,
		Store:         store,
		MaxConcurrent: 1,
	})
	id, err := pipeline.Workflow.Submit(ctx, workflow.Request{
		RequesterID: cliRequester,
		URL:         opts.URL,
		Kind:        opts.Kind,
	})
	if err != nil {
		return err
	}
	if err := waitOrCancel(ctx, pipeline.Workflow, cfg.ShutdownGrace()); err != nil {
		return err
	}

	if _, ok := console.Delivered(id); !ok {
		return fmt.Errorf("job %s failed", id)
	}
	return nil
}

// openHistory opens the job store, logging and returning nil on failure so
// a locked or unreadable database never blocks a fetch.
func openHistory(cfg *config.Config, logger *slog.Logger) *jobstore.Store {
	store, err := jobstore.Open(cfg)
	if err != nil {
		logging.WarnWithContext(logger, "job history unavailable", "job_store_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this fetch is not recorded"),
		)
		return nil
	}
	return store
}

// waitOrCancel waits for the job. An interrupt cancels it and still lets
// its workspace cleanup finish within grace.
func waitOrCancel(ctx context.Context, manager *workflow.Manager, grace time.Duration) error {
	done := make(chan struct{})
	go func() {
		manager.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}
