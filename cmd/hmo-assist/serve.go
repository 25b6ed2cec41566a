package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/custodia-labs/hmo-assist/internal/adapters/driving/http"
	"github.com/custodia-labs/hmo-assist/internal/worker"
)

func newServeCmd(c *cli) *cobra.Command {
	var ingestOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background rebuild worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, c, ingestOnStart)
		},
	}
	cmd.Flags().BoolVar(&ingestOnStart, "ingest", false, "rebuild the index from the knowledge directory on startup")
	return cmd
}

func runServe(ctx context.Context, c *cli, ingestOnStart bool) error {
	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	w := worker.NewWorker(worker.WorkerConfig{
		Source:       a.loader,
		Ingestion:    a.ingestion,
		KnowledgeDir: c.cfg.Ingestion.KnowledgeDir,
		Watch:        c.cfg.Ingestion.Watch,
		Debounce:     c.cfg.Ingestion.Debounce,
		Logger:       c.logger,
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()
	if ingestOnStart {
		w.Trigger()
	}

	server := http.NewServer(http.Config{
		Host:        c.cfg.Server.Host,
		Port:        c.cfg.Server.Port,
		Version:     c.cfg.Server.Version,
		CORSOrigins: c.cfg.Server.CORSOrigins,
	}, http.Services{
		Answers:   a.answers,
		Chat:      a.chat,
		Health:    a.health,
		Ingestion: a.ingestion,
		Reindexer: w,
	}, c.logger)

	if err := server.Start(ctx); err != nil {
		c.logger.Error("server exited", zap.Error(err))
		return err
	}
	return nil
}
