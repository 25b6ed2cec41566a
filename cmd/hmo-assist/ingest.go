package main

import (
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
)

var (
	success = color.New(color.FgGreen).SprintFunc()
	failure = color.New(color.FgRed).SprintFunc()
	label   = color.New(color.FgCyan).SprintFunc()
)

func newIngestCmd(c *cli) *cobra.Command {
	var dir, htmlDir string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Rebuild the vector index from the knowledge directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if dir == "" {
				dir = c.cfg.Ingestion.KnowledgeDir
			}

			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if htmlDir != "" {
				written, err := a.loader.ConvertDir(ctx, htmlDir, dir)
				if err != nil {
					fmt.Fprintln(out, failure("html conversion failed:"), err)
					return err
				}
				fmt.Fprintf(out, "%s converted %d pages into %s\n", success("✓"), len(written), dir)
			}

			docs, err := a.loader.LoadDir(ctx, dir)
			if err != nil {
				fmt.Fprintln(out, failure("load failed:"), err)
				return err
			}

			report, err := a.ingestion.Ingest(ctx, docs)
			if err != nil {
				fmt.Fprintln(out, failure("ingestion failed:"), err)
				return err
			}
			printReport(cmd, report)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "knowledge directory (defaults to ingestion.knowledge_dir)")
	cmd.Flags().StringVar(&htmlDir, "html", "", "convert HTML pages from this directory into --dir before ingesting")
	return cmd
}

func printReport(cmd *cobra.Command, r *domain.IngestionReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s indexed %d chunks from %d documents\n", success("✓"), r.Counts.Total(), r.Documents)
	fmt.Fprintf(out, "  %s context=%d benefit=%d contact=%d\n", label("chunks"), r.Counts.Context, r.Counts.Benefit, r.Counts.Contact)
	fmt.Fprintf(out, "  %s %s in %d batches\n", label("model"), r.Model, r.Batches)
	fmt.Fprintf(out, "  %s %s\n", label("took"), time.Duration(r.Took)*time.Millisecond)
}

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.ingestion.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", label("backend"), stats.Backend)
			fmt.Fprintf(out, "%s %d\n", label("total"), stats.Total)
			for _, group := range []struct {
				name   string
				counts map[string]int
			}{
				{"type", stats.ByType},
				{"hmo", stats.ByHMO},
				{"tier", stats.ByTier},
				{"category", stats.ByCategory},
			} {
				fmt.Fprintf(out, "%s\n", label("by "+group.name))
				keys := make([]string, 0, len(group.counts))
				for k := range group.counts {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					name := k
					if name == "" {
						name = "(any)"
					}
					fmt.Fprintf(out, "  %-20s %d\n", name, group.counts[k])
				}
			}
			return nil
		},
	}
}
