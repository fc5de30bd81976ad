package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/quitachat/internal/docsource"
	"github.com/xxxsen/quitachat/internal/service"
)

func newIngestCmd(configPath *string) *cobra.Command {
	var (
		reset bool
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "ingest [names...]",
		Short: "load pre-chunked XML documents into the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ingest, source, err := a.ingestService()
			if err != nil {
				return err
			}
			report, err := ingest.Run(ctx, service.IngestOptions{Reset: reset, Names: args})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"files=%d failed=%d items=%d empty=%d duplicates=%d inserted=%d total=%d\n",
				report.Files, report.FailedFiles, report.Items, report.Empty,
				report.Duplicates, report.Inserted, report.Total)
			if !watch {
				return nil
			}
			local, ok := source.(*docsource.LocalSource)
			if !ok {
				return fmt.Errorf("--watch needs a local document store, got %q", source.Type())
			}
			return docsource.Watch(ctx, local.Dir(), 2*time.Second, func(ctx context.Context, names []string) {
				report, err := ingest.Run(ctx, service.IngestOptions{Names: names})
				if err != nil {
					logutil.GetLogger(ctx).Error("re-ingest failed", zap.Strings("names", names), zap.Error(err))
					return
				}
				logutil.GetLogger(ctx).Info("re-ingested changed documents",
					zap.Strings("names", names), zap.Int("inserted", report.Inserted), zap.Int("total", report.Total))
			})
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the vector index before loading")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and re-ingest XML files as they change")
	return cmd
}
