package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/condoleads/condoleads-sub001/internal/config"
	"github.com/condoleads/condoleads-sub001/internal/logging"
	"github.com/condoleads/condoleads-sub001/internal/syncer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newSyncCommand() *cobra.Command {
	var (
		modeFlag    string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "sync ENTITY_ID...",
		Short: "Reconcile entities once and print progress events as NDJSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := syncer.ParseMode(modeFlag)
			if err != nil {
				return err
			}
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.NewCLILogger(appConfig.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			engine, err := newEngine(appConfig, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			batch, err := engine.orchestrator.SubmitBatch(cmd.Context(), args, concurrency, mode)
			if err != nil {
				return err
			}

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-signalCtx.Done()
				batch.Cancel()
			}()

			encoder := json.NewEncoder(cmd.OutOrStdout())
			var final syncer.Event
			for event := range batch.Subscribe(cmd.Context()) {
				if err := encoder.Encode(event); err != nil {
					return err
				}
				if event.Type == syncer.EventComplete {
					final = event
				}
			}
			logger.Debug("sync finished", zap.String("batch_id", batch.ID()))
			if final.Failed > 0 {
				return fmt.Errorf("%d of %d entities failed", final.Failed, final.Failed+final.Succeeded)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&modeFlag, "mode", string(syncer.ModeFull), "Sync mode (full, categorized)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Entities synced in parallel (0 uses the configured default)")
	return cmd
}
