package main

import (
	"github.com/condoleads/condoleads-sub001/internal/config"
	"github.com/condoleads/condoleads-sub001/internal/database"
	"github.com/condoleads/condoleads-sub001/internal/feed"
	"github.com/condoleads/condoleads-sub001/internal/listings"
	"github.com/condoleads/condoleads-sub001/internal/metrics"
	"github.com/condoleads/condoleads-sub001/internal/reconcile"
	"github.com/condoleads/condoleads-sub001/internal/store"
	"github.com/condoleads/condoleads-sub001/internal/syncer"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// engine bundles the components shared by the server and the one-off commands.
type engine struct {
	db           *gorm.DB
	store        *store.Store
	metrics      *metrics.Metrics
	orchestrator *syncer.Orchestrator
}

func openStore(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, *store.Store, error) {
	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	listingStore, err := store.New(store.Config{Database: db, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return db, listingStore, nil
}

func newEngine(appConfig config.AppConfig, logger *zap.Logger) (*engine, error) {
	if err := appConfig.ValidateFeed(); err != nil {
		return nil, err
	}
	db, listingStore, err := openStore(appConfig, logger)
	if err != nil {
		return nil, err
	}

	feedClient, err := feed.NewClient(feed.Config{
		BaseURL:           appConfig.FeedBaseURL,
		Token:             appConfig.FeedToken,
		Timeout:           appConfig.FeedTimeout,
		PageSize:          appConfig.FeedPageSize,
		CompletedLookback: appConfig.FeedCompletedLookback,
		Logger:            logger.Named("feed"),
	})
	if err != nil {
		return nil, err
	}

	ids := listings.NewUUIDProvider()
	applier, err := reconcile.NewApplier(reconcile.ApplyConfig{
		Store:      listingStore,
		IDProvider: ids,
		Logger:     logger.Named("apply"),
	})
	if err != nil {
		return nil, err
	}

	registry := metrics.New()
	orchestrator, err := syncer.New(syncer.Config{
		Feed:    feedClient,
		Store:   listingStore,
		Applier: applier,
		Filter: reconcile.NewFilterPipeline(reconcile.FilterConfig{
			ExcludedStatuses:    appConfig.SyncExcludedStatuses,
			AllowPartialAddress: appConfig.SyncAllowPartialAddress,
		}),
		Categorizer:        reconcile.NewCategorizer(appConfig.SyncRecentWindow, nil),
		IDProvider:         ids,
		Metrics:            registry,
		Logger:             logger.Named("sync"),
		DefaultConcurrency: appConfig.SyncDefaultConcurrency,
		MaxConcurrency:     appConfig.SyncMaxConcurrency,
	})
	if err != nil {
		return nil, err
	}

	return &engine{db: db, store: listingStore, metrics: registry, orchestrator: orchestrator}, nil
}

func (e *engine) Close() {
	e.orchestrator.Shutdown()
	closeDatabase(e.db)
}

func closeDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
