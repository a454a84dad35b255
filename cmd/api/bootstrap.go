package main

import (
	"fmt"

	"calendar/internal/domain/repository"
	"calendar/internal/infrastructure/database/gormdb"
	"calendar/internal/infrastructure/database/memory"
	"calendar/internal/pkg/config"
	appLogger "calendar/internal/pkg/logger"
)

// storage bundles the repositories of the configured backend.
type storage struct {
	notes      repository.NoteRepository
	deliveries repository.DeliveryRepository
	watermarks repository.WatermarkRepository
	close      func() error
}

func loadConfig() (*config.Config, appLogger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := appLogger.New(appLogger.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func openStorage(cfg config.DatabaseConfig, log appLogger.Logger) (*storage, error) {
	if cfg.Driver == "memory" {
		log.Warn("Using in-memory storage, notes are lost on restart")
		return &storage{
			notes:      memory.NewNoteStore(),
			deliveries: memory.NewDeliveryStore(),
			watermarks: memory.NewWatermarkStore(),
			close:      func() error { return nil },
		}, nil
	}

	db, err := gormdb.Open(gormdb.Config{Driver: cfg.Driver, URL: cfg.URL, LogLevel: cfg.LogLevel})
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Driver, err)
	}
	log.Info(fmt.Sprintf("Connected to %s database.", cfg.Driver))
	return &storage{
		notes:      gormdb.NewNoteRepository(db),
		deliveries: gormdb.NewDeliveryRepository(db),
		watermarks: gormdb.NewWatermarkRepository(db),
		close:      func() error { return gormdb.Close(db) },
	}, nil
}
