package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"taskboard-api/config"
	"taskboard-api/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Infof("storage init starting, driver: %s", cfg.StorageDriver)

	ctx := context.Background()

	switch cfg.StorageDriver {
	case config.DriverTables:
		if err := storage.CreateTables(ctx, cfg.StorageConn, cfg.ListsTable, cfg.TasksTable, cfg.UsersTable, cfg.TokensTable); err != nil {
			log.Fatalf("create tables: %v", err)
		}
	case config.DriverPostgres:
		db, err := storage.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	default:
		log.Info("memory storage needs no setup")
	}

	if cfg.EventsSink == config.SinkQueue {
		if err := storage.CreateQueues(ctx, cfg.StorageConn, cfg.EventsQueue); err != nil {
			log.Fatalf("create queues: %v", err)
		}
	}

	log.Info("storage init complete")
}
