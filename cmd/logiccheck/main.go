// logiccheck validates the order-management rule set and optionally
// prepares the database schema. Building the engine resolves the full
// dependency graph, so a cycle, a duplicate producer, or a dangling
// reference fails here instead of at service startup.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/erp/logicengine/internal/domain/ordering"
	"github.com/erp/logicengine/internal/engine"
	"github.com/erp/logicengine/internal/infrastructure/config"
	"github.com/erp/logicengine/internal/infrastructure/logger"
	"github.com/erp/logicengine/internal/infrastructure/persistence"
	"github.com/erp/logicengine/internal/infrastructure/persistence/models"
)

func main() {
	var (
		logLevel string
		migrate  bool
	)

	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&migrate, "migrate", false, "Connect to the configured database and create the schema")
	flag.Parse()

	log, err := logger.New(&logger.Config{
		Level:  logLevel,
		Format: "console",
		Output: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	graph, err := ordering.Graph()
	if err != nil {
		log.Fatal("Entity graph is invalid", zap.Error(err))
	}

	// The memory store is enough to resolve and validate the rule set.
	eng, err := ordering.NewEngine(
		persistence.NewMemoryStore(graph),
		engine.WithLogger(log),
		engine.WithScale(int32(cfg.Engine.DecimalScale)),
		engine.WithCascadeLimit(cfg.Engine.CascadeLimit),
	)
	if err != nil {
		log.Fatal("Rule set is invalid", zap.Error(err))
	}
	_ = eng
	log.Info("rule set validated")

	if !migrate {
		return
	}

	gl := logger.NewGormLogger(log, logger.MapGormLogLevel(logLevel))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gl)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		_ = db.Close()
	}()

	if err := models.AutoMigrate(db.DB); err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}
	log.Info("database schema ready",
		zap.String("driver", cfg.Database.Driver),
		zap.String("dbname", cfg.Database.DBName),
	)
}
