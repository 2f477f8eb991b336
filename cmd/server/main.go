package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/api"
	"github.com/rezendeng/faturamento/internal/config"
	"github.com/rezendeng/faturamento/internal/export"
	"github.com/rezendeng/faturamento/internal/ingest"
	"github.com/rezendeng/faturamento/internal/reconcile"
	"github.com/rezendeng/faturamento/internal/report"
	"github.com/rezendeng/faturamento/internal/repository"
	"github.com/rezendeng/faturamento/pkg/database"
	"github.com/rezendeng/faturamento/pkg/utils"
)

func main() {
	// Local .env overrides nothing already exported.
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting billing system",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.Upload.Dir, 0755); err != nil {
		logger.Fatal("Failed to create upload directory", zap.Error(err))
	}

	notaRepo := repository.NewNotaRepository(db.DB, logger)
	extratoRepo := repository.NewExtratoRepository(db.DB, logger)
	conciliacaoRepo := repository.NewConciliacaoRepository(db.DB, logger)

	engine := reconcile.NewEngine(db, notaRepo, extratoRepo, conciliacaoRepo, logger)
	reports := report.NewService(notaRepo, extratoRepo, logger)
	extractor := ingest.NewExtractor(cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger)
	importer := ingest.NewImporter(notaRepo, engine, logger)
	exporter := export.NewWriter(logger)

	server := api.NewServer(cfg.Server, api.Deps{
		Notas:     notaRepo,
		Extrato:   extratoRepo,
		Engine:    engine,
		Reports:   reports,
		Extractor: extractor,
		Importer:  importer,
		Exporter:  exporter,
		Upload:    cfg.Upload,
		Export:    cfg.Export,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
