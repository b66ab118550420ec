package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exhibitmedia/internal/events"
	"exhibitmedia/internal/iiif"
	"exhibitmedia/internal/metadata"
	"exhibitmedia/internal/models"
	"exhibitmedia/internal/server"
	"exhibitmedia/internal/storage"
	"exhibitmedia/internal/thumbs"
	"exhibitmedia/internal/upload"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := models.LoadConfig("config.yaml")
	if err != nil {
		logger.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := storage.NewStore(cfg.DatabaseURL)
	if err != nil {
		logger.Error("init store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	layout, err := storage.NewLayout(cfg.StoragePath)
	if err != nil {
		logger.Error("init storage layout", slog.Any("error", err))
		os.Exit(1)
	}

	extractor, err := metadata.NewService(cfg.MetadataTimeout(), logger)
	if err != nil {
		logger.Error("start metadata worker", slog.Any("error", err))
		os.Exit(1)
	}

	gen := thumbs.NewGenerator(layout, cfg.ThumbnailMaxWidth, cfg.ThumbnailMaxHeight, cfg.ThumbnailQuality, logger)
	processor := upload.NewProcessor(layout, gen, extractor, logger)
	images := iiif.NewImageService(layout, logger)
	manifests := iiif.NewManifestBuilder(store, images, cfg.PublicBaseURL, logger)
	producer := events.NewProducer(cfg.KafkaBroker, cfg.KafkaTopic, logger)

	ctx, cancel := context.WithCancel(context.Background())

	if n, err := store.CountRecords(ctx); err == nil {
		logger.Info("media store ready", slog.Int("records", n), slog.String("root", layout.Root()))
	}

	// Pre-warm manifests for freshly ingested media so the first
	// presentation read does not pay the generation cost.
	go events.RunConsumer(ctx, cfg.KafkaBroker, cfg.KafkaTopic, "manifest-prewarm", func(ctx context.Context, raw string) error {
		id, err := storage.ParseID(raw)
		if err != nil {
			return err
		}
		rec, err := store.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		if !manifests.Eligible(rec) {
			return nil
		}
		_, err = manifests.Get(ctx, rec)
		return err
	}, logger)

	srv := server.NewServer(cfg, store, layout, processor, images, manifests, producer, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server stopped", slog.Any("error", err))
			cancel()
		}
	}()
	logger.Info("serving", slog.String("addr", cfg.ServerAddr))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown", slog.Any("error", err))
	}
	if err := producer.Close(); err != nil {
		logger.Error("producer close", slog.Any("error", err))
	}
	// The exiftool worker is a real subprocess; shut it down before the
	// process exits or it outlives us.
	if err := extractor.Shutdown(); err != nil {
		logger.Error("metadata worker shutdown", slog.Any("error", err))
	}
}
