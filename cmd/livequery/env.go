package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/coffersTech/livequery/internal/config"
	"github.com/coffersTech/livequery/internal/engine"
	"github.com/coffersTech/livequery/internal/logger"
	"github.com/coffersTech/livequery/internal/model"
	"github.com/coffersTech/livequery/internal/storage"
	"go.uber.org/zap"
)

// env is everything a command needs to answer queries.
type env struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *model.Store
	window  *engine.LogWindow
	catalog *engine.Catalog
	reader  *storage.Reader
	writer  *storage.Writer
}

func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// openEnv loads the object snapshot, registers the archives and replays
// the live log file.
func openEnv(ctx context.Context, cfg *config.Config, log *zap.Logger) (*env, error) {
	store, err := model.LoadYAML(cfg.ObjectsFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warn("objects file not found, starting with an empty object model", zap.String("path", cfg.ObjectsFile))
		store = model.NewStore()
	case err != nil:
		return nil, fmt.Errorf("load objects: %w", err)
	}

	reader, err := storage.NewReader()
	if err != nil {
		return nil, err
	}
	writer, err := storage.NewWriter()
	if err != nil {
		reader.Close()
		return nil, err
	}

	window := engine.NewLogWindow(store,
		engine.WithSegmentEntries(cfg.Window.SegmentEntries),
		engine.WithRetention(cfg.Window.Retention),
		engine.WithPreload(cfg.Window.Preload),
		engine.WithArchiveReader(reader),
		engine.WithFlush(func(lines []string) (string, error) {
			return writer.WriteArchive(cfg.ArchiveDir, lines, true)
		}),
		engine.WithWindowLogger(log.Named("window")),
	)

	e := &env{
		cfg:     cfg,
		log:     log,
		store:   store,
		window:  window,
		catalog: engine.NewCatalog(store, window, log.Named("catalog")),
		reader:  reader,
		writer:  writer,
	}

	if cfg.ArchiveDir != "" {
		if err := window.LoadArchives(ctx, cfg.ArchiveDir); err != nil {
			e.close()
			return nil, fmt.Errorf("load archives: %w", err)
		}
	}
	if cfg.LiveLog != "" {
		n := 0
		err := reader.ReadLines(cfg.LiveLog, func(line string) error {
			window.Append(line)
			n++
			return nil
		})
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Warn("live log not found", zap.String("path", cfg.LiveLog))
		case err != nil:
			e.close()
			return nil, fmt.Errorf("read live log: %w", err)
		default:
			log.Info("live log loaded", zap.String("path", cfg.LiveLog), zap.Int("lines", n))
		}
	}

	log.Info("engine ready",
		zap.Int("hosts", len(store.Hosts())),
		zap.Int("services", len(store.Services())),
		zap.Int("contacts", len(store.Contacts())),
		zap.Int("log_entries", window.Len()))
	return e, nil
}

func (e *env) close() {
	e.reader.Close()
	if err := e.writer.Close(); err != nil {
		e.log.Warn("closing archive writer", zap.Error(err))
	}
}
