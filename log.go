package main

import (
	"log/slog"
	"os"

	"github.com/benjaminclauss/stationboard/config"
)

func newLogHandler(cfg config.LogConfig) (slog.Handler, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(os.Stderr, opts), nil
	}
	return slog.NewTextHandler(os.Stderr, opts), nil
}

func setupLogging(cfg config.LogConfig) error {
	h, err := newLogHandler(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(h))
	return nil
}
