package logger

import (
	"os"
	"time"

	"github.com/finbot/pkg/config"
	"github.com/rs/zerolog"
)

// New builds the root logger. Console output is for local runs; deployments
// keep the default JSON stream.
func New(cfg config.Log) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Console {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		return zerolog.New(writer).Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
