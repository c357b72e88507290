package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"leihsy/internal/config"
	"github.com/rs/zerolog"
)

// New builds the process-wide zerolog logger from the logging section of the
// config and stamps every line with the app identity fields. Unknown or empty
// settings fall back to JSON at info level on stdout. The returned closer is
// non-nil only for file output.
func New(cfg config.LoggingConfig, app config.AppConfig) (*zerolog.Logger, io.Closer, error) {
	sink, closer, err := openSink(cfg)
	if err != nil {
		return nil, nil, err
	}

	if normalize(cfg.Format) == "console" {
		sink = zerolog.ConsoleWriter{Out: sink, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := zerolog.New(sink).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("app", app.Name).
		Str("env", app.Environment).
		Str("version", app.Version).
		Logger()

	return &logger, closer, nil
}

func openSink(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	switch normalize(cfg.Output) {
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("logging.output=file requires logging.file_path")
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return f, f, nil
	default:
		return os.Stdout, nil, nil
	}
}

func parseLevel(raw string) zerolog.Level {
	if level, err := zerolog.ParseLevel(normalize(raw)); err == nil {
		return level
	}
	return zerolog.InfoLevel
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
