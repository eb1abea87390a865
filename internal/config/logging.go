package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// NewLogger builds the process logger from configuration: human-readable
// text on stderr at the configured level, and a JSON file log that always
// records at debug so a quiet console never loses detail. The returned
// close function releases the log file.
//
// An empty LogFile disables the file log. A file that cannot be opened
// degrades to console-only logging rather than failing the command.
func NewLogger(cfg Config) (*slog.Logger, func() error) {
	noop := func() error { return nil }

	if cfg.LogFile == "" {
		return slog.New(consoleHandler(os.Stderr, cfg.LogLevel)), noop
	}

	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot open log file %s: %v\n", cfg.LogFile, err)
		return slog.New(consoleHandler(os.Stderr, cfg.LogLevel)), noop
	}

	logger := slog.New(fanout(os.Stderr, file, cfg.LogLevel))
	return logger, file.Close
}

func consoleHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

// fanout duplicates records to the console at the configured level and
// to the file log at debug.
func fanout(console, file io.Writer, consoleLevel slog.Level) slog.Handler {
	return slogmulti.Fanout(
		consoleHandler(console, consoleLevel),
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
}
