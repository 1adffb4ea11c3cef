// Package log configures the process-wide slog logger for the credreg CLI.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Options configures the logger.
type Options struct {
	// Verbose enables debug and info output. Warnings and errors are always written.
	Verbose bool
	// JSONFormat uses JSON output instead of text.
	JSONFormat bool
	// Stderr is the destination, os.Stderr when nil.
	Stderr io.Writer
}

// Init builds the logger described by opts and installs it as the slog default.
func Init(opts Options) *slog.Logger {
	w := opts.Stderr
	if w == nil {
		w = os.Stderr
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.JSONFormat {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
