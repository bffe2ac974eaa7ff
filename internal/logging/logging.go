// Package logging configures the process-wide slog default logger used
// by both the edge server and the tunnel client.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Setup installs a default slog logger at the given level. When w is a
// terminal, output is colorized via tint; otherwise it falls back to
// the plain text handler the rest of the codebase was built against.
func Setup(w *os.File, level slog.Level) {
	var handler slog.Handler
	if term.IsTerminal(int(w.Fd())) {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// SetupWriter is like Setup but for an arbitrary io.Writer (e.g. in
// tests), always using the plain handler since color detection only
// applies to *os.File.
func SetupWriter(w io.Writer, level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
