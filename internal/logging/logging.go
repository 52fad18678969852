package logging

import (
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/term"
)

// Options controls how the global logger is built.
type Options struct {
	Verbose bool
	// Format is "auto", "text" or "json". Auto picks text on a terminal.
	Format string
	// Output defaults to stderr.
	Output io.Writer
}

// Setup initializes the global slog logger using charmbracelet/log as the backend.
// Timestamps are always reported so every poll cycle and notification is traceable.
func Setup(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handler := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          "mrwatch",
	})

	if opts.Verbose {
		handler.SetLevel(charmlog.DebugLevel)
	} else {
		handler.SetLevel(charmlog.InfoLevel)
	}

	if useJSON(opts.Format, out) {
		handler.SetFormatter(charmlog.JSONFormatter)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func useJSON(format string, out io.Writer) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return true
	}
	return !term.IsTerminal(int(f.Fd()))
}
