// Package log builds the host's diagnostic sink: one timestamped slog line per
// record, written to stderr and an append-only log file.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

type slogKeyT struct{}

var slogKey slogKeyT

// ContextHandler adds the attributes stored by ContextAttrs to every record.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{
		Handler: handler,
	}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(slogKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}

	return h.Handler.Handle(ctx, r)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// ContextAttrs returns a copy of ctx carrying attrs in addition to any
// attributes already attached.
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	prev, _ := ctx.Value(slogKey).([]slog.Attr)
	a := make([]slog.Attr, 0, len(prev)+len(attrs))
	a = append(a, prev...)
	a = append(a, attrs...)
	return context.WithValue(ctx, slogKey, a)
}

// New returns a text logger writing to w.
func New(verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})
	return slog.New(NewContextHandler(base))
}

// DefaultPath is the log file used when the configuration names none.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "heyjamie.log")
}

// Open creates a logger that writes to stderr and appends to the file at path.
// The returned cleanup closes the file.
func Open(path string, verbose bool) (*slog.Logger, func(), error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // path comes from host config
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return New(verbose, io.MultiWriter(os.Stderr, f)), func() { _ = f.Close() }, nil
}

// Truncate bounds text to maxLen bytes, marking a cut with an ellipsis.
// The cut never splits a UTF-8 sequence.
func Truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	cut := maxLen
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// TruncateTail bounds text to its last maxLen bytes, marking a cut with a
// leading ellipsis.
func TruncateTail(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	cut := len(text) - maxLen
	for cut < len(text) && !isRuneStart(text[cut]) {
		cut++
	}
	return "…" + text[cut:]
}
