package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns a JSON logger on stdout tagged with the service name.
func New(service string) *slog.Logger {
	return NewWithWriter(os.Stdout, service)
}

func NewWithWriter(w io.Writer, service string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, nil)).With(slog.String("service", service))
}
