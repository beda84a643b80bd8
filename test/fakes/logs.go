package fakes

import (
	"context"
	"log/slog"
	"sync"
)

// LogRecord is a captured slog record with its attributes flattened.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogSink collects records written through the handlers it creates.
type LogSink struct {
	mu      sync.Mutex
	records []LogRecord
}

func (s *LogSink) Logger() *slog.Logger {
	return slog.New(&sinkHandler{sink: s})
}

// Records returns every record with the given message.
func (s *LogSink) Records(msg string) []LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LogRecord
	for _, r := range s.records {
		if r.Message == msg {
			out = append(out, r)
		}
	}
	return out
}

func (s *LogSink) Count(msg string) int {
	return len(s.Records(msg))
}

type sinkHandler struct {
	sink  *LogSink
	attrs []slog.Attr
}

func (h *sinkHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *sinkHandler) Handle(_ context.Context, r slog.Record) error {
	rec := LogRecord{Level: r.Level, Message: r.Message, Attrs: make(map[string]any)}
	for _, a := range h.attrs {
		rec.Attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.Attrs[a.Key] = a.Value.Any()
		return true
	})
	h.sink.mu.Lock()
	h.sink.records = append(h.sink.records, rec)
	h.sink.mu.Unlock()
	return nil
}

func (h *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sinkHandler{sink: h.sink, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *sinkHandler) WithGroup(string) slog.Handler { return h }
