package dltlogger

import (
	"context"
	"log/slog"
	"runtime"
	"strings"

	"github.com/JoanClaverol/dlt-logger/internal/model"
)

// SlogHandler routes standard log/slog records into the pipeline, so an
// application can keep its slog call sites and still get durable records.
//
//	slog.SetDefault(slog.New(rt.SlogHandler("api")))
type SlogHandler struct {
	logger *Logger
	attrs  []slog.Attr
	groups []string
}

// SlogHandler returns a slog.Handler emitting through this Runtime under
// the given module name.
func (rt *Runtime) SlogHandler(module string) *SlogHandler {
	return &SlogHandler{logger: rt.Logger(module)}
}

func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return mapSlogLevel(level).Severity() >= h.logger.rt.Config().MinLevel.Severity()
}

func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	f := Fields{Context: make(map[string]any)}

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range h.attrs {
		f.Context[prefix+a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		f.Context[prefix+a.Key] = a.Value.Any()
		return true
	})

	// Source attribution from the slog record's PC.
	if r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := fs.Next()
		name := frame.Function
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		f.FunctionName = name
	}

	h.logger.Log(mapSlogLevel(r.Level), r.Message, f)
	return nil
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &h2
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	h2 := *h
	h2.groups = append(append([]string{}, h.groups...), name)
	return &h2
}

func mapSlogLevel(level slog.Level) model.Level {
	switch {
	case level < slog.LevelInfo:
		return model.LevelDebug
	case level < slog.LevelWarn:
		return model.LevelInfo
	case level < slog.LevelError:
		return model.LevelWarning
	case level < slog.LevelError+4:
		return model.LevelError
	default:
		return model.LevelCritical
	}
}
