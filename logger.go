package dltlogger

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/JoanClaverol/dlt-logger/internal/model"
)

// Logger is the per-module entry point. It builds records from call-site
// arguments, mirrors them to the console sink and forwards them to the
// storage pipeline. A failure anywhere in that path is reported and
// swallowed: logging never alters the caller's control flow.
type Logger struct {
	rt     *Runtime
	module string
}

// Module returns the emitting module name.
func (l *Logger) Module() string {
	return l.module
}

func (l *Logger) Debug(msg string, fields ...Fields) {
	l.emit(model.LevelDebug, msg, mergeFields(fields), 2)
}

func (l *Logger) Info(msg string, fields ...Fields) {
	l.emit(model.LevelInfo, msg, mergeFields(fields), 2)
}

func (l *Logger) Warning(msg string, fields ...Fields) {
	l.emit(model.LevelWarning, msg, mergeFields(fields), 2)
}

func (l *Logger) Error(msg string, fields ...Fields) {
	l.emit(model.LevelError, msg, mergeFields(fields), 2)
}

func (l *Logger) Critical(msg string, fields ...Fields) {
	l.emit(model.LevelCritical, msg, mergeFields(fields), 2)
}

// Log emits a record at an explicit level.
func (l *Logger) Log(level Level, msg string, fields ...Fields) {
	l.emit(level, msg, mergeFields(fields), 2)
}

// LogAction tags the record with an action and defaults the level from the
// success flag: success maps to INFO, failure to ERROR. An explicit Success
// field is respected; without one the action counts as successful.
func (l *Logger) LogAction(action, msg string, fields ...Fields) {
	f := mergeFields(fields)
	f.Action = action
	if f.Success == nil {
		f.Success = Bool(true)
	}
	level := model.LevelInfo
	if !*f.Success {
		level = model.LevelError
	}
	l.emit(level, msg, f, 2)
}

// LogException records a failed action at ERROR level, carrying the error's
// Go type name in the context.
func (l *Logger) LogException(action string, err error) {
	f := Fields{
		Action:  action,
		Success: Bool(false),
		Context: map[string]any{"exception_type": fmt.Sprintf("%T", err)},
	}
	l.emit(model.LevelError, fmt.Sprintf("exception in %s: %v", action, err), f, 2)
}

// emit is the single internal path: build the record, console first, then
// storage. skip is the caller depth for source attribution.
func (l *Logger) emit(level model.Level, msg string, f Fields, skip int) {
	function, line := callSite(skip + 1)
	if f.FunctionName != "" {
		function = f.FunctionName
	}

	rec, err := model.New(model.Draft{
		ProjectName:   l.rt.Config().ProjectName,
		ModuleName:    l.module,
		FunctionName:  function,
		RunID:         l.rt.runID,
		Level:         level,
		Action:        f.Action,
		Message:       msg,
		Success:       f.Success,
		StatusCode:    f.StatusCode,
		DurationMS:    f.DurationMS,
		RequestMethod: f.RequestMethod,
		Context:       contextArg(f.Context),
	})
	if err != nil {
		l.rt.console.Report(l.module, err)
		return
	}

	l.rt.console.Emit(rec, function, line)

	if err := l.rt.pipes.Get().Write([]model.Record{rec}); err != nil {
		l.rt.console.Report(l.module, err)
	}
}

// contextArg keeps a nil map normalizing to the empty mapping.
func contextArg(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

// callSite resolves the short function name and line of the emitting frame.
func callSite(skip int) (string, int) {
	pc, _, line, ok := runtime.Caller(skip)
	if !ok {
		return "", 0
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "", line
	}
	name := fn.Name()
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return name, line
}
