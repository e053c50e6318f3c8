package dltlogger

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/JoanClaverol/dlt-logger/internal/model"
)

// consoleSink mirrors records to a writer, one line per record:
// timestamp | LEVEL (padded to 8) | module:function:line | message.
type consoleSink struct {
	mu       sync.Mutex
	w        io.Writer
	enabled  bool
	minLevel model.Level
}

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

func newConsoleSink(w io.Writer, enabled bool, minLevel model.Level) *consoleSink {
	return &consoleSink{w: w, enabled: enabled, minLevel: minLevel}
}

// Emit writes the console line for a record when the sink is enabled and the
// record's level meets the threshold.
func (c *consoleSink) Emit(rec model.Record, function string, line int) {
	if !c.enabled || rec.Level.Severity() < c.minLevel.Severity() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s | %-8s | %s:%s:%d | %s\n",
		rec.Timestamp.Format(consoleTimeFormat),
		rec.Level,
		rec.ModuleName, function, line,
		rec.Message,
	)
}

// Report prints a diagnostic for a swallowed failure inside the logging
// path. It ignores the enabled flag: a dropped record should leave a trace.
func (c *consoleSink) Report(module string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s | %-8s | %s | dropped record: %v\n",
		time.Now().UTC().Format(consoleTimeFormat),
		model.LevelError,
		module,
		err,
	)
}
