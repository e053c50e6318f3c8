package dltlogger

import (
	"fmt"
	"time"
)

// TimedOperation runs fn and emits exactly one completion or failure record
// carrying the elapsed duration, on every exit path: normal return, error
// return, or panic (the panic is re-raised after the record is emitted).
func (l *Logger) TimedOperation(action string, fn func() error) (err error) {
	start := time.Now()

	defer func() {
		elapsed := time.Since(start).Milliseconds()
		if p := recover(); p != nil {
			l.LogAction(action, fmt.Sprintf("%s panicked: %v", action, p), Fields{
				Success:    Bool(false),
				DurationMS: Int64(elapsed),
				Context:    map[string]any{"panic": fmt.Sprint(p)},
			})
			panic(p)
		}
		if err != nil {
			l.LogAction(action, fmt.Sprintf("%s failed: %v", action, err), Fields{
				Success:    Bool(false),
				DurationMS: Int64(elapsed),
				Context:    map[string]any{"error_type": fmt.Sprintf("%T", err)},
			})
			return
		}
		l.LogAction(action, fmt.Sprintf("%s completed", action), Fields{
			Success:    Bool(true),
			DurationMS: Int64(elapsed),
		})
	}()

	return fn()
}
