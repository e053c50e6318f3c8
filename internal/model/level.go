package model

import "fmt"

// Level is the severity of a log record. Only the five enumerated values
// are valid; anything else is rejected at construction time.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Severity returns a comparable rank for threshold checks.
func (l Level) Severity() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	case LevelCritical:
		return 4
	default:
		return -1
	}
}

// Valid reports whether l is one of the five enumerated levels.
func (l Level) Valid() bool {
	return l.Severity() >= 0
}

// ParseLevel converts a string to a Level, failing on unknown values.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.Valid() {
		return "", &ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %q", s)}
	}
	return l, nil
}

// EncodeLevel converts a Level to its storage byte.
func EncodeLevel(l Level) uint8 {
	return uint8(l.Severity())
}

// DecodeLevel converts a storage byte back to a Level.
func DecodeLevel(b uint8) (Level, error) {
	switch b {
	case 0:
		return LevelDebug, nil
	case 1:
		return LevelInfo, nil
	case 2:
		return LevelWarning, nil
	case 3:
		return LevelError, nil
	case 4:
		return LevelCritical, nil
	default:
		return "", &ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level code %d", b)}
	}
}
