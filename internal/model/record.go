package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is one observed event. It is immutable after construction: build it
// through New, never mutate it afterwards.
type Record struct {
	ID            string
	ProjectName   string
	ModuleName    string
	FunctionName  string
	RunID         string
	Timestamp     time.Time
	Level         Level
	Action        string
	Message       string
	Success       *bool
	StatusCode    *int64
	DurationMS    *int64
	RequestMethod string
	Context       map[string]any
}

// Draft enumerates every record field explicitly. Absent optional fields are
// defaulted by New; Context accepts a map, a JSON string, or nil.
type Draft struct {
	ID            string
	ProjectName   string
	ModuleName    string
	FunctionName  string
	RunID         string
	Timestamp     time.Time
	Level         Level
	Action        string
	Message       string
	Success       *bool
	StatusCode    *int64
	DurationMS    *int64
	RequestMethod string
	Context       any
}

// New validates and normalizes a draft into a Record. It either returns a
// fully normalized value or a *ValidationError naming the offending field.
// No side effects.
func New(d Draft) (Record, error) {
	if d.ProjectName == "" {
		return Record{}, &ValidationError{Field: "project_name", Reason: "must not be empty"}
	}
	if d.RunID == "" {
		return Record{}, &ValidationError{Field: "run_id", Reason: "must not be empty"}
	}
	if d.Level == "" {
		d.Level = LevelInfo
	}
	if !d.Level.Valid() {
		return Record{}, &ValidationError{Field: "level", Reason: "must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL"}
	}
	if d.StatusCode != nil && *d.StatusCode < 0 {
		return Record{}, &ValidationError{Field: "status_code", Reason: "must not be negative"}
	}
	if d.DurationMS != nil && *d.DurationMS < 0 {
		return Record{}, &ValidationError{Field: "duration_ms", Reason: "must not be negative"}
	}

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}

	ctx, err := NormalizeContext(d.Context)
	if err != nil {
		return Record{}, err
	}

	return Record{
		ID:            d.ID,
		ProjectName:   d.ProjectName,
		ModuleName:    d.ModuleName,
		FunctionName:  d.FunctionName,
		RunID:         d.RunID,
		Timestamp:     d.Timestamp.UTC(),
		Level:         d.Level,
		Action:        d.Action,
		Message:       d.Message,
		Success:       d.Success,
		StatusCode:    d.StatusCode,
		DurationMS:    d.DurationMS,
		RequestMethod: d.RequestMethod,
		Context:       ctx,
	}, nil
}

// Row is the flat storage view of a Record: one column per field, context as
// an opaque JSON blob. Optional integers use -1 as the null sentinel and the
// tri-state success flag is -1/0/1.
type Row struct {
	ID            string `json:"id"`
	ProjectName   string `json:"project_name"`
	ModuleName    string `json:"module_name"`
	FunctionName  string `json:"function_name"`
	RunID         string `json:"run_id"`
	Timestamp     int64  `json:"timestamp"` // UnixNano, UTC
	Level         uint8  `json:"level"`
	Action        string `json:"action"`
	Message       string `json:"message"`
	Success       int8   `json:"success"`
	StatusCode    int64  `json:"status_code"`
	DurationMS    int64  `json:"duration_ms"`
	RequestMethod string `json:"request_method"`
	Context       string `json:"context"`
}

// Row flattens the record for storage. The conversion is lossless; FromRow
// inverts it.
func (r Record) Row() Row {
	row := Row{
		ID:            r.ID,
		ProjectName:   r.ProjectName,
		ModuleName:    r.ModuleName,
		FunctionName:  r.FunctionName,
		RunID:         r.RunID,
		Timestamp:     r.Timestamp.UnixNano(),
		Level:         EncodeLevel(r.Level),
		Action:        r.Action,
		Message:       r.Message,
		Success:       -1,
		StatusCode:    -1,
		DurationMS:    -1,
		RequestMethod: r.RequestMethod,
		Context:       r.contextJSON(),
	}
	if r.Success != nil {
		if *r.Success {
			row.Success = 1
		} else {
			row.Success = 0
		}
	}
	if r.StatusCode != nil {
		row.StatusCode = *r.StatusCode
	}
	if r.DurationMS != nil {
		row.DurationMS = *r.DurationMS
	}
	return row
}

func (r Record) contextJSON() string {
	if len(r.Context) == 0 {
		return "{}"
	}
	data, err := json.Marshal(r.Context)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// FromRow rebuilds a Record from its flat storage view, re-running full
// validation. Rows read back from disk or handed to the transfer path go
// through here so a corrupt row is caught before it is forwarded.
func FromRow(row Row) (Record, error) {
	level, err := DecodeLevel(row.Level)
	if err != nil {
		return Record{}, err
	}

	d := Draft{
		ID:            row.ID,
		ProjectName:   row.ProjectName,
		ModuleName:    row.ModuleName,
		FunctionName:  row.FunctionName,
		RunID:         row.RunID,
		Timestamp:     time.Unix(0, row.Timestamp).UTC(),
		Level:         level,
		Action:        row.Action,
		Message:       row.Message,
		RequestMethod: row.RequestMethod,
		Context:       row.Context,
	}
	if row.ID == "" {
		return Record{}, &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	switch row.Success {
	case -1:
	case 0:
		v := false
		d.Success = &v
	case 1:
		v := true
		d.Success = &v
	default:
		return Record{}, &ValidationError{Field: "success", Reason: "must be -1, 0 or 1"}
	}
	if row.StatusCode >= 0 {
		d.StatusCode = &row.StatusCode
	}
	if row.DurationMS >= 0 {
		d.DurationMS = &row.DurationMS
	}
	return New(d)
}

// wireRecord is the canonical encoded form: timestamps and identifiers as
// text, level as its name, context as a JSON object.
type wireRecord struct {
	ID            string         `json:"id"`
	ProjectName   string         `json:"project_name"`
	ModuleName    string         `json:"module_name,omitempty"`
	FunctionName  string         `json:"function_name,omitempty"`
	RunID         string         `json:"run_id"`
	Timestamp     string         `json:"timestamp"`
	Level         string         `json:"level"`
	Action        string         `json:"action,omitempty"`
	Message       string         `json:"message,omitempty"`
	Success       *bool          `json:"success,omitempty"`
	StatusCode    *int64         `json:"status_code,omitempty"`
	DurationMS    *int64         `json:"duration_ms,omitempty"`
	RequestMethod string         `json:"request_method,omitempty"`
	Context       map[string]any `json:"context"`
}

// MarshalJSON renders the canonical wire form.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRecord{
		ID:            r.ID,
		ProjectName:   r.ProjectName,
		ModuleName:    r.ModuleName,
		FunctionName:  r.FunctionName,
		RunID:         r.RunID,
		Timestamp:     r.Timestamp.UTC().Format(time.RFC3339Nano),
		Level:         string(r.Level),
		Action:        r.Action,
		Message:       r.Message,
		Success:       r.Success,
		StatusCode:    r.StatusCode,
		DurationMS:    r.DurationMS,
		RequestMethod: r.RequestMethod,
		Context:       r.Context,
	})
}

// UnmarshalJSON parses the canonical wire form and re-validates it.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return &ValidationError{Field: "timestamp", Reason: err.Error()}
	}
	level, err := ParseLevel(w.Level)
	if err != nil {
		return err
	}
	rec, err := New(Draft{
		ID:            w.ID,
		ProjectName:   w.ProjectName,
		ModuleName:    w.ModuleName,
		FunctionName:  w.FunctionName,
		RunID:         w.RunID,
		Timestamp:     ts,
		Level:         level,
		Action:        w.Action,
		Message:       w.Message,
		Success:       w.Success,
		StatusCode:    w.StatusCode,
		DurationMS:    w.DurationMS,
		RequestMethod: w.RequestMethod,
		Context:       w.Context,
	})
	if err != nil {
		return err
	}
	*r = rec
	return nil
}
