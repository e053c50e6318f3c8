package dltlogger

// Fields enumerates every optional record field explicitly. Absent fields
// keep their defaults; there is no dynamic keyword-style construction.
type Fields struct {
	Action        string
	FunctionName  string
	Success       *bool
	StatusCode    *int64
	DurationMS    *int64
	RequestMethod string
	Context       map[string]any
}

// Bool returns a pointer for the tri-state success flag.
func Bool(b bool) *bool {
	return &b
}

// Int64 returns a pointer for optional integer fields.
func Int64(v int64) *int64 {
	return &v
}

// merge folds a variadic Fields list into one value; later entries win per
// field, contexts are merged key-wise.
func mergeFields(fields []Fields) Fields {
	var out Fields
	for _, f := range fields {
		if f.Action != "" {
			out.Action = f.Action
		}
		if f.FunctionName != "" {
			out.FunctionName = f.FunctionName
		}
		if f.Success != nil {
			out.Success = f.Success
		}
		if f.StatusCode != nil {
			out.StatusCode = f.StatusCode
		}
		if f.DurationMS != nil {
			out.DurationMS = f.DurationMS
		}
		if f.RequestMethod != "" {
			out.RequestMethod = f.RequestMethod
		}
		if len(f.Context) > 0 {
			if out.Context == nil {
				out.Context = make(map[string]any, len(f.Context))
			}
			for k, v := range f.Context {
				out.Context[k] = v
			}
		}
	}
	return out
}
