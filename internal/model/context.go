package model

import (
	"github.com/valyala/fastjson"
)

// NormalizeContext coerces a caller-supplied context into a JSON-compatible
// map. Nil and empty-string inputs become an empty map. A string input is
// parsed as JSON; if it does not parse, it is wrapped as {"raw": <string>}.
// A string that parses to something other than an object is rejected.
func NormalizeContext(v any) (map[string]any, error) {
	switch c := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		// Copy so the record does not alias a map the caller may mutate
		// after the log call.
		out := make(map[string]any, len(c))
		for k, v := range c {
			out[k] = v
		}
		return out, nil
	case string:
		if c == "" {
			return map[string]any{}, nil
		}
		val, err := fastjson.Parse(c)
		if err != nil {
			return map[string]any{"raw": c}, nil
		}
		if val.Type() != fastjson.TypeObject {
			return nil, &ValidationError{Field: "context", Reason: "JSON value is not an object"}
		}
		return jsonObjectToMap(val)
	default:
		return nil, &ValidationError{Field: "context", Reason: "unsupported context type"}
	}
}

func jsonObjectToMap(v *fastjson.Value) (map[string]any, error) {
	obj, err := v.Object()
	if err != nil {
		return nil, &ValidationError{Field: "context", Reason: err.Error()}
	}
	out := make(map[string]any, obj.Len())
	obj.Visit(func(key []byte, val *fastjson.Value) {
		out[string(key)] = jsonValueToAny(val)
	})
	return out, nil
}

// jsonValueToAny converts a fastjson value into the generic types produced by
// encoding/json, so normalized contexts round-trip cleanly.
func jsonValueToAny(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeObject:
		m, _ := jsonObjectToMap(v)
		return m
	case fastjson.TypeArray:
		arr, _ := v.Array()
		out := make([]any, 0, len(arr))
		for _, item := range arr {
			out = append(out, jsonValueToAny(item))
		}
		return out
	case fastjson.TypeString:
		b, _ := v.StringBytes()
		return string(b)
	case fastjson.TypeNumber:
		f, _ := v.Float64()
		return f
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	default:
		return nil
	}
}
