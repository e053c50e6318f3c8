package dltlogger

import "testing"

func TestMergeFields(t *testing.T) {
	merged := mergeFields([]Fields{
		{Action: "first", StatusCode: Int64(200), Context: map[string]any{"a": 1}},
		{Action: "second", Success: Bool(true), Context: map[string]any{"b": 2}},
	})

	if merged.Action != "second" {
		t.Errorf("later fields win: got %q", merged.Action)
	}
	if merged.StatusCode == nil || *merged.StatusCode != 200 {
		t.Error("earlier values survive when unset later")
	}
	if merged.Success == nil || !*merged.Success {
		t.Error("success flag lost")
	}
	if merged.Context["a"] != 1 || merged.Context["b"] != 2 {
		t.Errorf("contexts merge key-wise: %v", merged.Context)
	}
}

func TestMergeFields_Empty(t *testing.T) {
	merged := mergeFields(nil)
	if merged.Action != "" || merged.Success != nil || merged.Context != nil {
		t.Errorf("empty merge should be zero: %+v", merged)
	}
}
