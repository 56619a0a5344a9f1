package sqlutil

import (
	"encoding/json"
	"testing"
)

func TestNullRawMessage(t *testing.T) {
	tests := []struct {
		in    json.RawMessage
		valid bool
	}{
		{nil, false},
		{json.RawMessage(`null`), false},
		{json.RawMessage(`{"state":"RUNNING"}`), true},
	}
	for _, tt := range tests {
		got := ToNullRawMessage(tt.in)
		if got.Valid != tt.valid {
			t.Errorf("ToNullRawMessage(%s).Valid = %v, want %v", tt.in, got.Valid, tt.valid)
		}
		back := FromNullRawMessage(got)
		if tt.valid && string(back) != string(tt.in) {
			t.Errorf("round trip = %s, want %s", back, tt.in)
		}
		if !tt.valid && back != nil {
			t.Errorf("invalid message converted to %s", back)
		}
	}
}

func TestNullString(t *testing.T) {
	if ToNullString("").Valid {
		t.Fatal("empty string should be NULL")
	}
	if got := FromNullString(ToNullString("duration_seconds")); got != "duration_seconds" {
		t.Fatalf("round trip = %q", got)
	}
}
