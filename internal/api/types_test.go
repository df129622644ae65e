package api

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDuration_MarshalJSON(t *testing.T) {
	d := Duration{Duration: 10 * time.Second}
	b, err := d.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	want := `"10s"`
	if string(b) != want {
		t.Errorf("MarshalJSON() = %s, want %s", b, want)
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{`"10s"`, 10 * time.Second, false},
		{`"500ms"`, 500 * time.Millisecond, false},
		{`"1m"`, time.Minute, false},
		{`"not-a-duration"`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			if (err != nil) != tt.wantErr {
				t.Errorf("UnmarshalJSON(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && d.Duration != tt.want {
				t.Errorf("UnmarshalJSON(%s) = %s, want %s", tt.input, d.Duration, tt.want)
			}
		})
	}
}

func TestRenderRequest_Decode(t *testing.T) {
	raw := `{"script_id": "abc", "timeout": "90s", "max_attempts": 5}`

	var req RenderRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatal(err)
	}
	if req.ScriptID != "abc" {
		t.Errorf("ScriptID = %q, want abc", req.ScriptID)
	}
	if req.Timeout.Duration != 90*time.Second {
		t.Errorf("Timeout = %s, want 90s", req.Timeout.Duration)
	}
	if req.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", req.MaxAttempts)
	}
}

func TestRenderResponse_OmitsEmptyFields(t *testing.T) {
	resp := RenderResponse{RunID: "r1", Success: true, AttemptsUsed: 1, Duration: "2s"}

	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	for _, absent := range []string{"error", "video_path", "script"} {
		if jsonHasKey(b, absent) {
			t.Errorf("marshaled response should omit empty %q: %s", absent, b)
		}
	}
}

func jsonHasKey(b []byte, key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}
