package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"testing"
)

type summary struct {
	Removed int `json:"removed"`
}

func (s summary) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "removed %d records\n", s.Removed)
	return err
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"json", FormatJSON, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatters(t *testing.T) {
	tests := []struct {
		name   string
		format OutputFormat
		data   any
		want   string
	}{
		{"text plain", FormatText, "ok", "ok\n"},
		{"text texter", FormatText, summary{Removed: 3}, "removed 3 records\n"},
		{"json", FormatJSON, summary{Removed: 3}, "{\n  \"removed\": 3\n}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewFormatter(tt.format).FormatTo(&buf, tt.data); err != nil {
				t.Fatalf("FormatTo() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("FormatTo() = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestJSONFormatter_Compact(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONFormatter{}).FormatTo(&buf, map[string]int{"a": 1}); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil || got["a"] != 1 {
		t.Errorf("unexpected output %q (%v)", buf.String(), err)
	}
}
