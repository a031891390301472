package storage

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestPatternReader(t *testing.T) {
	tests := []struct {
		name    string
		pattern []byte
		size    int64
		want    []byte
	}{
		{"exact multiple", []byte{0xAA, 0x55}, 4, []byte{0xAA, 0x55, 0xAA, 0x55}},
		{"partial tail", []byte{1, 2, 3}, 5, []byte{1, 2, 3, 1, 2}},
		{"shorter than pattern", []byte{9, 8, 7, 6}, 2, []byte{9, 8}},
		{"zero size", []byte{1}, 0, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(PatternReader(tt.pattern, tt.size))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("PatternReader() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPatternReader_SmallReads(t *testing.T) {
	r := PatternReader([]byte{1, 2, 3}, 7)
	buf := make([]byte, 2)
	var out []byte
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if want := []byte{1, 2, 3, 1, 2, 3, 1}; !bytes.Equal(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestPatternReader_EmptyPattern(t *testing.T) {
	if _, err := io.ReadAll(PatternReader(nil, 10)); err == nil {
		t.Error("expected error for empty pattern, got nil")
	}
}

func TestFormatChecksum(t *testing.T) {
	h := NewChecksum()
	h.Write([]byte("abc"))

	// SHA-256("abc") = ba7816bf8f01cfea...
	if got := FormatChecksum(h); got != "ba7816bf8f01cfea" {
		t.Errorf("FormatChecksum() = %q, want %q", got, "ba7816bf8f01cfea")
	}
}

func TestIsTransient(t *testing.T) {
	base := errors.New("503")
	wrapped := &ObjectError{Op: "Delete", ID: "x", Err: NewTransientError("Delete", "x", base)}

	if !IsTransient(wrapped) {
		t.Error("expected wrapped TransientError to be transient")
	}
	if !errors.Is(wrapped, base) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if IsTransient(&ObjectError{Op: "Get", ID: "x", Err: ErrNotFound}) {
		t.Error("ErrNotFound must not be transient")
	}
}
