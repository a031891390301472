package deletion

import (
	"bytes"
	"testing"
)

func TestPatternFor(t *testing.T) {
	tests := []struct {
		pass int
		name string
		unit []byte // nil for random
	}{
		{1, PatternOnes, []byte{0xFF}},
		{2, PatternRandom, nil},
		{3, PatternDoD1, []byte{0x55}},
		{4, PatternDoD2, []byte{0xAA}},
		{5, PatternGutmann, []byte{0x55}},
		{6, PatternZeros, []byte{0x00}},
		{11, PatternGutmann, []byte{0x11}},
		{29, PatternGutmann, []byte{0x6D, 0xB6, 0xDB}},
		{35, PatternGutmann, nil},
	}

	for _, tt := range tests {
		name, buf, err := PatternFor(tt.pass)
		if err != nil {
			t.Fatalf("PatternFor(%d) error = %v", tt.pass, err)
		}
		if name != tt.name {
			t.Errorf("PatternFor(%d) name = %s, want %s", tt.pass, name, tt.name)
		}
		if tt.unit == nil {
			if len(buf) != PassBufferSize {
				t.Errorf("PatternFor(%d) random buffer = %d bytes, want %d", tt.pass, len(buf), PassBufferSize)
			}
			continue
		}
		if len(buf)%len(tt.unit) != 0 || len(buf) > PassBufferSize || len(buf) < PassBufferSize-len(tt.unit) {
			t.Errorf("PatternFor(%d) buffer = %d bytes", tt.pass, len(buf))
		}
		if !bytes.Equal(buf[:len(tt.unit)], tt.unit) || !bytes.Equal(buf[len(buf)-len(tt.unit):], tt.unit) {
			t.Errorf("PatternFor(%d) buffer does not repeat % x", tt.pass, tt.unit)
		}
	}
}

func TestPatternFor_RandomDiffers(t *testing.T) {
	_, a, _ := PatternFor(2)
	_, b, _ := PatternFor(8)
	if bytes.Equal(a, b) {
		t.Error("random passes produced identical buffers")
	}
}

func TestPatternFor_InvalidPass(t *testing.T) {
	if _, _, err := PatternFor(0); err == nil {
		t.Error("PatternFor(0) error = nil")
	}
}
