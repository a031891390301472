package deletion

import (
	"crypto/rand"
	"fmt"
)

// PassBufferSize is the size of the pattern buffer handed to the storage
// adapter for each pass. The adapter repeats it to the object size.
const PassBufferSize = 64 * 1024

// Pattern names, chosen by pass % 6.
const (
	PatternZeros   = "zeros"
	PatternOnes    = "ones"
	PatternRandom  = "random"
	PatternDoD1    = "dod_pattern_1"
	PatternDoD2    = "dod_pattern_2"
	PatternGutmann = "gutmann"
)

const (
	patternRotation  = 6
	gutmannPassCount = 35
)

// gutmann is the 35-pass Gutmann sequence. Nil entries are random passes.
var gutmann = [gutmannPassCount][]byte{
	nil, nil, nil, nil,
	{0x55}, {0xAA},
	{0x92, 0x49, 0x24}, {0x49, 0x24, 0x92}, {0x24, 0x92, 0x49},
	{0x00}, {0x11}, {0x22}, {0x33}, {0x44}, {0x55}, {0x66}, {0x77},
	{0x88}, {0x99}, {0xAA}, {0xBB}, {0xCC}, {0xDD}, {0xEE}, {0xFF},
	{0x92, 0x49, 0x24}, {0x49, 0x24, 0x92}, {0x24, 0x92, 0x49},
	{0x6D, 0xB6, 0xDB}, {0xB6, 0xDB, 0x6D}, {0xDB, 0x6D, 0xB6},
	nil, nil, nil, nil,
}

// PatternFor returns the pattern name and fill buffer for a 1-based pass.
func PatternFor(pass int) (string, []byte, error) {
	if pass < 1 {
		return "", nil, fmt.Errorf("deletion: invalid pass %d", pass)
	}

	switch pass % patternRotation {
	case 0:
		return PatternZeros, fill(0x00), nil
	case 1:
		return PatternOnes, fill(0xFF), nil
	case 2:
		buf, err := random()
		return PatternRandom, buf, err
	case 3:
		return PatternDoD1, fill(0x55), nil
	case 4:
		return PatternDoD2, fill(0xAA), nil
	default:
		unit := gutmann[(pass-1)%gutmannPassCount]
		if unit == nil {
			buf, err := random()
			return PatternGutmann, buf, err
		}
		return PatternGutmann, fill(unit...), nil
	}
}

// fill repeats unit across the buffer. The buffer is trimmed to a whole
// number of units so the adapter's repetition stays in phase.
func fill(unit ...byte) []byte {
	size := PassBufferSize - PassBufferSize%len(unit)
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = unit[i%len(unit)]
	}
	return buf
}

func random() ([]byte, error) {
	buf := make([]byte, PassBufferSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("deletion: failed to generate random pattern: %w", err)
	}
	return buf, nil
}
