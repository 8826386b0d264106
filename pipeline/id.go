package pipeline

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// maxTimestampMs is the largest value the 48-bit UUIDv7 time field holds.
const maxTimestampMs = 1<<48 - 1

var ErrTimestampRange = errors.New("pipeline: capture timestamp out of range")

// newID builds a UUIDv7 for a capture time: 48 bits of milliseconds, then 74
// random bits to order packets captured within the same millisecond.
func newID(ms uint64, rnd io.Reader) (uuid.UUID, error) {
	if ms > maxTimestampMs {
		return uuid.Nil, fmt.Errorf("%w: %d ms", ErrTimestampRange, ms)
	}
	id, err := uuid.NewRandomFromReader(rnd)
	if err != nil {
		return uuid.Nil, fmt.Errorf("pipeline: uuid: %w", err)
	}
	id[0] = byte(ms >> 40)
	id[1] = byte(ms >> 32)
	id[2] = byte(ms >> 24)
	id[3] = byte(ms >> 16)
	id[4] = byte(ms >> 8)
	id[5] = byte(ms)
	id[6] = id[6]&0x0f | 0x70
	return id, nil
}
