package sample

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/daniellavrushin/hellotrace/log"
)

const maxLineBytes = 1 << 20

type wireSample struct {
	TimestampMs uint64 `json:"timestamp_ms"`
	Packet      []byte `json:"ip_packet_raw"`
	Kind        Kind   `json:"kind"`
}

// Encoder writes samples as JSON lines.
type Encoder struct {
	w   *bufio.Writer
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	bw := bufio.NewWriter(w)
	return &Encoder{w: bw, enc: json.NewEncoder(bw)}
}

func (e *Encoder) Encode(s Sample) error {
	return e.enc.Encode(wireSample(s))
}

func (e *Encoder) Flush() error { return e.w.Flush() }

// Decoder reads samples written by Encoder. Lines that do not decode are
// skipped and counted.
type Decoder struct {
	sc      *bufio.Scanner
	line    int
	skipped int
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Decoder{sc: sc}
}

// Next returns the next sample, or io.EOF once the input is exhausted.
func (d *Decoder) Next() (Sample, error) {
	for d.sc.Scan() {
		d.line++
		b := d.sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var ws wireSample
		if err := json.Unmarshal(b, &ws); err != nil {
			d.skipped++
			log.Debugf("samples: skipping line %d: %v", d.line, err)
			continue
		}
		return Sample(ws), nil
	}
	if err := d.sc.Err(); err != nil {
		return Sample{}, fmt.Errorf("read samples at line %d: %w", d.line+1, err)
	}
	return Sample{}, io.EOF
}

func (d *Decoder) Skipped() int { return d.skipped }
