package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/daniellavrushin/hellotrace/model"
)

// JSONL writes one JSON object per record and line.
type JSONL struct {
	mu  sync.Mutex
	w   io.WriteCloser
	bw  *bufio.Writer
	enc *json.Encoder
}

func NewJSONL(w io.WriteCloser) *JSONL {
	bw := bufio.NewWriter(w)
	return &JSONL{w: w, bw: bw, enc: json.NewEncoder(bw)}
}

func (s *JSONL) Write(_ context.Context, batch []model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range batch {
		if err := s.enc.Encode(&batch[i]); err != nil {
			return err
		}
	}
	return s.bw.Flush()
}

func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.bw.Flush(); err != nil {
		s.w.Close()
		return err
	}
	return s.w.Close()
}
