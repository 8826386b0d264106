package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/daniellavrushin/hellotrace/model"
)

// Log prints one human readable line per record. It writes to its own
// writer, so records are shown whatever the log level is.
type Log struct {
	mu sync.Mutex
	w  io.WriteCloser
	bw *bufio.Writer
}

func NewLog(w io.WriteCloser) *Log {
	return &Log{w: w, bw: bufio.NewWriter(w)}
}

func (s *Log) Write(_ context.Context, batch []model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range batch {
		r := &batch[i]
		_, err := fmt.Fprintf(s.bw, "%s hello %s [%s:%d AS%d %s] -> [%s:%d AS%d %s] sni=%q ja3=%s\n",
			r.CapturedAt().Format("2006-01-02T15:04:05.000Z"), r.ID,
			r.SrcIP.Unmap(), r.SrcPort, r.SrcASN, r.SrcASNHandle,
			r.DstIP.Unmap(), r.DstPort, r.DstASN, r.DstASNHandle, r.SNI, r.JA3)
		if err != nil {
			return err
		}
	}
	return s.bw.Flush()
}

func (s *Log) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.bw.Flush(); err != nil {
		s.w.Close()
		return err
	}
	return s.w.Close()
}
