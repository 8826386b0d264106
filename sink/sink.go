// Package sink writes batches of records to their final destination.
package sink

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/daniellavrushin/hellotrace/model"
)

type Sink interface {
	Write(ctx context.Context, batch []model.Record) error
	Close() error
}

const (
	KindLog   = "log"
	KindJSONL = "jsonl"
	KindCSV   = "csv"
)

// Open creates the sink named by kind. Sinks append to path; "-" means
// standard output, which is also where the log sink writes without a path.
func Open(kind, path string) (Sink, error) {
	switch kind {
	case KindLog:
		if path == "" {
			path = "-"
		}
		w, _, err := openAppend(path)
		if err != nil {
			return nil, err
		}
		return NewLog(w), nil
	case KindJSONL:
		w, _, err := openAppend(path)
		if err != nil {
			return nil, err
		}
		return NewJSONL(w), nil
	case KindCSV:
		w, fresh, err := openAppend(path)
		if err != nil {
			return nil, err
		}
		return NewCSV(w, fresh), nil
	default:
		return nil, fmt.Errorf("sink: unknown output %q", kind)
	}
}

// openAppend opens path for appending and reports whether it was empty.
func openAppend(path string) (io.WriteCloser, bool, error) {
	if path == "" {
		return nil, false, fmt.Errorf("sink: output path is required")
	}
	if path == "-" {
		return nopCloser{os.Stdout}, true, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("sink: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("sink: %w", err)
	}
	return f, st.Size() == 0, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
