package capture

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/daniellavrushin/hellotrace/log"
	"github.com/daniellavrushin/hellotrace/sample"
)

// FeedSamples replays a JSON lines sample file written by ingest. out is
// closed when it returns.
func FeedSamples(ctx context.Context, path string, out chan<- sample.Sample) error {
	defer close(out)
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	dec := sample.NewDecoder(r)
	n := 0
	defer func() {
		log.Infof("samples: replayed %d from %s, skipped %d", n, path, dec.Skipped())
	}()
	for {
		s, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case out <- s:
			n++
		case <-ctx.Done():
			return nil
		}
	}
}
