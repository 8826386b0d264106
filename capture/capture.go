// Package capture reads frames from pcap files or a live interface and turns
// the interesting ones into samples.
package capture

import (
	"context"
	"time"

	"github.com/daniellavrushin/hellotrace/log"
	"github.com/daniellavrushin/hellotrace/metrics"
	"github.com/daniellavrushin/hellotrace/packet"
	"github.com/daniellavrushin/hellotrace/sample"
)

// Frame is one captured link-layer frame. Data is only valid during the
// callback that receives it.
type Frame struct {
	Data []byte
	Link packet.LinkType
	Time time.Time
}

// Source delivers frames to fn until it is exhausted, ctx is done or fn
// returns an error.
type Source interface {
	Name() string
	Run(ctx context.Context, fn func(Frame) error) error
}

// Feed runs src and sends every classified sample on out. out is closed when
// Feed returns.
func Feed(ctx context.Context, src Source, m *metrics.Metrics, out chan<- sample.Sample) error {
	defer close(out)
	frames := m.Frames.WithLabelValues(src.Name())
	var n, kept uint64
	err := src.Run(ctx, func(f Frame) error {
		frames.Inc()
		n++
		s, ok := sample.FromFrame(f.Data, f.Link, f.Time)
		if !ok {
			return nil
		}
		kept++
		select {
		case out <- s:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	log.Infof("capture: %s finished, frames=%d samples=%d", src.Name(), n, kept)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
