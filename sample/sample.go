package sample

import (
	"time"

	"github.com/daniellavrushin/hellotrace/packet"
)

// Sample is a classified packet handed from a capture source to the
// enrichment pipeline. Packet starts at the IP header and is owned by the
// sample.
type Sample struct {
	TimestampMs uint64
	Packet      []byte
	Kind        Kind
}

// FromFrame decodes and classifies a captured frame. Frames classified as
// Ignore, or that do not decode, yield ok == false. The returned sample holds
// its own copy of the network packet, so frame may be reused afterwards.
func FromFrame(frame []byte, link packet.LinkType, ts time.Time) (Sample, bool) {
	seg, ok := packet.Decode(packet.NewView(frame), link)
	if !ok {
		return Sample{}, false
	}
	kind := Classify(&seg)
	if kind == Ignore {
		return Sample{}, false
	}
	return Sample{
		TimestampMs: uint64(ts.UnixMilli()),
		Packet:      seg.Network.Clone(),
		Kind:        kind,
	}, true
}
