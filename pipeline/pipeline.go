// Package pipeline turns classified samples into enriched records and feeds
// them, batched, to a sink.
package pipeline

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net/netip"

	"github.com/daniellavrushin/hellotrace/asndb"
	"github.com/daniellavrushin/hellotrace/log"
	"github.com/daniellavrushin/hellotrace/metrics"
	"github.com/daniellavrushin/hellotrace/model"
	"github.com/daniellavrushin/hellotrace/packet"
	"github.com/daniellavrushin/hellotrace/sample"
	"github.com/daniellavrushin/hellotrace/tlsfp"
)

// Resolver finds the autonomous system of an address. *asndb.DB implements it.
type Resolver interface {
	Lookup(addr netip.Addr) (*asndb.Record, bool)
}

type Pipeline struct {
	resolver Resolver
	batcher  *Batcher
	m        *metrics.Metrics
	rand     io.Reader
}

func New(resolver Resolver, batcher *Batcher, m *metrics.Metrics) *Pipeline {
	return &Pipeline{resolver: resolver, batcher: batcher, m: m, rand: rand.Reader}
}

// Run processes samples until in is closed or ctx is done. It stops at the
// first sink error.
func (p *Pipeline) Run(ctx context.Context, in <-chan sample.Sample) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-in:
			if !ok {
				return nil
			}
			if err := p.Process(ctx, s); err != nil {
				return err
			}
		}
	}
}

// Process handles one sample. The kind only routes the sample; everything
// else is decoded again from the raw packet. Samples that turn out not to be
// of interest, or whose timestamp cannot be encoded, are skipped without an
// error. Only sink failures are returned.
func (p *Pipeline) Process(ctx context.Context, s sample.Sample) error {
	p.m.Samples.WithLabelValues(s.Kind.String()).Inc()

	switch s.Kind {
	case sample.BareAck:
		if _, ok := packet.DecodePacket(packet.NewView(s.Packet)); !ok {
			p.m.Filtered.WithLabelValues(metrics.ReasonDecode).Inc()
		}
		return nil
	case sample.TLSClientHello:
	default:
		p.m.Filtered.WithLabelValues(metrics.ReasonKind).Inc()
		return nil
	}

	rec, ok, err := p.Build(s)
	if err != nil {
		if errors.Is(err, ErrTimestampRange) {
			p.m.Dropped.WithLabelValues(metrics.ReasonTimestamp).Inc()
		}
		log.Errorf("pipeline: dropping sample: %v", err)
		return nil
	}
	if !ok {
		return nil
	}
	p.m.Records.Inc()
	return p.batcher.Add(ctx, rec)
}

// Build derives the record of a ClientHello sample. ok is false when the
// packet does not decode to a segment carrying a ClientHello.
func (p *Pipeline) Build(s sample.Sample) (model.Record, bool, error) {
	seg, ok := packet.DecodePacket(packet.NewView(s.Packet))
	if !ok {
		p.m.Filtered.WithLabelValues(metrics.ReasonDecode).Inc()
		return model.Record{}, false, nil
	}
	ch, ok := tlsfp.Parse(seg.Payload.Bytes())
	if !ok {
		p.m.Filtered.WithLabelValues(metrics.ReasonNotHello).Inc()
		return model.Record{}, false, nil
	}
	id, err := newID(s.TimestampMs, p.rand)
	if err != nil {
		return model.Record{}, false, err
	}
	hs := tlsfp.Fingerprint(ch)
	src := p.enrich(seg.Src.Addr)
	dst := p.enrich(seg.Dst.Addr)

	rec := model.Record{
		ID:                id,
		SrcIP:             seg.Src.Addr,
		SrcASN:            src.ASN,
		SrcASNHandle:      src.Handle,
		SrcASNDescription: src.Description,
		DstIP:             seg.Dst.Addr,
		DstASN:            dst.ASN,
		DstASNHandle:      dst.Handle,
		DstASNDescription: dst.Description,
		SrcPort:           seg.Src.Port,
		DstPort:           seg.Dst.Port,
		OuterVersion:      hs.RecordVersion,
		InnerVersion:      hs.Version,
		Ciphers:           hs.Ciphers,
		Extensions:        hs.Extensions,
		SNI:               hs.ServerName,
		ECCurves:          hs.Curves,
		ECPointFormats:    model.Uint8List(hs.PointFormats),
		JA3:               hs.JA3,
	}
	log.Tracef("pipeline: %s sni=%q ja3=%s", seg.String(), rec.SNI, rec.JA3)
	return rec, true, nil
}

func (p *Pipeline) enrich(addr netip.Addr) asndb.Record {
	family := "ipv6"
	if addr.Unmap().Is4() {
		family = "ipv4"
	}
	r, ok := p.resolver.Lookup(addr)
	if !ok {
		p.m.Lookups.WithLabelValues(family, "miss").Inc()
		return asndb.Record{}
	}
	p.m.Lookups.WithLabelValues(family, "hit").Inc()
	return *r
}
