package pipeline

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/daniellavrushin/hellotrace/asndb"
	"github.com/daniellavrushin/hellotrace/metrics"
	"github.com/daniellavrushin/hellotrace/model"
	"github.com/daniellavrushin/hellotrace/sample"
	"github.com/daniellavrushin/hellotrace/tlsfp/tlsfptest"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type memSink struct {
	mu      sync.Mutex
	batches [][]model.Record
	err     error
}

func (s *memSink) Write(_ context.Context, batch []model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]model.Record(nil), batch...))
	return nil
}

func (s *memSink) records() []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Record
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *memSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

var (
	dbOnce sync.Once
	db     *asndb.DB
	dbErr  error
)

func staticDB(t *testing.T) *asndb.DB {
	t.Helper()
	dbOnce.Do(func() { db, dbErr = asndb.LoadStatic() })
	if dbErr != nil {
		t.Fatalf("load asndb: %v", dbErr)
	}
	return db
}

func helloPacket(t *testing.T, src, dst net.IP, payload []byte) []byte {
	t.Helper()
	tcp := &layers.TCP{SrcPort: 51000, DstPort: 443, Seq: 1, ACK: true, PSH: true, Window: 502}
	var network gopacket.SerializableLayer
	if src.To4() != nil {
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: src, DstIP: dst}
		tcp.SetNetworkLayerForChecksum(ip)
		network = ip
	} else {
		ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolTCP, SrcIP: src, DstIP: dst}
		tcp.SetNetworkLayerForChecksum(ip)
		network = ip
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, network, tcp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, size int) (*Pipeline, *memSink, *metrics.Metrics) {
	t.Helper()
	sink := &memSink{}
	m := metrics.New()
	b := NewBatcher(sink, size, 0, m)
	return New(staticDB(t), b, m), sink, m
}

const captureMs = 1_700_000_000_123

func TestProcessIPv4ClientHello(t *testing.T) {
	t.Parallel()
	p, sink, m := newTestPipeline(t, 1)
	pkt := helloPacket(t, net.IP{192, 0, 2, 10}, net.IP{8, 8, 8, 8}, tlsfptest.Example().Record())

	s := sample.Sample{TimestampMs: captureMs, Packet: pkt, Kind: sample.TLSClientHello}
	if err := p.Process(context.Background(), s); err != nil {
		t.Fatalf("process: %v", err)
	}
	recs := sink.records()
	if len(recs) != 1 {
		t.Fatalf("records=%d", len(recs))
	}
	r := recs[0]
	if r.SrcIP != netip.MustParseAddr("::ffff:192.0.2.10") || r.DstIP != netip.MustParseAddr("::ffff:8.8.8.8") {
		t.Fatalf("src=%v dst=%v", r.SrcIP, r.DstIP)
	}
	if r.SrcASN != 0 || r.SrcASNHandle != "" {
		t.Fatalf("src asn=%d handle=%q", r.SrcASN, r.SrcASNHandle)
	}
	if r.DstASN != 15169 || r.DstASNHandle != "GOOGLE" || r.DstASNDescription != "Google LLC" {
		t.Fatalf("dst asn=%d handle=%q desc=%q", r.DstASN, r.DstASNHandle, r.DstASNDescription)
	}
	if r.SrcPort != 51000 || r.DstPort != 443 {
		t.Fatalf("ports=%d,%d", r.SrcPort, r.DstPort)
	}
	if r.OuterVersion != 0x0301 || r.InnerVersion != 0x0303 {
		t.Fatalf("versions=%#04x,%#04x", r.OuterVersion, r.InnerVersion)
	}
	if r.SNI != "example.com" || r.JA3 != tlsfptest.ExampleJA3 {
		t.Fatalf("sni=%q ja3=%q", r.SNI, r.JA3)
	}
	if want := []uint16{0x0a0a, 0x1301, 0x1302, 0xc02b, 0x1301}; !reflect.DeepEqual(r.Ciphers, want) {
		t.Fatalf("ciphers=%v want=%v", r.Ciphers, want)
	}
	if want := []uint16{0x1a1a, 0, 23, 10, 11, 16, 43}; !reflect.DeepEqual(r.Extensions, want) {
		t.Fatalf("extensions=%v want=%v", r.Extensions, want)
	}
	if want := []uint16{0x2a2a, 29, 23, 24}; !reflect.DeepEqual(r.ECCurves, want) {
		t.Fatalf("curves=%v want=%v", r.ECCurves, want)
	}
	if want := (model.Uint8List{0}); !reflect.DeepEqual(r.ECPointFormats, want) {
		t.Fatalf("point formats=%v", r.ECPointFormats)
	}
	if r.ID.Version() != 7 || r.ID.Variant() != uuid.RFC4122 {
		t.Fatalf("id=%s version=%d variant=%v", r.ID, r.ID.Version(), r.ID.Variant())
	}
	if got := r.CapturedAt(); got.UnixMilli() != captureMs {
		t.Fatalf("captured at %v", got)
	}

	if got := testutil.ToFloat64(m.Lookups.WithLabelValues("ipv4", "hit")); got != 1 {
		t.Fatalf("ipv4 hits=%v", got)
	}
	if got := testutil.ToFloat64(m.Lookups.WithLabelValues("ipv4", "miss")); got != 1 {
		t.Fatalf("ipv4 misses=%v", got)
	}
	if got := testutil.ToFloat64(m.Records); got != 1 {
		t.Fatalf("records metric=%v", got)
	}
}

func TestProcessIPv6ClientHello(t *testing.T) {
	t.Parallel()
	p, sink, m := newTestPipeline(t, 1)
	pkt := helloPacket(t, net.ParseIP("fd00::10"), net.ParseIP("2606:4700::1111"), tlsfptest.Example().Record())

	if err := p.Process(context.Background(), sample.Sample{TimestampMs: captureMs, Packet: pkt, Kind: sample.TLSClientHello}); err != nil {
		t.Fatalf("process: %v", err)
	}
	recs := sink.records()
	if len(recs) != 1 {
		t.Fatalf("records=%d", len(recs))
	}
	r := recs[0]
	if r.SrcASN != 0 || r.SrcASNHandle != "" || r.SrcASNDescription != "" {
		t.Fatalf("unknown source enriched: %+v", r)
	}
	if r.DstASN != 13335 || r.DstASNHandle != "CLOUDFLARENET" {
		t.Fatalf("dst asn=%d handle=%q", r.DstASN, r.DstASNHandle)
	}
	if got := testutil.ToFloat64(m.Lookups.WithLabelValues("ipv6", "miss")); got != 1 {
		t.Fatalf("ipv6 misses=%v", got)
	}
}

func TestProcessSkipsUninterestingSamples(t *testing.T) {
	t.Parallel()
	p, sink, m := newTestPipeline(t, 1)
	ctx := context.Background()
	src, dst := net.IP{192, 0, 2, 10}, net.IP{1, 1, 1, 1}

	samples := []sample.Sample{
		{TimestampMs: 1, Packet: helloPacket(t, src, dst, nil), Kind: sample.BareAck},
		{TimestampMs: 1, Packet: helloPacket(t, src, dst, tlsfptest.Example().Record()), Kind: sample.Ignore},
		{TimestampMs: 1, Packet: []byte{0x45, 0x00}, Kind: sample.TLSClientHello},
		{TimestampMs: 1, Packet: helloPacket(t, src, dst, []byte("GET / HTTP/1.1\r\n\r\n")), Kind: sample.TLSClientHello},
		{TimestampMs: 1, Packet: nil, Kind: sample.Kind(42)},
	}
	for i, s := range samples {
		if err := p.Process(ctx, s); err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
	}
	if n := len(sink.records()); n != 0 {
		t.Fatalf("records=%d", n)
	}
	if got := testutil.ToFloat64(m.Filtered.WithLabelValues(metrics.ReasonDecode)); got != 1 {
		t.Fatalf("decode filtered=%v", got)
	}
	if got := testutil.ToFloat64(m.Filtered.WithLabelValues(metrics.ReasonNotHello)); got != 1 {
		t.Fatalf("not hello filtered=%v", got)
	}
	if got := testutil.ToFloat64(m.Filtered.WithLabelValues(metrics.ReasonKind)); got != 2 {
		t.Fatalf("kind filtered=%v", got)
	}
	if got := testutil.ToFloat64(m.Samples.WithLabelValues("bare_ack")); got != 1 {
		t.Fatalf("bare acks=%v", got)
	}
}

func TestProcessDropsUnrepresentableTimestamp(t *testing.T) {
	t.Parallel()
	p, sink, m := newTestPipeline(t, 1)
	pkt := helloPacket(t, net.IP{192, 0, 2, 10}, net.IP{8, 8, 8, 8}, tlsfptest.Example().Record())
	ctx := context.Background()

	if err := p.Process(ctx, sample.Sample{TimestampMs: maxTimestampMs + 1, Packet: pkt, Kind: sample.TLSClientHello}); err != nil {
		t.Fatalf("out of range timestamp returned an error: %v", err)
	}
	if n := len(sink.records()); n != 0 {
		t.Fatalf("records=%d", n)
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.ReasonTimestamp)); got != 1 {
		t.Fatalf("dropped=%v", got)
	}

	if err := p.Process(ctx, sample.Sample{TimestampMs: maxTimestampMs, Packet: pkt, Kind: sample.TLSClientHello}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if n := len(sink.records()); n != 1 {
		t.Fatalf("largest timestamp rejected, records=%d", n)
	}
}

func TestNewIDOrdering(t *testing.T) {
	t.Parallel()
	rnd := bytes.NewReader(bytes.Repeat([]byte{0xff}, 64))
	a, err := newID(1000, rnd)
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	b, err := newID(1001, bytes.NewReader(make([]byte, 16)))
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	// A later millisecond sorts after any random tail.
	if bytes.Compare(a[:], b[:]) >= 0 {
		t.Fatalf("%s does not sort before %s", a, b)
	}
	if a.Version() != 7 || b.Version() != 7 || a.Variant() != uuid.RFC4122 || b.Variant() != uuid.RFC4122 {
		t.Fatalf("version/variant bits: %s %s", a, b)
	}
	if _, err := newID(1<<48, rnd); !errors.Is(err, ErrTimestampRange) {
		t.Fatalf("err=%v", err)
	}
	if _, err := newID(1, bytes.NewReader(nil)); err == nil {
		t.Fatalf("short random source accepted")
	}
}

func TestRun(t *testing.T) {
	t.Parallel()
	sink := &memSink{}
	m := metrics.New()
	b := NewBatcher(sink, 10, 0, m)
	p := New(staticDB(t), b, m)

	in := make(chan sample.Sample, 4)
	pkt := helloPacket(t, net.IP{192, 0, 2, 10}, net.IP{9, 9, 9, 9}, tlsfptest.Example().Record())
	for i := 0; i < 3; i++ {
		in <- sample.Sample{TimestampMs: captureMs + uint64(i), Packet: pkt, Kind: sample.TLSClientHello}
	}
	close(in)

	if err := p.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	recs := sink.records()
	if len(recs) != 3 || sink.batchCount() != 1 {
		t.Fatalf("records=%d batches=%d", len(recs), sink.batchCount())
	}
	for i, r := range recs {
		if r.DstASN != 19281 || r.CapturedAt().UnixMilli() != captureMs+int64(i) {
			t.Fatalf("record %d: asn=%d at=%v", i, r.DstASN, r.CapturedAt())
		}
	}
}

func TestRunStopsOnSinkError(t *testing.T) {
	t.Parallel()
	sink := &memSink{err: errors.New("disk full")}
	m := metrics.New()
	p := New(staticDB(t), NewBatcher(sink, 1, 0, m), m)

	in := make(chan sample.Sample, 1)
	in <- sample.Sample{TimestampMs: captureMs, Kind: sample.TLSClientHello,
		Packet: helloPacket(t, net.IP{192, 0, 2, 10}, net.IP{8, 8, 8, 8}, tlsfptest.Example().Record())}

	err := p.Run(context.Background(), in)
	if err == nil || !errors.Is(err, sink.err) {
		t.Fatalf("err=%v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPipeline(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, make(chan sample.Sample)) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
