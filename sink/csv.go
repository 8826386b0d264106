package sink

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/daniellavrushin/hellotrace/model"
)

var csvHeader = []string{
	"uuid",
	"src_ip",
	"src_asn",
	"src_asn_handle",
	"src_asn_description",
	"dst_ip",
	"dst_asn",
	"dst_asn_handle",
	"dst_asn_description",
	"src_port",
	"dst_port",
	"outer_version",
	"inner_version",
	"ciphers",
	"extensions",
	"sni",
	"ec_curves",
	"ec_curve_point_formats",
	"ja3",
}

// CSV writes records with a fixed column order. Lists are hyphen-joined.
type CSV struct {
	mu         sync.Mutex
	w          io.WriteCloser
	cw         *csv.Writer
	needHeader bool
}

// NewCSV writes the header before the first batch when header is true.
func NewCSV(w io.WriteCloser, header bool) *CSV {
	return &CSV{w: w, cw: csv.NewWriter(w), needHeader: header}
}

func (s *CSV) Write(_ context.Context, batch []model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.needHeader {
		if err := s.cw.Write(csvHeader); err != nil {
			return err
		}
		s.needHeader = false
	}
	for i := range batch {
		r := &batch[i]
		row := []string{
			r.ID.String(),
			r.SrcIP.String(),
			strconv.FormatUint(uint64(r.SrcASN), 10),
			r.SrcASNHandle,
			r.SrcASNDescription,
			r.DstIP.String(),
			strconv.FormatUint(uint64(r.DstASN), 10),
			r.DstASNHandle,
			r.DstASNDescription,
			strconv.Itoa(int(r.SrcPort)),
			strconv.Itoa(int(r.DstPort)),
			strconv.Itoa(int(r.OuterVersion)),
			strconv.Itoa(int(r.InnerVersion)),
			joinList(r.Ciphers),
			joinList(r.Extensions),
			r.SNI,
			joinList(r.ECCurves),
			joinList([]uint8(r.ECPointFormats)),
			r.JA3,
		}
		if err := s.cw.Write(row); err != nil {
			return err
		}
	}
	s.cw.Flush()
	return s.cw.Error()
}

func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cw.Flush()
	if err := s.cw.Error(); err != nil {
		s.w.Close()
		return err
	}
	return s.w.Close()
}

func joinList[T uint8 | uint16](vals []T) string {
	var b strings.Builder
	for i, v := range vals {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	}
	return b.String()
}
