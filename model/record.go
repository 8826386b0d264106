// Package model holds the record emitted for every fingerprinted ClientHello.
package model

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Record struct {
	// ID is a UUIDv7 whose timestamp is the capture time of the packet.
	ID uuid.UUID `json:"uuid"`

	// Addresses are always IPv6 (IPv4-mapped for IPv4 traffic).
	SrcIP             netip.Addr `json:"src_ip"`
	SrcASN            uint32     `json:"src_asn"`
	SrcASNHandle      string     `json:"src_asn_handle"`
	SrcASNDescription string     `json:"src_asn_description"`

	DstIP             netip.Addr `json:"dst_ip"`
	DstASN            uint32     `json:"dst_asn"`
	DstASNHandle      string     `json:"dst_asn_handle"`
	DstASNDescription string     `json:"dst_asn_description"`

	SrcPort uint16 `json:"src_port"`
	DstPort uint16 `json:"dst_port"`

	OuterVersion   uint16    `json:"outer_version"`
	InnerVersion   uint16    `json:"inner_version"`
	Ciphers        []uint16  `json:"ciphers"`
	Extensions     []uint16  `json:"extensions"`
	SNI            string    `json:"sni"`
	ECCurves       []uint16  `json:"ec_curves"`
	ECPointFormats Uint8List `json:"ec_curve_point_formats"`
	JA3            string    `json:"ja3"`
}

// MarshalJSON writes absent lists as [] rather than null.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	p := plain(r)
	p.Ciphers = orEmpty(p.Ciphers)
	p.Extensions = orEmpty(p.Extensions)
	p.ECCurves = orEmpty(p.ECCurves)
	return json.Marshal(p)
}

func orEmpty(l []uint16) []uint16 {
	if l == nil {
		return []uint16{}
	}
	return l
}

// CapturedAt recovers the capture time from the millisecond field of ID.
func (r *Record) CapturedAt() time.Time {
	var ms [8]byte
	copy(ms[2:], r.ID[:6])
	return time.UnixMilli(int64(binary.BigEndian.Uint64(ms[:]))).UTC()
}

// Uint8List marshals as a JSON array of numbers instead of base64.
type Uint8List []uint8

func (l Uint8List) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 2+4*len(l))
	b = append(b, '[')
	for i, v := range l {
		if i > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendUint(b, uint64(v), 10)
	}
	return append(b, ']'), nil
}

func (l *Uint8List) UnmarshalJSON(b []byte) error {
	var vals []uint16
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	if vals == nil {
		*l = nil
		return nil
	}
	out := make(Uint8List, len(vals))
	for i, v := range vals {
		if v > 0xff {
			return fmt.Errorf("point format %d out of range", v)
		}
		out[i] = uint8(v)
	}
	*l = out
	return nil
}
