// Package packet decodes captured frames down to a TCP segment without copying
// the frame. Anything that is not well-formed TCP over IPv4 or IPv6 is
// reported as ok == false.
package packet

import (
	"fmt"
	"net/netip"
)

type LinkType uint8

const (
	// LinkEthernet frames start with an Ethernet II header, optionally
	// followed by 802.1Q / 802.1ad tags.
	LinkEthernet LinkType = iota
	// LinkRaw frames start directly with an IPv4 or IPv6 header.
	LinkRaw
)

func (l LinkType) String() string {
	switch l {
	case LinkEthernet:
		return "ethernet"
	case LinkRaw:
		return "raw"
	default:
		return fmt.Sprintf("link(%d)", uint8(l))
	}
}

// TCP header flags, as found in byte 13 of the header.
const (
	FlagFIN uint8 = 0x01
	FlagSYN uint8 = 0x02
	FlagRST uint8 = 0x04
	FlagPSH uint8 = 0x08
	FlagACK uint8 = 0x10
	FlagURG uint8 = 0x20
	FlagECE uint8 = 0x40
	FlagCWR uint8 = 0x80
)

// Endpoint is one side of a TCP connection. Addr is always the 16-byte form;
// IPv4 addresses are stored IPv4-mapped.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

func endpoint(raw []byte, port uint16) Endpoint {
	var a netip.Addr
	if len(raw) == 4 {
		a = netip.AddrFrom4([4]byte(raw))
	} else {
		a = netip.AddrFrom16([16]byte(raw))
	}
	return Endpoint{Addr: netip.AddrFrom16(a.As16()), Port: port}
}

func (e Endpoint) String() string {
	return netip.AddrPortFrom(e.Addr.Unmap(), e.Port).String()
}

// Segment is a decoded TCP segment. Network and Payload are views into the
// buffer that was decoded.
type Segment struct {
	// Network spans the IP packet, from the first IP header byte to the end
	// of the IP payload.
	Network View
	V6      bool
	Src     Endpoint
	Dst     Endpoint
	Seq     uint32
	Flags   uint8
	Payload View
}

func (s *Segment) String() string {
	return fmt.Sprintf("%s -> %s flags=0x%02x seq=%d len=%d", s.Src, s.Dst, s.Flags, s.Seq, s.Payload.Len())
}
