package packet

import "github.com/daniellavrushin/hellotrace/log"

const (
	etherTypeIPv4  = 0x0800
	etherTypeIPv6  = 0x86DD
	etherTypeVLAN  = 0x8100
	etherTypeQinQ  = 0x88a8
	ipProtoTCP     = 6
	ipv6HopByHop   = 0
	ipv6Routing    = 43
	ipv6Fragment   = 44
	ipv6AuthHeader = 51
	ipv6DestOpts   = 60
)

// Decode dispatches on the link type of the capture.
func Decode(frame View, link LinkType) (Segment, bool) {
	switch link {
	case LinkEthernet:
		return DecodeFrame(frame)
	case LinkRaw:
		return DecodePacket(frame)
	default:
		return Segment{}, false
	}
}

// DecodeFrame decodes an Ethernet II frame. The EtherType selects the
// family; a header whose version disagrees with it yields no result.
func DecodeFrame(frame View) (Segment, bool) {
	off, ethType, ok := parseEther(frame)
	if !ok {
		return Segment{}, false
	}
	ip, _ := frame.From(off)
	if ip.Len() < 1 {
		return Segment{}, false
	}
	version := ip.byteAt(0) >> 4
	switch {
	case ethType == etherTypeIPv4 && version == 4:
		return decodeIPv4(ip)
	case ethType == etherTypeIPv6 && version == 6:
		return decodeIPv6(ip)
	default:
		log.Tracef("ether: type 0x%04x carries IP version %d", ethType, version)
		return Segment{}, false
	}
}

// DecodePacket decodes a bare IP packet, picking the family from the version
// nibble.
func DecodePacket(ip View) (Segment, bool) {
	if ip.Len() < 1 {
		return Segment{}, false
	}
	switch ip.byteAt(0) >> 4 {
	case 4:
		return decodeIPv4(ip)
	case 6:
		return decodeIPv6(ip)
	default:
		return Segment{}, false
	}
}

func parseEther(b View) (int, uint16, bool) {
	if b.Len() < 14 {
		return 0, 0, false
	}
	off := 12
	ethType := b.u16(off)
	off += 2
	for ethType == etherTypeVLAN || ethType == etherTypeQinQ {
		if b.Len() < off+4 {
			return 0, 0, false
		}
		ethType = b.u16(off + 2)
		off += 4
	}
	switch ethType {
	case etherTypeIPv4, etherTypeIPv6:
		return off, ethType, true
	default:
		return 0, 0, false
	}
}

func decodeIPv4(ip View) (Segment, bool) {
	if ip.Len() < 20 {
		return Segment{}, false
	}
	ihl := int(ip.byteAt(0)&0x0F) * 4
	if ihl < 20 || ip.Len() < ihl {
		return Segment{}, false
	}
	total := int(ip.u16(2))
	if total > ip.Len() {
		total = ip.Len()
	}
	if total < ihl {
		return Segment{}, false
	}
	if ip.u16(6)&0x1FFF != 0 {
		log.Tracef("IPv4: skipping non-first fragment")
		return Segment{}, false
	}
	if ip.byteAt(9) != ipProtoTCP {
		return Segment{}, false
	}
	network, _ := ip.Slice(0, total)
	tcp, _ := network.From(ihl)
	raw := network.Bytes()
	seg := Segment{Network: network}
	if !decodeTCP(&seg, tcp, raw[12:16], raw[16:20]) {
		return Segment{}, false
	}
	return seg, true
}

func decodeIPv6(ip View) (Segment, bool) {
	if ip.Len() < 40 {
		return Segment{}, false
	}
	end := 40 + int(ip.u16(4))
	if end > ip.Len() || end == 40 {
		// Payload length 0 is either empty or a jumbogram; use what was captured.
		end = ip.Len()
	}
	nxt := ip.byteAt(6)
	off := 40
	for nxt != ipProtoTCP {
		if off+8 > end {
			return Segment{}, false
		}
		var hlen int
		switch nxt {
		case ipv6HopByHop, ipv6Routing, ipv6DestOpts:
			hlen = (int(ip.byteAt(off+1)) + 1) * 8
		case ipv6Fragment:
			if ip.u16(off+2)>>3 != 0 {
				log.Tracef("IPv6: skipping non-first fragment")
				return Segment{}, false
			}
			hlen = 8
		case ipv6AuthHeader:
			hlen = (int(ip.byteAt(off+1)) + 2) * 4
		default:
			return Segment{}, false
		}
		nxt = ip.byteAt(off)
		off += hlen
	}
	if off > end {
		return Segment{}, false
	}
	network, _ := ip.Slice(0, end)
	tcp, _ := network.From(off)
	raw := network.Bytes()
	seg := Segment{Network: network, V6: true}
	if !decodeTCP(&seg, tcp, raw[8:24], raw[24:40]) {
		return Segment{}, false
	}
	return seg, true
}

func decodeTCP(seg *Segment, tcp View, src, dst []byte) bool {
	if tcp.Len() < 20 {
		return false
	}
	dataOff := int(tcp.byteAt(12)>>4) * 4
	if dataOff < 20 || tcp.Len() < dataOff {
		return false
	}
	seg.Src = endpoint(src, tcp.u16(0))
	seg.Dst = endpoint(dst, tcp.u16(2))
	seg.Seq = tcp.u32(4)
	seg.Flags = tcp.byteAt(13)
	seg.Payload, _ = tcp.From(dataOff)
	return true
}
