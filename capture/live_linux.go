//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/daniellavrushin/hellotrace/log"
	"github.com/daniellavrushin/hellotrace/packet"
	"golang.org/x/sys/unix"
)

const defaultSnapLen = 96 * 1024

// LiveConfig selects the interface to capture on. An empty Iface or "all"
// captures on every interface.
type LiveConfig struct {
	Iface   string
	SnapLen int
	Promisc bool
}

// Live captures frames from an AF_PACKET socket.
type Live struct {
	fd         int
	ifindex    int
	buf        []byte
	cfg        LiveConfig
	promiscSet bool
}

func NewLive(cfg LiveConfig) (*Live, error) {
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = defaultSnapLen
	}
	ifindex := 0
	if cfg.Iface != "" && cfg.Iface != "all" {
		ifi, err := net.InterfaceByName(cfg.Iface)
		if err != nil {
			return nil, err
		}
		ifindex = ifi.Index
	}
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("capture: socket: %w", err)
	}
	// Wake up regularly so Run notices cancellation.
	tv := unix.Timeval{Sec: 0, Usec: 200000}
	_ = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifindex,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("capture: bind %s: %w", cfg.Iface, err)
	}
	l := &Live{
		fd:      fd,
		ifindex: ifindex,
		buf:     make([]byte, cfg.SnapLen),
		cfg:     cfg,
	}
	if cfg.Promisc && ifindex != 0 {
		m := &unix.PacketMreq{Ifindex: int32(ifindex), Type: unix.PACKET_MR_PROMISC}
		if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, m); err == nil {
			l.promiscSet = true
		} else {
			log.Errorf("PROMISC enable failed on %s: %v", cfg.Iface, err)
		}
	}
	return l, nil
}

func (*Live) Name() string { return "live" }

// Run reads frames until ctx is done. Frames are timestamped on receipt and
// share one buffer, so fn must not retain them.
func (l *Live) Run(ctx context.Context, fn func(Frame) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, from, err := unix.Recvfrom(l.fd, l.buf, 0)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				continue
			}
			return fmt.Errorf("capture: recv: %w", err)
		}
		ll, _ := from.(*unix.SockaddrLinklayer)
		if ll == nil {
			continue
		}
		if l.ifindex != 0 && ll.Ifindex != l.ifindex {
			continue
		}
		if ll.Pkttype == unix.PACKET_OUTGOING && ll.Hatype == unix.ARPHRD_LOOPBACK {
			// Loopback traffic is seen once in each direction.
			continue
		}
		if err := fn(Frame{Data: l.buf[:n], Link: linkFor(ll.Hatype), Time: time.Now()}); err != nil {
			return err
		}
	}
}

func (l *Live) Close() error {
	if l.promiscSet {
		_ = unix.SetsockoptPacketMreq(l.fd, unix.SOL_PACKET, unix.PACKET_DROP_MEMBERSHIP, &unix.PacketMreq{Ifindex: int32(l.ifindex), Type: unix.PACKET_MR_PROMISC})
	}
	return unix.Close(l.fd)
}

// linkFor maps the ARP hardware type of the receiving device to the header
// layout of its frames.
func linkFor(hatype uint16) packet.LinkType {
	switch hatype {
	case unix.ARPHRD_ETHER, unix.ARPHRD_LOOPBACK:
		return packet.LinkEthernet
	default:
		return packet.LinkRaw
	}
}

func htons(x uint16) uint16 { return (x<<8)&0xff00 | x>>8 }
