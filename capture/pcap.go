package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/daniellavrushin/hellotrace/log"
	"github.com/daniellavrushin/hellotrace/packet"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// File reads a pcap or pcapng capture.
type File struct {
	Path string
}

func NewFile(path string) *File { return &File{Path: path} }

func (*File) Name() string { return "pcap" }

func (f *File) Run(ctx context.Context, fn func(Frame) error) error {
	fh, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer fh.Close()
	return readPcap(ctx, bufio.NewReader(fh), fn)
}

func readPcap(ctx context.Context, br *bufio.Reader, fn func(Frame) error) error {
	magic, err := br.Peek(4)
	if err != nil {
		return fmt.Errorf("pcap: read header: %w", err)
	}
	var r packetReader
	if bytes.Equal(magic, ngMagic) {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return fmt.Errorf("pcap: %w", err)
	}
	link, err := linkType(r.LinkType())
	if err != nil {
		return err
	}
	log.Debugf("pcap: link type %s", r.LinkType())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, ci, err := r.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				log.Warnf("pcap: truncated capture, stopping")
				return nil
			}
			return fmt.Errorf("pcap: %w", err)
		}
		if err := fn(Frame{Data: data, Link: link, Time: ci.Timestamp}); err != nil {
			return err
		}
	}
}

func linkType(lt layers.LinkType) (packet.LinkType, error) {
	switch lt {
	case layers.LinkTypeEthernet:
		return packet.LinkEthernet, nil
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		return packet.LinkRaw, nil
	default:
		return 0, fmt.Errorf("pcap: unsupported link type %s", lt)
	}
}
