// Package sample decides which TCP segments are worth keeping and carries
// them, as raw network packets, to the enrichment stage.
package sample

import (
	"fmt"

	"github.com/daniellavrushin/hellotrace/packet"
	"github.com/daniellavrushin/hellotrace/tlsfp"
)

type Kind uint8

const (
	Ignore Kind = iota
	BareAck
	TLSClientHello
)

var kindNames = map[Kind]string{
	Ignore:         "ignore",
	BareAck:        "bare_ack",
	TLSClientHello: "tls_client_hello",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return Ignore, fmt.Errorf("unknown sample kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Classify tags a decoded segment. Checks run in order: bare ACK, then the
// connection-control flag sets, then the payload as a TLS record.
func Classify(seg *packet.Segment) Kind {
	switch seg.Flags {
	case packet.FlagACK:
		if seg.Payload.Len() == 0 {
			return BareAck
		}
	case packet.FlagSYN, packet.FlagSYN | packet.FlagACK, packet.FlagFIN, packet.FlagRST:
		return Ignore
	}
	if tlsfp.IsClientHello(seg.Payload.Bytes()) {
		return TLSClientHello
	}
	return Ignore
}
