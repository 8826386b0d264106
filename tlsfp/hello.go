// Package tlsfp extracts the negotiable fields of a TLS ClientHello and
// condenses them into a JA3 fingerprint.
package tlsfp

import (
	"github.com/daniellavrushin/hellotrace/log"
	"golang.org/x/crypto/cryptobyte"
)

const (
	contentTypeHandshake uint8 = 22
	handshakeClientHello uint8 = 1

	maxRecordLen = 1 << 14
)

const (
	extServerName      uint16 = 0
	extSupportedGroups uint16 = 10
	extECPointFormats  uint16 = 11
)

// ClientHello holds the fields of a ClientHello in the order the client
// offered them. Duplicates and GREASE values are kept.
type ClientHello struct {
	// RecordVersion is the version of the enclosing TLS record.
	RecordVersion uint16
	// Version is the legacy_version of the handshake message.
	Version      uint16
	Ciphers      []uint16
	Extensions   []uint16
	ServerName   string
	Curves       []uint16
	PointFormats []uint8
}

// Parse reads one TLS plaintext record from the start of payload and returns
// the first ClientHello it carries. Records that are incomplete, oversized or
// hold no well-formed ClientHello yield ok == false.
func Parse(payload []byte) (*ClientHello, bool) {
	s := cryptobyte.String(payload)
	var (
		contentType uint8
		version     uint16
		record      cryptobyte.String
	)
	if !s.ReadUint8(&contentType) || contentType != contentTypeHandshake {
		return nil, false
	}
	if !s.ReadUint16(&version) || !s.ReadUint16LengthPrefixed(&record) {
		log.Tracef("TLS: record truncated, have %d bytes", len(payload))
		return nil, false
	}
	if len(record) > maxRecordLen {
		return nil, false
	}
	for !record.Empty() {
		var (
			msgType uint8
			msg     cryptobyte.String
		)
		if !record.ReadUint8(&msgType) || !record.ReadUint24LengthPrefixed(&msg) {
			log.Tracef("TLS: handshake message truncated")
			return nil, false
		}
		if msgType != handshakeClientHello {
			continue
		}
		ch := &ClientHello{RecordVersion: version}
		if !ch.unmarshal(msg) {
			log.Tracef("TLS: malformed ClientHello")
			return nil, false
		}
		return ch, true
	}
	return nil, false
}

// IsClientHello reports whether payload starts with a record holding a
// well-formed ClientHello.
func IsClientHello(payload []byte) bool {
	_, ok := Parse(payload)
	return ok
}

func (ch *ClientHello) unmarshal(s cryptobyte.String) bool {
	var sessionID, ciphers, compression cryptobyte.String
	if !s.ReadUint16(&ch.Version) || !s.Skip(32) ||
		!s.ReadUint8LengthPrefixed(&sessionID) || len(sessionID) > 32 ||
		!s.ReadUint16LengthPrefixed(&ciphers) || len(ciphers)%2 != 0 ||
		!s.ReadUint8LengthPrefixed(&compression) || compression.Empty() {
		return false
	}
	ch.Ciphers = make([]uint16, 0, len(ciphers)/2)
	for !ciphers.Empty() {
		var c uint16
		ciphers.ReadUint16(&c)
		ch.Ciphers = append(ch.Ciphers, c)
	}

	if s.Empty() {
		// Extensions are optional before TLS 1.3.
		return true
	}
	var exts cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&exts) || !s.Empty() {
		return false
	}
	for !exts.Empty() {
		var (
			typ  uint16
			data cryptobyte.String
		)
		if !exts.ReadUint16(&typ) || !exts.ReadUint16LengthPrefixed(&data) {
			return false
		}
		ch.Extensions = append(ch.Extensions, typ)
		var ok bool
		switch typ {
		case extServerName:
			ok = ch.readServerName(data)
		case extSupportedGroups:
			ok = ch.readCurves(data)
		case extECPointFormats:
			ok = ch.readPointFormats(data)
		default:
			ok = true
		}
		if !ok {
			log.Tracef("TLS: malformed extension %d", typ)
			return false
		}
	}
	return true
}

func (ch *ClientHello) readServerName(data cryptobyte.String) bool {
	var names cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&names) || names.Empty() || !data.Empty() {
		return false
	}
	for !names.Empty() {
		var (
			nameType uint8
			name     cryptobyte.String
		)
		if !names.ReadUint8(&nameType) || !names.ReadUint16LengthPrefixed(&name) {
			return false
		}
		if nameType == 0 && ch.ServerName == "" {
			ch.ServerName = string(name)
		}
	}
	return true
}

func (ch *ClientHello) readCurves(data cryptobyte.String) bool {
	var list cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&list) || len(list)%2 != 0 || !data.Empty() {
		return false
	}
	for !list.Empty() {
		var c uint16
		list.ReadUint16(&c)
		ch.Curves = append(ch.Curves, c)
	}
	return true
}

func (ch *ClientHello) readPointFormats(data cryptobyte.String) bool {
	var list cryptobyte.String
	if !data.ReadUint8LengthPrefixed(&list) || !data.Empty() {
		return false
	}
	ch.PointFormats = append(ch.PointFormats, list...)
	return true
}
