package tlsfp

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
)

// Handshake is a ClientHello together with its fingerprint.
type Handshake struct {
	ClientHello
	// JA3 is the lowercase hex MD5 digest of JA3String.
	JA3 string
}

// Fingerprint computes the JA3 digest of ch. It cannot fail.
func Fingerprint(ch *ClientHello) Handshake {
	return Handshake{ClientHello: *ch, JA3: ch.JA3Hash()}
}

// JA3String renders "version,ciphers,extensions,curves,pointformats" with
// each list hyphen-joined. GREASE values are left out; an absent list is an
// empty field.
func (ch *ClientHello) JA3String() string {
	var b strings.Builder
	b.Grow(128)
	b.WriteString(strconv.FormatUint(uint64(ch.Version), 10))
	b.WriteByte(',')
	writeList(&b, ch.Ciphers)
	b.WriteByte(',')
	writeList(&b, ch.Extensions)
	b.WriteByte(',')
	writeList(&b, ch.Curves)
	b.WriteByte(',')
	for i, f := range ch.PointFormats {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.FormatUint(uint64(f), 10))
	}
	return b.String()
}

// JA3Hash is the MD5 digest of JA3String in lowercase hex. MD5 is the digest
// JA3 is defined with; it is not used for integrity here.
func (ch *ClientHello) JA3Hash() string {
	sum := md5.Sum([]byte(ch.JA3String()))
	return hex.EncodeToString(sum[:])
}

func writeList(b *strings.Builder, vals []uint16) {
	first := true
	for _, v := range vals {
		if IsGREASE(v) {
			continue
		}
		if !first {
			b.WriteByte('-')
		}
		first = false
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	}
}

// IsGREASE reports whether v is one of the reserved RFC 8701 values
// (0x0a0a, 0x1a1a, ... 0xfafa).
func IsGREASE(v uint16) bool {
	return v&0x0f0f == 0x0a0a && v>>8 == v&0xff
}
