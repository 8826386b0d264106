// Package tlsfptest builds ClientHello records for tests.
package tlsfptest

import "golang.org/x/crypto/cryptobyte"

// Fingerprint of Example().
const (
	ExampleJA3String = "771,4865-4866-49195-4865,0-23-10-11-16-43,29-23-24,0"
	ExampleJA3       = "5ffaf288d4c7ad6ee41de7d402c7ebf8"
)

type Extension struct {
	Type uint16
	Data []byte
}

// Hello describes a ClientHello. A nil Extensions slice omits the
// extensions block entirely.
type Hello struct {
	RecordVersion uint16
	Version       uint16
	SessionID     []byte
	Ciphers       []uint16
	Extensions    []Extension
}

// Example is a TLS 1.3 style hello with GREASE values, a duplicated cipher
// and server name example.com.
func Example() Hello {
	return Hello{
		RecordVersion: 0x0301,
		Version:       0x0303,
		SessionID:     make([]byte, 32),
		Ciphers:       []uint16{0x0a0a, 0x1301, 0x1302, 0xc02b, 0x1301},
		Extensions: []Extension{
			Raw(0x1a1a, nil),
			ServerName("example.com"),
			Raw(23, nil),
			SupportedGroups(0x2a2a, 29, 23, 24),
			PointFormats(0),
			Raw(16, []byte{0x00, 0x03, 0x02, 'h', '2'}),
			Raw(43, []byte{0x04, 0x03, 0x04, 0x03, 0x03}),
		},
	}
}

func Raw(typ uint16, data []byte) Extension { return Extension{Type: typ, Data: data} }

func ServerName(name string) Extension {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8(0)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes([]byte(name))
		})
	})
	return Extension{Type: 0, Data: b.BytesOrPanic()}
}

func SupportedGroups(groups ...uint16) Extension {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, g := range groups {
			b.AddUint16(g)
		}
	})
	return Extension{Type: 10, Data: b.BytesOrPanic()}
}

func PointFormats(formats ...uint8) Extension {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(formats)
	})
	return Extension{Type: 11, Data: b.BytesOrPanic()}
}

// Body is the ClientHello handshake message without the record header.
func (h Hello) Body() []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(1)
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint16(h.Version)
		random := make([]byte, 32)
		for i := range random {
			random[i] = byte(i)
		}
		b.AddBytes(random)
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(h.SessionID)
		})
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, c := range h.Ciphers {
				b.AddUint16(c)
			}
		})
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint8(0)
		})
		if h.Extensions == nil {
			return
		}
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, e := range h.Extensions {
				b.AddUint16(e.Type)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddBytes(e.Data)
				})
			}
		})
	})
	return b.BytesOrPanic()
}

// Record wraps Body in a single handshake record.
func (h Hello) Record() []byte {
	return Wrap(h.RecordVersion, h.Body())
}

// Wrap puts handshake messages into one handshake record.
func Wrap(version uint16, messages ...[]byte) []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(22)
	b.AddUint16(version)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, m := range messages {
			b.AddBytes(m)
		}
	})
	return b.BytesOrPanic()
}
