package packet

import "encoding/binary"

// View is a read-only window into a captured buffer. Sub-views share the
// backing array of their parent; nothing is copied until Clone.
type View struct {
	buf []byte
	off int
	n   int
}

func NewView(b []byte) View { return View{buf: b, n: len(b)} }

func (v View) Len() int { return v.n }

// Offset is the position of the view inside the buffer it was cut from.
func (v View) Offset() int { return v.off }

// Bytes aliases the viewed region. The capacity is clipped so appends never
// write into the parent buffer.
func (v View) Bytes() []byte { return v.buf[v.off : v.off+v.n : v.off+v.n] }

// Clone copies the viewed region into a fresh allocation.
func (v View) Clone() []byte {
	out := make([]byte, v.n)
	copy(out, v.Bytes())
	return out
}

// Slice returns the sub-view [off, off+n).
func (v View) Slice(off, n int) (View, bool) {
	if off < 0 || n < 0 || off+n > v.n {
		return View{}, false
	}
	return View{buf: v.buf, off: v.off + off, n: n}, true
}

// From returns the sub-view starting at off and running to the end.
func (v View) From(off int) (View, bool) {
	return v.Slice(off, v.n-off)
}

func (v View) byteAt(i int) byte { return v.buf[v.off+i] }

func (v View) u16(i int) uint16 { return binary.BigEndian.Uint16(v.buf[v.off+i:]) }

func (v View) u32(i int) uint32 { return binary.BigEndian.Uint32(v.buf[v.off+i:]) }
