package lzwmac

import (
	"bytes"
	"testing"
)

// bitPacker packs fixed-width codes LSB-first into a byte slice, mirroring
// the shape internal/bitio.LSBReader consumes.
type bitPacker struct {
	buf []byte
	pos int // bit position
}

func (p *bitPacker) putBits(v uint32, n uint) {
	for i := uint(0); i < n; i++ {
		bit := (v >> i) & 1
		byteIdx := p.pos / 8
		for byteIdx >= len(p.buf) {
			p.buf = append(p.buf, 0)
		}
		if bit != 0 {
			p.buf[byteIdx] |= 1 << uint(p.pos%8)
		}
		p.pos++
	}
}

func TestDecodeLiteralsAndDictGrowth(t *testing.T) {
	p := &bitPacker{}
	p.putBits(65, 9)  // 'A', first symbol after implicit start, literal
	p.putBits(66, 9)  // 'B', expand existing single-byte entry; grows dict to 258 ("AB")
	p.putBits(257, 9) // expand new entry 257 -> "AB"; grows dict to 259
	p.putBits(256, 9) // Clear: realign to next 8-code block boundary (36 padding bits)
	p.putBits(0, 36)
	p.putBits(65, 9) // 'A' again, literal after reset

	out, err := Decode(p.buf, 5)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte("ABABA")
	if !bytes.Equal(out, want) {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestDecodeTruncated(t *testing.T) {
	p := &bitPacker{}
	p.putBits(65, 9)
	if _, err := Decode(p.buf, 10); err == nil {
		t.Fatal("expected truncation error")
	}
}
