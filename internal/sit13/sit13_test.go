package sit13

import (
	"bytes"
	"testing"

	"github.com/retrofork/machex/internal/bitio"
)

// lsbBitPacker packs individual logical bits, in the order given, into an
// LSB-first byte buffer — the same packing internal/bitio.LSBReader
// consumes. Both multi-bit numeric fields and Huffman code traversals
// are expressed as a sequence of such single-bit writes.
type lsbBitPacker struct {
	buf []byte
	pos int
}

func (p *lsbBitPacker) putBit(bit uint32) {
	byteIdx := p.pos / 8
	for byteIdx >= len(p.buf) {
		p.buf = append(p.buf, 0)
	}
	if bit != 0 {
		p.buf[byteIdx] |= 1 << uint(p.pos%8)
	}
	p.pos++
}

// putValue writes an n-bit numeric field the way read_bits(n) expects:
// bit 0 of v first.
func (p *lsbBitPacker) putValue(v uint32, n uint) {
	for i := uint(0); i < n; i++ {
		p.putBit((v >> i) & 1)
	}
}

// putCode writes a Huffman code's bits in MSB-to-LSB traversal order.
func (p *lsbBitPacker) putCode(code uint32, length int) {
	for b := length - 1; b >= 0; b-- {
		p.putBit((code >> uint(b)) & 1)
	}
}

func TestDecodeLengthsMetaCode(t *testing.T) {
	p := &lsbBitPacker{}
	p.putCode(2, 5)  // m=2 -> L=3, emits lengths[0]=3
	p.putCode(62, 6) // m=35 -> repeat: read 3-bit n
	p.putValue(0, 3) // n=0 -> extra=2, emits lengths[1..3]=3
	p.putCode(5, 5)  // m=5 -> L=6, emits lengths[4]=6

	r := bitio.NewLSBReader(p.buf)
	lengths, err := decodeLengths(r, 5)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{3, 3, 3, 3, 6}
	for i := range want {
		if lengths[i] != want[i] {
			t.Fatalf("lengths = %v, want %v", lengths, want)
		}
	}
}

func TestDecodePredefinedLiterals(t *testing.T) {
	firstLen, _, _ := predefinedSet(1)
	length := firstLen[65]
	if l := firstLen[66]; l != length {
		t.Fatalf("test assumes symbols 65 and 66 share one length, got lengths %d and %d", length, l)
	}
	// In this placeholder table the low symbols (0..191) all share the
	// shortest length, so the canonical code for such a symbol s is
	// simply s (ascending assignment).

	p := &lsbBitPacker{}
	p.putValue(0x10, 8) // header: selector=1 (predefined), alias=0, k=0
	p.putCode(65, length)
	p.putCode(66, length)

	out, err := Decode(p.buf, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte("AB")) {
		t.Fatalf("got %q want %q", out, "AB")
	}
}
