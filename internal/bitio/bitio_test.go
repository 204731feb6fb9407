package bitio

import (
	"bufio"
	"bytes"
	"errors"
	"testing"

	"github.com/retrofork/machex/internal/archerr"
)

func TestMSBReaderReadBits(t *testing.T) {
	// 0xB5 0x3C = 1011_0101 0011_1100
	r := NewMSBReader(bufio.NewReader(bytes.NewReader([]byte{0xB5, 0x3C})))

	tests := []struct {
		n    uint
		want uint32
	}{
		{4, 0xB},
		{4, 0x5},
		{8, 0x3C},
	}
	for i, tc := range tests {
		got, err := r.ReadBits(tc.n)
		if err != nil {
			t.Fatalf("case %d: unexpected error: %v", i, err)
		}
		if got != tc.want {
			t.Fatalf("case %d: got %#x want %#x", i, got, tc.want)
		}
	}

	if _, err := r.ReadBits(1); !errors.Is(err, archerr.ErrTruncated) {
		t.Fatalf("expected ErrTruncated at end of stream, got %v", err)
	}
}

func TestMSBReaderByteAlign(t *testing.T) {
	r := NewMSBReader(bufio.NewReader(bytes.NewReader([]byte{0xFF, 0x00, 0xAB})))
	if _, err := r.ReadBits(3); err != nil {
		t.Fatal(err)
	}
	r.ByteAlign()
	got, err := r.ReadBits(8)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x00 {
		t.Fatalf("after align, got %#x want 0x00", got)
	}
}

func TestLSBReaderReadBits(t *testing.T) {
	// 0xB5 = 1011_0101 (LSB first: 1,0,1,0,1,1,0,1)
	r := NewLSBReader([]byte{0xB5, 0x01, 0x00})

	got, err := r.ReadBits(4)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x5 {
		t.Fatalf("got %#x want 0x5", got)
	}

	got, err = r.ReadBits(4)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xB {
		t.Fatalf("got %#x want 0xb", got)
	}

	got, err = r.ReadBits(9)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x001 {
		t.Fatalf("got %#x want 0x001", got)
	}

	if _, err := r.ReadBits(8); !errors.Is(err, archerr.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestLSBReaderSkipAndAlign(t *testing.T) {
	r := NewLSBReader([]byte{0xFF, 0xAB})
	if err := r.SkipBits(3); err != nil {
		t.Fatal(err)
	}
	r.ByteAlign()
	if r.BitPos() != 8 {
		t.Fatalf("BitPos = %d, want 8", r.BitPos())
	}
	got, err := r.ReadBits(8)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xAB {
		t.Fatalf("got %#x want 0xab", got)
	}
}

func TestLSBReaderRemaining(t *testing.T) {
	r := NewLSBReader([]byte{0x00, 0x00})
	if r.Remaining() != 16 {
		t.Fatalf("Remaining = %d, want 16", r.Remaining())
	}
	if err := r.SkipBits(16); err != nil {
		t.Fatal(err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", r.Remaining())
	}
	if err := r.SkipBits(1); !errors.Is(err, archerr.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}
