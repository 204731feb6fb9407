package rle90

import (
	"bytes"
	"errors"
	"testing"

	"github.com/retrofork/machex/internal/archerr"
)

func TestDecodeBasicRun(t *testing.T) {
	// 'A', 0x90, 0x04 -> 'A' followed by 3 more 'A's (run of 4 total).
	in := []byte{'A', 0x90, 0x04}
	got, err := Decode(in, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{'A', 'A', 'A', 'A'}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestDecodeLiteralEscape(t *testing.T) {
	in := []byte{0x90, 0x00, 'Z'}
	got, err := Decode(in, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x90, 'Z'}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestDecodeSpuriousEscapeEmitsNothing(t *testing.T) {
	// 'A', 0x90, 0x01 (emits nothing), then 'B'.
	in := []byte{'A', 0x90, 0x01, 'B'}
	got, err := Decode(in, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{'A', 'B'}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestDecodeTruncatedEscape(t *testing.T) {
	in := []byte{'A', 0x90}
	_, err := Decode(in, 3)
	if !errors.Is(err, archerr.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}
