package macbinary

import (
	"bytes"
	"io"
	"testing"

	"github.com/retrofork/machex/internal/crc16"
	"github.com/retrofork/machex/internal/layer"
)

func buildHeader(name string, dataLen, rsrcLen int) []byte {
	buf := make([]byte, headerSize)
	buf[1] = byte(len(name))
	copy(buf[2:], name)
	copy(buf[65:69], []byte("TEXT"))
	copy(buf[69:73], []byte("ttxt"))
	writeBE32(buf[83:87], uint32(dataLen))
	writeBE32(buf[87:91], uint32(rsrcLen))
	crc := crc16.XMODEM(0, buf[:124])
	buf[124] = byte(crc >> 8)
	buf[125] = byte(crc)
	return buf
}

func writeBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func TestDetectAndReadForks(t *testing.T) {
	data := []byte("hello macbinary data fork")
	rsrc := []byte("rsrc!")

	hdr := buildHeader("greeting.txt", len(data), len(rsrc))

	var archive bytes.Buffer
	archive.Write(hdr)
	archive.Write(data)
	archive.Write(make([]byte, padTo128(len(data))))
	archive.Write(rsrc)
	archive.Write(make([]byte, padTo128(len(rsrc))))

	base := layer.NewBase(bytes.NewReader(archive.Bytes()))
	l, ok, err := Detect(base)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected MacBinary header to be recognized")
	}

	info, err := l.Open(layer.First)
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "greeting.txt" || info.Fork != layer.DataFork {
		t.Fatalf("info = %+v", info)
	}
	got, err := io.ReadAll(l)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Fatalf("data fork = %q", got)
	}

	info, err = l.Open(layer.Next)
	if err != nil {
		t.Fatal(err)
	}
	if info.Fork != layer.ResourceFork {
		t.Fatalf("expected resource fork, got %+v", info)
	}
	got, err = io.ReadAll(l)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(rsrc) {
		t.Fatalf("rsrc fork = %q", got)
	}

	if _, err := l.Open(layer.Next); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestDetectRejectsBadNameLength(t *testing.T) {
	hdr := buildHeader("x", 0, 0)
	hdr[1] = 0 // invalid: name length must be 1..63
	_, ok, err := Detect(layer.NewBase(bytes.NewReader(hdr)))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected rejection of zero-length filename")
	}
}

func TestDetectAcceptsMacBinaryIFallback(t *testing.T) {
	hdr := buildHeader("old.txt", 0, 0)
	// Corrupt the stored CRC so the MacBinary II check fails, but leave
	// byte 82 (the MacBinary I marker) zero so the fallback still accepts.
	hdr[124] ^= 0xFF
	_, ok, err := Detect(layer.NewBase(bytes.NewReader(hdr)))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected MacBinary I fallback to accept despite bad CRC")
	}
}
