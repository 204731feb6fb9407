package cptarchive

import (
	"bytes"
	"hash/crc32"
	"io"
	"testing"

	"github.com/retrofork/machex/internal/layer"
)

func writeBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func writeBE16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// buildFileEntry returns the 1+len(name) byte name record followed by
// the 45-byte metadata block for one uncompressed (method-0) file, plus
// its fork bytes appended at the given absolute file offset.
func buildFileEntry(name string, fileOffset int, data, rsrc []byte) (nameAndMeta []byte, forkBytes []byte) {
	nameAndMeta = make([]byte, 1+len(name)+dirEntrySize)
	nameAndMeta[0] = byte(len(name))
	copy(nameAndMeta[1:], name)
	e := nameAndMeta[1+len(name):]

	writeBE32(e[1:5], uint32(fileOffset))
	copy(e[5:9], []byte("TEXT"))
	copy(e[9:13], []byte("ttxt"))
	writeBE32(e[23:27], crc32.ChecksumIEEE(data))
	writeBE32(e[29:33], uint32(len(rsrc)))
	writeBE32(e[33:37], uint32(len(data)))
	writeBE32(e[37:41], uint32(len(rsrc)))
	writeBE32(e[41:45], uint32(len(data)))

	var fb bytes.Buffer
	fb.Write(rsrc)
	fb.Write(data)
	return nameAndMeta, fb.Bytes()
}

func TestDetectAndReadForks(t *testing.T) {
	data := []byte("compact pro data fork")
	rsrc := []byte("rsrc-stuff")

	fileOffset := 8 // forks placed right after the 8-byte signature+dirOffset header
	nameAndMeta, forkBytes := buildFileEntry("memo.txt", fileOffset, data, rsrc)

	// Directory tree: a single top-level file entry, no subfolders.
	var archive bytes.Buffer
	archive.Write(forkBytes)
	dirOffset := archive.Len() + 8 // +8 for the leading signature header written below

	var dir bytes.Buffer
	dir.Write(make([]byte, 4)) // directory CRC-32, unchecked
	cntBuf := make([]byte, 2)
	writeBE16(cntBuf, 1)
	dir.Write(cntBuf)
	dir.WriteByte(0) // comment length
	dir.Write(nameAndMeta)

	var out bytes.Buffer
	out.WriteByte(0x01)
	out.WriteByte(0x01)
	out.Write([]byte{0, 0}) // reserved
	offBuf := make([]byte, 4)
	writeBE32(offBuf, uint32(dirOffset))
	out.Write(offBuf)
	out.Write(forkBytes)
	out.Write(dir.Bytes())

	base := layer.NewBase(bytes.NewReader(out.Bytes()))
	l, ok, err := Detect(base)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected Compact Pro signature to be recognized")
	}

	info, err := l.Open(layer.First)
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "memo.txt" || info.Fork != layer.DataFork {
		t.Fatalf("info = %+v", info)
	}
	got, err := io.ReadAll(l)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Fatalf("data fork = %q, want %q", got, data)
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
		t.Fatalf("rsrc fork = %q, want %q", got, rsrc)
	}

	if _, err := l.Open(layer.Next); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestDetectRejectsBadSignature(t *testing.T) {
	body := []byte{0x01, 0x02, 0, 0, 0, 0, 0, 8}
	base := layer.NewBase(bytes.NewReader(body))
	_, ok, err := Detect(base)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected non-Compact-Pro signature to be rejected")
	}
}

func TestNestedFolderPath(t *testing.T) {
	data := []byte("nested file contents")
	fileOffset := 8
	nameAndMeta, forkBytes := buildFileEntry("inner.txt", fileOffset, data, nil)

	var archive bytes.Buffer
	archive.Write(forkBytes)
	dirOffset := archive.Len() + 8

	var dir bytes.Buffer
	dir.Write(make([]byte, 4))
	cntBuf := make([]byte, 2)
	writeBE16(cntBuf, 1)
	dir.Write(cntBuf) // one top-level entry: a folder
	dir.WriteByte(0)  // comment length

	// Folder entry: nt byte with dir bit set, name, then a 2-byte child count.
	dir.WriteByte(0x80 | byte(len("Sub")))
	dir.WriteString("Sub")
	childCntBuf := make([]byte, 2)
	writeBE16(childCntBuf, 1)
	dir.Write(childCntBuf)
	dir.Write(nameAndMeta)

	var out bytes.Buffer
	out.WriteByte(0x01)
	out.WriteByte(0x01)
	out.Write([]byte{0, 0}) // reserved
	offBuf := make([]byte, 4)
	writeBE32(offBuf, uint32(dirOffset))
	out.Write(offBuf)
	out.Write(forkBytes)
	out.Write(dir.Bytes())

	base := layer.NewBase(bytes.NewReader(out.Bytes()))
	l, ok, err := Detect(base)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected Compact Pro signature to be recognized")
	}

	info, err := l.Open(layer.First)
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "Sub/inner.txt" {
		t.Fatalf("name = %q, want Sub/inner.txt", info.Name)
	}
}
