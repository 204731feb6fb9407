// Package macbinary implements the MacBinary (I and II) encapsulation
// layer: a fixed 128-byte header followed by a data fork and a resource
// fork, each padded to a 128-byte boundary.
package macbinary

import (
	"io"

	"github.com/retrofork/machex/internal/crc16"
	"github.com/retrofork/machex/internal/layer"
)

const headerSize = 128

// finderFlagMask clears the bits that live elsewhere in the Finder flags
// word layout (bits 0, 1, 8, 9, 10), per the combined byte73/byte101
// packing MacBinary uses.
const finderFlagMask = ^uint16(1<<0 | 1<<1 | 1<<8 | 1<<9 | 1<<10)

const maxForkLen = 0x7FFFFFFF

type forkKind int

const (
	forkData forkKind = iota
	forkRsrc
)

type forkSpec struct {
	kind   forkKind
	offset int // into body, past all header/padding bytes
	length int
}

type header struct {
	name         string
	typ, creator [4]byte
	flags        uint16
}

// macbinaryLayer is the Layer implementation produced by Detect. The
// whole underlying fork is buffered up front so Open(First) can reset
// the cursor without re-reading under, which only supports forward
// iteration of its own forks.
type macbinaryLayer struct {
	body   []byte
	hdr    header
	forks  []forkSpec
	cursor int

	pos    int // read offset into body for the currently open fork
	remain int
}

// Detect implements layer.Factory for MacBinary.
func Detect(under layer.Layer) (layer.Layer, bool, error) {
	if _, err := under.Open(layer.First); err != nil {
		return nil, false, nil
	}
	body, err := io.ReadAll(under)
	if err != nil {
		return nil, false, nil
	}
	if len(body) < headerSize {
		return nil, false, nil
	}
	hdrBytes := body[:headerSize]

	if hdrBytes[0] != 0 || hdrBytes[74] != 0 {
		return nil, false, nil
	}
	nameLen := int(hdrBytes[1])
	if nameLen < 1 || nameLen > 63 {
		return nil, false, nil
	}

	crcOK := crc16.XMODEM(0, hdrBytes[:126]) == 0
	if !crcOK && hdrBytes[82] != 0 {
		return nil, false, nil
	}

	dataLen := int(be32(hdrBytes[83:87]))
	rsrcLen := int(be32(hdrBytes[87:91]))
	if dataLen > maxForkLen || rsrcLen > maxForkLen {
		return nil, false, nil
	}

	l := &macbinaryLayer{body: body}
	l.hdr.name = string(hdrBytes[2 : 2+nameLen])
	copy(l.hdr.typ[:], hdrBytes[65:69])
	copy(l.hdr.creator[:], hdrBytes[69:73])
	l.hdr.flags = (uint16(hdrBytes[73])<<8 | uint16(hdrBytes[101])) & finderFlagMask

	secondaryLen := int(be16(hdrBytes[120:122]))
	cursor := headerSize + secondaryLen + padTo128(secondaryLen)

	if dataLen > 0 {
		if cursor+dataLen > len(body) {
			return nil, false, nil
		}
		l.forks = append(l.forks, forkSpec{kind: forkData, offset: cursor, length: dataLen})
	}
	cursor += dataLen + padTo128(dataLen)

	if rsrcLen > 0 {
		if cursor+rsrcLen > len(body) {
			return nil, false, nil
		}
		l.forks = append(l.forks, forkSpec{kind: forkRsrc, offset: cursor, length: rsrcLen})
	}

	l.cursor = -1
	return l, true, nil
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// padTo128 returns how many more bytes are needed to bring n up to the
// next multiple of 128 (0 if n is already a multiple).
func padTo128(n int) int {
	rem := n % headerSize
	if rem == 0 {
		return 0
	}
	return headerSize - rem
}

func (l *macbinaryLayer) Open(mode layer.OpenMode) (layer.ForkInfo, error) {
	if mode == layer.First {
		l.cursor = -1
	}
	l.cursor++
	if l.cursor >= len(l.forks) {
		return layer.ForkInfo{}, io.EOF
	}
	spec := l.forks[l.cursor]
	l.pos = spec.offset
	l.remain = spec.length

	info := layer.ForkInfo{
		Name:        l.hdr.name,
		Type:        l.hdr.typ,
		Creator:     l.hdr.creator,
		FinderFlags: l.hdr.flags,
		Length:      int64(spec.length),
	}
	if spec.kind == forkRsrc {
		info.Fork = layer.ResourceFork
	}
	return info, nil
}

func (l *macbinaryLayer) Read(p []byte) (int, error) {
	if l.remain == 0 {
		return 0, io.EOF
	}
	n := copy(p, l.body[l.pos:l.pos+l.remain])
	l.pos += n
	l.remain -= n
	return n, nil
}

func (l *macbinaryLayer) Close() error {
	return nil
}
