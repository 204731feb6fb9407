// Package hqx implements the BinHex 4.0 armor layer: signature
// detection, 6-bit-per-character de-armoring, RLE90 expansion, and the
// fixed header/data-fork/resource-fork structure with triple CRC
// verification.
package hqx

import (
	"bytes"
	"io"

	"github.com/retrofork/machex/internal/archerr"
	"github.com/retrofork/machex/internal/crc16"
	"github.com/retrofork/machex/internal/layer"
	"github.com/retrofork/machex/internal/rle90"
)

const signature = "(This file must be converted with BinHex"

// signatureScanWindow bounds how much of the leading stream is searched
// for the signature line before giving up.
const signatureScanWindow = 4096

// alphabetTable is BinHex 4.0's fixed 64-character armor alphabet: each
// character encodes one 6-bit value, in this order. It intentionally
// omits several ASCII characters prone to transcription mistakes
// (digit 7, letters O and W, and a number of lowercase letters).
var alphabetTable = [64]byte{
	'!', '"', '#', '$', '%', '&', '\'', '(', ')', '*', '+', ',', '-',
	'0', '1', '2', '3', '4', '5', '6', '8', '9',
	'@', 'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N',
	'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'X', 'Y', 'Z', '[', '`',
	'a', 'b', 'c', 'd', 'e', 'f', 'h', 'i', 'j', 'k', 'l', 'm', 'p', 'q', 'r',
}

var reverseAlphabet [256]int8

func init() {
	for i := range reverseAlphabet {
		reverseAlphabet[i] = -1
	}
	for v, c := range alphabetTable {
		reverseAlphabet[c] = int8(v)
	}
}

// armorDecoder pulls 6-bit symbols from a byte source, skipping
// whitespace, and assembles them four-at-a-time into three decoded
// bytes, stopping cleanly at the terminating ':'.
type armorDecoder struct {
	r     io.ByteReader
	queue []byte
	done  bool
}

func newArmorDecoder(r io.ByteReader) *armorDecoder {
	return &armorDecoder{r: r}
}

func (a *armorDecoder) nextSymbol() (int8, bool, error) {
	for {
		c, err := a.r.ReadByte()
		if err != nil {
			return 0, false, archerr.ErrTruncated
		}
		switch c {
		case ':':
			return 0, false, nil
		case ' ', '\t', '\r', '\n':
			continue
		}
		v := reverseAlphabet[c]
		if v < 0 {
			return 0, false, archerr.ErrInvalidHeader
		}
		return v, true, nil
	}
}

func (a *armorDecoder) fill() error {
	var syms [4]int8
	n := 0
	for n < 4 {
		v, ok, err := a.nextSymbol()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		syms[n] = v
		n++
	}
	switch n {
	case 0, 1:
		a.done = true
	case 2:
		a.queue = append(a.queue, byte(syms[0])<<2|byte(syms[1])>>4)
		a.done = true
	case 3:
		a.queue = append(a.queue,
			byte(syms[0])<<2|byte(syms[1])>>4,
			byte(syms[1])<<4|byte(syms[2])>>2)
		a.done = true
	case 4:
		a.queue = append(a.queue,
			byte(syms[0])<<2|byte(syms[1])>>4,
			byte(syms[1])<<4|byte(syms[2])>>2,
			byte(syms[2])<<6|byte(syms[3]))
	}
	return nil
}

// ReadByte matches the (byte, ok, error) shape internal/rle90.NewDecoder
// expects as its pull source.
func (a *armorDecoder) ReadByte() (byte, bool, error) {
	for len(a.queue) == 0 {
		if a.done {
			return 0, false, nil
		}
		if err := a.fill(); err != nil {
			return 0, false, err
		}
	}
	b := a.queue[0]
	a.queue = a.queue[1:]
	return b, true, nil
}

type forkKind int

const (
	forkData forkKind = iota
	forkRsrc
)

type forkSpec struct {
	kind   forkKind
	length int
}

type header struct {
	name         string
	typ, creator [4]byte
	flags        uint16
}

// hqxLayer is the Layer implementation produced by Detect/New.
type hqxLayer struct {
	body   []byte // everything from just after the leading ':' onward
	hdr    header
	forks  []forkSpec
	cursor int // index into forks of the currently open fork, -1 before first Open

	src    *rle90.Decoder
	remain int
	crcUpd crc16.XMODEMUpdater
}

// Detect implements layer.Factory for BinHex 4.0.
func Detect(under layer.Layer) (layer.Layer, bool, error) {
	if _, err := under.Open(layer.First); err != nil {
		return nil, false, nil
	}
	raw, err := io.ReadAll(under)
	if err != nil {
		return nil, false, nil
	}

	window := raw
	if len(window) > signatureScanWindow {
		window = window[:signatureScanWindow]
	}
	sigAt := bytes.Index(window, []byte(signature))
	if sigAt < 0 {
		return nil, false, nil
	}
	colonAt := bytes.IndexByte(raw[sigAt:], ':')
	if colonAt < 0 {
		return nil, false, nil
	}
	body := raw[sigAt+colonAt+1:]

	l := &hqxLayer{body: body}
	if err := l.parseHeader(); err != nil {
		return nil, false, nil
	}
	return l, true, nil
}

func (l *hqxLayer) parseHeader() error {
	src := rle90.NewDecoder(newArmorDecoder(bytes.NewReader(l.body)).ReadByte)

	var hdrUpd crc16.XMODEMUpdater
	readByte := func() (byte, error) {
		b, ok, err := src.ReadByte()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, archerr.ErrTruncated
		}
		hdrUpd.Write([]byte{b})
		return b, nil
	}
	readN := func(n int) ([]byte, error) {
		buf := make([]byte, n)
		for i := range buf {
			b, err := readByte()
			if err != nil {
				return nil, err
			}
			buf[i] = b
		}
		return buf, nil
	}

	nameLen, err := readByte()
	if err != nil {
		return err
	}
	if nameLen < 1 || nameLen > 63 {
		return archerr.ErrInvalidHeader
	}
	name, err := readN(int(nameLen))
	if err != nil {
		return err
	}
	if _, err := readByte(); err != nil { // null separator
		return err
	}
	typ, err := readN(4)
	if err != nil {
		return err
	}
	creator, err := readN(4)
	if err != nil {
		return err
	}
	flagsB, err := readN(2)
	if err != nil {
		return err
	}
	dataLenB, err := readN(4)
	if err != nil {
		return err
	}
	rsrcLenB, err := readN(4)
	if err != nil {
		return err
	}

	hiByte, ok, err := src.ReadByte()
	if err != nil {
		return err
	}
	if !ok {
		return archerr.ErrTruncated
	}
	loByte, ok, err := src.ReadByte()
	if err != nil {
		return err
	}
	if !ok {
		return archerr.ErrTruncated
	}
	hdrUpd.Write([]byte{hiByte, loByte})
	if hdrUpd.Sum16() != 0 {
		return archerr.ErrChecksum
	}

	dataLen := be32(dataLenB)
	rsrcLen := be32(rsrcLenB)

	l.hdr = header{name: string(name), flags: be16(flagsB)}
	copy(l.hdr.typ[:], typ)
	copy(l.hdr.creator[:], creator)

	l.forks = l.forks[:0]
	if dataLen > 0 {
		l.forks = append(l.forks, forkSpec{kind: forkData, length: int(dataLen)})
	}
	if rsrcLen > 0 {
		l.forks = append(l.forks, forkSpec{kind: forkRsrc, length: int(rsrcLen)})
	}
	l.src = src
	l.cursor = -1
	return nil
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (l *hqxLayer) drainCurrent() error {
	if l.cursor < 0 || l.cursor >= len(l.forks) {
		return nil
	}
	var scratch [512]byte
	for l.remain > 0 {
		if _, err := l.Read(scratch[:]); err != nil && err != io.EOF {
			return err
		}
	}
	return nil
}

func (l *hqxLayer) Open(mode layer.OpenMode) (layer.ForkInfo, error) {
	switch mode {
	case layer.First:
		if err := l.parseHeader(); err != nil {
			return layer.ForkInfo{}, err
		}
	case layer.Next:
		if err := l.drainCurrent(); err != nil {
			return layer.ForkInfo{}, err
		}
	}
	l.cursor++
	if l.cursor >= len(l.forks) {
		return layer.ForkInfo{}, io.EOF
	}
	spec := l.forks[l.cursor]
	l.remain = spec.length
	l.crcUpd = crc16.XMODEMUpdater{}

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

func (l *hqxLayer) Read(p []byte) (int, error) {
	if l.remain == 0 {
		return 0, io.EOF
	}
	max := len(p)
	if max > l.remain {
		max = l.remain
	}
	n := 0
	for n < max {
		b, ok, err := l.src.ReadByte()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, archerr.ErrTruncated
		}
		p[n] = b
		n++
	}
	l.crcUpd.Write(p[:n])
	l.remain -= n
	if l.remain == 0 {
		hi, ok, err := l.src.ReadByte()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, archerr.ErrTruncated
		}
		lo, ok, err := l.src.ReadByte()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, archerr.ErrTruncated
		}
		stored := uint16(hi)<<8 | uint16(lo)
		if l.crcUpd.Sum16() != stored {
			return n, archerr.ErrChecksum
		}
	}
	return n, nil
}

func (l *hqxLayer) Close() error {
	return nil
}
