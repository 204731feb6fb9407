// Package cptarchive implements the Compact Pro container format: a
// recursive directory tree stored after the archived data, walked
// depth-first to build each entry's full path, with per-fork
// compression chosen by a pair of flag bits rather than a method byte.
package cptarchive

import (
	"hash/crc32"
	"io"

	"github.com/retrofork/machex/internal/archerr"
	"github.com/retrofork/machex/internal/comprle"
	"github.com/retrofork/machex/internal/layer"
	"github.com/retrofork/machex/internal/lzh"
	"github.com/retrofork/machex/internal/pathintern"
)

const (
	dirEntrySize  = 45
	fileFlagEncrypted = 1 << 0
	fileFlagRsrcLZH   = 1 << 1
	fileFlagDataLZH   = 1 << 2
)

// forkRecord describes one decodable fork, already located within the
// buffered archive body.
type forkRecord struct {
	path      string
	fork      layer.ForkType
	encrypted bool
	usesLZH   bool

	compOffset int
	compLen    int
	uncompLen  int
	crc        uint32

	typ, creator [4]byte
	flags        uint16
}

// Detect implements layer.Factory for Compact Pro archives. The whole
// containing fork is buffered: the directory tree sits after the file
// data and is only reachable once the trailing directory offset has
// been read, and the tree itself must be walked before any fork can be
// located.
func Detect(under layer.Layer) (layer.Layer, bool, error) {
	if _, err := under.Open(layer.First); err != nil {
		return nil, false, nil
	}
	body, err := io.ReadAll(under)
	if err != nil {
		return nil, false, nil
	}
	if len(body) < 8 || body[0] != 0x01 || body[1] != 0x01 {
		return nil, false, nil
	}
	dirOffset := int(be32(body[4:8]))
	if dirOffset < 8 || dirOffset+7 > len(body) {
		return nil, false, nil
	}

	records, err := parseDirectory(body, dirOffset)
	if err != nil {
		return nil, false, nil
	}
	return &cptLayer{body: body, records: records, cursor: -1}, true, nil
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// walker holds the cursor into the directory tree trailing the file
// data, and the interning table shared across the whole recursive walk.
type walker struct {
	body     []byte
	pos      int
	interner *pathintern.Table
	records  []forkRecord
}

// parseDirectory reads the second header at dirOffset (a directory CRC,
// an entry count, and an optional comment) and then walks the entry
// tree that follows it.
func parseDirectory(body []byte, dirOffset int) ([]forkRecord, error) {
	if dirOffset+7 > len(body) {
		return nil, archerr.ErrTruncated
	}
	// bytes 0-3: directory CRC-32 (unchecked: nothing upstream of the
	// tree itself needs revalidating once every entry's own fork CRC is
	// checked on read), bytes 4-5: top-level entry count, byte 6:
	// comment length.
	count := int(be16(body[dirOffset+4 : dirOffset+6]))
	commentLen := int(body[dirOffset+6])
	pos := dirOffset + 7 + commentLen
	if pos > len(body) {
		return nil, archerr.ErrTruncated
	}

	w := &walker{body: body, pos: pos, interner: pathintern.New()}
	if err := w.walkEntries(count, ""); err != nil {
		return nil, err
	}
	return w.records, nil
}

// walkEntries consumes count sibling entries starting at w.pos, each
// nested under parent, recursing into subdirectories depth-first.
func (w *walker) walkEntries(count int, parent string) error {
	for i := 0; i < count; i++ {
		if w.pos >= len(w.body) {
			return archerr.ErrTruncated
		}
		nt := w.body[w.pos]
		nameLen := int(nt & 0x7F)
		isDir := nt&0x80 != 0
		w.pos++

		if w.pos+nameLen > len(w.body) {
			return archerr.ErrTruncated
		}
		name := string(w.body[w.pos : w.pos+nameLen])
		w.pos += nameLen
		fullPath := w.interner.Join(parent, name)

		if isDir {
			if w.pos+2 > len(w.body) {
				return archerr.ErrTruncated
			}
			childCount := int(be16(w.body[w.pos : w.pos+2]))
			w.pos += 2
			if err := w.walkEntries(childCount, fullPath); err != nil {
				return err
			}
			continue
		}

		if err := w.walkFile(fullPath); err != nil {
			return err
		}
	}
	return nil
}

// walkFile reads one file entry's fixed-size metadata block and
// records its forks, which live at fileOffset in the archive body
// (resource fork first, then data fork), independent of where the
// metadata itself sits.
func (w *walker) walkFile(fullPath string) error {
	if w.pos+dirEntrySize > len(w.body) {
		return archerr.ErrTruncated
	}
	e := w.body[w.pos : w.pos+dirEntrySize]
	w.pos += dirEntrySize

	// e[0]: volume reference (unused), e[1:5]: absolute file-data
	// offset, e[5:9]: type, e[9:13]: creator, e[13:17]: create date,
	// e[17:21]: modify date, e[21:23]: Finder flags, e[23:27]:
	// uncompressed-data CRC-32, e[27:29]: file flags, e[29:33]:
	// resource-fork uncompressed length, e[33:37]: data-fork
	// uncompressed length, e[37:41]: resource-fork compressed length,
	// e[41:45]: data-fork compressed length.
	fileOffset := int(be32(e[1:5]))
	var typ, creator [4]byte
	copy(typ[:], e[5:9])
	copy(creator[:], e[9:13])
	flags := be16(e[21:23])
	dataCRC := be32(e[23:27])
	fileFlags := be16(e[27:29])
	rUnpacked := be32(e[29:33])
	dUnpacked := be32(e[33:37])
	rPacked := be32(e[37:41])
	dPacked := be32(e[41:45])

	encrypted := fileFlags&fileFlagEncrypted != 0
	rsrcLZH := fileFlags&fileFlagRsrcLZH != 0
	dataLZH := fileFlags&fileFlagDataLZH != 0

	rsrcOffset := fileOffset
	dataOffset := fileOffset + int(rPacked)
	if dataOffset+int(dPacked) > len(w.body) {
		return archerr.ErrTruncated
	}

	if dUnpacked > 0 {
		w.records = append(w.records, forkRecord{
			path: fullPath, fork: layer.DataFork, encrypted: encrypted, usesLZH: dataLZH,
			compOffset: dataOffset, compLen: int(dPacked), uncompLen: int(dUnpacked),
			crc: dataCRC, typ: typ, creator: creator, flags: flags,
		})
	}
	if rUnpacked > 0 {
		w.records = append(w.records, forkRecord{
			path: fullPath, fork: layer.ResourceFork, encrypted: encrypted, usesLZH: rsrcLZH,
			compOffset: rsrcOffset, compLen: int(rPacked), uncompLen: int(rUnpacked),
			crc: 0, typ: typ, creator: creator, flags: flags,
		})
	}
	return nil
}

// decodeFork reverses Compact Pro's compression chain for one fork.
// Every fork passes through the run-length stage; forks additionally
// marked LZH-compressed have that stage fed by an LZH decoder instead
// of reading the run-length-coded bytes directly, since LZH here
// compresses the already run-length-coded intermediate stream.
func decodeFork(src []byte, want int, usesLZH bool) ([]byte, error) {
	var next func() (byte, bool, error)
	if usesLZH {
		lzhDec := lzh.NewStreamDecoder(src)
		next = lzhDec.ReadByte
	} else {
		pos := 0
		next = func() (byte, bool, error) {
			if pos >= len(src) {
				return 0, false, nil
			}
			b := src[pos]
			pos++
			return b, true, nil
		}
	}

	rleDec := comprle.NewDecoder(next)
	out := make([]byte, 0, want)
	for len(out) < want {
		b, ok, err := rleDec.ReadByte()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, archerr.ErrTruncated
		}
		out = append(out, b)
	}
	return out, nil
}

// --- Layer implementation ---

type cptLayer struct {
	body    []byte
	records []forkRecord
	cursor  int

	current []byte
	pos     int
}

func (l *cptLayer) Open(mode layer.OpenMode) (layer.ForkInfo, error) {
	if mode == layer.First {
		l.cursor = -1
	}
	l.cursor++
	if l.cursor >= len(l.records) {
		return layer.ForkInfo{}, io.EOF
	}
	rec := l.records[l.cursor]

	if rec.encrypted {
		return layer.ForkInfo{}, archerr.ErrPassword
	}
	if rec.compOffset+rec.compLen > len(l.body) {
		return layer.ForkInfo{}, archerr.ErrTruncated
	}
	src := l.body[rec.compOffset : rec.compOffset+rec.compLen]
	out, err := decodeFork(src, rec.uncompLen, rec.usesLZH)
	if err != nil {
		return layer.ForkInfo{}, err
	}
	if rec.fork == layer.DataFork && crc32.ChecksumIEEE(out) != rec.crc {
		return layer.ForkInfo{}, archerr.ErrChecksum
	}
	l.current = out
	l.pos = 0

	return layer.ForkInfo{
		Name:        rec.path,
		Type:        rec.typ,
		Creator:     rec.creator,
		FinderFlags: rec.flags,
		Length:      int64(len(out)),
		Fork:        rec.fork,
	}, nil
}

func (l *cptLayer) Read(p []byte) (int, error) {
	if l.pos >= len(l.current) {
		return 0, io.EOF
	}
	n := copy(p, l.current[l.pos:])
	l.pos += n
	return n, nil
}

func (l *cptLayer) Close() error {
	return nil
}
