// Package sitarchive implements the StuffIt classic and SIT5 directory
// formats: an entry walk over an in-memory copy of the containing fork
// (a folder stack for classic archives, parent offsets for SIT5),
// producing a flat, iteration-ordered list of forks dispatched to the
// right decompression engine.
package sitarchive

import (
	"io"

	"github.com/retrofork/machex/internal/archerr"
	"github.com/retrofork/machex/internal/arsenic"
	"github.com/retrofork/machex/internal/crc16"
	"github.com/retrofork/machex/internal/layer"
	"github.com/retrofork/machex/internal/lzwmac"
	"github.com/retrofork/machex/internal/pathintern"
	"github.com/retrofork/machex/internal/rle90"
	"github.com/retrofork/machex/internal/sit13"
)

const (
	classicMainHeaderSize  = 22
	classicEntryHeaderSize = 112
)

var classicSignatures = []string{
	"SIT!", "ST46", "ST50", "ST60", "ST65", "STin", "STi2", "STi3", "STi4",
}

const sit5MagicHead = "StuffIt (c)1997-"
const sit5MagicTail = " Aladdin Systems, Inc., http://www.aladdinsys.com/StuffIt/"

// forkRecord describes one decodable fork, already located within the
// buffered archive body, in the order Open should expose it.
type forkRecord struct {
	path      string
	fork      layer.ForkType
	method    byte
	encrypted bool

	compOffset int
	compLen    int
	uncompLen  int
	crc        uint16 // reflected CRC-16; ignored for method 15

	typ, creator [4]byte
	flags        uint16
}

// Detect implements layer.Factory for both StuffIt classic and SIT5
// archives. The whole containing fork is read into memory first; the
// directory is then walked over that buffer and each fork is later
// decoded from its recorded offset within it.
func Detect(under layer.Layer) (layer.Layer, bool, error) {
	if _, err := under.Open(layer.First); err != nil {
		return nil, false, nil
	}
	body, err := io.ReadAll(under)
	if err != nil {
		return nil, false, nil
	}

	var records []forkRecord
	switch {
	case isClassicSignature(body):
		records, err = parseClassicDirectory(body)
	case isSit5Signature(body):
		records, err = parseSit5Directory(body)
	default:
		return nil, false, nil
	}
	if err != nil {
		return nil, false, nil
	}

	return &sitLayer{body: body, records: records, cursor: -1}, true, nil
}

func isClassicSignature(body []byte) bool {
	if len(body) < classicMainHeaderSize {
		return false
	}
	if string(body[10:14]) != "rLau" {
		return false
	}
	for _, sig := range classicSignatures {
		if string(body[0:4]) == sig {
			return true
		}
	}
	return false
}

func isSit5Signature(body []byte) bool {
	if len(body) < 80 {
		return false
	}
	// The 80-byte magic is head(16) + 4 year digits (unchecked) + tail;
	// the tail is 58 bytes, not the 60 that would fill out to byte 80 —
	// two bytes of padding follow it before the top header proper.
	tailEnd := 20 + len(sit5MagicTail)
	return string(body[0:16]) == sit5MagicHead && string(body[20:tailEnd]) == sit5MagicTail
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// reflectedCRCZeroedMatches computes the reflected CRC-16 over buf with
// the two bytes at fieldOffset treated as zero, and compares it against
// the value actually stored there. SIT5's header-1 and header-2 checks
// use it; the classic entry header check is a plain CRC over bytes
// 0..109 instead.
func reflectedCRCZeroedMatches(buf []byte, fieldOffset int) bool {
	tmp := make([]byte, len(buf))
	copy(tmp, buf)
	tmp[fieldOffset] = 0
	tmp[fieldOffset+1] = 0
	want := be16(buf[fieldOffset : fieldOffset+2])
	return crc16.Reflected(0, tmp) == want
}

// --- classic directory ---

type classicFrame struct {
	path string
}

func parseClassicDirectory(body []byte) ([]forkRecord, error) {
	interner := pathintern.New()
	offset := classicMainHeaderSize
	stack := []classicFrame{{path: ""}}
	var records []forkRecord

	for offset+classicEntryHeaderSize <= len(body) {
		hdr := body[offset : offset+classicEntryHeaderSize]
		if crc16.Reflected(0, hdr[:110]) != be16(hdr[110:112]) {
			return nil, archerr.ErrChecksum
		}

		ralgo, dalgo := hdr[0], hdr[1]
		offset += classicEntryHeaderSize

		if ralgo == 33 { // end of folder
			if len(stack) <= 1 {
				return nil, archerr.ErrInvalidHeader
			}
			stack = stack[:len(stack)-1]
			continue
		}
		if ralgo > 33 {
			return nil, archerr.ErrInvalidHeader
		}

		nameLen := int(hdr[2])
		if nameLen > 63 {
			nameLen = 63
		}
		name := string(hdr[3 : 3+nameLen])
		typ := [4]byte{hdr[66], hdr[67], hdr[68], hdr[69]}
		creator := [4]byte{hdr[70], hdr[71], hdr[72], hdr[73]}
		flags := be16(hdr[74:76])
		fullPath := interner.Join(stack[len(stack)-1].path, name)

		if ralgo == 32 { // folder start
			stack = append(stack, classicFrame{path: fullPath})
			continue
		}

		runpacked := be32(hdr[84:88])
		dunpacked := be32(hdr[88:92])
		rpacked := be32(hdr[92:96])
		dpacked := be32(hdr[96:100])
		rcrc := be16(hdr[100:102])
		dcrc := be16(hdr[102:104])
		encrypted := ralgo&16 != 0

		rsrcOffset := offset
		dataOffset := offset + int(rpacked)
		offset += int(rpacked) + int(dpacked)
		if offset > len(body) {
			return nil, archerr.ErrTruncated
		}

		if dunpacked > 0 {
			records = append(records, forkRecord{
				path: fullPath, fork: layer.DataFork, method: dalgo, encrypted: encrypted,
				compOffset: dataOffset, compLen: int(dpacked), uncompLen: int(dunpacked),
				crc: dcrc, typ: typ, creator: creator, flags: flags,
			})
		}
		if runpacked > 0 {
			records = append(records, forkRecord{
				path: fullPath, fork: layer.ResourceFork, method: ralgo, encrypted: encrypted,
				compOffset: rsrcOffset, compLen: int(rpacked), uncompLen: int(runpacked),
				crc: rcrc, typ: typ, creator: creator, flags: flags,
			})
		}
	}
	return records, nil
}

// --- SIT5 directory ---

// sit5Entry holds one decoded header pair, keyed by the physical byte
// offset its header-1 starts at — the same offset a later entry's
// parent field points back to.
type sit5Entry struct {
	parent      int
	name        string
	isDir       bool
	rsrcPresent bool
	rUnpacked   uint32
	rPacked     uint32
	rCRC        uint16
	rAlgo       byte
	dUnpacked   uint32
	dPacked     uint32
	dCRC        uint16
	dAlgo       byte
	typ         [4]byte
	creator     [4]byte
	flags       uint16
	encrypted   bool
	rsrcOffset  int
	dataOffset  int
}

// parseSit5Directory walks SIT5's headers in physical order — each
// entry's own header-1 and (if present) header-2 lengths determine
// where the next one starts, exactly as a folder's contents follow
// its own header in the byte stream — rather than via any pointer
// field. A folder's child count is added to the entries still owed
// once it's read, so the scan naturally flattens the whole tree. Full
// paths are resolved afterward by walking each entry's parent offset
// up to the root, the way a thread of folder headers is resolved in
// the format this is grounded on.
func parseSit5Directory(body []byte) ([]forkRecord, error) {
	if len(body) < 96 {
		return nil, archerr.ErrTruncated
	}
	offset := int(be32(body[88:92]))
	remaining := int(be16(body[92:94]))

	entries := make(map[int]sit5Entry)
	var order []int

	for remaining > 0 {
		base := offset
		if base < 0 || base+48 > len(body) {
			return nil, archerr.ErrTruncated
		}
		hdr1 := body[base : base+48]
		if be32(hdr1[0:4]) != 0xA5A5A5A5 {
			return nil, archerr.ErrInvalidHeader
		}
		if hdr1[4] != 1 {
			return nil, archerr.ErrUnsupported // non-Macintosh entry, out of scope
		}
		hdrLen := int(be16(hdr1[6:8]))
		if hdrLen < 48 || base+hdrLen > len(body) {
			return nil, archerr.ErrTruncated
		}
		hdr1 = body[base : base+hdrLen]

		if !reflectedCRCZeroedMatches(hdr1, 32) {
			return nil, archerr.ErrChecksum
		}

		isDir := hdr1[9]&0x40 != 0
		parent := int(be32(hdr1[26:30]))
		nameLen := int(be16(hdr1[30:32]))

		dUnpacked := be32(hdr1[34:38])
		dPacked := be32(hdr1[38:42])
		dCRC := be16(hdr1[42:44])

		// For a folder, header-1's data-fork sub-struct carries the
		// folder's direct-child count as a single 2-byte field (bytes
		// 46-47) instead of an algorithm byte plus a password length.
		var dAlgo byte
		var dCryptLen, childCount int
		if isDir {
			childCount = int(be16(hdr1[46:48]))
		} else {
			dAlgo = hdr1[46]
			dCryptLen = int(hdr1[47])
		}

		// The variable-length tail (password bytes, then the name, then
		// an optional comment) lives inside the fixed hdrLen-byte block,
		// starting right after the 48-byte common struct — regardless of
		// how much of the tail ends up used, header-2 always starts at
		// base+hdrLen.
		tail := 48
		var dCrypt []byte
		if !isDir {
			if 48+dCryptLen > len(hdr1) {
				return nil, archerr.ErrTruncated
			}
			dCrypt = hdr1[48 : 48+dCryptLen]
			tail = 48 + dCryptLen
		}

		if tail+nameLen > len(hdr1) {
			return nil, archerr.ErrTruncated
		}
		name := string(hdr1[tail : tail+nameLen])

		headerEnd := base + hdrLen // header-2, if any, starts right after header-1

		var rsrcPresent bool
		var rUnpacked, rPacked uint32
		var rCRC uint16
		var rAlgo byte
		var rCrypt []byte
		var flags uint16
		var typ, creator [4]byte

		if nameLen != 0 {
			h2start := headerEnd
			if h2start+36 > len(body) {
				return nil, archerr.ErrTruncated
			}
			h2 := body[h2start : h2start+36]
			rsrcPresent = h2[1]&1 != 0
			h2len := 36
			if rsrcPresent {
				if h2start+50 > len(body) {
					return nil, archerr.ErrTruncated
				}
				h2 = body[h2start : h2start+50]
				h2len = 50
				rCryptLen := int(h2[49])
				if rCryptLen != 0 {
					if h2start+h2len+rCryptLen > len(body) {
						return nil, archerr.ErrTruncated
					}
					rCrypt = body[h2start+h2len : h2start+h2len+rCryptLen]
					h2len += rCryptLen
					h2 = body[h2start : h2start+h2len]
				}
			}
			if !reflectedCRCZeroedMatches(h2, 2) {
				return nil, archerr.ErrChecksum
			}
			copy(typ[:], h2[4:8])
			copy(creator[:], h2[8:12])
			flags = be16(h2[12:14])
			if rsrcPresent {
				rUnpacked = be32(h2[36:40])
				rPacked = be32(h2[40:44])
				rCRC = be16(h2[44:46])
				rAlgo = h2[48]
			}
			headerEnd = h2start + h2len
		}

		encrypted := hdr1[9]&0x20 != 0 || len(dCrypt) > 0 || len(rCrypt) > 0

		if nameLen != 0 {
			entries[base] = sit5Entry{
				parent: parent, name: name, isDir: isDir,
				rsrcPresent: rsrcPresent, rUnpacked: rUnpacked, rPacked: rPacked, rCRC: rCRC, rAlgo: rAlgo,
				dUnpacked: dUnpacked, dPacked: dPacked, dCRC: dCRC, dAlgo: dAlgo,
				typ: typ, creator: creator, flags: flags, encrypted: encrypted,
				rsrcOffset: headerEnd, dataOffset: headerEnd + int(rPacked),
			}
			order = append(order, base)
		}

		remaining--
		remaining += childCount

		if isDir {
			offset = headerEnd + int(rPacked)
		} else {
			offset = headerEnd + int(rPacked) + int(dPacked)
		}
	}

	interner := pathintern.New()
	paths := make(map[int]string, len(order))
	var records []forkRecord
	for _, base := range order {
		e := entries[base]
		fullPath, ok := resolveSit5Path(base, entries, paths, interner)
		if !ok {
			return nil, archerr.ErrInvalidHeader
		}
		if e.isDir {
			continue
		}

		if e.rsrcPresent && e.rUnpacked > 0 {
			records = append(records, forkRecord{
				path: fullPath, fork: layer.ResourceFork, method: e.rAlgo, encrypted: e.encrypted,
				compOffset: e.rsrcOffset, compLen: int(e.rPacked), uncompLen: int(e.rUnpacked),
				crc: e.rCRC, typ: e.typ, creator: e.creator, flags: e.flags,
			})
		}
		if e.dUnpacked > 0 {
			records = append(records, forkRecord{
				path: fullPath, fork: layer.DataFork, method: e.dAlgo, encrypted: e.encrypted,
				compOffset: e.dataOffset, compLen: int(e.dPacked), uncompLen: int(e.dUnpacked),
				crc: e.dCRC, typ: e.typ, creator: e.creator, flags: e.flags,
			})
		}
	}

	// Iteration order requires data fork before resource fork within an
	// entry; the loop above appended resource before data to mirror
	// their physical layout, so swap adjacent pairs sharing a path.
	reorderDataBeforeResource(records)
	return records, nil
}

// resolveSit5Path joins an entry's name onto its parent's resolved
// path, recursively, caching each offset's result since the same
// folder prefix is resolved again for every sibling inside it.
func resolveSit5Path(offset int, entries map[int]sit5Entry, cache map[int]string, interner *pathintern.Table) (string, bool) {
	if p, ok := cache[offset]; ok {
		return p, true
	}
	e, ok := entries[offset]
	if !ok {
		return "", false
	}
	if e.parent == 0 {
		full := interner.Join("", e.name)
		cache[offset] = full
		return full, true
	}
	parentPath, ok := resolveSit5Path(e.parent, entries, cache, interner)
	if !ok {
		return "", false
	}
	full := interner.Join(parentPath, e.name)
	cache[offset] = full
	return full, true
}

func reorderDataBeforeResource(records []forkRecord) {
	for i := 0; i+1 < len(records); i++ {
		if records[i].path == records[i+1].path &&
			records[i].fork == layer.ResourceFork && records[i+1].fork == layer.DataFork {
			records[i], records[i+1] = records[i+1], records[i]
		}
	}
}

// --- shared Layer implementation ---

type sitLayer struct {
	body    []byte
	records []forkRecord
	cursor  int

	current []byte
	pos     int
}

func decodeFork(method byte, src []byte, want int) ([]byte, error) {
	switch method & 0x0F {
	case 0:
		if len(src) < want {
			return nil, archerr.ErrTruncated
		}
		return src[:want], nil
	case 1:
		return rle90.Decode(src, want)
	case 2:
		return lzwmac.Decode(src, want)
	case 13:
		return sit13.Decode(src, want)
	case 15:
		return arsenic.Decode(src, want)
	default:
		return nil, archerr.ErrUnsupported
	}
}

func (l *sitLayer) Open(mode layer.OpenMode) (layer.ForkInfo, error) {
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
	out, err := decodeFork(rec.method, src, rec.uncompLen)
	if err != nil {
		return layer.ForkInfo{}, err
	}
	if rec.method&0x0F != 15 && crc16.Reflected(0, out) != rec.crc {
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

func (l *sitLayer) Read(p []byte) (int, error) {
	if l.pos >= len(l.current) {
		return 0, io.EOF
	}
	n := copy(p, l.current[l.pos:])
	l.pos += n
	return n, nil
}

func (l *sitLayer) Close() error {
	return nil
}
