// Package arsenic implements StuffIt's method-15 engine: an adaptive
// arithmetic coder feeding a block-sorted (BWT) zero-run/MTF stage,
// followed by optional derandomization and a final run-length
// expansion.
//
// The arithmetic models, the BWT inverse-transform construction, and
// the final run-length stage are all built from the documented
// algorithm; the 256-entry randomization schedule is the one genuine
// historical constant available for this engine and is reproduced
// verbatim below.
package arsenic

import (
	"bytes"

	"github.com/retrofork/machex/internal/archerr"
	"github.com/retrofork/machex/internal/bitio"
)

const (
	rangeOne  = 1 << 25
	rangeHalf = 1 << 24
)

// rndTable is the fixed randomization schedule: a running sum of these
// 16-bit values (some exceeding 255) drives the de-randomization XOR
// position within a block.
var rndTable = [256]uint16{
	0xee, 0x56, 0xf8, 0xc3, 0x9d, 0x9f, 0xae, 0x2c,
	0xad, 0xcd, 0x24, 0x9d, 0xa6, 0x101, 0x18, 0xb9,
	0xa1, 0x82, 0x75, 0xe9, 0x9f, 0x55, 0x66, 0x6a,
	0x86, 0x71, 0xdc, 0x84, 0x56, 0x96, 0x56, 0xa1,
	0x84, 0x78, 0xb7, 0x32, 0x6a, 0x3, 0xe3, 0x2,
	0x11, 0x101, 0x8, 0x44, 0x83, 0x100, 0x43, 0xe3,
	0x1c, 0xf0, 0x86, 0x6a, 0x6b, 0xf, 0x3, 0x2d,
	0x86, 0x17, 0x7b, 0x10, 0xf6, 0x80, 0x78, 0x7a,
	0xa1, 0xe1, 0xef, 0x8c, 0xf6, 0x87, 0x4b, 0xa7,
	0xe2, 0x77, 0xfa, 0xb8, 0x81, 0xee, 0x77, 0xc0,
	0x9d, 0x29, 0x20, 0x27, 0x71, 0x12, 0xe0, 0x6b,
	0xd1, 0x7c, 0xa, 0x89, 0x7d, 0x87, 0xc4, 0x101,
	0xc1, 0x31, 0xaf, 0x38, 0x3, 0x68, 0x1b, 0x76,
	0x79, 0x3f, 0xdb, 0xc7, 0x1b, 0x36, 0x7b, 0xe2,
	0x63, 0x81, 0xee, 0xc, 0x63, 0x8b, 0x78, 0x38,
	0x97, 0x9b, 0xd7, 0x8f, 0xdd, 0xf2, 0xa3, 0x77,
	0x8c, 0xc3, 0x39, 0x20, 0xb3, 0x12, 0x11, 0xe,
	0x17, 0x42, 0x80, 0x2c, 0xc4, 0x92, 0x59, 0xc8,
	0xdb, 0x40, 0x76, 0x64, 0xb4, 0x55, 0x1a, 0x9e,
	0xfe, 0x5f, 0x6, 0x3c, 0x41, 0xef, 0xd4, 0xaa,
	0x98, 0x29, 0xcd, 0x1f, 0x2, 0xa8, 0x87, 0xd2,
	0xa0, 0x93, 0x98, 0xef, 0xc, 0x43, 0xed, 0x9d,
	0xc2, 0xeb, 0x81, 0xe9, 0x64, 0x23, 0x68, 0x1e,
	0x25, 0x57, 0xde, 0x9a, 0xcf, 0x7f, 0xe5, 0xba,
	0x41, 0xea, 0xea, 0x36, 0x1a, 0x28, 0x79, 0x20,
	0x5e, 0x18, 0x4e, 0x7c, 0x8e, 0x58, 0x7a, 0xef,
	0x91, 0x2, 0x93, 0xbb, 0x56, 0xa1, 0x49, 0x1b,
	0x79, 0x92, 0xf3, 0x58, 0x4f, 0x52, 0x9c, 0x2,
	0x77, 0xaf, 0x2a, 0x8f, 0x49, 0xd0, 0x99, 0x4d,
	0x98, 0x101, 0x60, 0x93, 0x100, 0x75, 0x31, 0xce,
	0x49, 0x20, 0x56, 0x57, 0xe2, 0xf5, 0x26, 0x2b,
	0x8a, 0xbf, 0xde, 0xd0, 0x83, 0x34, 0xf4, 0x17,
}

// modelSym is one entry of a model's descending cumulative-frequency
// table: syms[0] holds the total, syms[entries] is the zero sentinel.
type modelSym struct {
	sym     int32
	cumfreq uint32
}

// model is an adaptive frequency table for the arithmetic coder.
// Symbols are assigned in descending order so the highest-valued
// symbol sits at syms[0] and carries the largest initial frequency.
type model struct {
	increment uint32
	maxfreq   uint32
	entries   int
	syms      []modelSym
}

func newModel(entries, start int, increment, maxfreq uint32) *model {
	m := &model{increment: increment, maxfreq: maxfreq, entries: entries, syms: make([]modelSym, entries+1)}
	for i := 0; i < entries; i++ {
		m.syms[i].sym = int32(entries - i - 1 + start)
	}
	m.reset()
	return m
}

// reset reinitializes cumulative frequencies to a flat distribution,
// used both at construction and between blocks for the per-block models.
func (m *model) reset() {
	cumfreq := uint32(m.entries) * m.increment
	for i := 0; i <= m.entries; i++ {
		m.syms[i].cumfreq = cumfreq
		cumfreq -= m.increment
	}
}

// update adds increment to the cumulative frequency of the first
// symIndex entries (raising the frequency of the entry just before
// symIndex) and halves the whole table once the total exceeds maxfreq.
func (m *model) update(symIndex int) {
	for i := 0; i < symIndex; i++ {
		m.syms[i].cumfreq += m.increment
	}
	if m.syms[0].cumfreq > m.maxfreq {
		for i := 0; i < m.entries; i++ {
			m.syms[i].cumfreq -= m.syms[i+1].cumfreq
			m.syms[i].cumfreq++
			m.syms[i].cumfreq >>= 1
		}
		for i := m.entries - 1; i >= 0; i-- {
			m.syms[i].cumfreq += m.syms[i+1].cumfreq
		}
	}
}

// decoder is the 26-bit-precision arithmetic decoder shared by every
// model in a stream.
type decoder struct {
	r    *bitio.MSBReader
	rng  uint32
	code uint32
}

func newArithDecoder(r *bitio.MSBReader) (*decoder, error) {
	code, err := r.ReadBits(26)
	if err != nil {
		return nil, err
	}
	return &decoder{r: r, rng: rangeOne, code: code}, nil
}

// getSym decodes the next symbol under m, advancing and renormalizing
// the coder's range/code state.
func (d *decoder) getSym(m *model) (int32, error) {
	total := m.syms[0].cumfreq
	renorm := d.rng / total
	if renorm == 0 {
		return 0, archerr.ErrInvalidCode
	}
	freq := d.code / renorm
	i := 1
	for i < m.entries && m.syms[i].cumfreq > freq {
		i++
	}
	sym := m.syms[i-1].sym
	if err := d.removeSymbol(m.syms[i-1].cumfreq, m.syms[i].cumfreq, total); err != nil {
		return 0, err
	}
	m.update(i)
	return sym, nil
}

func (d *decoder) removeSymbol(cumHigh, cumLow, total uint32) error {
	renorm := d.rng / total
	low := renorm * cumLow
	d.code -= low
	if cumHigh == total {
		d.rng -= low
	} else {
		d.rng = (cumHigh - cumLow) * renorm
	}
	for d.rng <= rangeHalf {
		d.rng <<= 1
		bit, err := d.r.ReadBits(1)
		if err != nil {
			return err
		}
		d.code = (d.code << 1) | bit
	}
	return nil
}

// getBits decodes an nbits-wide field through a binary model, assembling
// the result LSB-first one arithmetic symbol at a time.
func (d *decoder) getBits(m *model, nbits int) (uint32, error) {
	addme := uint32(1)
	var accum uint32
	for i := 0; i < nbits; i++ {
		s, err := d.getSym(m)
		if err != nil {
			return 0, err
		}
		if s != 0 {
			accum += addme
		}
		addme += addme
	}
	return accum, nil
}

// mtfDecode looks up table[index], moves it to the front, and returns
// the looked-up value.
func mtfDecode(table *[256]byte, index int32) byte {
	result := table[index]
	copy(table[1:index+1], table[0:index])
	table[0] = result
	return result
}

// mtfIndex resolves a selector in 2..9 to an MTF table index: selector 2
// is always index 1, selectors 3..9 each decode one symbol from their
// own model.
func mtfIndex(dec *decoder, mtf [7]*model, sel int32) (int32, error) {
	switch {
	case sel == 2:
		return 1, nil
	case sel >= 3 && sel <= 9:
		return dec.getSym(mtf[sel-3])
	default:
		return 0, archerr.ErrInvalidCode
	}
}

// decodeBlockBody decodes one BWT block's worth of MTF-coded bytes,
// expanding zero-run selectors (0 and 1) as it goes, and returns on
// selector 10.
func decodeBlockBody(dec *decoder, selector *model, mtf [7]*model, blocksize int) ([]byte, error) {
	var table [256]byte
	for i := range table {
		table[i] = byte(i)
	}
	block := make([]byte, 0, blocksize)
	appendSym := func(idx int32) error {
		block = append(block, mtfDecode(&table, idx))
		if len(block) > blocksize {
			return archerr.ErrInvalidHeader
		}
		return nil
	}
	for {
		sel, err := dec.getSym(selector)
		if err != nil {
			return nil, err
		}
		if sel == 10 {
			return block, nil
		}
		if sel == 0 || sel == 1 {
			state := 1
			count := (1 + int(sel)) * state
			state *= 2
			var term int32
			for {
				sel2, err := dec.getSym(selector)
				if err != nil {
					return nil, err
				}
				if sel2 == 0 || sel2 == 1 {
					count += (1 + int(sel2)) * state
					state *= 2
					continue
				}
				term = sel2
				break
			}
			v := mtfDecode(&table, 0)
			if len(block)+count > blocksize {
				return nil, archerr.ErrInvalidHeader
			}
			for k := 0; k < count; k++ {
				block = append(block, v)
			}
			if term == 10 {
				return block, nil
			}
			idx, err := mtfIndex(dec, mtf, term)
			if err != nil {
				return nil, err
			}
			if err := appendSym(idx); err != nil {
				return nil, err
			}
			continue
		}
		idx, err := mtfIndex(dec, mtf, sel)
		if err != nil {
			return nil, err
		}
		if err := appendSym(idx); err != nil {
			return nil, err
		}
	}
}

// inverseBWT builds the transform array linking each sorted-order
// position back to its position in the original block.
func inverseBWT(block []byte) []int {
	var counts [256]int
	for _, b := range block {
		counts[b]++
	}
	var starts [256]int
	sum := 0
	for c := 0; c < 256; c++ {
		starts[c] = sum
		sum += counts[c]
	}
	transform := make([]int, len(block))
	next := starts
	for i, b := range block {
		transform[next[b]] = i
		next[b]++
	}
	return transform
}

// unrleAndUnrnd walks the BWT-inverted byte stream starting from
// primaryIndex, undoing the randomization XOR (when rnd is set) and the
// final run-length stage, the same way as the reference's
// write-and-unrle-and-unrnd pass.
func unrleAndUnrnd(block []byte, transform []int, primaryIndex int, rnd bool) ([]byte, error) {
	n := len(block)
	if primaryIndex < 0 || primaryIndex >= n {
		return nil, archerr.ErrInvalidCode
	}
	cur := primaryIndex
	pos := 0
	randIdx := 0
	randNext := uint32(rndTable[0])

	nextByte := func() byte {
		cur = transform[cur]
		b := block[cur]
		if rnd && pos == int(randNext) {
			b ^= 1
			randIdx = (randIdx + 1) & 255
			randNext += uint32(rndTable[randIdx])
		}
		pos++
		return b
	}

	out := make([]byte, 0, n)
	count := 0
	var last byte
	for i := 0; i < n; i++ {
		ch := nextByte()
		if count == 4 {
			for j := 0; j < int(ch); j++ {
				out = append(out, last)
			}
			count = 0
		} else {
			out = append(out, ch)
			if ch != last {
				count = 0
				last = ch
			}
			count++
		}
	}
	return out, nil
}

// Decode decompresses src (one Arsenic-coded fork) into a newly
// allocated slice of length want.
func Decode(src []byte, want int) ([]byte, error) {
	r := bitio.NewMSBReader(bytes.NewReader(src))
	dec, err := newArithDecoder(r)
	if err != nil {
		return nil, err
	}

	primary := newModel(2, 0, 1, 256)

	a, err := dec.getBits(primary, 8)
	if err != nil {
		return nil, err
	}
	s, err := dec.getBits(primary, 8)
	if err != nil {
		return nil, err
	}
	if a != 'A' || s != 's' {
		return nil, archerr.ErrInvalidHeader
	}
	w, err := dec.getBits(primary, 4)
	if err != nil {
		return nil, err
	}
	blockbits := int(w) + 9
	blocksize := 1 << uint(blockbits)

	selector := newModel(11, 0, 8, 1024)
	mtf := [7]*model{
		newModel(2, 2, 8, 1024),
		newModel(4, 4, 4, 1024),
		newModel(8, 8, 4, 1024),
		newModel(16, 16, 4, 1024),
		newModel(32, 32, 2, 1024),
		newModel(64, 64, 2, 1024),
		newModel(128, 128, 1, 1024),
	}

	out := make([]byte, 0, want)

	eob, err := dec.getSym(primary)
	if err != nil {
		return nil, err
	}

	for eob == 0 {
		rnd, err := dec.getSym(primary)
		if err != nil {
			return nil, err
		}
		primaryIndexU, err := dec.getBits(primary, blockbits)
		if err != nil {
			return nil, err
		}

		block, err := decodeBlockBody(dec, selector, mtf, blocksize)
		if err != nil {
			return nil, err
		}
		transform := inverseBWT(block)
		decoded, err := unrleAndUnrnd(block, transform, int(primaryIndexU), rnd != 0)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded...)

		selector.reset()
		for _, m := range mtf {
			m.reset()
		}

		eob, err = dec.getSym(primary)
		if err != nil {
			return nil, err
		}
		if eob == 1 {
			if _, err := dec.getBits(primary, 32); err != nil {
				return nil, err
			}
		}
		if len(out) >= want {
			break
		}
	}

	if len(out) < want {
		return nil, archerr.ErrTruncated
	}
	if len(out) > want {
		out = out[:want]
	}
	return out, nil
}
