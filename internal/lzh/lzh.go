// Package lzh implements the LZSS+Huffman engine Compact Pro uses ahead
// of its run-length stage for entries whose file-flags mark a fork as
// LZH-compressed. Output from this package must still be run through
// internal/comprle before it is the fork's plaintext.
package lzh

import (
	"github.com/retrofork/machex/internal/archerr"
	"github.com/retrofork/machex/internal/bitio"
	"github.com/retrofork/machex/internal/canon"
)

const (
	windowSize = 8192
	litSyms    = 256
	lenSyms    = 64
	offSyms    = 128
	blockCost  = 0x1FFF0
)

// byteSliceReader counts bytes pulled from the slice, so the end-of-block
// flush can know how many bytes the block's body portion consumed.
type byteSliceReader struct {
	buf       []byte
	pos       int
	bytesRead int
}

func (r *byteSliceReader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, archerr.ErrTruncated
	}
	b := r.buf[r.pos]
	r.pos++
	r.bytesRead++
	return b, nil
}

type decoder struct {
	r        *bitio.MSBReader
	src      *byteSliceReader
	window   []byte
	windowAt int
	out      []byte
}

func readTable(r *bitio.MSBReader, symCount int) ([]int, error) {
	nb, err := r.ReadBits(8)
	if err != nil {
		return nil, err
	}
	numbytes := int(nb)
	if numbytes*2 > symCount {
		return nil, archerr.ErrInvalidHeader
	}
	lengths := make([]int, symCount)
	for i := 0; i < numbytes; i++ {
		b, err := r.ReadBits(8)
		if err != nil {
			return nil, err
		}
		hi := int(b>>4) & 0xF
		lo := int(b) & 0xF
		if i*2 < symCount {
			lengths[i*2] = hi
		}
		if i*2+1 < symCount {
			lengths[i*2+1] = lo
		}
	}
	return lengths, nil
}

// block decodes one LZH block into d.out, stopping at the block's
// natural cost threshold or once want bytes total have been produced.
func (d *decoder) block(want int) error {
	litLen, err := readTable(d.r, litSyms)
	if err != nil {
		return err
	}
	lenLen, err := readTable(d.r, lenSyms)
	if err != nil {
		return err
	}
	offLen, err := readTable(d.r, offSyms)
	if err != nil {
		return err
	}

	litTree, err := canon.BuildCanonical(litLen, 15)
	if err != nil {
		return err
	}
	lenTree, err := canon.BuildCanonical(lenLen, 15)
	if err != nil {
		return err
	}
	offTree, err := canon.BuildCanonical(offLen, 15)
	if err != nil {
		return err
	}

	readBit := func() (uint32, error) { return d.r.ReadBits(1) }

	d.src.bytesRead = 0

	cost := 0
	for cost < blockCost && len(d.out) < want {
		flag, err := d.r.ReadBits(1)
		if err != nil {
			return err
		}
		if flag == 1 {
			sym, err := litTree.Decode(readBit)
			if err != nil {
				return err
			}
			d.emit(byte(sym))
			cost += 2
			continue
		}

		lsym, err := lenTree.Decode(readBit)
		if err != nil {
			return err
		}
		length := int(lsym)

		osym, err := offTree.Decode(readBit)
		if err != nil {
			return err
		}
		lowBits, err := d.r.ReadBits(6)
		if err != nil {
			return err
		}
		offset := ((int(osym) << 6) | int(lowBits)) + 1 // 13-bit offset is 1-based

		if offset <= 0 || offset > windowSize || length <= 0 {
			return archerr.ErrInvalidCode
		}

		for i := 0; i < length; i++ {
			srcPos := (d.windowAt - offset + windowSize) % windowSize
			d.emit(d.window[srcPos])
		}
		cost += 3
	}

	if len(d.out) >= want {
		// Enough plaintext has been produced; the stream may end here
		// without a following block, so don't touch the flush padding.
		return nil
	}

	d.r.ByteAlign()
	consumed := d.src.bytesRead
	skip := 2
	if consumed%2 == 1 {
		skip = 3
	}
	for i := 0; i < skip; i++ {
		if _, err := d.r.ReadBits(8); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) emit(b byte) {
	d.out = append(d.out, b)
	d.window[d.windowAt] = b
	d.windowAt = (d.windowAt + 1) % windowSize
}

// StreamDecoder decodes LZH blocks on demand and stops cleanly at the
// end of the input, rather than requiring the caller to already know
// the decompressed length up front. Compact Pro's LZH stage sits ahead
// of internal/comprle, and only the fork's final plaintext length is
// recorded in its header, not the length of this intermediate
// run-length-coded stream — so the run-length stage pulls from this
// decoder one byte at a time instead of asking it for an exact count.
type StreamDecoder struct {
	r        *bitio.MSBReader
	src      *byteSliceReader
	window   []byte
	windowAt int

	pending []byte
	pos     int
	done    bool
	err     error
}

// NewStreamDecoder prepares src (the LZH-coded bytes for one fork) for
// incremental decoding.
func NewStreamDecoder(src []byte) *StreamDecoder {
	bsr := &byteSliceReader{buf: src}
	return &StreamDecoder{
		r:      bitio.NewMSBReader(bsr),
		src:    bsr,
		window: make([]byte, windowSize),
	}
}

// ReadByte returns the next decoded byte, or ok=false once the input is
// exhausted at a clean block boundary.
func (d *StreamDecoder) ReadByte() (byte, bool, error) {
	for d.pos >= len(d.pending) {
		if d.done {
			return 0, false, nil
		}
		if d.err != nil {
			return 0, false, d.err
		}
		if d.src.pos >= len(d.src.buf) {
			d.done = true
			return 0, false, nil
		}

		dec := &decoder{r: d.r, src: d.src, window: d.window, windowAt: d.windowAt}
		if err := dec.block(blockCost); err != nil {
			d.err = err
			return 0, false, err
		}
		d.windowAt = dec.windowAt
		d.pending = dec.out
		d.pos = 0
	}
	b := d.pending[d.pos]
	d.pos++
	return b, true, nil
}

// Decode decompresses src (the LZH-coded bytes for one fork) into a
// newly allocated slice of length want.
func Decode(src []byte, want int) ([]byte, error) {
	bsr := &byteSliceReader{buf: src}
	d := &decoder{
		r:      bitio.NewMSBReader(bsr),
		src:    bsr,
		window: make([]byte, windowSize),
		out:    make([]byte, 0, want),
	}
	for len(d.out) < want {
		if err := d.block(want); err != nil {
			return nil, err
		}
	}
	if len(d.out) > want {
		d.out = d.out[:want]
	}
	return d.out, nil
}
