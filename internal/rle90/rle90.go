// Package rle90 implements the run-length codec BinHex 4.0 uses over its
// de-armored byte stream, and that StuffIt classic method 1 reuses
// verbatim. The escape byte is 0x90; a zero repeat count after the escape
// means a literal 0x90, and a count of 1 means the escape was spurious
// (emits nothing extra).
package rle90

import "github.com/retrofork/machex/internal/archerr"

const escape = 0x90

// Decoder streams RLE90-decoded bytes from an underlying byte-at-a-time
// source. It tracks last_byte and rep_rem exactly as a one-shot decode
// loop would, so it can be driven incrementally by callers that need a
// bounded number of output bytes per call (HQX and SIT forks are read in
// chunks, not all at once).
type Decoder struct {
	next     func() (byte, bool, error)
	lastByte byte
	repRem   int
	err      error
}

// NewDecoder wraps next, a function returning the next raw input byte,
// ok=false at end of input, or a non-nil error.
func NewDecoder(next func() (byte, bool, error)) *Decoder {
	return &Decoder{next: next}
}

// ReadByte returns the next decoded byte. io.EOF-shaped callers should
// treat a false ok (returned via the second value) as end of stream.
func (d *Decoder) ReadByte() (byte, bool, error) {
	if d.err != nil {
		return 0, false, d.err
	}
	if d.repRem > 0 {
		d.repRem--
		return d.lastByte, true, nil
	}
	for {
		b, ok, err := d.next()
		if err != nil {
			d.err = err
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
		if b != escape {
			d.lastByte = b
			return b, true, nil
		}
		n, ok, err := d.next()
		if err != nil {
			d.err = err
			return 0, false, err
		}
		if !ok {
			d.err = archerr.ErrTruncated
			return 0, false, d.err
		}
		switch {
		case n == 0:
			// Literal 0x90, does not update last_byte.
			return escape, true, nil
		case n == 1:
			// Spurious escape, emits nothing; loop for the next input byte.
			continue
		default:
			// n-1 repeats of last_byte are owed; emit the first now and
			// queue the rest for subsequent calls.
			d.repRem = int(n) - 2
			return d.lastByte, true, nil
		}
	}
}

// Decode runs the codec over a fully-buffered input and returns exactly
// want output bytes (or an error, including truncation if the input runs
// out first).
func Decode(in []byte, want int) ([]byte, error) {
	pos := 0
	next := func() (byte, bool, error) {
		if pos >= len(in) {
			return 0, false, nil
		}
		b := in[pos]
		pos++
		return b, true, nil
	}
	d := NewDecoder(next)
	out := make([]byte, 0, want)
	for len(out) < want {
		b, ok, err := d.ReadByte()
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
