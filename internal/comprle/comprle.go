// Package comprle implements Compact Pro's run-length codec, the final
// stage every CPT fork passes through (directly, or after the LZH stage
// in internal/lzh has expanded the LZSS matches).
package comprle

import "github.com/retrofork/machex/internal/archerr"

const escape = 0x81

// Decoder streams Compact-RLE-decoded bytes. half_escaped defers an
// escape byte across a read boundary when the stream immediately
// re-escapes it (0x81 0x81).
type Decoder struct {
	next        func() (byte, bool, error)
	savedByte   byte
	repeatCount int
	halfEscaped bool
	err         error
}

// NewDecoder wraps next, a function returning the next raw input byte,
// ok=false at end of input, or a non-nil error.
func NewDecoder(next func() (byte, bool, error)) *Decoder {
	return &Decoder{next: next}
}

// ReadByte returns the next decoded byte, or ok=false at end of input.
func (d *Decoder) ReadByte() (byte, bool, error) {
	if d.err != nil {
		return 0, false, d.err
	}
	if d.repeatCount > 0 {
		d.repeatCount--
		return d.savedByte, true, nil
	}
	if d.halfEscaped {
		d.halfEscaped = false
		return escape, true, nil
	}

	b, ok, err := d.next()
	if err != nil {
		d.err = err
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	if b != escape {
		d.savedByte = b
		return b, true, nil
	}

	x, ok, err := d.next()
	if err != nil {
		d.err = err
		return 0, false, err
	}
	if !ok {
		d.err = archerr.ErrTruncated
		return 0, false, d.err
	}

	switch x {
	case 0x82:
		n, ok, err := d.next()
		if err != nil {
			d.err = err
			return 0, false, err
		}
		if !ok {
			d.err = archerr.ErrTruncated
			return 0, false, d.err
		}
		if n == 0 {
			d.savedByte = 0x82
			d.repeatCount = 1
			return escape, true, nil
		}
		if rem := int(n) - 2; rem > 0 {
			d.repeatCount = rem
		}
		return d.savedByte, true, nil
	case 0x81:
		d.savedByte = 0x81
		d.halfEscaped = true
		return escape, true, nil
	default:
		d.savedByte = x
		d.repeatCount = 1
		return escape, true, nil
	}
}

// Decode runs the codec over a fully-buffered input and returns exactly
// want output bytes.
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
