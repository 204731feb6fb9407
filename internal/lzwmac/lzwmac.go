// Package lzwmac implements StuffIt classic compression method 2, the
// variable-width LZW coder used by UNIX compress and carried over into
// early StuffIt archives. The bit-refill shape is grounded on the
// teacher's internal/sit/lzc.go, which reads exactly one code-width's
// worth of bytes (covering eight codes) per refill; this package makes
// that refill boundary explicit so the Clear-code block realignment
// required here can be expressed directly against it.
package lzwmac

import (
	"github.com/retrofork/machex/internal/archerr"
	"github.com/retrofork/machex/internal/bitio"
)

const (
	clearCode  = 256
	initWidth  = 9
	maxWidth   = 14
	dictCap    = 1 << maxWidth
	initDictSz = 257
)

type entry struct {
	parent int32 // -1 for the 256 single-byte roots
	length int32
	char   byte
	root   byte
}

// Decode decompresses src, which must contain exactly the LZW-coded bytes
// for one fork, into a newly allocated slice of length want.
func Decode(src []byte, want int) ([]byte, error) {
	r := bitio.NewLSBReader(src)
	dict := make([]entry, dictCap)
	for i := 0; i < 256; i++ {
		dict[i] = entry{parent: -1, length: 1, char: byte(i), root: byte(i)}
	}

	dictSize := initDictSz
	width := initWidth
	lastSymbol := int32(-1)
	symbolCount := 0 // codes consumed since stream start or the last Clear, for the 8-code realignment

	out := make([]byte, 0, want)
	var scratch []byte

	expand := func(sym int32, buf []byte) []byte {
		n := dict[sym].length
		if cap(buf) < int(n) {
			buf = make([]byte, n)
		} else {
			buf = buf[:n]
		}
		i := n - 1
		for s := sym; s != -1; s = dict[s].parent {
			buf[i] = dict[s].char
			i--
		}
		return buf
	}

	for len(out) < want {
		code, err := r.ReadBits(uint(width))
		if err != nil {
			return nil, archerr.ErrTruncated
		}
		symbolCount++

		if code == clearCode {
			if b := symbolCount % 8; b != 0 {
				skip := uint(width) * uint(8-b)
				if err := r.SkipBits(skip); err != nil {
					return nil, archerr.ErrTruncated
				}
			}
			dictSize = initDictSz
			width = initWidth
			lastSymbol = -1
			symbolCount = 0
			continue
		}

		sym := int32(code)

		if lastSymbol == -1 {
			if sym >= 256 {
				return nil, archerr.ErrInvalidCode
			}
			out = append(out, byte(sym))
			lastSymbol = sym
			continue
		}

		var expansion []byte
		if int(sym) < dictSize {
			expansion = expand(sym, scratch)
		} else if int(sym) == dictSize {
			prev := expand(lastSymbol, scratch)
			expansion = append(append(make([]byte, 0, len(prev)+1), prev...), dict[lastSymbol].root)
		} else {
			return nil, archerr.ErrInvalidCode
		}
		scratch = expansion

		out = append(out, expansion...)

		if dictSize < dictCap {
			dict[dictSize] = entry{
				parent: lastSymbol,
				length: dict[lastSymbol].length + 1,
				char:   expansion[0],
				root:   dict[lastSymbol].root,
			}
			dictSize++
			if dictSize == 512 {
				width = 10
			} else if dictSize == 1024 {
				width = 11
			} else if dictSize == 2048 {
				width = 12
			} else if dictSize == 4096 {
				width = 13
			} else if dictSize == 8192 {
				width = 14
			}
		}
		lastSymbol = sym
	}

	if len(out) > want {
		out = out[:want]
	}
	return out, nil
}
