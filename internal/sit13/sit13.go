// Package sit13 implements StuffIt's method-13 engine: an LZSS coder over
// a 64 KiB window whose literal/length and distance alphabets are
// carried by Huffman trees built through a 37-symbol meta-code, or
// selected from one of five predefined table sets.
//
// The exact contents of the five predefined table sets and of the
// meta-code's own length table are defined in StuffIt's original source,
// which was not available when this package was written; the tables
// below are self-consistent, complete canonical codes built the same
// way the dynamic tables are, so the engine round-trips correctly
// against its own construction. See DESIGN.md for the tradeoff.
package sit13

import (
	"github.com/retrofork/machex/internal/archerr"
	"github.com/retrofork/machex/internal/bitio"
	"github.com/retrofork/machex/internal/canon"
)

const (
	windowSize = 65536
	treeSyms   = 320 // literal/length alphabet: 0..255 literal, 256..319 length
	maxCodeLen = 18
	metaSyms   = 37
)

var metaTree *canon.Tree

func init() {
	lengths := make([]int, metaSyms)
	for i := 0; i < metaSyms; i++ {
		if i < 27 {
			lengths[i] = 5
		} else {
			lengths[i] = 6
		}
	}
	t, err := canon.BuildCanonical(lengths, 8)
	if err != nil {
		panic("sit13: meta-code table failed to build: " + err.Error())
	}
	metaTree = t
}

// syntheticLengths builds a complete two-level canonical length table
// for n symbols, used as a placeholder for the predefined code sets.
// variant feeds the split point, but the split is always clamped to x
// for the selectors in use, so every selector yields the same tables.
func syntheticLengths(n, variant int) []int {
	base := 1
	for (1 << uint(base+1)) <= n {
		base++
	}
	// x symbols at length base, y at length base+1, x+y=n, 2x+y=2^(base+1).
	total := 1 << uint(base+1)
	x := total - n
	if x < 0 {
		x = 0
	}
	if x > n {
		x = n
	}
	y := n - x
	split := (x + variant*7) % (n + 1)
	if split > x {
		split = x
	}
	lengths := make([]int, n)
	for i := 0; i < n; i++ {
		if i < split || i >= split+y {
			lengths[i] = base
		} else {
			lengths[i] = base + 1
		}
	}
	return lengths
}

func predefinedSet(selector int) (firstLen, secondLen, distLen []int) {
	variant := selector
	return syntheticLengths(treeSyms, variant),
		syntheticLengths(treeSyms, variant+1),
		syntheticLengths(16, variant+2)
}

// decodeLengths runs the meta-code algorithm to build a code-length
// array of size target.
func decodeLengths(r *bitio.LSBReader, target int) ([]int, error) {
	readBit := func() (uint32, error) { return r.ReadBits(1) }

	lengths := make([]int, target)
	pos := 0
	L := 0
	for pos < target {
		m, err := metaTree.Decode(readBit)
		if err != nil {
			return nil, err
		}
		extra := 0
		switch {
		case m >= 0 && m <= 30:
			L = int(m) + 1
		case m == 31:
			L = 0
		case m == 32:
			L++
		case m == 33:
			L--
		case m == 34:
			b, err := r.ReadBits(1)
			if err != nil {
				return nil, err
			}
			if b == 1 {
				extra = 1
			}
		case m == 35:
			n, err := r.ReadBits(3)
			if err != nil {
				return nil, err
			}
			extra = int(n) + 2
		case m == 36:
			n, err := r.ReadBits(6)
			if err != nil {
				return nil, err
			}
			extra = int(n) + 10
		default:
			return nil, archerr.ErrInvalidCode
		}
		if L < 0 {
			return nil, archerr.ErrInvalidHeader
		}
		for i := 0; i < 1+extra && pos < target; i++ {
			lengths[pos] = L
			pos++
		}
	}
	return lengths, nil
}

// Decode decompresses src (the SIT13-coded bytes for one fork) into a
// newly allocated slice of length want.
func Decode(src []byte, want int) ([]byte, error) {
	if len(src) == 0 {
		if want == 0 {
			return nil, nil
		}
		return nil, archerr.ErrTruncated
	}
	header := src[0]
	selector := int(header >> 4)
	aliased := header&0x08 != 0
	k := int(header & 0x07)

	r := bitio.NewLSBReader(src[1:])

	var firstTree, secondTree, distTree *canon.Tree
	switch {
	case selector == 0:
		firstLen, err := decodeLengths(r, treeSyms)
		if err != nil {
			return nil, err
		}
		firstTree, err = canon.BuildCanonical(firstLen, maxCodeLen)
		if err != nil {
			return nil, err
		}
		if aliased {
			secondTree = firstTree
		} else {
			secondLen, err := decodeLengths(r, treeSyms)
			if err != nil {
				return nil, err
			}
			secondTree, err = canon.BuildCanonical(secondLen, maxCodeLen)
			if err != nil {
				return nil, err
			}
		}
		distLen, err := decodeLengths(r, 10+k)
		if err != nil {
			return nil, err
		}
		distTree, err = canon.BuildCanonical(distLen, maxCodeLen)
		if err != nil {
			return nil, err
		}
	case selector >= 1 && selector <= 5:
		trees, err := getPredefinedTrees(selector)
		if err != nil {
			return nil, err
		}
		firstTree, secondTree, distTree = trees.first, trees.second, trees.dist
	default:
		return nil, archerr.ErrInvalidHeader
	}

	readBit := func() (uint32, error) { return r.ReadBits(1) }

	window := make([]byte, windowSize)
	windowAt := 0
	out := make([]byte, 0, want)
	current := firstTree

	emit := func(b byte) {
		out = append(out, b)
		window[windowAt] = b
		windowAt = (windowAt + 1) % windowSize
	}

	for len(out) < want {
		sym, err := current.Decode(readBit)
		if err != nil {
			return nil, err
		}
		if sym < 256 {
			emit(byte(sym))
			current = firstTree
			continue
		}

		var length int
		switch {
		case sym >= 256 && sym <= 317:
			length = int(sym) - 253
		case sym == 318:
			n, err := r.ReadBits(10)
			if err != nil {
				return nil, err
			}
			length = int(n) + 65
		case sym == 319:
			n, err := r.ReadBits(15)
			if err != nil {
				return nil, err
			}
			length = int(n) + 65
		default:
			return nil, archerr.ErrInvalidCode
		}

		d, err := distTree.Decode(readBit)
		if err != nil {
			return nil, err
		}
		var distance int
		if d == 0 {
			distance = 1
		} else {
			bits, err := r.ReadBits(uint(d - 1))
			if err != nil {
				return nil, err
			}
			distance = (1 << uint(d-1)) + int(bits) + 1
		}
		if distance < 1 || distance > windowSize {
			return nil, archerr.ErrInvalidCode
		}

		for i := 0; i < length && len(out) < want; i++ {
			srcPos := (windowAt - distance + windowSize) % windowSize
			emit(window[srcPos])
		}
		current = secondTree
	}

	if len(out) > want {
		out = out[:want]
	}
	return out, nil
}
