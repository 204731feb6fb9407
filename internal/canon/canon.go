// Package canon builds canonical Huffman decode trees shared by the LZH
// and SIT13 engines. Codes are constructed by grouping symbols by
// ascending length then ascending symbol value and assigning sequential
// codes, the same scheme both engines' source formats use. Decoding
// walks a binary tree one bit at a time rather than reversing codes,
// following the approach the teacher's internal/sit/huffman.go uses for
// its own (unrelated) method-3 tree.
package canon

import "github.com/retrofork/machex/internal/archerr"

// node is either an internal node (zero/one index into tree.nodes, -1 if
// absent) or a leaf (symbol >= 0).
type node struct {
	zero, one int32
	symbol    int32 // -1 if internal
}

// Tree is a built canonical Huffman decoder.
type Tree struct {
	nodes []node
}

// BuildCanonical constructs a Tree from a per-symbol length table; a
// length of 0 means the symbol is absent from the code. maxLen bounds
// the largest length value callers accept (15 for LZH, 18 for SIT13);
// a table with any length above it is rejected as ErrInvalidHeader.
func BuildCanonical(lengths []int, maxLen int) (*Tree, error) {
	type sym struct {
		length int
		value  int
	}
	var syms []sym
	for v, l := range lengths {
		if l < 0 || l > maxLen {
			return nil, archerr.ErrInvalidHeader
		}
		if l > 0 {
			syms = append(syms, sym{l, v})
		}
	}
	if len(syms) == 0 {
		return &Tree{nodes: []node{{zero: -1, one: -1, symbol: -1}}}, nil
	}
	// Stable sort by (length, value) ascending; insertion sort is fine,
	// tables here are at most a few hundred symbols.
	for i := 1; i < len(syms); i++ {
		for j := i; j > 0; j-- {
			if syms[j-1].length > syms[j].length ||
				(syms[j-1].length == syms[j].length && syms[j-1].value > syms[j].value) {
				syms[j-1], syms[j] = syms[j], syms[j-1]
			} else {
				break
			}
		}
	}

	t := &Tree{nodes: []node{{zero: -1, one: -1, symbol: -1}}}

	code := 0
	prevLen := syms[0].length
	for i, s := range syms {
		if i > 0 {
			code <<= uint(s.length - prevLen)
		}
		if err := t.insert(code, s.length, int32(s.value)); err != nil {
			return nil, err
		}
		code++
		prevLen = s.length
	}
	return t, nil
}

func (t *Tree) insert(code, length int, symbol int32) error {
	cur := int32(0)
	for b := length - 1; b >= 0; b-- {
		if t.nodes[cur].symbol != -1 {
			return archerr.ErrInvalidHeader // a shorter code is a prefix of this one
		}
		bit := (code >> uint(b)) & 1
		child := t.nodes[cur].zero
		if bit != 0 {
			child = t.nodes[cur].one
		}
		if child == -1 {
			t.nodes = append(t.nodes, node{zero: -1, one: -1, symbol: -1})
			child = int32(len(t.nodes) - 1)
			if bit == 0 {
				t.nodes[cur].zero = child
			} else {
				t.nodes[cur].one = child
			}
		}
		cur = child
	}
	if t.nodes[cur].zero != -1 || t.nodes[cur].one != -1 {
		return archerr.ErrInvalidHeader // this code is a prefix of an already-inserted one
	}
	t.nodes[cur].symbol = symbol
	return nil
}

// Decode walks the tree one bit at a time using readBit, which must
// return the next single bit (0 or 1) from the stream, and returns the
// decoded symbol.
func (t *Tree) Decode(readBit func() (uint32, error)) (int32, error) {
	cur := int32(0)
	for {
		n := t.nodes[cur]
		if n.symbol != -1 {
			return n.symbol, nil
		}
		bit, err := readBit()
		if err != nil {
			return 0, err
		}
		if bit == 0 {
			if n.zero == -1 {
				return 0, archerr.ErrInvalidCode
			}
			cur = n.zero
		} else {
			if n.one == -1 {
				return 0, archerr.ErrInvalidCode
			}
			cur = n.one
		}
	}
}
