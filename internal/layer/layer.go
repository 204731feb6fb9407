// Package layer defines the narrow interface every stage of machex's
// decoding pipeline implements: a base byte source, a container format
// (StuffIt, Compact Pro), or an armor/wrapper format (BinHex,
// MacBinary) all look the same to the layer above them.
//
// This is deliberately narrower than io/fs.FS (archives here are read
// forward-only, one fork at a time, never opened by name) and lighter
// than a concurrent filesystem builder: a layer only needs to iterate
// its forks and stream each one's bytes once.
package layer

import (
	"io"

	"github.com/retrofork/machex/internal/archerr"
)

// OpenMode selects how Open positions a layer's fork cursor.
type OpenMode int

const (
	// First rewinds to the very first fork, re-seeding any decoder
	// state that a prior iteration left behind.
	First OpenMode = iota
	// Next advances to the fork following the one last opened.
	Next
)

// ForkType distinguishes a file's two classic Mac OS forks.
type ForkType int

const (
	DataFork ForkType = iota
	ResourceFork
)

func (f ForkType) String() string {
	if f == ResourceFork {
		return "resource"
	}
	return "data"
}

// ForkInfo describes the fork an Open call just positioned on.
type ForkInfo struct {
	Name        string
	Type        [4]byte
	Creator     [4]byte
	FinderFlags uint16
	Created     uint32
	Modified    uint32
	Length      int64 // advisory: the decoded length, not necessarily exact
	Fork        ForkType
	IsDir       bool
}

// Layer is one stage of the decoding pipeline. Implementations are
// single-cursor: Read is only valid after a successful Open, and a new
// Open abandons whatever was being read.
type Layer interface {
	// Open positions the cursor on the next fork (or the first, per
	// mode) and returns its metadata. Returns io.EOF when no more
	// forks remain.
	Open(mode OpenMode) (ForkInfo, error)

	// Read streams the bytes of the fork last positioned by Open,
	// following standard io.Reader semantics (io.EOF at fork end).
	io.Reader

	// Close releases this layer and, transitively, the layer beneath
	// it.
	io.Closer
}

// Factory attempts to recognize and open a container or armor format
// sitting on top of under. It returns recognized=false (with a nil
// layer and nil error) when the bytes at the front of under don't match
// what this factory looks for, so the pipeline can try the next
// factory in line without treating a mismatch as fatal.
type Factory func(under Layer) (found Layer, recognized bool, err error)

// ErrNoMoreForks is a convenience alias so format packages don't each
// need to import io just to return the sentinel Open uses to signal
// the end of iteration.
var ErrNoMoreForks = io.EOF

// ErrNotRecognized is returned by a base-source probe that determines
// conclusively the bytes are not in its format, distinct from a
// truncated-input failure.
var ErrNotRecognized = archerr.ErrUnsupported

// baseLayer adapts a plain byte source (file, in-memory buffer, mmap)
// into a single-fork Layer: the bottom of every pipeline.
type baseLayer struct {
	r      io.ReadSeeker
	opened bool
}

// NewBase wraps r as the single-fork base layer every format factory
// probes on top of.
func NewBase(r io.ReadSeeker) Layer {
	return &baseLayer{r: r}
}

func (b *baseLayer) Open(mode OpenMode) (ForkInfo, error) {
	if b.opened && mode == Next {
		return ForkInfo{}, io.EOF
	}
	if _, err := b.r.Seek(0, io.SeekStart); err != nil {
		return ForkInfo{}, err
	}
	length, err := b.r.Seek(0, io.SeekEnd)
	if err != nil {
		return ForkInfo{}, err
	}
	if _, err := b.r.Seek(0, io.SeekStart); err != nil {
		return ForkInfo{}, err
	}
	b.opened = true
	return ForkInfo{Fork: DataFork, Length: length}, nil
}

func (b *baseLayer) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

func (b *baseLayer) Close() error {
	if c, ok := b.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
