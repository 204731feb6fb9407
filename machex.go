// Package machex decodes classic Macintosh container and archive
// formats — BinHex 4.0, MacBinary, StuffIt classic/SIT5, and Compact
// Pro — into a uniform stream of files and forks. Formats nest (a
// .sit.hqx is a StuffIt archive armored in BinHex); Detect walks the
// chain of recognized layers until nothing more matches.
package machex

import (
	"io"
	"log/slog"
	"os"

	"github.com/retrofork/machex/internal/cptarchive"
	"github.com/retrofork/machex/internal/hqx"
	"github.com/retrofork/machex/internal/layer"
	"github.com/retrofork/machex/internal/macbinary"
	"github.com/retrofork/machex/internal/sitarchive"
	"golang.org/x/sys/unix"
)

// Layer re-exports the pipeline's fork-iteration interface, so callers
// never need to import internal/layer themselves.
type Layer = layer.Layer

// ForkInfo re-exports the per-fork metadata Open returns.
type ForkInfo = layer.ForkInfo

const (
	First = layer.First
	Next  = layer.Next
)

var logger = slog.Default()

// SetLogger redirects machex's diagnostic logging (a debug record when a
// factory probe in Detect fails with an error). It has no effect on
// decoding results.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// factories is the fixed probe order every Detect call walks: StuffIt,
// then BinHex, then MacBinary, then Compact Pro. A narrower container
// format (BIN, HQX) can wrap a directory format (SIT, CPT) or vice
// versa, so the whole list is retried after every successful match
// except the factory that just matched, which cannot recognize its own
// output.
var factories = []struct {
	name    string
	factory layer.Factory
}{
	{"sit", sitarchive.Detect},
	{"hqx", hqx.Detect},
	{"bin", macbinary.Detect},
	{"cpt", cptarchive.Detect},
}

// Detect iteratively probes base against every registered factory,
// replacing it with whatever layer matches and trying again — skipping
// only the factory that just matched, since a format never wraps
// itself — until no factory recognizes the current tail. It returns
// base itself, unwrapped, if nothing matches at all.
func Detect(base layer.Layer) (layer.Layer, error) {
	current := base
	skip := -1
	for {
		matched := false
		for i, f := range factories {
			if i == skip {
				continue
			}
			next, ok, err := f.factory(current)
			if err != nil {
				logger.Debug("machex: factory probe failed", "factory", f.name, "err", err)
				return nil, err
			}
			if !ok {
				continue
			}
			current = next
			skip = i
			matched = true
			break
		}
		if !matched {
			return current, nil
		}
	}
}

// OpenFile opens path as a plain os.File-backed base layer and runs it
// through Detect.
func OpenFile(path string) (layer.Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return Detect(layer.NewBase(f))
}

// OpenMemory wraps an in-memory buffer as a base layer and runs it
// through Detect, for callers that already hold the archive's bytes
// (e.g. received over the network, or extracted from a nested fork).
func OpenMemory(b []byte) (layer.Layer, error) {
	return Detect(layer.NewBase(&memReadSeekCloser{b: b}))
}

// OpenMmap memory-maps path read-only and runs it through Detect. The
// format probes in Detect still copy the whole mapped file into the Go
// heap.
func OpenMmap(path string) (layer.Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size == 0 {
		return Detect(layer.NewBase(&memReadSeekCloser{b: nil}))
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return Detect(layer.NewBase(&mmapReadSeekCloser{data: data}))
}

// memReadSeekCloser adapts a byte slice to io.ReadSeeker (+Close) for
// layer.NewBase, which every base-layer constructor needs regardless
// of where the bytes actually came from.
type memReadSeekCloser struct {
	b   []byte
	pos int64
}

func (m *memReadSeekCloser) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.b)) {
		return 0, io.EOF
	}
	n := copy(p, m.b[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memReadSeekCloser) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = m.pos
	case io.SeekEnd:
		base = int64(len(m.b))
	}
	m.pos = base + offset
	return m.pos, nil
}

func (m *memReadSeekCloser) Close() error { return nil }

// mmapReadSeekCloser is the same adapter over a memory-mapped region,
// unmapping it on Close.
type mmapReadSeekCloser struct {
	data []byte
	pos  int64
}

func (m *mmapReadSeekCloser) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *mmapReadSeekCloser) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = m.pos
	case io.SeekEnd:
		base = int64(len(m.data))
	}
	m.pos = base + offset
	return m.pos, nil
}

func (m *mmapReadSeekCloser) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
