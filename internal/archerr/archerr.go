// Package archerr defines the error kinds shared across machex's format
// layers and decompression engines. Callers match with [errors.Is]; the
// engines return these sentinels directly rather than an opaque string.
package archerr

import "errors"

var (
	// ErrTruncated means the bitstream or byte stream ended before an
	// algorithm's required field was fully read.
	ErrTruncated = errors.New("machex: truncated input")

	// ErrInvalidCode means a Huffman or arithmetic symbol decoded to a
	// reserved or out-of-range value.
	ErrInvalidCode = errors.New("machex: invalid code or symbol")

	// ErrChecksum means a fully read protected region did not match its
	// stored CRC.
	ErrChecksum = errors.New("machex: checksum mismatch")

	// ErrInvalidHeader means a layer's identifying structure failed its
	// invariants (magic, version, field bounds).
	ErrInvalidHeader = errors.New("machex: invalid header")

	// ErrUnsupported means an encrypted entry, unknown compression
	// method, or archive variant outside what machex implements.
	ErrUnsupported = errors.New("machex: unsupported feature")

	// ErrPassword means the entry is password-protected; machex never
	// attempts to decrypt.
	ErrPassword = errors.New("machex: password-protected entry")

	// ErrMisuse means Read was called before a successful Open, or
	// iteration continued past the end of the archive.
	ErrMisuse = errors.New("machex: read before open, or read past end")
)
