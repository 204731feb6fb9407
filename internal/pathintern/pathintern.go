// Package pathintern interns the folder-stack paths StuffIt and Compact
// Pro directory walks build up one path segment at a time. Both formats
// reconstruct a full "/"-joined path for every entry by walking a
// folder stack, and the same folder prefix recurs for every file inside
// it — interning avoids rebuilding and reallocating that prefix string
// for each sibling.
package pathintern

import "github.com/cespare/xxhash/v2"

// Table deduplicates path strings by content hash, handing back a
// single shared string for any two equal paths built along different
// folder-stack walks.
type Table struct {
	byHash map[uint64]string
}

// New returns an empty interning table.
func New() *Table {
	return &Table{byHash: make(map[uint64]string)}
}

// Intern returns a canonical string equal to s, reusing a previously
// interned value when one with the same content already exists.
func (t *Table) Intern(s string) string {
	h := xxhash.Sum64String(s)
	if existing, ok := t.byHash[h]; ok && existing == s {
		return existing
	}
	t.byHash[h] = s
	return s
}

// Join interns parent+"/"+name, the path of a folder-stack child entry.
// Join("", name) (no parent, i.e. a root-level entry) interns name
// alone.
func (t *Table) Join(parent, name string) string {
	if parent == "" {
		return t.Intern(name)
	}
	var h xxhash.Digest
	h.WriteString(parent)
	h.WriteString("/")
	h.WriteString(name)
	sum := h.Sum64()
	full := parent + "/" + name
	if existing, ok := t.byHash[sum]; ok && existing == full {
		return existing
	}
	t.byHash[sum] = full
	return full
}
