package sit13

import (
	"hash/maphash"

	"github.com/dgryski/go-tinylfu"

	"github.com/retrofork/machex/internal/canon"
)

// predefined decode trees (for code-set selectors 1..5) recur across
// every fork in an archive that uses them, and across archives opened
// in the same process; caching the built trees avoids rebuilding the
// same canonical code repeatedly. This follows the teacher's own
// internal/spinner package, which keys a tinylfu.T by a small struct and
// hashes it with maphash.Comparable.
var treeCache = tinylfu.New[int, *predefinedTrees](8, 80, treeCacheHasher)

var treeCacheSeed = maphash.MakeSeed()

func treeCacheHasher(k int) uint64 {
	return maphash.Comparable(treeCacheSeed, k)
}

type predefinedTrees struct {
	first, second, dist *canon.Tree
}

func getPredefinedTrees(selector int) (*predefinedTrees, error) {
	if t, ok := treeCache.Get(selector); ok {
		return t, nil
	}
	firstLen, secondLen, distLen := predefinedSet(selector)
	first, err := canon.BuildCanonical(firstLen, maxCodeLen)
	if err != nil {
		return nil, err
	}
	second, err := canon.BuildCanonical(secondLen, maxCodeLen)
	if err != nil {
		return nil, err
	}
	dist, err := canon.BuildCanonical(distLen, maxCodeLen)
	if err != nil {
		return nil, err
	}
	t := &predefinedTrees{first: first, second: second, dist: dist}
	treeCache.Add(selector, t)
	return t, nil
}
