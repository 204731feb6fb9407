package arsenic

import (
	"reflect"
	"testing"
)

func TestModelInitialOrdering(t *testing.T) {
	m := newModel(4, 4, 4, 1024)
	// entries=4, start=4: symbols assigned high-to-low, syms[0].sym = 4+4-1 = 7.
	wantSyms := []int32{7, 6, 5, 4}
	for i, want := range wantSyms {
		if m.syms[i].sym != want {
			t.Fatalf("syms[%d].sym = %d, want %d", i, m.syms[i].sym, want)
		}
	}
	// Flat initial distribution: cumfreq[i] = (entries-i)*increment.
	for i := 0; i <= m.entries; i++ {
		want := uint32(4-i) * 4
		if m.syms[i].cumfreq != want {
			t.Fatalf("cumfreq[%d] = %d, want %d", i, m.syms[i].cumfreq, want)
		}
	}
}

func TestModelUpdateIncrementsPrecedingSymbols(t *testing.T) {
	m := newModel(2, 0, 1, 256)
	// entries=2: syms[0].sym=1 cumfreq=2, syms[1].sym=0 cumfreq=1, syms[2] sentinel cumfreq=0.
	m.update(1) // decoded syms[0] (sym 1): bumps syms[0..0]
	if m.syms[0].cumfreq != 3 {
		t.Fatalf("syms[0].cumfreq = %d, want 3", m.syms[0].cumfreq)
	}
	if m.syms[1].cumfreq != 1 {
		t.Fatalf("syms[1].cumfreq = %d, want unchanged 1", m.syms[1].cumfreq)
	}
}

func TestModelUpdateHalvesAtLimit(t *testing.T) {
	m := newModel(2, 0, 100, 150)
	// cumfreq: syms[0]=200 syms[1]=100 syms[2]=0.
	m.update(1) // bump syms[0] by 100 -> 300, exceeds maxfreq 150, triggers halving.
	if m.syms[0].cumfreq <= m.syms[1].cumfreq {
		t.Fatalf("halving broke ordering: %+v", m.syms)
	}
	if m.syms[len(m.syms)-1].cumfreq != 0 {
		t.Fatalf("sentinel cumfreq drifted: %d", m.syms[len(m.syms)-1].cumfreq)
	}
}

func TestMTFDecodeMovesToFront(t *testing.T) {
	var table [256]byte
	for i := range table {
		table[i] = byte(i)
	}
	got := mtfDecode(&table, 5)
	if got != 5 {
		t.Fatalf("mtfDecode returned %d, want 5", got)
	}
	if table[0] != 5 {
		t.Fatalf("table[0] = %d, want 5", table[0])
	}
	if table[1] != 0 || table[5] != 4 {
		t.Fatalf("shift wrong: table[1]=%d table[5]=%d", table[1], table[5])
	}
	// Decoding the now-front symbol (index 0) is a no-op shuffle.
	got2 := mtfDecode(&table, 0)
	if got2 != 5 || table[0] != 5 {
		t.Fatalf("re-decoding front entry changed state: got=%d table[0]=%d", got2, table[0])
	}
}

func TestInverseBWTRoundTripsIdentity(t *testing.T) {
	// "banana" sorted rotations give a well-known BWT/primary-index pair.
	block := []byte("annb aa") // placeholder; real test below uses a manual construction
	_ = block

	// Build a block and primary index by hand for a tiny known case:
	// original = "aab", rotations sorted: "aab","aba","baa" -> last column
	// "baa", primary index 0; the loop below computes the same.
	orig := []byte("aab")
	n := len(orig)
	rotations := make([][]byte, n)
	for i := 0; i < n; i++ {
		rot := make([]byte, n)
		for j := 0; j < n; j++ {
			rot[j] = orig[(i+j)%n]
		}
		rotations[i] = rot
	}
	// sort rotations lexicographically, track where the original (rotation 0) lands
	idx := []int{0, 1, 2}
	for i := 0; i < len(idx); i++ {
		for j := i + 1; j < len(idx); j++ {
			if string(rotations[idx[j]]) < string(rotations[idx[i]]) {
				idx[i], idx[j] = idx[j], idx[i]
			}
		}
	}
	last := make([]byte, n)
	primary := -1
	for i, ri := range idx {
		last[i] = rotations[ri][n-1]
		if ri == 0 {
			primary = i
		}
	}

	transform := inverseBWT(last)
	out, err := unrleAndUnrnd(last, transform, primary, false)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, orig) {
		t.Fatalf("inverse BWT = %q, want %q", out, orig)
	}
}

func TestUnrleExpandsRepeatRun(t *testing.T) {
	// A post-BWT block "xxxx\x02" (4 x's then a repeat-count byte of 2)
	// must expand to six x's: the first four plus two more from the
	// count byte, with no literal emission of the count byte itself.
	block := []byte{'x', 'x', 'x', 'x', 2}
	// transform/primary chosen so unrleAndUnrnd just walks block in order:
	// transform[i] = i+1 (wrapping), started from the last index, visits
	// indices 0, 1, 2, ... in turn.
	transform := make([]int, len(block))
	for i := range transform {
		transform[i] = (i + 1) % len(block)
	}
	out, err := unrleAndUnrnd(block, transform, len(block)-1, false)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "xxxxxx" {
		t.Fatalf("got %q, want %q", out, "xxxxxx")
	}
}
