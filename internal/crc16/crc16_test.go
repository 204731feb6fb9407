package crc16

import "testing"

func TestXMODEMKnownVector(t *testing.T) {
	// CRC-16/XMODEM of "123456789" is 0x31C3, a standard check vector.
	got := XMODEM(0, []byte("123456789"))
	if got != 0x31C3 {
		t.Fatalf("XMODEM(\"123456789\") = %#04x, want 0x31c3", got)
	}
}

func TestReflectedKnownVector(t *testing.T) {
	// CRC-16/ARC of "123456789" is 0xBB3D, a standard check vector.
	got := Reflected(0, []byte("123456789"))
	if got != 0xBB3D {
		t.Fatalf("Reflected(\"123456789\") = %#04x, want 0xbb3d", got)
	}
}

func TestUpdatersMatchOneShot(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	var ru ReflectedUpdater
	ru.Write(data[:10])
	ru.Write(data[10:])
	if got, want := ru.Sum16(), Reflected(0, data); got != want {
		t.Fatalf("ReflectedUpdater = %#04x, want %#04x", got, want)
	}

	var xu XMODEMUpdater
	xu.Write(data[:20])
	xu.Write(data[20:])
	if got, want := xu.Sum16(), XMODEM(0, data); got != want {
		t.Fatalf("XMODEMUpdater = %#04x, want %#04x", got, want)
	}
}
