// Package crc16 implements the two CRC-16 variants machex needs: the
// reflected poly-0x8005 form used by StuffIt, and the non-reflected
// XMODEM form (poly 0x1021) used by BinHex and MacBinary. Both are
// table-driven, built the way the teacher's internal/sit/crc16.go builds
// its single (reflected) table.
package crc16

// reflectedTable is the standard reflected CRC-16/ARC table, poly 0x8005
// fed LSB-first (equivalently, the table is built by repeatedly XORing
// 0xA001, the bit-reversal of 0x8005).
var reflectedTable [256]uint16

// xmodemTable is the CRC-16/XMODEM table: poly 0x1021, fed MSB-first, no
// reflection, no final XOR. This is the variant BinHex 4.0 and MacBinary
// both use.
var xmodemTable [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		k := uint16(i)
		for b := 0; b < 8; b++ {
			if k&1 != 0 {
				k = (k >> 1) ^ 0xA001
			} else {
				k >>= 1
			}
		}
		reflectedTable[i] = k
	}
	for i := 0; i < 256; i++ {
		k := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if k&0x8000 != 0 {
				k = (k << 1) ^ 0x1021
			} else {
				k <<= 1
			}
		}
		xmodemTable[i] = k
	}
}

// Reflected computes the StuffIt-style reflected CRC-16 over buf,
// starting from seed (pass 0 for a fresh checksum).
func Reflected(seed uint16, buf []byte) uint16 {
	crc := seed
	for _, c := range buf {
		crc = (crc >> 8) ^ reflectedTable[(crc^uint16(c))&0xFF]
	}
	return crc
}

// XMODEM computes the BinHex/MacBinary-style CRC-16 over buf, starting
// from seed (pass 0 for a fresh checksum).
func XMODEM(seed uint16, buf []byte) uint16 {
	crc := seed
	for _, c := range buf {
		crc = (crc << 8) ^ xmodemTable[byte(crc>>8)^c]
	}
	return crc
}

// ReflectedUpdater accumulates a running reflected CRC-16 across multiple
// Write-style calls, for callers streaming a fork instead of holding it
// in one buffer.
type ReflectedUpdater struct{ crc uint16 }

// Write feeds buf into the running checksum. It never returns an error.
func (u *ReflectedUpdater) Write(buf []byte) (int, error) {
	u.crc = Reflected(u.crc, buf)
	return len(buf), nil
}

// Sum16 returns the checksum accumulated so far.
func (u *ReflectedUpdater) Sum16() uint16 { return u.crc }

// XMODEMUpdater accumulates a running XMODEM CRC-16 across multiple
// Write-style calls.
type XMODEMUpdater struct{ crc uint16 }

// Write feeds buf into the running checksum. It never returns an error.
func (u *XMODEMUpdater) Write(buf []byte) (int, error) {
	u.crc = XMODEM(u.crc, buf)
	return len(buf), nil
}

// Sum16 returns the checksum accumulated so far.
func (u *XMODEMUpdater) Sum16() uint16 { return u.crc }
