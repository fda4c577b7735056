package peer_wire

import "math/bits"

//BitField is the packed bitfield of the BitTorrent wire protocol which is
//also used for resume files. Index 0 is the high bit of the first byte.
//Spare bits at the end must be zero.
type BitField []byte

//BfLen returns the number of bytes needed to hold `n` bits.
func BfLen(n int) int {
	return (n + 7) / 8
}

func NewBitField(n int) BitField {
	return make([]byte, BfLen(n))
}

func (bf BitField) HasPiece(i int) bool {
	return bf[i/8]&mask(i) != 0
}

func (bf BitField) SetPiece(i int) {
	bf[i/8] |= mask(i)
}

func (bf BitField) ClearPiece(i int) {
	bf[i/8] &^= mask(i)
}

//BitsSet returns the number of set bits.
func (bf BitField) BitsSet() (sum int) {
	for _, b := range bf {
		sum += bits.OnesCount8(b)
	}
	return
}

//Valid reports whether bf can hold exactly `n` bits and has no spare bit set.
func (bf BitField) Valid(n int) bool {
	if len(bf) != BfLen(n) {
		return false
	}
	if spare := len(bf)*8 - n; spare > 0 {
		return bf[len(bf)-1]&(1<<uint(spare)-1) == 0
	}
	return true
}

func mask(i int) byte {
	return 1 << uint(7-i%8)
}
