//Package bitfield implements a fixed-size presence set with fast range
//operations. It is used for the block and piece bitfields of a torrent.
package bitfield

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/lkslts64/charo-verify/peer_wire"
)

var ErrInvalidBytes = errors.New("bitfield: raw bytes don't match the bitfield size")

//Bitfield is a set of bits in [0,Size()).
//The zero value is an empty bitfield of size 0. A Bitfield is not safe for
//concurrent use.
type Bitfield struct {
	n  int
	rb *roaring.Bitmap
}

//New returns a bitfield of `n` unset bits.
func New(n int) *Bitfield {
	return &Bitfield{
		n:  n,
		rb: roaring.New(),
	}
}

//NewHasAll returns a bitfield of `n` set bits.
func NewHasAll(n int) *Bitfield {
	bf := New(n)
	bf.SetSpan(0, n, true)
	return bf
}

//FromBytes decodes a wire bitfield of `n` bits.
func FromBytes(n int, raw []byte) (*Bitfield, error) {
	wire := peer_wire.BitField(raw)
	if !wire.Valid(n) {
		return nil, fmt.Errorf("%w: have %d bytes for %d bits", ErrInvalidBytes, len(raw), n)
	}
	bf := New(n)
	for i := 0; i < n; i++ {
		if wire.HasPiece(i) {
			bf.rb.Add(uint32(i))
		}
	}
	return bf, nil
}

func (bf *Bitfield) lazyRB() *roaring.Bitmap {
	if bf.rb == nil {
		bf.rb = roaring.New()
	}
	return bf.rb
}

func (bf *Bitfield) check(i int) {
	if i < 0 || i >= bf.n {
		panic(fmt.Sprintf("bitfield: index %d out of range [0,%d)", i, bf.n))
	}
}

func (bf *Bitfield) checkSpan(begin, end int) {
	if begin < 0 || end > bf.n || begin > end {
		panic(fmt.Sprintf("bitfield: span [%d,%d) out of range [0,%d)", begin, end, bf.n))
	}
}

//Size returns the number of bits, set or not.
func (bf *Bitfield) Size() int {
	return bf.n
}

func (bf *Bitfield) Test(i int) bool {
	bf.check(i)
	return bf.lazyRB().Contains(uint32(i))
}

func (bf *Bitfield) Set(i int, v bool) {
	bf.check(i)
	if v {
		bf.lazyRB().Add(uint32(i))
	} else {
		bf.lazyRB().Remove(uint32(i))
	}
}

//SetSpan sets or clears all bits in [begin,end).
func (bf *Bitfield) SetSpan(begin, end int, v bool) {
	bf.checkSpan(begin, end)
	if begin == end {
		return
	}
	if v {
		bf.lazyRB().AddRange(uint64(begin), uint64(end))
	} else {
		bf.lazyRB().RemoveRange(uint64(begin), uint64(end))
	}
}

//Count returns the number of set bits.
func (bf *Bitfield) Count() int {
	return int(bf.lazyRB().GetCardinality())
}

//CountSpan returns the number of set bits in [begin,end).
func (bf *Bitfield) CountSpan(begin, end int) int {
	bf.checkSpan(begin, end)
	if begin == end {
		return 0
	}
	rb := bf.lazyRB()
	n := rb.Rank(uint32(end - 1))
	if begin > 0 {
		n -= rb.Rank(uint32(begin - 1))
	}
	return int(n)
}

func (bf *Bitfield) HasAll() bool {
	return bf.Count() == bf.n
}

func (bf *Bitfield) HasNone() bool {
	return bf.lazyRB().IsEmpty()
}

//Iter calls f for every set bit in ascending order until f returns false.
func (bf *Bitfield) Iter(f func(i int) bool) {
	it := bf.lazyRB().Iterator()
	for it.HasNext() {
		if !f(int(it.Next())) {
			return
		}
	}
}

//Bytes encodes the bitfield in the wire format.
func (bf *Bitfield) Bytes() []byte {
	wire := peer_wire.NewBitField(bf.n)
	bf.Iter(func(i int) bool {
		wire.SetPiece(i)
		return true
	})
	return wire
}

func (bf *Bitfield) Equal(other *Bitfield) bool {
	return bf.n == other.n && bf.lazyRB().Equals(other.lazyRB())
}

func (bf *Bitfield) Clone() *Bitfield {
	return &Bitfield{
		n:  bf.n,
		rb: bf.lazyRB().Clone(),
	}
}

func (bf *Bitfield) String() string {
	return fmt.Sprintf("bitfield(%d/%d)", bf.Count(), bf.n)
}
