package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpans(t *testing.T) {
	bf := New(100)
	assert.True(t, bf.HasNone())
	assert.False(t, bf.HasAll())
	bf.SetSpan(10, 20, true)
	assert.Equal(t, 10, bf.Count())
	assert.Equal(t, 5, bf.CountSpan(15, 30))
	assert.Equal(t, 10, bf.CountSpan(0, 100))
	assert.Equal(t, 0, bf.CountSpan(20, 20))
	assert.Equal(t, 1, bf.CountSpan(10, 11))
	assert.True(t, bf.Test(19))
	assert.False(t, bf.Test(20))
	bf.SetSpan(12, 14, false)
	assert.Equal(t, 8, bf.Count())
	bf.Set(99, true)
	assert.Equal(t, 1, bf.CountSpan(99, 100))
	bf.SetSpan(0, 100, true)
	assert.True(t, bf.HasAll())
	bf.Set(0, false)
	assert.False(t, bf.HasAll())
	assert.Equal(t, 99, bf.CountSpan(0, 100))
}

func TestOutOfRangePanics(t *testing.T) {
	bf := New(8)
	assert.Panics(t, func() { bf.Test(8) })
	assert.Panics(t, func() { bf.Set(-1, true) })
	assert.Panics(t, func() { bf.SetSpan(4, 9, true) })
	assert.Panics(t, func() { bf.CountSpan(5, 4) })
}

func TestBytesRoundTrip(t *testing.T) {
	bf := New(21)
	for _, i := range []int{0, 7, 8, 13, 20} {
		bf.Set(i, true)
	}
	raw := bf.Bytes()
	require.Len(t, raw, 3)
	assert.Equal(t, []byte{0x81, 0x84, 0x08}, raw)
	decoded, err := FromBytes(21, raw)
	require.NoError(t, err)
	assert.True(t, bf.Equal(decoded))
	var got []int
	decoded.Iter(func(i int) bool {
		got = append(got, i)
		return true
	})
	assert.Equal(t, []int{0, 7, 8, 13, 20}, got)

	_, err = FromBytes(30, raw)
	assert.ErrorIs(t, err, ErrInvalidBytes)
	//bit 21 is a spare bit
	_, err = FromBytes(21, []byte{0, 0, 0x04})
	assert.ErrorIs(t, err, ErrInvalidBytes)
}

func TestCloneIsIndependent(t *testing.T) {
	bf := NewHasAll(50)
	c := bf.Clone()
	c.Set(3, false)
	assert.True(t, bf.HasAll())
	assert.False(t, c.HasAll())
	assert.False(t, bf.Equal(c))
	assert.False(t, bf.Equal(NewHasAll(51)))
}

func TestZeroValue(t *testing.T) {
	var bf Bitfield
	assert.Equal(t, 0, bf.Size())
	assert.True(t, bf.HasAll())
	assert.True(t, bf.HasNone())
	assert.Empty(t, bf.Bytes())
}
