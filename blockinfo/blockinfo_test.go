package blockinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwoPiecesAndATail(t *testing.T) {
	bi := New(32800, 16384)
	assert.Equal(t, 3, bi.PieceCount())
	assert.Equal(t, 3, bi.BlockCount())
	assert.EqualValues(t, 32, bi.FinalPieceSize())
	assert.EqualValues(t, 32, bi.FinalBlockSize())
	assert.EqualValues(t, 16384, bi.PieceSizeOf(0))
	assert.EqualValues(t, 16384, bi.PieceSizeOf(1))
	assert.EqualValues(t, 32, bi.PieceSizeOf(2))
	assert.EqualValues(t, BlockSize, bi.BlockSizeOf(1))
	assert.EqualValues(t, 32, bi.BlockSizeOf(2))
	assert.Equal(t, Span{2, 3}, bi.BlockSpanForPiece(2))
	assert.Equal(t, ByteSpan{32768, 32800}, bi.ByteSpanForPiece(2))
}

func TestByteLoc(t *testing.T) {
	bi := New(3*BlockSize+100, 2*BlockSize)
	for b := uint64(0); b < bi.TotalSize(); b++ {
		loc := bi.ByteLoc(b)
		require.Equal(t, int(b/BlockSize), loc.Block, "byte %d", b)
		require.Equal(t, int(b/uint64(2*BlockSize)), loc.Piece, "byte %d", b)
		require.EqualValues(t, b%BlockSize, loc.BlockOffset)
		require.EqualValues(t, b%(2*BlockSize), loc.PieceOffset)
	}
	//a 0-byte file at the end of the torrent
	loc := bi.ByteLoc(bi.TotalSize())
	assert.Equal(t, bi.BlockCount()-1, loc.Block)
	assert.Equal(t, bi.PieceCount()-1, loc.Piece)
	assert.EqualValues(t, bi.FinalBlockSize(), loc.BlockOffset)
	assert.EqualValues(t, bi.FinalPieceSize(), loc.PieceOffset)
	assert.Equal(t, bi.TotalSize(), loc.Byte)
}

func TestByteLocAtEndOfAlignedTorrent(t *testing.T) {
	bi := New(4*BlockSize, 2*BlockSize)
	loc := bi.ByteLoc(bi.TotalSize())
	//dividing would give block 4 which doesn't exist
	assert.Equal(t, 3, loc.Block)
	assert.Equal(t, 1, loc.Piece)
	assert.EqualValues(t, BlockSize, loc.BlockOffset)
	assert.EqualValues(t, 2*BlockSize, loc.PieceOffset)
}

func TestPieceLoc(t *testing.T) {
	bi := New(10*BlockSize, 4*BlockSize)
	loc := bi.PieceLoc(1, 100, 0)
	assert.EqualValues(t, 4*BlockSize+100, loc.Byte)
	assert.Equal(t, 4, loc.Block)
	assert.EqualValues(t, 100, loc.BlockOffset)
	loc = bi.PieceLoc(1, BlockSize, BlockSize)
	assert.Equal(t, 6, loc.Block)
	assert.Equal(t, 1, loc.Piece)
	assert.EqualValues(t, 2*BlockSize, loc.PieceOffset)
	assert.Equal(t, bi.ByteLoc(loc.Byte), loc)
	assert.Equal(t, bi.BlockLoc(6), loc)
}

func TestBlockSpansCoverAllBlocks(t *testing.T) {
	for _, tc := range []struct {
		total     uint64
		pieceSize uint32
	}{
		{32800, 16384},
		{10*BlockSize + 1, 4 * BlockSize},
		{1 << 20, 1 << 18},
		{7 * BlockSize, BlockSize},
		{3*BlockSize + 5, BlockSize / 2}, //pieces smaller than blocks share them
	} {
		bi := New(tc.total, tc.pieceSize)
		next := 0
		for p := 0; p < bi.PieceCount(); p++ {
			span := bi.BlockSpanForPiece(p)
			require.Greater(t, span.End, span.Begin)
			if tc.pieceSize%BlockSize == 0 {
				require.Equal(t, next, span.Begin, "piece %d", p)
			} else {
				require.True(t, span.Begin == next || span.Begin == next-1)
			}
			next = span.End
		}
		assert.Equal(t, bi.BlockCount(), next)
		var sum uint64
		for p := 0; p < bi.PieceCount(); p++ {
			sum += uint64(bi.PieceSizeOf(p))
		}
		assert.Equal(t, tc.total, sum)
	}
}

func TestPieceSpanForBlock(t *testing.T) {
	bi := New(3*BlockSize+5, BlockSize/2)
	assert.Equal(t, Span{0, 2}, bi.PieceSpanForBlock(0))
	assert.Equal(t, Span{6, 7}, bi.PieceSpanForBlock(3))
	bi = New(8*BlockSize, 4*BlockSize)
	assert.Equal(t, Span{1, 2}, bi.PieceSpanForBlock(5))
}

func TestUninitialized(t *testing.T) {
	bi := New(12345, 0)
	assert.False(t, bi.IsInitialized())
	assert.Equal(t, 0, bi.PieceCount())
	assert.Equal(t, 0, bi.BlockCount())
	assert.Equal(t, Location{}, bi.ByteLoc(100))
	assert.Equal(t, Span{}, bi.BlockSpanForPiece(0))
	assert.Equal(t, ByteSpan{}, bi.ByteSpanForPiece(0))
}

func TestEmptyTorrent(t *testing.T) {
	bi := New(0, 1<<15)
	assert.True(t, bi.IsInitialized())
	assert.Equal(t, 0, bi.PieceCount())
	assert.Equal(t, 0, bi.BlockCount())
	assert.Equal(t, Location{}, bi.ByteLoc(0))
}
