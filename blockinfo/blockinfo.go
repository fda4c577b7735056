//Package blockinfo converts between byte offsets, fixed-size transfer blocks
//and variable-size pieces of a torrent.
//
//A BlockInfo is a small immutable value. All methods are pure and may be
//called concurrently without locking.
package blockinfo

//BlockSize is the transfer unit between peers. Every block has this size
//except the final block of the torrent.
const BlockSize = 1 << 14

//BlockInfo holds the two configuration scalars of a torrent's layout and
//the values derived from them.
//A BlockInfo with a zero piece size is uninitialized (e.g a magnet link
//whose metadata has not arrived yet) and every query degrades to
//zero values.
type BlockInfo struct {
	totalSize uint64
	pieceSize uint32

	pieceCount     int
	blockCount     int
	finalPieceSize uint32
	finalBlockSize uint32
}

//Location describes a byte of the torrent in every coordinate system.
//It is never stored, always recomputed from a byte offset.
type Location struct {
	Byte        uint64
	Piece       int
	PieceOffset uint32
	Block       int
	BlockOffset uint32
}

//Span is a half-open range [Begin,End) of piece or block indices.
type Span struct {
	Begin int
	End   int
}

//Len returns the number of indices in the span.
func (s Span) Len() int {
	return s.End - s.Begin
}

//ByteSpan is a half-open range [Begin,End) of torrent bytes.
type ByteSpan struct {
	Begin uint64
	End   uint64
}

//Len returns the number of bytes in the span.
func (s ByteSpan) Len() uint64 {
	return s.End - s.Begin
}

//New returns the layout of a torrent of `totalSize` bytes split into pieces
//of `pieceSize` bytes. A zero `pieceSize` returns the uninitialized BlockInfo.
func New(totalSize uint64, pieceSize uint32) BlockInfo {
	if pieceSize == 0 {
		return BlockInfo{}
	}
	bi := BlockInfo{
		totalSize: totalSize,
		pieceSize: pieceSize,
	}
	bi.pieceCount = int((totalSize + uint64(pieceSize) - 1) / uint64(pieceSize))
	bi.blockCount = int((totalSize + BlockSize - 1) / BlockSize)
	if rem := totalSize % uint64(pieceSize); rem != 0 {
		bi.finalPieceSize = uint32(rem)
	} else {
		bi.finalPieceSize = pieceSize
	}
	if rem := totalSize % BlockSize; rem != 0 {
		bi.finalBlockSize = uint32(rem)
	} else {
		bi.finalBlockSize = BlockSize
	}
	return bi
}

func (bi BlockInfo) IsInitialized() bool {
	return bi.pieceSize != 0
}

func (bi BlockInfo) TotalSize() uint64 {
	return bi.totalSize
}

func (bi BlockInfo) PieceCount() int {
	return bi.pieceCount
}

func (bi BlockInfo) BlockCount() int {
	return bi.blockCount
}

//PieceSize returns the nominal piece size, the size of all pieces except
//possibly the last one.
func (bi BlockInfo) PieceSize() uint32 {
	return bi.pieceSize
}

func (bi BlockInfo) FinalPieceSize() uint32 {
	return bi.finalPieceSize
}

func (bi BlockInfo) FinalBlockSize() uint32 {
	return bi.finalBlockSize
}

//PieceSizeOf returns the size of `piece`.
func (bi BlockInfo) PieceSizeOf(piece int) uint32 {
	if piece+1 == bi.pieceCount {
		return bi.finalPieceSize
	}
	return bi.pieceSize
}

//BlockSizeOf returns the size of `block`.
func (bi BlockInfo) BlockSizeOf(block int) uint32 {
	if block+1 == bi.blockCount {
		return bi.finalBlockSize
	}
	return BlockSize
}

//ByteLoc returns the Location of the torrent's nth byte.
//`byteIdx == TotalSize()` is valid and denotes a 0-byte file at the end of
//the torrent: it resolves to the last block and the last piece.
func (bi BlockInfo) ByteLoc(byteIdx uint64) (loc Location) {
	if !bi.IsInitialized() {
		return
	}
	loc.Byte = byteIdx
	if byteIdx == bi.totalSize {
		if bi.blockCount == 0 {
			//empty torrent, there is no last block to point at
			return
		}
		loc.Block = bi.blockCount - 1
		loc.Piece = bi.pieceCount - 1
	} else {
		loc.Block = int(byteIdx / BlockSize)
		loc.Piece = int(byteIdx / uint64(bi.pieceSize))
	}
	loc.BlockOffset = uint32(byteIdx - uint64(loc.Block)*BlockSize)
	loc.PieceOffset = uint32(byteIdx - uint64(loc.Piece)*uint64(bi.pieceSize))
	return
}

//BlockLoc returns the Location of the first byte of `block`.
func (bi BlockInfo) BlockLoc(block int) Location {
	return bi.ByteLoc(uint64(block) * BlockSize)
}

//PieceLoc returns the Location of the first byte of `piece`, moved forward by
//`offset` and `length`. Passing both lets callers locate the end of a
//sub-range of the piece.
func (bi BlockInfo) PieceLoc(piece int, offset, length uint32) Location {
	return bi.ByteLoc(uint64(piece)*uint64(bi.pieceSize) + uint64(offset) + uint64(length))
}

//location of the last byte of `piece`
func (bi BlockInfo) pieceLastLoc(piece int) Location {
	return bi.ByteLoc(uint64(piece)*uint64(bi.pieceSize) + uint64(bi.PieceSizeOf(piece)) - 1)
}

//BlockSpanForPiece returns the blocks that hold data of `piece`.
//If pieces are not aligned to blocks, neighbouring spans share a block.
func (bi BlockInfo) BlockSpanForPiece(piece int) Span {
	if !bi.IsInitialized() {
		return Span{}
	}
	return Span{
		Begin: bi.PieceLoc(piece, 0, 0).Block,
		End:   bi.pieceLastLoc(piece).Block + 1,
	}
}

//ByteSpanForPiece returns the bytes of the torrent that `piece` covers.
func (bi BlockInfo) ByteSpanForPiece(piece int) ByteSpan {
	if !bi.IsInitialized() {
		return ByteSpan{}
	}
	begin := bi.PieceLoc(piece, 0, 0).Byte
	return ByteSpan{
		Begin: begin,
		End:   begin + uint64(bi.PieceSizeOf(piece)),
	}
}

//ByteSpanForBlock returns the bytes of the torrent that `block` covers.
func (bi BlockInfo) ByteSpanForBlock(block int) ByteSpan {
	if !bi.IsInitialized() {
		return ByteSpan{}
	}
	begin := uint64(block) * BlockSize
	return ByteSpan{
		Begin: begin,
		End:   begin + uint64(bi.BlockSizeOf(block)),
	}
}

//PieceSpanForBlock returns the pieces that `block` holds data for.
func (bi BlockInfo) PieceSpanForBlock(block int) Span {
	if !bi.IsInitialized() || bi.blockCount == 0 {
		return Span{}
	}
	span := bi.ByteSpanForBlock(block)
	return Span{
		Begin: bi.ByteLoc(span.Begin).Piece,
		End:   bi.ByteLoc(span.End-1).Piece + 1,
	}
}
