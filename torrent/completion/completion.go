//Package completion keeps track of which blocks and pieces of a torrent we
//have locally.
package completion

import (
	"fmt"

	"github.com/lkslts64/charo-verify/bitfield"
	"github.com/lkslts64/charo-verify/blockinfo"
)

//WantedPieces tells whether the user wants a piece downloaded.
//It is the only thing Completion needs to know about its torrent.
type WantedPieces interface {
	PieceIsWanted(piece int) bool
}

type Status int

const (
	//missing some wanted data
	Leech Status = iota
	//have all the torrent's data
	Seed
	//have all the wanted data but not everything
	PartialSeed
)

func (s Status) String() string {
	switch s {
	case Leech:
		return "Incomplete"
	case Seed:
		return "Complete"
	case PartialSeed:
		return "Done"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

//Completion is the authority on what data of a torrent we have.
//It is not safe for concurrent use; the owning torrent's lock guards it.
type Completion struct {
	wanted WantedPieces
	bi     blockinfo.BlockInfo
	blocks *bitfield.Bitfield
	//bytes of all blocks we have
	sizeNow uint64

	sizeWhenDone      uint64
	sizeWhenDoneValid bool
	hasValid          uint64
	hasValidValid     bool
}

func New(wanted WantedPieces, bi blockinfo.BlockInfo) *Completion {
	return &Completion{
		wanted: wanted,
		bi:     bi,
		blocks: bitfield.New(bi.BlockCount()),
	}
}

func (c *Completion) BlockInfo() blockinfo.BlockInfo {
	return c.bi
}

func (c *Completion) HasMetainfo() bool {
	return c.bi.IsInitialized()
}

func (c *Completion) HasAll() bool {
	return c.HasMetainfo() && c.blocks.HasAll()
}

func (c *Completion) HasNone() bool {
	return !c.HasMetainfo() || c.blocks.HasNone()
}

func (c *Completion) HasBlock(block int) bool {
	return c.blocks.Test(block)
}

//HasBlocks reports whether we have every block in `span`.
func (c *Completion) HasBlocks(span blockinfo.Span) bool {
	return c.blocks.CountSpan(span.Begin, span.End) == span.Len()
}

func (c *Completion) HasPiece(piece int) bool {
	if c.HasAll() {
		return true
	}
	if c.HasNone() {
		return false
	}
	return c.HasBlocks(c.bi.BlockSpanForPiece(piece))
}

//HasTotal returns the number of bytes we have, including partial pieces.
func (c *Completion) HasTotal() uint64 {
	return c.sizeNow
}

//HasValid returns the number of bytes in pieces we fully have.
func (c *Completion) HasValid() uint64 {
	if !c.hasValidValid {
		c.hasValid = c.computeHasValid()
		c.hasValidValid = true
	}
	return c.hasValid
}

func (c *Completion) computeHasValid() uint64 {
	if c.HasAll() {
		return c.bi.TotalSize()
	}
	var size uint64
	for p := 0; p < c.bi.PieceCount(); p++ {
		if c.HasPiece(p) {
			size += uint64(c.bi.PieceSizeOf(p))
		}
	}
	return size
}

//SizeWhenDone returns the number of bytes we will have once every wanted
//piece is downloaded.
func (c *Completion) SizeWhenDone() uint64 {
	if !c.sizeWhenDoneValid {
		c.sizeWhenDone = c.computeSizeWhenDone()
		c.sizeWhenDoneValid = true
	}
	return c.sizeWhenDone
}

func (c *Completion) computeSizeWhenDone() uint64 {
	if c.HasAll() {
		return c.bi.TotalSize()
	}
	var size uint64
	for p := 0; p < c.bi.PieceCount(); p++ {
		if c.wanted.PieceIsWanted(p) {
			size += uint64(c.bi.PieceSizeOf(p))
		} else {
			size += c.CountHasBytesInSpan(c.bi.ByteSpanForPiece(p))
		}
	}
	return size
}

//LeftUntilDone returns the wanted bytes we don't have yet.
func (c *Completion) LeftUntilDone() uint64 {
	done, have := c.SizeWhenDone(), c.HasTotal()
	if have > done {
		return 0
	}
	return done - have
}

//InvalidateSizeWhenDone must be called when the wanted pieces change.
func (c *Completion) InvalidateSizeWhenDone() {
	c.sizeWhenDoneValid = false
}

func (c *Completion) invalidate() {
	c.sizeWhenDoneValid = false
	c.hasValidValid = false
}

func (c *Completion) AddBlock(block int) {
	if c.blocks.Test(block) {
		return
	}
	c.blocks.Set(block, true)
	c.sizeNow += uint64(c.bi.BlockSizeOf(block))
	c.invalidate()
}

func (c *Completion) RemoveBlock(block int) {
	if !c.blocks.Test(block) {
		return
	}
	c.blocks.Set(block, false)
	c.sizeNow -= uint64(c.bi.BlockSizeOf(block))
	c.invalidate()
}

func (c *Completion) AddPiece(piece int) {
	span := c.bi.BlockSpanForPiece(piece)
	c.sizeNow += c.missingBlockBytes(span)
	c.blocks.SetSpan(span.Begin, span.End, true)
	c.invalidate()
}

//RemovePiece clears every block of `piece`. A block shared with a
//neighbouring piece is cleared too.
func (c *Completion) RemovePiece(piece int) {
	span := c.bi.BlockSpanForPiece(piece)
	c.sizeNow -= c.blockBytes(span) - c.missingBlockBytes(span)
	c.blocks.SetSpan(span.Begin, span.End, false)
	c.invalidate()
}

func (c *Completion) SetHasPiece(piece int, has bool) {
	if has {
		c.AddPiece(piece)
	} else {
		c.RemovePiece(piece)
	}
}

//SetHasAll marks every block as present.
func (c *Completion) SetHasAll() {
	c.blocks = bitfield.NewHasAll(c.bi.BlockCount())
	c.sizeNow = c.bi.TotalSize()
	c.invalidate()
}

//SetBlocks replaces the block bitfield, e.g. when restoring resume state.
func (c *Completion) SetBlocks(blocks *bitfield.Bitfield) {
	if blocks.Size() != c.bi.BlockCount() {
		panic(fmt.Sprintf("completion: bitfield of %d bits for %d blocks", blocks.Size(), c.bi.BlockCount()))
	}
	c.blocks = blocks.Clone()
	span := blockinfo.Span{End: c.bi.BlockCount()}
	c.sizeNow = c.blockBytes(span) - c.missingBlockBytes(span)
	c.invalidate()
}

//Blocks returns a copy of the block bitfield.
func (c *Completion) Blocks() *bitfield.Bitfield {
	return c.blocks.Clone()
}

//CreatePieceBitfield returns a bitfield with the pieces we fully have.
func (c *Completion) CreatePieceBitfield() *bitfield.Bitfield {
	n := c.bi.PieceCount()
	if c.HasAll() {
		return bitfield.NewHasAll(n)
	}
	bf := bitfield.New(n)
	if c.HasNone() {
		return bf
	}
	for p := 0; p < n; p++ {
		if c.HasPiece(p) {
			bf.Set(p, true)
		}
	}
	return bf
}

func (c *Completion) CountMissingBlocksInPiece(piece int) int {
	span := c.bi.BlockSpanForPiece(piece)
	return span.Len() - c.blocks.CountSpan(span.Begin, span.End)
}

func (c *Completion) CountMissingBytesInPiece(piece int) uint64 {
	return uint64(c.bi.PieceSizeOf(piece)) - c.CountHasBytesInSpan(c.bi.ByteSpanForPiece(piece))
}

//CountHasBytesInSpan returns how many bytes of `span` are in blocks we have.
//Only the part of the first and the last block that falls into `span`
//is counted.
func (c *Completion) CountHasBytesInSpan(span blockinfo.ByteSpan) uint64 {
	if span.End > c.bi.TotalSize() {
		span.End = c.bi.TotalSize()
	}
	if span.Begin >= span.End {
		return 0
	}
	first := c.bi.ByteLoc(span.Begin).Block
	last := c.bi.ByteLoc(span.End - 1).Block
	if first == last {
		if c.blocks.Test(first) {
			return span.Len()
		}
		return 0
	}
	var n uint64
	if c.blocks.Test(first) {
		n += uint64(first+1)*blockinfo.BlockSize - span.Begin
	}
	if first+1 < last {
		n += uint64(c.blocks.CountSpan(first+1, last)) * blockinfo.BlockSize
	}
	if c.blocks.Test(last) {
		n += span.End - uint64(last)*blockinfo.BlockSize
	}
	return n
}

//sum of the sizes of the blocks in `span`
func (c *Completion) blockBytes(span blockinfo.Span) uint64 {
	if span.Len() <= 0 {
		return 0
	}
	n := uint64(span.Len()) * blockinfo.BlockSize
	if span.End == c.bi.BlockCount() {
		n -= blockinfo.BlockSize - uint64(c.bi.FinalBlockSize())
	}
	return n
}

//sum of the sizes of the blocks in `span` we don't have
func (c *Completion) missingBlockBytes(span blockinfo.Span) uint64 {
	if span.Len() <= 0 {
		return 0
	}
	missing := span.Len() - c.blocks.CountSpan(span.Begin, span.End)
	n := uint64(missing) * blockinfo.BlockSize
	if final := c.bi.BlockCount() - 1; span.End == c.bi.BlockCount() && !c.blocks.Test(final) {
		n -= blockinfo.BlockSize - uint64(c.bi.FinalBlockSize())
	}
	return n
}

//PercentComplete returns the fraction of the torrent's bytes we have.
func (c *Completion) PercentComplete() float64 {
	total := c.bi.TotalSize()
	if total == 0 {
		return 1
	}
	return clamp(float64(c.HasTotal()) / float64(total))
}

//PercentDone returns the fraction of the wanted bytes we have.
func (c *Completion) PercentDone() float64 {
	done := c.SizeWhenDone()
	if done == 0 {
		return 1
	}
	return clamp(float64(done-c.LeftUntilDone()) / float64(done))
}

func (c *Completion) Status() Status {
	if !c.HasMetainfo() {
		return Leech
	}
	if c.HasAll() {
		return Seed
	}
	if c.HasTotal() == c.SizeWhenDone() {
		return PartialSeed
	}
	return Leech
}

//AmountDone splits the blocks in len(tab) contiguous buckets and fills each
//entry with the fraction of the bucket's blocks we have.
func (c *Completion) AmountDone(tab []float32) {
	if len(tab) == 0 {
		return
	}
	n := c.bi.BlockCount()
	if n == 0 {
		for i := range tab {
			tab[i] = 0
		}
		return
	}
	for i := range tab {
		begin := i * n / len(tab)
		end := (i + 1) * n / len(tab)
		//more buckets than blocks
		if end <= begin {
			end = begin + 1
		}
		tab[i] = float32(c.blocks.CountSpan(begin, end)) / float32(end-begin)
	}
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
