package torrent

import (
	"github.com/lkslts64/charo-verify/torrent/completion"
	"go.uber.org/atomic"
)

//Stats contains statistics about a Torrent
type Stats struct {
	//bytes of the blocks we have
	HaveTotal uint64
	//bytes of the pieces we fully have
	HaveValid uint64
	//bytes we will have once all wanted pieces are there
	SizeWhenDone  uint64
	LeftUntilDone uint64
	//pieces whose hash was checked since their files last changed
	PiecesChecked int
	PieceCount    int
	//pieces that failed their hash check although all their blocks were there
	CorruptPieces  uint32
	BlocksReceived uint32
	VerifyPasses   uint32
	Completeness   completion.Status
}

//counters updated without the torrent's lock held by readers
type torrentStats struct {
	corruptPieces  atomic.Uint32
	blocksReceived atomic.Uint32
	verifyPasses   atomic.Uint32
}
