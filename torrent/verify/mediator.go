package verify

import (
	"github.com/lkslts64/charo-verify/blockinfo"
	"github.com/lkslts64/charo-verify/metainfo"
	"github.com/lkslts64/charo-verify/torrent/storage"
)

//Metainfo is what the worker needs to know about a torrent's data.
//*metainfo.MetaInfo implements it.
type Metainfo interface {
	BlockInfo() blockinfo.BlockInfo
	PieceHash(piece int) [20]byte
	FileSlices(span blockinfo.ByteSpan) []metainfo.FileSlice
}

//Mediator is implemented by the torrent being verified. The worker reports
//through it and never touches the torrent otherwise.
//
//OnVerifyQueued is called with the worker's lock held and must not call back
//into the Worker. The other callbacks are free to. An implementation must not
//hold its own lock while calling Worker methods.
type Mediator interface {
	InfoHash() metainfo.Hash
	Metainfo() Metainfo
	//FindFile returns the local path of `file` or false if it doesn't exist
	FindFile(file int) (name string, ok bool)
	OnVerifyQueued()
	OnVerifyStarted()
	OnPieceChecked(piece int, has bool)
	OnVerifyDone(aborted bool)
}

//FileIO opens the files named by Mediator.FindFile. A Mediator that
//implements FileIO is read through instead of the worker's own FileIO.
type FileIO interface {
	OpenFile(name string) (storage.File, error)
}
