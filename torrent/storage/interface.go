package storage

import (
	"io"

	"github.com/lkslts64/charo-verify/metainfo"
	"github.com/rs/zerolog"
)

//Open returns a Storage for the torrent described by `mi`, rooted at `baseDir`.
type Open func(mi *metainfo.MetaInfo, baseDir string, logger zerolog.Logger) Storage

//Storage is the interface every storage should adhere to.
//Offsets of ReadAt and WriteAt are torrent offsets.
type Storage interface {
	io.ReaderAt
	io.WriterAt
	//FindFile returns the path of file `file` if it exists locally
	FindFile(file int) (name string, ok bool)
	//OpenFile opens a path returned by FindFile. Reads are file offsets
	OpenFile(name string) (File, error)
	//Mtime returns the modification time of file `file` in unix nanoseconds
	Mtime(file int) (mtime int64, ok bool)
	//HashPiece reports whether the local data of `piece` has the expected hash
	HashPiece(piece int) (correct bool)
	//HasAnyLocalData reports whether at least one non-empty file exists
	HasAnyLocalData() bool
}

//File is an open file of a torrent.
type File interface {
	io.ReaderAt
	io.Closer
}
