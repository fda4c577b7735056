package torrent

import (
	"github.com/anacrolix/missinggo/bitmap"
	"github.com/lkslts64/charo-verify/metainfo"
)

//wantedPieces derives the pieces the user wants from the files the user
//wants. A piece shared by a wanted and an unwanted file is wanted.
//It is guarded by the torrent's lock.
type wantedPieces struct {
	mi       *metainfo.MetaInfo
	unwanted bitmap.Bitmap
	pieces   bitmap.Bitmap
}

//all files are initially wanted. `mi` may be nil if we don't have the info yet.
func newWantedPieces(mi *metainfo.MetaInfo) *wantedPieces {
	w := &wantedPieces{mi: mi}
	w.recompute()
	return w
}

func (w *wantedPieces) PieceIsWanted(piece int) bool {
	return w.pieces.Get(piece)
}

func (w *wantedPieces) fileIsWanted(file int) bool {
	return !w.unwanted.Get(file)
}

func (w *wantedPieces) setFilesWanted(files []int, wanted bool) {
	for _, f := range files {
		w.unwanted.Set(f, !wanted)
	}
	w.recompute()
}

func (w *wantedPieces) unwantedFiles() []int {
	return w.unwanted.ToSortedSlice()
}

func (w *wantedPieces) recompute() {
	var pieces bitmap.Bitmap
	if w.mi != nil {
		for f := 0; f < w.mi.FileCount(); f++ {
			if w.unwanted.Get(f) {
				continue
			}
			span := w.mi.PiecesInFile(f)
			if span.Len() > 0 {
				pieces.AddRange(span.Begin, span.End)
			}
		}
	}
	w.pieces = pieces
}
