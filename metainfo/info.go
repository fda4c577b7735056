package metainfo

import (
	"path/filepath"
	"sort"

	"github.com/lkslts64/charo-verify/blockinfo"
)

//File contains information about a specific file
//in a torrent, located on the torrent's byte range.
type File struct {
	Path []string
	Len  uint64
	//offset of the file's first byte in the torrent
	Offset uint64
}

//End returns the torrent offset just past the file's last byte.
func (f File) End() uint64 {
	return f.Offset + f.Len
}

//FileSlice is the part of a file that overlaps some byte span of the torrent.
type FileSlice struct {
	File int
	//offset inside the file
	Offset uint64
	Length uint64
}

func (m *MetaInfo) FileCount() int {
	return len(m.files)
}

func (m *MetaInfo) File(i int) File {
	return m.files[i]
}

func (m *MetaInfo) FileSize(i int) uint64 {
	return m.files[i].Len
}

func (m *MetaInfo) Files() []File {
	return append([]File(nil), m.files...)
}

//FilePath returns where file `i` is stored under `dir`. Single-file torrents
//are stored at dir/name.
func (m *MetaInfo) FilePath(dir string, i int) string {
	return filepath.Join(append([]string{dir, m.Name()}, m.files[i].Path...)...)
}

//FileSlices splits `span` into the file regions it covers, in file order.
//Zero-length files never appear.
func (m *MetaInfo) FileSlices(span blockinfo.ByteSpan) []FileSlice {
	if span.Begin >= span.End {
		return nil
	}
	first := sort.Search(len(m.files), func(i int) bool {
		return m.files[i].End() > span.Begin
	})
	var slices []FileSlice
	for i := first; i < len(m.files) && m.files[i].Offset < span.End; i++ {
		f := m.files[i]
		if f.Len == 0 {
			continue
		}
		begin, end := f.Offset, f.End()
		if span.Begin > begin {
			begin = span.Begin
		}
		if span.End < end {
			end = span.End
		}
		slices = append(slices, FileSlice{
			File:   i,
			Offset: begin - f.Offset,
			Length: end - begin,
		})
	}
	return slices
}

//PiecesInFile returns the span of pieces holding bytes of file `i`.
//A zero-length file gets the single piece its offset falls into; one sitting
//at the very end of the torrent belongs to the last piece.
func (m *MetaInfo) PiecesInFile(i int) blockinfo.Span {
	if m.blockInfo.PieceCount() == 0 {
		return blockinfo.Span{}
	}
	f := m.files[i]
	last := f.Offset
	if f.Len > 0 {
		last = f.End() - 1
	}
	return blockinfo.Span{
		Begin: m.blockInfo.ByteLoc(f.Offset).Piece,
		End:   m.blockInfo.ByteLoc(last).Piece + 1,
	}
}

//FilesInPiece returns the indices of the files that have bytes in `piece`.
func (m *MetaInfo) FilesInPiece(piece int) []int {
	var files []int
	for _, s := range m.FileSlices(m.blockInfo.ByteSpanForPiece(piece)) {
		files = append(files, s.File)
	}
	return files
}
