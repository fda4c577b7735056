package storage

import (
	"crypto/sha1"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/lkslts64/charo-verify/metainfo"
	"github.com/rs/zerolog"
)

//DiskIO reads torrent files straight from the local filesystem.
type DiskIO struct{}

//OpenFile opens file `name` for reading.
func (DiskIO) OpenFile(name string) (File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

//FileStorage is a file-based storage for torrent data
type FileStorage struct {
	logger zerolog.Logger
	dir    string
	mi     *metainfo.MetaInfo
	io     DiskIO
}

//OpenFileStorage returns a storage that keeps the torrent's files under
//baseDir/name.
func OpenFileStorage(mi *metainfo.MetaInfo, baseDir string, logger zerolog.Logger) Storage {
	return &FileStorage{
		logger: logger.With().Str("storage", baseDir).Logger(),
		mi:     mi,
		dir:    baseDir,
	}
}

func (s *FileStorage) FilePath(file int) string {
	return s.mi.FilePath(s.dir, file)
}

func (s *FileStorage) FindFile(file int) (string, bool) {
	name := s.FilePath(file)
	fi, err := os.Stat(name)
	if err != nil || !fi.Mode().IsRegular() {
		return "", false
	}
	return name, true
}

func (s *FileStorage) Mtime(file int) (int64, bool) {
	fi, err := os.Stat(s.FilePath(file))
	if err != nil {
		return 0, false
	}
	return fi.ModTime().UnixNano(), true
}

func (s *FileStorage) HasAnyLocalData() bool {
	for i := 0; i < s.mi.FileCount(); i++ {
		if s.mi.FileSize(i) == 0 {
			continue
		}
		if _, ok := s.FindFile(i); ok {
			return true
		}
	}
	return false
}

//limit the read to within the expected bounds of the file
func (s *FileStorage) readFileAt(file int, b []byte, off int64) (int, error) {
	flen := int64(s.mi.FileSize(file))
	if int64(len(b)) > flen-off {
		b = b[:flen-off]
	}
	f, err := s.io.OpenFile(s.FilePath(file))
	if errors.Is(err, os.ErrNotExist) {
		//file missing is treated the same as a short file.
		return 0, io.EOF
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.ReadAt(b, off)
}

//OpenFile opens a file returned by FindFile.
func (s *FileStorage) OpenFile(name string) (File, error) {
	return s.io.OpenFile(name)
}

//ReadAt only returns EOF at the end of the torrent. Premature EOF is
//ErrUnexpectedEOF.
func (s *FileStorage) ReadAt(b []byte, off int64) (n int, err error) {
	for i := 0; i < s.mi.FileCount(); i++ {
		flen := int64(s.mi.FileSize(i))
		for off < flen {
			n1, err1 := s.readFileAt(i, b, off)
			n += n1
			off += int64(n1)
			b = b[n1:]
			if len(b) == 0 {
				//got what we need.
				return n, nil
			}
			if n1 != 0 {
				continue
			}
			err = err1
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return
		}
		off -= flen
	}
	return n, io.EOF
}

func (s *FileStorage) WriteAt(p []byte, off int64) (n int, err error) {
	for i := 0; i < s.mi.FileCount(); i++ {
		flen := int64(s.mi.FileSize(i))
		if off >= flen {
			off -= flen
			continue
		}
		n1 := len(p)
		if int64(n1) > flen-off {
			n1 = int(flen - off)
		}
		name := s.FilePath(i)
		if err = os.MkdirAll(filepath.Dir(name), 0777); err != nil {
			return
		}
		var f *os.File
		f, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE, 0666)
		if err != nil {
			return
		}
		n1, err = f.WriteAt(p[:n1], off)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return
		}
		n += n1
		off = 0
		p = p[n1:]
		if len(p) == 0 {
			break
		}
	}
	return
}

//HashPiece hashes `piece` and returns if the hash was the expected.
func (s *FileStorage) HashPiece(piece int) (correct bool) {
	span := s.mi.BlockInfo().ByteSpanForPiece(piece)
	hasher := sha1.New()
	plen := int64(span.Len())
	n, err := io.Copy(hasher, io.NewSectionReader(s, int64(span.Begin), plen))
	if n != plen {
		s.logger.Debug().Err(err).Int("piece", piece).Msg("short read while hashing piece")
		return false
	}
	var sum [sha1.Size]byte
	copy(sum[:], hasher.Sum(nil))
	return sum == s.mi.PieceHash(piece)
}
