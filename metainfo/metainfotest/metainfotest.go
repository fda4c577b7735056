//Package metainfotest builds torrents from in-memory content for tests.
package metainfotest

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	anacrolix "github.com/anacrolix/torrent/metainfo"
	"github.com/lkslts64/charo-verify/metainfo"
	"github.com/stretchr/testify/require"
)

//FileData is a file of the torrent and its content.
type FileData struct {
	Path []string
	Data []byte
}

//New returns a torrent named `name` over `files`. A single file with a nil
//path makes a single-file torrent.
func New(t testing.TB, name string, pieceLen int64, files ...FileData) *metainfo.MetaInfo {
	info := anacrolix.Info{
		Name:        name,
		PieceLength: pieceLen,
	}
	var all []byte
	if len(files) == 1 && files[0].Path == nil {
		info.Length = int64(len(files[0].Data))
		all = files[0].Data
	} else {
		for _, f := range files {
			info.Files = append(info.Files, anacrolix.FileInfo{
				Length: int64(len(f.Data)),
				Path:   f.Path,
			})
			all = append(all, f.Data...)
		}
	}
	for i := int64(0); i < int64(len(all)); i += pieceLen {
		end := i + pieceLen
		if end > int64(len(all)) {
			end = int64(len(all))
		}
		h := sha1.Sum(all[i:end])
		info.Pieces = append(info.Pieces, h[:]...)
	}
	m, err := metainfo.FromInfo(info)
	require.NoError(t, err)
	return m
}

//Content returns `n` bytes of deterministic, non-repeating-per-piece data.
func Content(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7) ^ byte(i>>8) ^ seed
	}
	return b
}

//Write stores `files` under `dir` where the torrent expects them.
func Write(t testing.TB, dir string, m *metainfo.MetaInfo, files ...FileData) {
	for i, f := range files {
		name := m.FilePath(dir, i)
		require.NoError(t, os.MkdirAll(filepath.Dir(name), 0755))
		require.NoError(t, os.WriteFile(name, f.Data, 0644))
	}
}

//WriteTorrentFile saves `m` as a .torrent file at `name`.
func WriteTorrentFile(t testing.TB, name string, m *metainfo.MetaInfo) {
	f, err := os.Create(name)
	require.NoError(t, err)
	defer f.Close()
	raw := anacrolix.MetaInfo{
		Announce:  m.Announce,
		InfoBytes: m.InfoBytes,
	}
	require.NoError(t, raw.Write(f))
}
