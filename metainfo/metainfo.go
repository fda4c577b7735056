//Package metainfo provides the parts of a .torrent file the completion and
//verification code needs: the layout (total size, piece size), the expected
//piece hashes and the file list mapped onto torrent bytes.
package metainfo

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/anacrolix/torrent/bencode"
	anacrolix "github.com/anacrolix/torrent/metainfo"
	"github.com/lkslts64/charo-verify/blockinfo"
)

const hashSize = 20

type Hash = anacrolix.Hash

//NewHashFromHex parses a 40 character hex info hash. It panics on bad input.
func NewHashFromHex(s string) Hash {
	return anacrolix.NewHashFromHex(s)
}

var (
	ErrBadPieces     = errors.New("metainfo: SHA-1 hash of pieces has not the right length")
	ErrBadPieceLen   = errors.New("metainfo: bad piece length")
	ErrPieceCount    = errors.New("metainfo: number of piece hashes doesn't match the total length")
	ErrNotAMagnetURI = errors.New("metainfo: not a magnet uri")
)

//MetaInfo is an immutable, validated view of a torrent's info dictionary.
type MetaInfo struct {
	Info      anacrolix.Info
	InfoBytes []byte
	Hash      Hash
	//trackers are kept for display only
	Announce string

	files     []File
	blockInfo blockinfo.BlockInfo
}

//LoadTorrentFile reads and validates a .torrent file.
func LoadTorrentFile(fileName string) (*MetaInfo, error) {
	raw, err := anacrolix.LoadFromFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("load torrent: %w", err)
	}
	return fromAnacrolix(raw)
}

//Load reads and validates a bencoded torrent from r.
func Load(r io.Reader) (*MetaInfo, error) {
	raw, err := anacrolix.Load(r)
	if err != nil {
		return nil, fmt.Errorf("load torrent: %w", err)
	}
	return fromAnacrolix(raw)
}

func fromAnacrolix(raw *anacrolix.MetaInfo) (*MetaInfo, error) {
	m, err := FromInfoBytes(raw.InfoBytes)
	if err != nil {
		return nil, err
	}
	m.Announce = raw.Announce
	return m, nil
}

//FromInfoBytes builds a MetaInfo from a bencoded info dictionary, as
//received from peers when bootstrapping from a magnet link.
func FromInfoBytes(infoBytes []byte) (*MetaInfo, error) {
	var info anacrolix.Info
	if err := bencode.Unmarshal(infoBytes, &info); err != nil {
		return nil, fmt.Errorf("metainfo: decode info: %w", err)
	}
	m := &MetaInfo{
		Info:      info,
		InfoBytes: append([]byte(nil), infoBytes...),
		Hash:      anacrolix.HashBytes(infoBytes),
	}
	if err := m.parse(); err != nil {
		return nil, err
	}
	return m, nil
}

//FromInfo encodes `info` and builds a MetaInfo from it.
func FromInfo(info anacrolix.Info) (*MetaInfo, error) {
	b, err := bencode.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("metainfo: encode info: %w", err)
	}
	return FromInfoBytes(b)
}

//ParseMagnet returns the info hash and the display name of a magnet link.
func ParseMagnet(uri string) (Hash, string, error) {
	m, err := anacrolix.ParseMagnetURI(uri)
	if err != nil {
		return Hash{}, "", fmt.Errorf("%w: %s", ErrNotAMagnetURI, err)
	}
	return m.InfoHash, m.DisplayName, nil
}

//parse makes some checks on the info dictionary and derives the layout.
func (m *MetaInfo) parse() error {
	info := &m.Info
	if len(info.Pieces)%hashSize != 0 {
		return ErrBadPieces
	}
	if info.PieceLength <= 0 || info.PieceLength > math.MaxUint32 {
		return fmt.Errorf("%w: %d", ErrBadPieceLen, info.PieceLength)
	}
	total := info.TotalLength()
	if total < 0 {
		return fmt.Errorf("metainfo: negative total length %d", total)
	}
	m.blockInfo = blockinfo.New(uint64(total), uint32(info.PieceLength))
	if m.blockInfo.PieceCount() != info.NumPieces() {
		return fmt.Errorf("%w: have %d hashes for %d pieces", ErrPieceCount, info.NumPieces(), m.blockInfo.PieceCount())
	}
	var off uint64
	for _, fi := range info.UpvertedFiles() {
		if fi.Length < 0 {
			return fmt.Errorf("metainfo: negative file length %d", fi.Length)
		}
		m.files = append(m.files, File{
			Path:   fi.Path,
			Len:    uint64(fi.Length),
			Offset: off,
		})
		off += uint64(fi.Length)
	}
	return nil
}

func (m *MetaInfo) Name() string {
	return m.Info.Name
}

//BlockInfo returns the layout of the torrent.
func (m *MetaInfo) BlockInfo() blockinfo.BlockInfo {
	return m.blockInfo
}

func (m *MetaInfo) TotalSize() uint64 {
	return m.blockInfo.TotalSize()
}

func (m *MetaInfo) PieceSize() uint32 {
	return m.blockInfo.PieceSize()
}

func (m *MetaInfo) PieceCount() int {
	return m.blockInfo.PieceCount()
}

//PieceHash returns the expected SHA-1 of `piece`.
func (m *MetaInfo) PieceHash(piece int) (h [hashSize]byte) {
	copy(h[:], m.Info.Pieces[piece*hashSize:(piece+1)*hashSize])
	return
}
