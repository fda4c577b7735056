package torrent

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lkslts64/charo-verify/bitfield"
	"github.com/lkslts64/charo-verify/blockinfo"
	"github.com/lkslts64/charo-verify/metainfo"
	"github.com/lkslts64/charo-verify/torrent/completion"
	"github.com/lkslts64/charo-verify/torrent/resume"
	"github.com/lkslts64/charo-verify/torrent/storage"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

var (
	ErrMetainfoNotAvailable = errors.New("torrent: metainfo not yet available")
	ErrFilesDisappeared     = errors.New("torrent: no data found! Ensure your drives are connected or use \"force\" to re-verify")
	ErrInfoHashMismatch     = errors.New("torrent: info doesn't match the info hash")
	ErrBadBlock             = errors.New("torrent: bad block")
)

type VerifyState int

const (
	VerifyNone VerifyState = iota
	VerifyQueued
	VerifyActive
)

func (s VerifyState) String() string {
	switch s {
	case VerifyQueued:
		return "queued"
	case VerifyActive:
		return "active"
	default:
		return "none"
	}
}

//Torrent is a torrent whose local data we keep track of.
//All fields below `mu` are protected by it. The lock is never held while
//calling into the verify worker.
type Torrent struct {
	cl   *Client
	hash metainfo.Hash

	verifyProgress atomic.Float64
	stats          torrentStats

	mu     sync.Mutex
	logger zerolog.Logger
	name   string
	//nil until we have the info
	mi         *metainfo.MetaInfo
	storage    storage.Storage
	completion *completion.Completion
	wanted     *wantedPieces
	//pieces checked since their files' mtimes were recorded
	checked *bitfield.Bitfield
	//file mtimes in unix nanoseconds, 0 if the file was missing
	mtimes       []int64
	verifyState  VerifyState
	verifyStart  time.Time
	verifyDoneCb func(t *Torrent, aborted bool)
	completeness completion.Status
	//local error, like files that disappeared
	err error
	//resume state needs saving
	dirty   bool
	stopped bool
}

func newTorrent(cl *Client, hash metainfo.Hash, name string) *Torrent {
	if name == "" {
		name = hash.HexString()
	}
	t := &Torrent{
		cl:     cl,
		hash:   hash,
		name:   name,
		logger: cl.logger.With().Str("torrent", name).Logger(),
		wanted: newWantedPieces(nil),
	}
	t.completion = completion.New(t.wanted, blockinfo.BlockInfo{})
	t.checked = bitfield.New(0)
	return t
}

//setInfo builds all the state that depends on the info. Must hold t.mu.
func (t *Torrent) setInfo(mi *metainfo.MetaInfo) {
	t.mi = mi
	t.name = mi.Name()
	t.logger = t.cl.logger.With().Str("torrent", t.name).Logger()
	t.storage = t.cl.config.OpenStorage(mi, t.cl.config.BaseDir, t.logger)
	t.wanted = newWantedPieces(mi)
	t.completion = completion.New(t.wanted, mi.BlockInfo())
	t.checked = bitfield.New(mi.PieceCount())
	t.mtimes = make([]int64, mi.FileCount())
	t.completeness = t.completion.Status()
	t.dirty = true
}

func (t *Torrent) numPieces() int {
	if t.mi == nil {
		return 0
	}
	return t.mi.PieceCount()
}

func (t *Torrent) mtimeOf(file int) int64 {
	mtime, ok := t.storage.Mtime(file)
	if !ok {
		return 0
	}
	return mtime
}

func (t *Torrent) refreshMtimes() {
	for f := range t.mtimes {
		t.mtimes[f] = t.mtimeOf(f)
	}
}

func (t *Torrent) uncheckFile(file int) {
	span := t.mi.PiecesInFile(file)
	t.checked.SetSpan(span.Begin, span.End, false)
	t.dirty = true
}

//fileChanged is called by the file watcher. Our own writes record the new
//mtime, so they are ignored here.
func (t *Torrent) fileChanged(file int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mi == nil || file >= len(t.mtimes) {
		return
	}
	mtime := t.mtimeOf(file)
	if mtime != 0 && mtime == t.mtimes[file] {
		return
	}
	t.logger.Debug().Int("file", file).Msg("file changed on disk")
	t.mtimes[file] = mtime
	t.uncheckFile(file)
}

//pieceChecked records the result of hashing a piece whose blocks were all
//present. Must hold t.mu.
func (t *Torrent) pieceChecked(piece int, pass bool) {
	t.completion.SetHasPiece(piece, pass)
	t.checked.Set(piece, pass)
	t.dirty = true
	if !pass {
		t.stats.corruptPieces.Inc()
		t.logger.Warn().Int("piece", piece).Msg("piece failed hash check")
	}
	t.recheckCompleteness()
}

//Must hold t.mu.
func (t *Torrent) recheckCompleteness() {
	status := t.completion.Status()
	if status == t.completeness {
		return
	}
	t.logger.Info().
		Stringer("from", t.completeness).
		Stringer("to", status).
		Msg("completeness changed")
	t.completeness = status
	t.dirty = true
}

//filesDisappeared reports whether we had data but none of the files exist
//anymore. Must hold t.mu.
func (t *Torrent) filesDisappeared() bool {
	return t.completion.HasTotal() > 0 && !t.storage.HasAnyLocalData()
}

func (t *Torrent) resumeState() (st resume.State) {
	st.Blocks = t.completion.Blocks().Bytes()
	st.Checked = t.checked.Bytes()
	st.Mtimes = append([]int64(nil), t.mtimes...)
	st.Unwanted = t.wanted.unwantedFiles()
	return
}

//saveResume persists the resume state if it changed.
func (t *Torrent) saveResume() {
	if t.cl.resume == nil {
		return
	}
	t.mu.Lock()
	if t.mi == nil || !t.dirty {
		t.mu.Unlock()
		return
	}
	st := t.resumeState()
	t.dirty = false
	t.mu.Unlock()
	if err := t.cl.resume.Save(t.hash, st); err != nil {
		t.logger.Error().Err(err).Msg("saving resume state")
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
	}
}

//loadResume restores the resume state. Returns false if there was none.
func (t *Torrent) loadResume() bool {
	if t.cl.resume == nil {
		return false
	}
	st, err := t.cl.resume.Load(t.hash)
	if err != nil {
		if !errors.Is(err, resume.ErrNotFound) {
			t.logger.Warn().Err(err).Msg("loading resume state")
		}
		return false
	}
	t.mu.Lock()
	bi := t.mi.BlockInfo()
	t.mu.Unlock()
	blocks, err := bitfield.FromBytes(bi.BlockCount(), st.Blocks)
	if err != nil {
		t.logger.Warn().Err(err).Msg("bad blocks in resume state")
		return false
	}
	checked, err := bitfield.FromBytes(bi.PieceCount(), st.Checked)
	if err != nil {
		t.logger.Warn().Err(err).Msg("bad checked pieces in resume state")
		return false
	}
	t.mu.Lock()
	t.wanted.setFilesWanted(validFiles(st.Unwanted, t.mi.FileCount()), false)
	t.completion.SetBlocks(blocks)
	t.recheckCompleteness()
	t.mu.Unlock()
	if err = t.InitCheckedPieces(checked, st.Mtimes); err != nil {
		t.logger.Warn().Err(err).Msg("restoring checked pieces")
		return false
	}
	t.mu.Lock()
	t.dirty = false
	t.mu.Unlock()
	t.logger.Debug().Int("checked", checked.Count()).Msg("restored resume state")
	return true
}

func validFiles(files []int, n int) (valid []int) {
	for _, f := range files {
		if f >= 0 && f < n {
			valid = append(valid, f)
		}
	}
	return
}

//needsVerify reports whether some piece with data has not been checked.
func (t *Torrent) needsVerify() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mi == nil {
		return false
	}
	for p := 0; p < t.mi.PieceCount(); p++ {
		if !t.checked.Test(p) && t.completion.CountMissingBlocksInPiece(p) < t.completion.BlockInfo().BlockSpanForPiece(p).Len() {
			return true
		}
	}
	return false
}

func (t *Torrent) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("%s (%s)", t.name, t.hash.HexString())
}
