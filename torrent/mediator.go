package torrent

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lkslts64/charo-verify/metainfo"
	"github.com/lkslts64/charo-verify/torrent/storage"
	"github.com/lkslts64/charo-verify/torrent/verify"
)

//verifyMediator is what the verify worker sees of a Torrent.
//None of its callbacks call into the worker.
type verifyMediator struct {
	t *Torrent
}

func (m verifyMediator) InfoHash() metainfo.Hash {
	return m.t.hash
}

func (m verifyMediator) Metainfo() verify.Metainfo {
	m.t.mu.Lock()
	defer m.t.mu.Unlock()
	return m.t.mi
}

func (m verifyMediator) FindFile(file int) (string, bool) {
	m.t.mu.Lock()
	defer m.t.mu.Unlock()
	return m.t.storage.FindFile(file)
}

//OpenFile makes the worker read piece data through the torrent's storage.
func (m verifyMediator) OpenFile(name string) (storage.File, error) {
	m.t.mu.Lock()
	s := m.t.storage
	m.t.mu.Unlock()
	return s.OpenFile(name)
}

func (m verifyMediator) OnVerifyQueued() {
	t := m.t
	t.mu.Lock()
	defer t.mu.Unlock()
	t.verifyState = VerifyQueued
	t.verifyProgress.Store(0)
}

func (m verifyMediator) OnVerifyStarted() {
	t := m.t
	t.mu.Lock()
	defer t.mu.Unlock()
	t.verifyState = VerifyActive
	t.verifyStart = time.Now()
	//pieces checked from now on are checked against these
	t.refreshMtimes()
	t.stats.verifyPasses.Inc()
	t.logger.Debug().Msg("verification started")
}

func (m verifyMediator) OnPieceChecked(piece int, has bool) {
	t := m.t
	t.mu.Lock()
	defer t.mu.Unlock()
	had := t.completion.HasPiece(piece)
	//a piece we never had and still don't leaves its partial blocks alone
	if has || had {
		t.completion.SetHasPiece(piece, has)
		if had && !has {
			t.stats.corruptPieces.Inc()
		}
	}
	t.checked.Set(piece, true)
	t.dirty = true
	t.verifyProgress.Store(clamp(float64(piece+1) / float64(t.numPieces())))
}

func (m verifyMediator) OnVerifyDone(aborted bool) {
	t := m.t
	t.mu.Lock()
	if t.verifyState == VerifyActive {
		took := time.Since(t.verifyStart)
		var perSec float64
		if took > 0 {
			perSec = float64(t.mi.TotalSize()) / took.Seconds()
		}
		t.logger.Info().
			Bool("aborted", aborted).
			Dur("took", took).
			Str("rate", humanize.Bytes(uint64(perSec))+"/s").
			Msg("verification done")
	}
	t.verifyState = VerifyNone
	if !aborted {
		t.recheckCompleteness()
	}
	cb := t.verifyDoneCb
	t.mu.Unlock()
	t.saveResume()
	if cb != nil {
		cb(t, aborted)
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
