package torrent

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/lkslts64/charo-verify/bitfield"
	"github.com/lkslts64/charo-verify/metainfo"
	"github.com/lkslts64/charo-verify/torrent/completion"
	"github.com/lkslts64/charo-verify/torrent/verify"
)

//width of the progress bar of WriteStatus
const statusBarWidth = 50

type Activity int

const (
	ActivityStopped Activity = iota
	//waiting for the verify worker
	ActivityCheckWait
	ActivityCheck
	//some wanted data is missing
	ActivityIncomplete
	ActivitySeed
)

func (a Activity) String() string {
	switch a {
	case ActivityStopped:
		return "stopped"
	case ActivityCheckWait:
		return "waiting to verify"
	case ActivityCheck:
		return "verifying"
	case ActivityIncomplete:
		return "incomplete"
	default:
		return "seeding"
	}
}

func (t *Torrent) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

func (t *Torrent) InfoHash() metainfo.Hash {
	return t.hash
}

//Metainfo returns the metainfo of the torrent or nil of its not available
func (t *Torrent) Metainfo() *metainfo.MetaInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mi
}

func (t *Torrent) HasPiece(piece int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completion.HasPiece(piece)
}

//IsPieceChecked reports whether `piece` was hashed since its files last
//changed.
func (t *Torrent) IsPieceChecked(piece int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checked.Test(piece)
}

//Blocks returns a copy of the blocks we have.
func (t *Torrent) Blocks() *bitfield.Bitfield {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completion.Blocks()
}

//SetBlocks replaces the blocks we have, e.g with ones saved elsewhere.
func (t *Torrent) SetBlocks(blocks *bitfield.Bitfield) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mi == nil {
		return ErrMetainfoNotAvailable
	}
	if n := t.completion.BlockInfo().BlockCount(); blocks.Size() != n {
		return fmt.Errorf("torrent: have %d blocks, want %d", blocks.Size(), n)
	}
	t.completion.SetBlocks(blocks)
	t.dirty = true
	t.recheckCompleteness()
	return nil
}

//AmountDone splits the torrent in `n` equal parts and returns how much of
//each we have, from 0 to 1.
func (t *Torrent) AmountDone(n int) []float32 {
	tab := make([]float32, n)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completion.AmountDone(tab)
	return tab
}

func (t *Torrent) VerifyState() VerifyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.verifyState
}

//VerifyProgress returns the fraction of pieces checked by the current
//verification pass.
func (t *Torrent) VerifyProgress() float64 {
	return t.verifyProgress.Load()
}

func (t *Torrent) Completeness() completion.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completeness
}

//Err returns the local error of the torrent, if any.
func (t *Torrent) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Torrent) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked()
}

func (t *Torrent) statsLocked() Stats {
	s := Stats{
		PieceCount:     t.numPieces(),
		PiecesChecked:  t.checked.Count(),
		CorruptPieces:  t.stats.corruptPieces.Load(),
		BlocksReceived: t.stats.blocksReceived.Load(),
		VerifyPasses:   t.stats.verifyPasses.Load(),
		Completeness:   t.completeness,
	}
	if t.mi != nil {
		s.HaveTotal = t.completion.HasTotal()
		s.HaveValid = t.completion.HasValid()
		s.SizeWhenDone = t.completion.SizeWhenDone()
		s.LeftUntilDone = t.completion.LeftUntilDone()
	}
	return s
}

func (t *Torrent) Activity() Activity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activity()
}

func (t *Torrent) activity() Activity {
	switch {
	case t.verifyState == VerifyQueued:
		return ActivityCheckWait
	case t.verifyState == VerifyActive:
		return ActivityCheck
	case t.stopped || t.mi == nil:
		return ActivityStopped
	case t.completeness == completion.Leech:
		return ActivityIncomplete
	default:
		return ActivitySeed
	}
}

//WriteStatus writes to w a human readable message about the status of the Torrent.
func (t *Torrent) WriteStatus(w io.Writer) error {
	t.mu.Lock()
	b := new(strings.Builder)
	t.writeStatus(b)
	t.mu.Unlock()
	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Torrent) writeStatus(b *strings.Builder) {
	fmt.Fprintf(b, "Name: %s\nInfo hash: %s\n", t.name, t.hash.HexString())
	if t.mi == nil {
		b.WriteString("Waiting for metainfo\n")
		return
	}
	s := t.statsLocked()
	activity := t.activity()
	fmt.Fprintf(b, "Status: %s (%s)", activity, t.completeness)
	if activity == ActivityCheck {
		fmt.Fprintf(b, " %.1f%%", 100*t.verifyProgress.Load())
	}
	b.WriteString("\n")
	if t.err != nil {
		fmt.Fprintf(b, "Error: %s\n", t.err)
	}
	tw := tabwriter.NewWriter(b, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Have:\t%s\tValid:\t%s\t\n", humanize.Bytes(s.HaveTotal), humanize.Bytes(s.HaveValid))
	fmt.Fprintf(tw, "Size when done:\t%s\tLeft:\t%s\t\n", humanize.Bytes(s.SizeWhenDone), humanize.Bytes(s.LeftUntilDone))
	fmt.Fprintf(tw, "Checked:\t%d/%d\tCorrupt:\t%d\t\n", s.PiecesChecked, s.PieceCount, s.CorruptPieces)
	tw.Flush()
	tab := make([]float32, statusBarWidth)
	t.completion.AmountDone(tab)
	b.WriteString("[")
	for _, f := range tab {
		switch {
		case f >= 1:
			b.WriteByte('#')
		case f > 0:
			b.WriteByte('-')
		default:
			b.WriteByte(' ')
		}
	}
	b.WriteString("]\n")
}

//SetFilesWanted marks `files` as wanted or not. Pieces of unwanted files
//don't count towards SizeWhenDone.
func (t *Torrent) SetFilesWanted(files []int, wanted bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mi == nil {
		return ErrMetainfoNotAvailable
	}
	for _, f := range files {
		if f < 0 || f >= t.mi.FileCount() {
			return fmt.Errorf("torrent: no file %d", f)
		}
	}
	t.wanted.setFilesWanted(files, wanted)
	t.completion.InvalidateSizeWhenDone()
	t.dirty = true
	t.recheckCompleteness()
	return nil
}

//SetVerifyDoneCallback sets a function to be called after each verification
//pass, aborted or not. It runs on the verification goroutine and must not
//wait for verification.
func (t *Torrent) SetVerifyDoneCallback(f func(t *Torrent, aborted bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.verifyDoneCb = f
}

//Verify queues a verification pass of the torrent's local data, replacing
//any pass already queued or running. Unless `force` is set, it refuses
//if we had data but none of the files exist anymore.
func (t *Torrent) Verify(force bool) error {
	t.mu.Lock()
	if t.mi == nil {
		t.mu.Unlock()
		return ErrMetainfoNotAvailable
	}
	if !force && t.filesDisappeared() {
		t.err = ErrFilesDisappeared
		t.logger.Warn().Msg("all files are missing, not verifying")
		t.mu.Unlock()
		return ErrFilesDisappeared
	}
	t.err = nil
	t.stopped = false
	t.mu.Unlock()
	<-t.cl.verifier.Remove(t.hash)
	err := t.cl.verifier.Add(verifyMediator{t})
	if errors.Is(err, verify.ErrAlreadyQueued) {
		//a concurrent Verify beat us to it
		return nil
	}
	return err
}

//Stop aborts any verification of the torrent and saves its resume state.
func (t *Torrent) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	<-t.cl.verifier.Remove(t.hash)
	t.saveResume()
}

//EnsurePieceIsChecked hashes `piece` if it isn't checked and reports
//whether its data is correct. The piece is marked checked only if it is.
//Its blocks are left alone either way.
func (t *Torrent) EnsurePieceIsChecked(piece int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mi == nil {
		return false
	}
	if t.checked.Test(piece) {
		return true
	}
	pass := t.storage.HashPiece(piece)
	t.checked.Set(piece, pass)
	t.dirty = true
	return pass
}

//GotBlock writes a block received from elsewhere. Pieces it completes are
//hashed right away and their blocks dropped if they turn out corrupt.
func (t *Torrent) GotBlock(block int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mi == nil {
		return ErrMetainfoNotAvailable
	}
	bi := t.completion.BlockInfo()
	if block < 0 || block >= bi.BlockCount() || len(data) != int(bi.BlockSizeOf(block)) {
		return fmt.Errorf("%w: %d of length %d", ErrBadBlock, block, len(data))
	}
	span := bi.ByteSpanForBlock(block)
	if _, err := t.storage.WriteAt(data, int64(span.Begin)); err != nil {
		return fmt.Errorf("write block %d: %w", block, err)
	}
	t.completion.AddBlock(block)
	t.stats.blocksReceived.Inc()
	t.dirty = true
	//our own writes don't invalidate what was checked
	for _, s := range t.mi.FileSlices(span) {
		t.mtimes[s.File] = t.mtimeOf(s.File)
	}
	pieces := bi.PieceSpanForBlock(block)
	for p := pieces.Begin; p < pieces.End; p++ {
		if t.completion.HasPiece(p) {
			t.pieceChecked(p, t.storage.HashPiece(p))
		}
	}
	return nil
}

//GotInfo sets the metainfo of a torrent added by info hash.
func (t *Torrent) GotInfo(infoBytes []byte) error {
	mi, err := metainfo.FromInfoBytes(infoBytes)
	if err != nil {
		return err
	}
	if mi.Hash != t.hash {
		return ErrInfoHashMismatch
	}
	t.mu.Lock()
	if t.mi != nil {
		t.mu.Unlock()
		return nil
	}
	t.setInfo(mi)
	t.mu.Unlock()
	t.cl.infoReady(t)
	return nil
}

//InitCheckedPieces restores the checked pieces saved along with the file
//mtimes they were checked against. Pieces of files that are missing or
//whose mtime changed are unchecked.
func (t *Torrent) InitCheckedPieces(checked *bitfield.Bitfield, mtimes []int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mi == nil {
		return ErrMetainfoNotAvailable
	}
	if checked.Size() != t.mi.PieceCount() {
		return fmt.Errorf("torrent: have %d checked pieces, want %d", checked.Size(), t.mi.PieceCount())
	}
	t.checked = checked.Clone()
	for f := range t.mtimes {
		mtime := t.mtimeOf(f)
		t.mtimes[f] = mtime
		if t.mi.FileSize(f) == 0 {
			continue
		}
		if mtime == 0 || f >= len(mtimes) || mtime != mtimes[f] {
			t.uncheckFile(f)
		}
	}
	t.dirty = true
	return nil
}

//InvalidateFile marks the pieces of `file` as unchecked, as when it
//changed on disk.
func (t *Torrent) InvalidateFile(file int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mi == nil {
		return ErrMetainfoNotAvailable
	}
	if file < 0 || file >= t.mi.FileCount() {
		return fmt.Errorf("torrent: no file %d", file)
	}
	t.mtimes[file] = t.mtimeOf(file)
	t.uncheckFile(file)
	return nil
}
