//Package verify checks the local data of torrents against their piece
//hashes. A single Worker serves every torrent of a client, one torrent at a
//time and one piece at a time.
package verify

import (
	"context"
	"crypto/sha1"
	"errors"
	"hash"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lkslts64/charo-verify/metainfo"
	"github.com/lkslts64/charo-verify/torrent/storage"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

const DefaultReadBufferSize = 128 * 1024

var (
	ErrAlreadyQueued = errors.New("verify: torrent is already queued")
	ErrClosed        = errors.New("verify: worker is closed")
)

//Config tunes the disk access of a Worker.
type Config struct {
	//size of each read. Defaults to DefaultReadBufferSize
	ReadBufferSize int
	//bytes per second read from disk. Zero means unlimited
	RateLimit int64
}

type job struct {
	m    Mediator
	hash metainfo.Hash
	//checked between pieces
	aborted atomic.Bool
	//closed after OnVerifyDone returns
	done chan struct{}
}

//Worker verifies queued torrents in FIFO order on the goroutine that calls
//Run.
type Worker struct {
	logger  zerolog.Logger
	files   FileIO
	bufSize int
	limiter *rate.Limiter
	//cancels throttled reads on Close
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queue   jobQueue
	current *job
	started bool
	closed  bool

	wake      chan struct{}
	drop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

//NewWorker returns a worker reading through `files` unless a Mediator brings
//its own FileIO.
func NewWorker(files FileIO, cfg Config, logger zerolog.Logger) *Worker {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	w := &Worker{
		logger:  logger.With().Str("component", "verify").Logger(),
		files:   files,
		bufSize: cfg.ReadBufferSize,
		wake:    make(chan struct{}, 1),
		drop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.ReadBufferSize)
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w
}

//Run verifies queued torrents until Close is called.
func (w *Worker) Run() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	defer close(w.stopped)
	for {
		j := w.next()
		if j == nil {
			return
		}
		w.verify(j)
	}
}

//next blocks until there is a job and makes it the current one.
//Returns nil when the worker closes.
func (w *Worker) next() *job {
	for {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return nil
		}
		if j := w.queue.pop(); j != nil {
			w.current = j
			w.mu.Unlock()
			return j
		}
		w.mu.Unlock()
		select {
		case <-w.wake:
		case <-w.drop:
			return nil
		}
	}
}

//Add queues a verification pass of the mediator's torrent.
func (w *Worker) Add(m Mediator) error {
	j := &job{
		m:    m,
		hash: m.InfoHash(),
		done: make(chan struct{}),
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.queue.find(j.hash) != nil {
		return ErrAlreadyQueued
	}
	if c := w.current; c != nil && c.hash == j.hash && !c.aborted.Load() {
		return ErrAlreadyQueued
	}
	m.OnVerifyQueued()
	w.queue.push(j)
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

//Remove cancels the verification of `hash`. A queued pass is dropped and
//reported as aborted right away; an active one stops at the next piece
//boundary. The returned channel is closed once OnVerifyDone has returned.
func (w *Worker) Remove(hash metainfo.Hash) <-chan struct{} {
	w.mu.Lock()
	if j := w.queue.remove(hash); j != nil {
		w.mu.Unlock()
		j.m.OnVerifyDone(true)
		close(j.done)
		return j.done
	}
	if c := w.current; c != nil && c.hash == hash {
		c.aborted.Store(true)
		w.mu.Unlock()
		return c.done
	}
	w.mu.Unlock()
	return closedCh
}

//Drain waits until there is nothing left to verify.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		w.mu.Lock()
		j := w.queue.back()
		if j == nil {
			j = w.current
		}
		w.mu.Unlock()
		if j == nil {
			return nil
		}
		select {
		case <-j.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

//Pending returns the number of queued torrents, the active one included.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.queue.len()
	if w.current != nil {
		n++
	}
	return n
}

//Close aborts all verification and waits for Run to return.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		if w.current != nil {
			w.current.aborted.Store(true)
		}
		dropped := w.queue.clear()
		started := w.started
		w.mu.Unlock()
		for _, j := range dropped {
			j.m.OnVerifyDone(true)
			close(j.done)
		}
		w.cancel()
		close(w.drop)
		if started {
			<-w.stopped
		}
	})
}

func (w *Worker) verify(j *job) {
	logger := w.logger.With().Str("torrent", j.hash.HexString()).Logger()
	j.m.OnVerifyStarted()
	start := time.Now()
	read := w.verifyTorrent(j)
	aborted := j.aborted.Load()
	logger.Debug().
		Bool("aborted", aborted).
		Dur("took", time.Since(start)).
		Str("read", humanize.Bytes(read)).
		Msg("verification pass finished")
	j.m.OnVerifyDone(aborted)
	w.mu.Lock()
	w.current = nil
	close(j.done)
	w.mu.Unlock()
}

//openFile holds the file last read during a pass, so the chunks and the
//pieces of one file share a handle.
type openFile struct {
	files FileIO
	name  string
	f     storage.File
}

func (o *openFile) get(name string) (storage.File, error) {
	if o.f != nil && o.name == name {
		return o.f, nil
	}
	o.close()
	f, err := o.files.OpenFile(name)
	if err != nil {
		return nil, err
	}
	o.name, o.f = name, f
	return f, nil
}

func (o *openFile) close() {
	if o.f == nil {
		return
	}
	o.f.Close()
	o.f = nil
}

//verifyTorrent checks every piece in ascending order and returns the number
//of bytes read.
func (w *Worker) verifyTorrent(j *job) (read uint64) {
	mi := j.m.Metainfo()
	of := &openFile{files: w.files}
	if files, ok := j.m.(FileIO); ok {
		of.files = files
	}
	defer of.close()
	buf := make([]byte, w.bufSize)
	h := sha1.New()
	for piece := 0; piece < mi.BlockInfo().PieceCount(); piece++ {
		if j.aborted.Load() {
			return
		}
		has, n, err := w.checkPiece(j.m, mi, of, piece, buf, h)
		read += n
		if err != nil {
			//throttling was interrupted, so the piece is not known
			return
		}
		j.m.OnPieceChecked(piece, has)
	}
	return
}

//checkPiece hashes the local data of `piece`. Missing files and short reads
//make the piece absent. The error is set only if the worker is closing.
func (w *Worker) checkPiece(m Mediator, mi Metainfo, of *openFile, piece int, buf []byte, h hash.Hash) (has bool, read uint64, err error) {
	h.Reset()
	for _, s := range mi.FileSlices(mi.BlockInfo().ByteSpanForPiece(piece)) {
		name, ok := m.FindFile(s.File)
		if !ok {
			return false, read, nil
		}
		f, oerr := of.get(name)
		if oerr != nil {
			w.logger.Debug().Err(oerr).Str("file", name).Int("piece", piece).Msg("can't open file")
			return false, read, nil
		}
		off, left := s.Offset, s.Length
		for left > 0 {
			n := uint64(len(buf))
			if left < n {
				n = left
			}
			if err = w.throttle(int(n)); err != nil {
				return false, read, err
			}
			got, rerr := f.ReadAt(buf[:n], int64(off))
			read += uint64(got)
			if uint64(got) != n {
				w.logger.Debug().Err(rerr).Str("file", name).Int("piece", piece).Msg("short read")
				return false, read, nil
			}
			h.Write(buf[:n])
			off += n
			left -= n
		}
	}
	var sum [sha1.Size]byte
	h.Sum(sum[:0])
	return sum == mi.PieceHash(piece), read, nil
}

func (w *Worker) throttle(n int) error {
	if w.limiter == nil {
		return nil
	}
	return w.limiter.WaitN(w.ctx, n)
}
