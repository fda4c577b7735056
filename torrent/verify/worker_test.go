package verify

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lkslts64/charo-verify/metainfo"
	"github.com/lkslts64/charo-verify/metainfo/metainfotest"
	"github.com/lkslts64/charo-verify/torrent/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) index(event string) int {
	for i, e := range r.get() {
		if e == event {
			return i
		}
	}
	return -1
}

type mediator struct {
	name    string
	mi      *metainfo.MetaInfo
	dir     string
	rec     *recorder
	onPiece func(piece int)
}

func (m *mediator) InfoHash() metainfo.Hash {
	return m.mi.Hash
}

func (m *mediator) Metainfo() Metainfo {
	return m.mi
}

func (m *mediator) FindFile(file int) (string, bool) {
	name := m.mi.FilePath(m.dir, file)
	if _, err := os.Stat(name); err != nil {
		return "", false
	}
	return name, true
}

func (m *mediator) OnVerifyQueued() {
	m.rec.add("%s queued", m.name)
}

func (m *mediator) OnVerifyStarted() {
	m.rec.add("%s started", m.name)
}

func (m *mediator) OnPieceChecked(piece int, has bool) {
	m.rec.add("%s piece %d %v", m.name, piece, has)
	if m.onPiece != nil {
		m.onPiece(piece)
	}
}

func (m *mediator) OnVerifyDone(aborted bool) {
	m.rec.add("%s done %v", m.name, aborted)
}

//newTorrent writes a torrent of `pieces` single-piece files to disk.
func newTorrent(t *testing.T, name string, pieces int, rec *recorder) *mediator {
	var files []metainfotest.FileData
	for i := 0; i < pieces; i++ {
		files = append(files, metainfotest.FileData{
			Path: []string{fmt.Sprintf("f%d", i)},
			Data: metainfotest.Content(10, byte(i)),
		})
	}
	mi := metainfotest.New(t, name, 10, files...)
	dir := t.TempDir()
	metainfotest.Write(t, dir, mi, files...)
	return &mediator{
		name: name,
		mi:   mi,
		dir:  dir,
		rec:  rec,
	}
}

func newTestWorker(cfg Config) *Worker {
	return NewWorker(storage.DiskIO{}, cfg, zerolog.Nop())
}

func drain(t *testing.T, w *Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, w.Drain(ctx))
}

func TestMissingFile(t *testing.T) {
	rec := &recorder{}
	m := newTorrent(t, "A", 3, rec)
	require.NoError(t, os.Remove(m.mi.FilePath(m.dir, 1)))
	//corrupt piece 2
	require.NoError(t, os.WriteFile(m.mi.FilePath(m.dir, 2), make([]byte, 10), 0644))
	w := newTestWorker(Config{ReadBufferSize: 4})
	defer w.Close()
	go w.Run()
	require.NoError(t, w.Add(m))
	drain(t, w)
	assert.Equal(t, []string{
		"A queued",
		"A started",
		"A piece 0 true",
		"A piece 1 false",
		"A piece 2 false",
		"A done false",
	}, rec.get())
}

func TestMultiFilePiece(t *testing.T) {
	rec := &recorder{}
	files := []metainfotest.FileData{
		{Path: []string{"a"}, Data: metainfotest.Content(7, 1)},
		{Path: []string{"empty"}},
		{Path: []string{"b"}, Data: metainfotest.Content(13, 2)},
	}
	mi := metainfotest.New(t, "multi", 8, files...)
	dir := t.TempDir()
	metainfotest.Write(t, dir, mi, files...)
	m := &mediator{name: "M", mi: mi, dir: dir, rec: rec}
	w := newTestWorker(Config{ReadBufferSize: 3, RateLimit: 1 << 30})
	defer w.Close()
	go w.Run()
	require.NoError(t, w.Add(m))
	drain(t, w)
	assert.Equal(t, []string{
		"M queued",
		"M started",
		"M piece 0 true",
		"M piece 1 true",
		"M piece 2 true",
		"M done false",
	}, rec.get())
}

func TestAbortAfterFirstPiece(t *testing.T) {
	rec := &recorder{}
	m := newTorrent(t, "A", 5, rec)
	w := newTestWorker(Config{})
	defer w.Close()
	var removed <-chan struct{}
	m.onPiece = func(piece int) {
		if piece == 0 {
			removed = w.Remove(m.InfoHash())
		}
	}
	require.NoError(t, w.Add(m))
	go w.Run()
	drain(t, w)
	<-removed
	assert.Equal(t, []string{
		"A queued",
		"A started",
		"A piece 0 true",
		"A done true",
	}, rec.get())
	//a new pass can be queued once the old one is done
	m.onPiece = nil
	require.NoError(t, w.Add(m))
	drain(t, w)
	assert.Equal(t, "A done false", rec.get()[len(rec.get())-1])
}

func TestFIFO(t *testing.T) {
	rec := &recorder{}
	a := newTorrent(t, "A", 2, rec)
	b := newTorrent(t, "B", 2, rec)
	w := newTestWorker(Config{})
	defer w.Close()
	require.NoError(t, w.Add(a))
	require.NoError(t, w.Add(b))
	assert.Equal(t, 2, w.Pending())
	go w.Run()
	drain(t, w)
	assert.Less(t, rec.index("A started"), rec.index("B started"))
	assert.Less(t, rec.index("A done false"), rec.index("B started"))
	assert.Less(t, rec.index("B queued"), rec.index("B started"))
	assert.Equal(t, 0, w.Pending())
}

func TestRemoveQueued(t *testing.T) {
	rec := &recorder{}
	a := newTorrent(t, "A", 2, rec)
	b := newTorrent(t, "B", 2, rec)
	w := newTestWorker(Config{})
	defer w.Close()
	require.NoError(t, w.Add(a))
	require.NoError(t, w.Add(b))
	select {
	case <-w.Remove(b.InfoHash()):
	default:
		t.Fatal("removing a queued torrent should complete immediately")
	}
	assert.Equal(t, []string{"A queued", "B queued", "B done true"}, rec.get())
	//nothing to remove
	select {
	case <-w.Remove(b.InfoHash()):
	default:
		t.Fatal("removing an unknown torrent should complete immediately")
	}
	go w.Run()
	drain(t, w)
	assert.Equal(t, -1, rec.index("B started"))
	assert.Equal(t, "A done false", rec.get()[len(rec.get())-1])
}

func TestAddDuplicate(t *testing.T) {
	rec := &recorder{}
	a := newTorrent(t, "A", 1, rec)
	w := newTestWorker(Config{})
	defer w.Close()
	require.NoError(t, w.Add(a))
	assert.ErrorIs(t, w.Add(a), ErrAlreadyQueued)
	assert.Equal(t, []string{"A queued"}, rec.get())
}

func TestCloseDropsQueued(t *testing.T) {
	rec := &recorder{}
	a := newTorrent(t, "A", 1, rec)
	b := newTorrent(t, "B", 1, rec)
	w := newTestWorker(Config{})
	require.NoError(t, w.Add(a))
	require.NoError(t, w.Add(b))
	w.Close()
	w.Close()
	assert.Equal(t, []string{"A queued", "B queued", "A done true", "B done true"}, rec.get())
	assert.ErrorIs(t, w.Add(a), ErrClosed)
	//Run returns right away on a closed worker
	w.Run()
}

func TestCloseAbortsActive(t *testing.T) {
	rec := &recorder{}
	a := newTorrent(t, "A", 4, rec)
	w := newTestWorker(Config{})
	closed := make(chan struct{})
	a.onPiece = func(piece int) {
		if piece != 0 {
			return
		}
		go func() {
			w.Close()
			close(closed)
		}()
		assert.Eventually(t, func() bool {
			w.mu.Lock()
			defer w.mu.Unlock()
			return w.closed
		}, 5*time.Second, time.Millisecond)
	}
	require.NoError(t, w.Add(a))
	go w.Run()
	select {
	case <-closed:
	case <-time.After(10 * time.Second):
		t.Fatal("close did not return")
	}
	assert.Equal(t, []string{"A queued", "A started", "A piece 0 true", "A done true"}, rec.get())
}

//countingIO counts the times each file is opened
type countingIO struct {
	mu    sync.Mutex
	opens map[string]int
}

func (c *countingIO) OpenFile(name string) (storage.File, error) {
	c.mu.Lock()
	c.opens[name]++
	c.mu.Unlock()
	return storage.DiskIO{}.OpenFile(name)
}

func (c *countingIO) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens[name]
}

//fileIOMediator reads its torrent's files through its own FileIO
type fileIOMediator struct {
	*mediator
	*countingIO
}

func TestOpenFileOncePerPass(t *testing.T) {
	rec := &recorder{}
	files := []metainfotest.FileData{
		{Path: []string{"a"}, Data: metainfotest.Content(30, 1)},
		{Path: []string{"b"}, Data: metainfotest.Content(25, 2)},
	}
	mi := metainfotest.New(t, "many", 10, files...)
	dir := t.TempDir()
	metainfotest.Write(t, dir, mi, files...)
	m := &mediator{name: "M", mi: mi, dir: dir, rec: rec}
	cio := &countingIO{opens: make(map[string]int)}
	w := NewWorker(cio, Config{ReadBufferSize: 3}, zerolog.Nop())
	defer w.Close()
	go w.Run()
	require.NoError(t, w.Add(m))
	drain(t, w)
	for p := 0; p < mi.PieceCount(); p++ {
		assert.NotEqual(t, -1, rec.index(fmt.Sprintf("M piece %d true", p)), "piece %d", p)
	}
	//3 pieces of `a` in 4 chunks each, yet a single open per file
	assert.Equal(t, 1, cio.count(mi.FilePath(dir, 0)))
	assert.Equal(t, 1, cio.count(mi.FilePath(dir, 1)))
}

func TestMediatorFileIO(t *testing.T) {
	rec := &recorder{}
	m := newTorrent(t, "A", 3, rec)
	own := &countingIO{opens: make(map[string]int)}
	fallback := &countingIO{opens: make(map[string]int)}
	w := NewWorker(fallback, Config{}, zerolog.Nop())
	defer w.Close()
	go w.Run()
	require.NoError(t, w.Add(fileIOMediator{m, own}))
	drain(t, w)
	assert.Equal(t, "A done false", rec.get()[len(rec.get())-1])
	assert.Equal(t, -1, rec.index("A piece 1 false"))
	for f := 0; f < 3; f++ {
		assert.Equal(t, 1, own.count(m.mi.FilePath(m.dir, f)))
		assert.Equal(t, 0, fallback.count(m.mi.FilePath(m.dir, f)))
	}
}

func TestQueue(t *testing.T) {
	var q jobQueue
	assert.Nil(t, q.peek())
	assert.Nil(t, q.pop())
	var hashes []metainfo.Hash
	for i := 0; i < 3; i++ {
		var h metainfo.Hash
		h[0] = byte(i)
		hashes = append(hashes, h)
		q.push(&job{hash: h})
	}
	assert.Equal(t, hashes[2], q.back().hash)
	assert.Equal(t, hashes[1], q.remove(hashes[1]).hash)
	assert.Nil(t, q.remove(hashes[1]))
	assert.Equal(t, 2, q.len())
	assert.Equal(t, hashes[0], q.pop().hash)
	assert.Equal(t, hashes[2], q.peek().hash)
	assert.Len(t, q.clear(), 1)
	assert.True(t, q.empty())
}
