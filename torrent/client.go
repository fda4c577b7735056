package torrent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lkslts64/charo-verify/metainfo"
	"github.com/lkslts64/charo-verify/torrent/resume"
	"github.com/lkslts64/charo-verify/torrent/storage"
	"github.com/lkslts64/charo-verify/torrent/verify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

//how many torrent files AddFromFiles parses at once
const maxConcurrentLoads = 4

var (
	ErrTorrentExists   = errors.New("torrent: torrent already exists")
	ErrTorrentNotFound = errors.New("torrent: torrent doesn't exist")
	ErrClientClosed    = errors.New("torrent: client closed")
)

//Client manages multiple torrents. All of them share a single verification
//goroutine.
type Client struct {
	config   *Config
	logger   zerolog.Logger
	verifier *verify.Worker
	//nil if resume is disabled
	resume *resume.Store
	//nil if file watching is disabled
	watcher *fileWatcher

	mu       sync.Mutex
	torrents map[metainfo.Hash]*Torrent
	closed   bool
}

//NewClient creats a fresh new Client with the provided configuration.
//Use `NewClient(nil)` for the default configuration.
func NewClient(cfg *Config) (*Client, error) {
	var err error
	if cfg == nil {
		cfg, err = DefaultConfig()
		if err != nil {
			return nil, err
		}
	}
	if cfg.OpenStorage == nil {
		cfg.OpenStorage = storage.OpenFileStorage
	}
	cl := &Client{
		config:   cfg,
		logger:   newLogger(cfg),
		torrents: make(map[metainfo.Hash]*Torrent),
	}
	if cfg.ResumeDB != "" {
		if err = os.MkdirAll(filepath.Dir(cfg.ResumeDB), 0o755); err != nil {
			return nil, fmt.Errorf("create resume dir: %w", err)
		}
		if cl.resume, err = resume.Open(cfg.ResumeDB); err != nil {
			return nil, err
		}
	}
	if cfg.WatchFiles {
		if cl.watcher, err = newFileWatcher(cl.logger); err != nil {
			//not fatal, we just won't notice files changing under us
			cl.logger.Warn().Err(err).Msg("file watching disabled")
		}
	}
	//for mediators without their own verify.FileIO
	cl.verifier = verify.NewWorker(storage.DiskIO{}, cfg.verifyConfig(), cl.logger)
	go cl.verifier.Run()
	return cl, nil
}

func newLogger(cfg *Config) zerolog.Logger {
	w := cfg.LogWriter
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

//Close aborts all verification, saves the resume state of every torrent
//and releases the client's resources.
func (cl *Client) Close() error {
	cl.mu.Lock()
	if cl.closed {
		cl.mu.Unlock()
		return nil
	}
	cl.closed = true
	ts := cl.torrentsLocked()
	cl.mu.Unlock()
	cl.verifier.Close()
	for _, t := range ts {
		t.Stop()
	}
	var err error
	if cl.watcher != nil {
		err = cl.watcher.close()
	}
	if cl.resume != nil {
		if rerr := cl.resume.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

//AddFromFile creates a torrent based on the contents of filename.
func (cl *Client) AddFromFile(filename string) (*Torrent, error) {
	mi, err := metainfo.LoadTorrentFile(filename)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filename, err)
	}
	return cl.AddMetainfo(mi)
}

//AddFromFiles parses the torrent files concurrently and adds them in the
//order given. Nothing is added if any of them can't be parsed.
func (cl *Client) AddFromFiles(ctx context.Context, filenames ...string) ([]*Torrent, error) {
	mis := make([]*metainfo.MetaInfo, len(filenames))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLoads)
	for i, name := range filenames {
		i, name := i, name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			mi, err := metainfo.LoadTorrentFile(name)
			if err != nil {
				return fmt.Errorf("load %s: %w", name, err)
			}
			mis[i] = mi
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	ts := make([]*Torrent, 0, len(mis))
	for _, mi := range mis {
		t, err := cl.AddMetainfo(mi)
		if err != nil {
			return ts, err
		}
		ts = append(ts, t)
	}
	return ts, nil
}

//AddMetainfo adds a torrent whose metainfo is known. Its resume state is
//restored if there is one, otherwise a verification pass is queued if the
//configuration says so.
func (cl *Client) AddMetainfo(mi *metainfo.MetaInfo) (*Torrent, error) {
	t := newTorrent(cl, mi.Hash, mi.Name())
	t.mu.Lock()
	t.setInfo(mi)
	t.mu.Unlock()
	if err := cl.addTorrent(t); err != nil {
		return nil, err
	}
	cl.infoReady(t)
	return t, nil
}

//AddFromMagnet creates a torrent based on the magnet link provided. It has
//no metainfo until GotInfo is called.
func (cl *Client) AddFromMagnet(uri string) (*Torrent, error) {
	hash, name, err := metainfo.ParseMagnet(uri)
	if err != nil {
		return nil, err
	}
	return cl.AddFromInfoHash(hash, name)
}

//AddFromInfoHash creates a torrent based on it's infohash.
func (cl *Client) AddFromInfoHash(hash metainfo.Hash, name string) (*Torrent, error) {
	t := newTorrent(cl, hash, name)
	if err := cl.addTorrent(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (cl *Client) addTorrent(t *Torrent) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.closed {
		return ErrClientClosed
	}
	if _, ok := cl.torrents[t.hash]; ok {
		return fmt.Errorf("%w: %s", ErrTorrentExists, t.hash.HexString())
	}
	cl.torrents[t.hash] = t
	return nil
}

//infoReady is called once a torrent has its metainfo.
func (cl *Client) infoReady(t *Torrent) {
	restored := t.loadResume()
	if cl.watcher != nil {
		cl.watcher.watch(t)
	}
	if !cl.config.VerifyOnAdd || (restored && !t.needsVerify()) {
		return
	}
	if err := t.Verify(false); err != nil && !errors.Is(err, ErrFilesDisappeared) {
		t.logger.Warn().Err(err).Msg("queueing verification")
	}
}

//Remove stops the torrent with infohash `hash` and forgets about it,
//its resume state included.
func (cl *Client) Remove(hash metainfo.Hash) error {
	cl.mu.Lock()
	t, ok := cl.torrents[hash]
	if !ok {
		cl.mu.Unlock()
		return ErrTorrentNotFound
	}
	delete(cl.torrents, hash)
	cl.mu.Unlock()
	t.Stop()
	if cl.watcher != nil {
		cl.watcher.unwatch(t)
	}
	if cl.resume != nil {
		if err := cl.resume.Delete(hash); err != nil {
			return err
		}
	}
	return nil
}

//Torrents returns all torrents that the client manages sorted by name.
func (cl *Client) Torrents() []*Torrent {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.torrentsLocked()
}

func (cl *Client) torrentsLocked() []*Torrent {
	ts := make([]*Torrent, 0, len(cl.torrents))
	for _, t := range cl.torrents {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool {
		return ts[i].Name() < ts[j].Name()
	})
	return ts
}

func (cl *Client) Torrent(hash metainfo.Hash) (*Torrent, bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	t, ok := cl.torrents[hash]
	return t, ok
}

//WaitVerified blocks until no torrent is queued or being verified.
func (cl *Client) WaitVerified(ctx context.Context) error {
	return cl.verifier.Drain(ctx)
}
