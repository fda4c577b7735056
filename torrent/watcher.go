package torrent

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

type watchedFile struct {
	t    *Torrent
	file int
}

//fileWatcher unchecks the pieces of files that change on disk behind our
//back. It watches the directories of the files since files may not exist
//yet or get replaced.
type fileWatcher struct {
	logger zerolog.Logger
	w      *fsnotify.Watcher

	mu    sync.Mutex
	files map[string]watchedFile
	//number of watched files in each directory
	dirs map[string]int

	done chan struct{}
}

func newFileWatcher(logger zerolog.Logger) (*fileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &fileWatcher{
		logger: logger.With().Str("component", "watcher").Logger(),
		w:      w,
		files:  make(map[string]watchedFile),
		dirs:   make(map[string]int),
		done:   make(chan struct{}),
	}
	go fw.run()
	return fw, nil
}

func (fw *fileWatcher) run() {
	defer close(fw.done)
	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				return
			}
			fw.mu.Lock()
			wf, ok := fw.files[ev.Name]
			fw.mu.Unlock()
			if ok {
				wf.t.fileChanged(wf.file)
			}
		case err, ok := <-fw.w.Errors:
			if !ok {
				return
			}
			fw.logger.Warn().Err(err).Msg("watching files")
		}
	}
}

//watch starts watching the files of `t`. Directories that don't exist yet
//are skipped.
func (fw *fileWatcher) watch(t *Torrent) {
	t.mu.Lock()
	if t.mi == nil {
		t.mu.Unlock()
		return
	}
	paths := make([]string, t.mi.FileCount())
	for f := range paths {
		paths[f] = t.mi.FilePath(t.cl.config.BaseDir, f)
	}
	t.mu.Unlock()
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for f, p := range paths {
		dir := filepath.Dir(p)
		if fw.dirs[dir] == 0 {
			if err := fw.w.Add(dir); err != nil {
				fw.logger.Debug().Err(err).Str("dir", dir).Msg("can't watch directory")
				continue
			}
		}
		fw.dirs[dir]++
		fw.files[p] = watchedFile{t: t, file: f}
	}
}

func (fw *fileWatcher) unwatch(t *Torrent) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for p, wf := range fw.files {
		if wf.t != t {
			continue
		}
		delete(fw.files, p)
		dir := filepath.Dir(p)
		if fw.dirs[dir]--; fw.dirs[dir] > 0 {
			continue
		}
		delete(fw.dirs, dir)
		if err := fw.w.Remove(dir); err != nil {
			fw.logger.Debug().Err(err).Str("dir", dir).Msg("can't unwatch directory")
		}
	}
}

func (fw *fileWatcher) close() error {
	err := fw.w.Close()
	<-fw.done
	return err
}
