package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uilive"
	"github.com/lkslts64/charo-verify/torrent"
	"github.com/lkslts64/charo-verify/torrent/completion"
)

var (
	configFile = flag.String("config", "", "read the configuration from `file`")
	dir        = flag.String("dir", "", "directory where the torrents' data is stored")
	force      = flag.Bool("force", false, "verify even if already verified or the files are gone")
	debug      = flag.Bool("debug", false, "log debug messages")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file.torrent...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cfg, err := torrent.LoadConfig(*configFile)
	if err != nil {
		log.Fatal(err)
	}
	if *dir != "" {
		cfg.BaseDir = *dir
	}
	cfg.Debug = cfg.Debug || *debug
	cl, err := torrent.NewClient(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer cl.Close()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ts, err := cl.AddFromFiles(ctx, flag.Args()...)
	if err != nil {
		log.Fatal(err)
	}
	if *force {
		for _, t := range ts {
			if err = t.Verify(true); err != nil {
				log.Fatal(err)
			}
		}
	}
	w := uilive.New()
	w.Start()
	done := make(chan error, 1)
	go func() {
		done <- cl.WaitVerified(ctx)
	}()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
loop:
	for {
		writeStatus(w, ts)
		select {
		case <-ticker.C:
		case err = <-done:
			break loop
		}
	}
	writeStatus(w, ts)
	w.Stop()
	if err != nil {
		log.Fatal(err)
	}
	if !summary(ts) {
		cl.Close()
		os.Exit(1)
	}
}

func writeStatus(w *uilive.Writer, ts []*torrent.Torrent) {
	for _, t := range ts {
		t.WriteStatus(w)
		fmt.Fprintln(w)
	}
}

//summary prints one line per torrent and reports whether all are complete.
func summary(ts []*torrent.Torrent) bool {
	ok := true
	for _, t := range ts {
		s := t.Stats()
		fmt.Printf("%s: %s/%s, %d/%d pieces checked, %s\n", t.Name(),
			humanize.Bytes(s.HaveValid), humanize.Bytes(s.SizeWhenDone),
			s.PiecesChecked, s.PieceCount, s.Completeness)
		if err := t.Err(); err != nil {
			fmt.Printf("%s: %s\n", t.Name(), err)
		}
		if s.Completeness == completion.Leech {
			ok = false
		}
	}
	return ok
}
