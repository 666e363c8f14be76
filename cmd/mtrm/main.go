// Command mtrm deletes directory trees with a multi-threaded traversal.
// Files are unlinked as they are visited; a directory is removed once
// every entry below it is gone.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/ScottDuckworth/mtpt/pkg/config"
	"github.com/ScottDuckworth/mtpt/pkg/exclude"
	"github.com/ScottDuckworth/mtpt/pkg/logging"
	"github.com/ScottDuckworth/mtpt/pkg/traverse"
	"github.com/ScottDuckworth/mtpt/pkg/util"
)

// removed is the marker a task returns once its node is gone. A nil entry
// means something below survived, which keeps every ancestor directory in
// place.
type removed struct{}

type rmTool struct {
	threads  int
	verbose  bool
	exclude  exclude.List
	rootLen  int
	errored  atomic.Bool
	out      io.Writer
	log      *logging.Logger
	progress *util.ProgressCounter
}

var excludeFlags exclude.List

func main() {
	var (
		configPath = flag.String("config", "", "configuration file path")
		threads    = flag.Int("j", 0, "operate on N files at a time")
		verbose    = flag.Bool("v", false, "be verbose")
		jsonLog    = flag.Bool("log-json", false, "log diagnostics as JSON")
	)
	flag.Var(&excludeFlags, "e", "exclude files matching `pattern` (repeatable)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "mtrm: path not given")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	format := cfg.Logging.Format
	if *jsonLog {
		format = "json"
	}
	log := logging.NewFromNames(os.Stderr, cfg.Logging.Level, format)
	logging.SetDefault(log)

	t := &rmTool{
		threads: cfg.Threads,
		verbose: *verbose,
		exclude: append(exclude.List(cfg.Exclude), excludeFlags...),
		out:     os.Stdout,
		log:     log,
	}
	if *threads > 0 {
		t.threads = *threads
	}
	if !t.verbose {
		t.progress = util.NewProgressCounter(os.Stderr, "removed")
	}

	for _, path := range flag.Args() {
		t.rootLen = len(path)
		cfg := traverse.Config{Threads: t.threads, FileTasks: true, Sort: true}
		v := traverse.Visitor[removed]{
			DirEnter: t.dirEnter,
			DirExit:  t.dirExit,
			File:     t.file,
			Error:    t.walkError,
		}
		if _, err := traverse.Walk(cfg, path, v); err != nil {
			t.log.Errorf("%v", err)
			t.errored.Store(true)
		}
	}
	if t.progress != nil {
		t.progress.Done()
	}
	if t.errored.Load() {
		os.Exit(1)
	}
}

func (t *rmTool) dirEnter(path string, _ *unix.Stat_t, _ traverse.Continuation) (traverse.Continuation, bool) {
	return nil, !t.exclude.Match(t.relPath(path, false), true)
}

func (t *rmTool) dirExit(path string, _ *unix.Stat_t, _ traverse.Continuation, entries []traverse.Entry[removed]) *removed {
	for i := range entries {
		if entries[i].Data == nil {
			return nil
		}
	}
	if err := unix.Rmdir(path); err != nil {
		t.log.Errorf("%v", &os.PathError{Op: "rmdir", Path: path, Err: err})
		t.errored.Store(true)
		return nil
	}
	if t.verbose {
		fmt.Fprintf(t.out, "removed directory: %s\n", path)
	}
	return &removed{}
}

func (t *rmTool) file(path string, _ *unix.Stat_t, _ traverse.Continuation) *removed {
	if t.exclude.Match(t.relPath(path, true), false) {
		return nil
	}
	if err := unix.Unlink(path); err != nil {
		t.log.Errorf("%v", &os.PathError{Op: "unlink", Path: path, Err: err})
		t.errored.Store(true)
		return nil
	}
	if t.verbose {
		fmt.Fprintf(t.out, "removed %s\n", path)
	} else if t.progress != nil {
		t.progress.Add(1)
	}
	return &removed{}
}

func (t *rmTool) walkError(path string, _ *unix.Stat_t, _ traverse.Continuation, err error) *removed {
	t.log.Errorf("%v", err)
	t.errored.Store(true)
	return nil
}

func (t *rmTool) relPath(path string, file bool) string {
	rel := path[t.rootLen:]
	if rel != "" {
		return rel[1:]
	}
	if !file {
		return "."
	}
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	return base
}
