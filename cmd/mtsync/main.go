// Command mtsync mirrors a source tree onto a destination with a
// multi-threaded traversal, copying only entries whose size or mtime (or
// content digest with -c) differ. With -W it keeps watching the source
// and re-syncs on changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ScottDuckworth/mtpt/pkg/config"
	"github.com/ScottDuckworth/mtpt/pkg/exclude"
	"github.com/ScottDuckworth/mtpt/pkg/logging"
	"github.com/ScottDuckworth/mtpt/pkg/sync"
	"github.com/ScottDuckworth/mtpt/pkg/util"
)

var (
	excludeFlags       exclude.List
	excludeDeleteFlags exclude.List
)

func main() {
	var (
		configPath = flag.String("config", "", "configuration file path")
		threads    = flag.Int("j", 0, "copy N files at a time")
		verbose    = flag.Bool("v", false, "be verbose")
		veryVerb   = flag.Bool("vv", false, "be very verbose")
		archive    = flag.Bool("a", false, "archive; equals -p -o -t")
		mode       = flag.Bool("p", false, "preserve permissions")
		owner      = flag.Bool("o", false, "preserve ownership (only preserves user if root)")
		times      = flag.Bool("t", false, "preserve modification times")
		hardlinks  = flag.Bool("H", false, "preserve hard links")
		noDelete   = flag.Bool("D", false, "do not delete files not in source from destination")
		subsecond  = flag.Bool("s", false, "use sub-second precision when comparing mtimes")
		window     = flag.Int64("w", 0, "mtime can be within `S` seconds to assume equal")
		oneFS      = flag.Bool("x", false, "do not cross file system boundaries")
		checksum   = flag.Bool("c", false, "compare file contents by digest instead of mtime")
		watch      = flag.Bool("W", false, "keep watching the source and re-sync on changes")
		jsonLog    = flag.Bool("log-json", false, "log diagnostics as JSON")
	)
	flag.Var(&excludeFlags, "e", "exclude files matching `pattern` (repeatable)")
	flag.Var(&excludeDeleteFlags, "E", "exclude and delete from destination files matching `pattern` (repeatable)")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "mtsync: incorrect number of arguments")
		flag.Usage()
		os.Exit(2)
	}
	src, dst := flag.Arg(0), flag.Arg(1)

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
	if *window < 0 {
		fmt.Fprintln(os.Stderr, "mtsync: mtime window (-w) must be a non-negative integer")
		os.Exit(2)
	}

	opts := sync.Options{
		Threads:           cfg.Threads,
		PreserveMode:      *mode || *archive,
		PreserveOwnership: *owner || *archive,
		PreserveMtime:     *times || *archive,
		PreserveHardlinks: *hardlinks,
		Delete:            !*noDelete,
		Exclude:           append(exclude.List(cfg.Exclude), excludeFlags...),
		ExcludeDelete:     excludeDeleteFlags,
		Subsecond:         *subsecond,
		ModifyWindow:      *window,
		OneFileSystem:     *oneFS,
		Checksum:          *checksum,
		Logger:            log,
	}
	if *threads > 0 {
		opts.Threads = *threads
	}
	switch {
	case *veryVerb:
		opts.Verbose = 2
	case *verbose:
		opts.Verbose = 1
	default:
		opts.Progress = util.NewProgressCounter(os.Stderr, "synced")
	}

	syncer := sync.New(opts)

	if *watch {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		err = syncer.Watch(ctx, src, dst)
	} else {
		err = syncer.Run(src, dst)
	}
	if opts.Progress != nil {
		opts.Progress.Done()
	}
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	if syncer.Errored() {
		os.Exit(1)
	}
}
