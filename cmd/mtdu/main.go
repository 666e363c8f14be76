// Command mtdu summarizes disk usage with a multi-threaded traversal, for
// filesystems where sequential du is client-bound rather than
// storage-bound.
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

// devBlockSize is the unit of st_blocks.
const devBlockSize = 512

type duTool struct {
	threads      int
	exclude      exclude.List
	apparentSize bool
	allFiles     bool
	summarize    bool
	human        bool
	blockSize    uint64
	terminator   byte
	oneFS        bool

	rootLen int
	dev     uint64
	total   uint64
	errored atomic.Bool
	out     io.Writer
	log     *logging.Logger
}

func main() {
	var (
		configPath = flag.String("config", "", "configuration file path")
		threads    = flag.Int("j", 0, "operate on N files at a time")
		apparent   = flag.Bool("A", false, "print apparent sizes rather than disk usage")
		allFiles   = flag.Bool("a", false, "print size for all files, not just directories")
		bytesFlag  = flag.Bool("b", false, "print sizes in bytes")
		kibFlag    = flag.Bool("k", false, "print sizes in KiB (default)")
		mibFlag    = flag.Bool("m", false, "print sizes in MiB")
		blockSize  = flag.String("B", "", "print sizes in units of `size` (e.g. 4K)")
		human      = flag.Bool("h", false, "print sizes in human readable format")
		summarize  = flag.Bool("s", false, "only display a total for each argument")
		grandTotal = flag.Bool("c", false, "produce a grand total")
		nulTerm    = flag.Bool("0", false, "terminate each item with a null character")
		oneFS      = flag.Bool("x", false, "do not cross file system boundaries")
		jsonLog    = flag.Bool("log-json", false, "log diagnostics as JSON")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := toolLogger(cfg, *jsonLog)

	t := &duTool{
		threads:      cfg.Threads,
		exclude:      append(exclude.List(cfg.Exclude), excludeFlags...),
		apparentSize: *apparent,
		allFiles:     *allFiles,
		summarize:    *summarize,
		human:        *human,
		blockSize:    1 << 10,
		terminator:   '\n',
		oneFS:        *oneFS,
		out:          os.Stdout,
		log:          log,
	}
	if *threads > 0 {
		t.threads = *threads
	}
	switch {
	case *bytesFlag:
		t.blockSize = 1
	case *kibFlag:
		t.blockSize = 1 << 10
	case *mibFlag:
		t.blockSize = 1 << 20
	}
	if *blockSize != "" {
		n, err := util.ParseSize(*blockSize)
		if err != nil || n == 0 {
			fmt.Fprintf(os.Stderr, "invalid block size %q\n", *blockSize)
			os.Exit(2)
		}
		t.blockSize = n
	}
	if *nulTerm {
		t.terminator = 0
	}
	if t.allFiles && t.summarize {
		fmt.Fprintln(os.Stderr, "mtdu: cannot both summarize and show all entries")
		os.Exit(2)
	}

	paths := flag.Args()
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, path := range paths {
		t.processPath(path)
	}
	if *grandTotal {
		t.printSize(t.total, "total")
	}
	if t.errored.Load() {
		os.Exit(1)
	}
}

func (t *duTool) processPath(path string) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		t.log.Errorf("%s: %v", path, err)
		os.Exit(1)
	}
	if t.oneFS {
		t.dev = st.Dev
	}
	t.rootLen = len(path)

	cfg := traverse.Config{Threads: t.threads, Sort: true}
	v := traverse.Visitor[uint64]{
		DirEnter: t.dirEnter,
		DirExit:  t.dirExit,
		File:     t.file,
		Error:    t.walkError,
	}
	data, err := traverse.Walk(cfg, path, v)
	if err != nil {
		t.log.Errorf("%v", err)
		t.errored.Store(true)
		return
	}
	if data != nil {
		if t.summarize || st.Mode&unix.S_IFMT != unix.S_IFDIR {
			t.printSize(*data, path)
		}
		t.total += *data
	}
}

func (t *duTool) dirEnter(path string, st *unix.Stat_t, _ traverse.Continuation) (traverse.Continuation, bool) {
	if t.oneFS && st.Dev != t.dev {
		return nil, false
	}
	return nil, !t.exclude.Match(t.relPath(path, false), true)
}

func (t *duTool) dirExit(path string, st *unix.Stat_t, _ traverse.Continuation, entries []traverse.Entry[uint64]) *uint64 {
	size := t.nodeSize(st)
	for i := range entries {
		if entries[i].Data != nil {
			size += *entries[i].Data
		}
	}
	if !t.summarize {
		t.printSize(size, path)
	}
	return &size
}

func (t *duTool) file(path string, st *unix.Stat_t, _ traverse.Continuation) *uint64 {
	if t.exclude.Match(t.relPath(path, true), false) {
		return nil
	}
	size := t.nodeSize(st)
	if t.allFiles {
		t.printSize(size, path)
	}
	return &size
}

func (t *duTool) walkError(path string, _ *unix.Stat_t, _ traverse.Continuation, err error) *uint64 {
	t.log.Errorf("%v", err)
	t.errored.Store(true)
	return nil
}

func (t *duTool) nodeSize(st *unix.Stat_t) uint64 {
	if t.apparentSize {
		return uint64(st.Size)
	}
	return uint64(st.Blocks) * devBlockSize
}

// relPath strips the traversal root. The root itself maps to "." for
// directories and to its basename for a non-directory root argument.
func (t *duTool) relPath(path string, file bool) string {
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

func (t *duTool) printSize(size uint64, path string) {
	if t.human {
		fmt.Fprintf(t.out, "%s\t%s%c", util.FormatSize(size), path, t.terminator)
		return
	}
	var blocks uint64
	if size > 0 {
		blocks = (size-1)/t.blockSize + 1
	}
	fmt.Fprintf(t.out, "%d\t%s%c", blocks, path, t.terminator)
}

// excludeFlags accumulates repeated -e options.
var excludeFlags exclude.List

func init() {
	flag.Var(&excludeFlags, "e", "exclude files matching `pattern` (repeatable)")
}

// toolLogger builds the process logger from config plus the -log-json
// override.
func toolLogger(cfg *config.Config, jsonLog bool) *logging.Logger {
	format := cfg.Logging.Format
	if jsonLog {
		format = "json"
	}
	l := logging.NewFromNames(os.Stderr, cfg.Logging.Level, format)
	logging.SetDefault(l)
	return l
}
