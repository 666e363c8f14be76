// Command mtoutliers finds files whose size is far from the mean of
// their directory's subtree: unusually large files by default, unusually
// small ones with -l.
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
)

const (
	defaultFactorGT = 10
	defaultFactorLT = 100
)

// subtreeSize aggregates a subtree's total size, plus the portion not yet
// reported as an outlier so a huge file is reported once at the lowest
// level that makes it stand out.
type subtreeSize struct {
	unreported int64
	size       int64
}

type outliersTool struct {
	threads  int
	exclude  exclude.List
	lessThan bool
	factor   float64
	rootLen  int
	errored  atomic.Bool
	out      io.Writer
	log      *logging.Logger
}

var excludeFlags exclude.List

func main() {
	var (
		configPath = flag.String("config", "", "configuration file path")
		threads    = flag.Int("j", 0, "operate on N files at a time")
		lessThan   = flag.Bool("l", false, "report files far below the average size instead of above")
		factor     = flag.Float64("f", 0, "outlier `factor`: at least F times the average (default 10), or at most 1/F with -l (default 100)")
	)
	flag.Var(&excludeFlags, "e", "exclude files matching `pattern` (repeatable)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "mtoutliers: path not given")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logging.NewFromNames(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	logging.SetDefault(log)

	t := &outliersTool{
		threads: cfg.Threads,
		exclude: append(exclude.List(cfg.Exclude), excludeFlags...),
		factor:  defaultFactorGT,
		out:     os.Stdout,
		log:     log,
	}
	if *threads > 0 {
		t.threads = *threads
	}
	if *lessThan {
		t.lessThan = true
		t.factor = defaultFactorLT
	}
	if *factor != 0 {
		if *factor < 0 {
			fmt.Fprintln(os.Stderr, "mtoutliers: factor must be positive")
			os.Exit(2)
		}
		t.factor = *factor
	}

	for _, path := range flag.Args() {
		t.rootLen = len(path)
		cfg := traverse.Config{Threads: t.threads, Sort: true}
		v := traverse.Visitor[subtreeSize]{
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
	if t.errored.Load() {
		os.Exit(1)
	}
}

func (t *outliersTool) dirEnter(path string, _ *unix.Stat_t, _ traverse.Continuation) (traverse.Continuation, bool) {
	return nil, !t.exclude.Match(t.relPath(path, false), true)
}

func (t *outliersTool) dirExit(path string, _ *unix.Stat_t, _ traverse.Continuation, entries []traverse.Entry[subtreeSize]) *subtreeSize {
	agg := subtreeSize{}
	count := int64(0)
	for i := range entries {
		if d := entries[i].Data; d != nil {
			agg.size += d.size
			agg.unreported += d.unreported
			count++
		}
	}

	if agg.size > 0 {
		if t.lessThan {
			cutoff := int64(float64(agg.size) / (t.factor * float64(count)))
			for i := range entries {
				if d := entries[i].Data; d != nil && d.size <= cutoff {
					fmt.Fprintf(t.out, "%6d %s/%s\n", d.size, path, entries[i].Name)
				}
			}
		} else {
			cutoff := int64(t.factor * float64(agg.size) / float64(count))
			for i := range entries {
				if d := entries[i].Data; d != nil && d.unreported >= cutoff {
					agg.unreported -= d.unreported
					fmt.Fprintf(t.out, "%12d %s/%s\n", d.size, path, entries[i].Name)
				}
			}
		}
	}

	return &agg
}

func (t *outliersTool) file(path string, st *unix.Stat_t, _ traverse.Continuation) *subtreeSize {
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		return nil
	}
	if t.exclude.Match(t.relPath(path, true), false) {
		return nil
	}
	return &subtreeSize{unreported: st.Size, size: st.Size}
}

func (t *outliersTool) walkError(path string, _ *unix.Stat_t, _ traverse.Continuation, err error) *subtreeSize {
	t.log.Errorf("%v", err)
	t.errored.Store(true)
	return nil
}

func (t *outliersTool) relPath(path string, file bool) string {
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
