// Command mtwalk exercises the traversal engine: it prints directory
// enter/exit markers and file visits, which makes scheduling behaviour
// visible when tuning thread counts and queue bounds.
package main

import (
	"flag"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/ScottDuckworth/mtpt/pkg/traverse"
)

func main() {
	var (
		threads   = flag.Int("j", traverse.DefaultThreads, "worker count")
		queueMax  = flag.Int("q", 0, "bound the task queue (0 = unbounded)")
		sortNames = flag.Bool("s", false, "sort directory entries")
		fileTasks = flag.Bool("f", false, "dispatch each file as its own task")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mtwalk [options] path")
		flag.Usage()
		os.Exit(2)
	}
	root := flag.Arg(0)

	var errored atomic.Bool
	cfg := traverse.Config{
		Threads:   *threads,
		QueueMax:  *queueMax,
		FileTasks: *fileTasks,
		Sort:      *sortNames,
	}
	v := traverse.Visitor[struct{}]{
		DirEnter: func(path string, _ *unix.Stat_t, _ traverse.Continuation) (traverse.Continuation, bool) {
			fmt.Printf(">>> %s\n", path)
			return nil, true
		},
		DirExit: func(path string, _ *unix.Stat_t, _ traverse.Continuation, _ []traverse.Entry[struct{}]) *struct{} {
			fmt.Printf("<<< %s\n", path)
			return nil
		},
		File: func(path string, _ *unix.Stat_t, _ traverse.Continuation) *struct{} {
			fmt.Printf("    %s\n", path)
			return nil
		},
		Error: func(path string, _ *unix.Stat_t, _ traverse.Continuation, err error) *struct{} {
			fmt.Fprintln(os.Stderr, err)
			errored.Store(true)
			return nil
		},
	}
	if _, err := traverse.Walk(cfg, root, v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if errored.Load() {
		os.Exit(1)
	}
}
