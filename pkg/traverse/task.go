package traverse

import (
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ScottDuckworth/mtpt/pkg/workers"
)

// Task phases, in dequeue priority order: the scheduler prefers to finish
// what is open (DirExit) over visiting leaves (File) over opening new
// directories (DirEnter). This keeps the set of in-flight directories
// bounded by tree depth times parallelism.
const (
	phaseDirEnter = iota
	phaseFile
	phaseDirExit
)

// prioritized is implemented by both task kinds so the pool's heap can
// order them without knowing their concrete type.
type prioritized interface {
	taskPhase() int
	taskPath() string
}

// dirTask is the unit of work for one directory. It is created in
// phaseDirEnter, spawns one child task per subdirectory (and per
// non-directory when Config.FileTasks is set), and moves to phaseDirExit
// when its last child completes.
type dirTask[T any] struct {
	w     *walker[T]
	phase int

	// mu guards children and the entry installation in the spawn loop,
	// and doubles as the barrier the DirExit handler passes before
	// reading state published by DirEnter.
	mu       sync.Mutex
	children int

	parent *dirTask[T]
	slot   *Entry[T] // parent entry receiving this directory's result; nil at root
	cont   Continuation

	path    string
	st      unix.Stat_t
	entries []Entry[T]
}

func (t *dirTask[T]) taskPhase() int   { return t.phase }
func (t *dirTask[T]) taskPath() string { return t.path }

// fileTask is the unit of work for one non-directory when Config.FileTasks
// is set.
type fileTask[T any] struct {
	w      *walker[T]
	parent *dirTask[T]
	slot   *Entry[T]
	path   string
	st     unix.Stat_t
}

func (t *fileTask[T]) taskPhase() int   { return phaseFile }
func (t *fileTask[T]) taskPath() string { return t.path }

// walker is the per-Walk traversal context.
type walker[T any] struct {
	cfg      Config
	v        Visitor[T]
	pool     *workers.Pool
	done     chan struct{}
	rootData *T
}

// priority orders the pool's heap. Phases compare first so in-flight
// directories drain before new ones open; under Sort, ties fall back to
// reversed lexicographic path order, dequeuing deeper and later paths
// first within a phase.
func (w *walker[T]) priority(a, b any) int {
	ta := a.(prioritized)
	tb := b.(prioritized)
	if d := ta.taskPhase() - tb.taskPhase(); d != 0 {
		return d
	}
	if !w.cfg.Sort {
		return 0
	}
	return strings.Compare(ta.taskPath(), tb.taskPath())
}
