// Package traverse walks a directory tree with multiple workers.
//
// A sequential readdir/lstat pipeline leaves a parallel filesystem mostly
// idle: the client serializes round trips that the storage servers could
// absorb concurrently. Walk instead schedules every directory as a task on
// a worker pool, so independent subtrees are enumerated and stat'ed in
// parallel, while still giving callers strict parent-before-child and
// child-before-parent ordering for the two directory callback phases.
//
// Each directory task moves through a small state machine: the DirEnter
// callback runs, the directory is enumerated, every child is lstat'ed and
// either dispatched as its own task or visited inline, and once the last
// child completes the DirExit callback runs with the per-entry results.
// Results flow upward: a child's return value lands in its parent's entry
// array, and the root's result is returned from Walk.
//
// Symbolic links are never followed; only lstat is used.
package traverse

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/ScottDuckworth/mtpt/pkg/workers"
)

// DefaultThreads is the worker count used when Config.Threads is zero.
const DefaultThreads = 4

// Continuation is a caller-owned token created by DirEnter and handed back
// to DirExit, Error, and the callbacks of immediate children. The engine
// stores and forwards it but never inspects it.
type Continuation = any

// Entry is one child of a visited directory. Data is nil until the child's
// own callback produces a result, and is read only by the parent's DirExit.
type Entry[T any] struct {
	Name string
	Data *T
}

// Visitor holds the traversal callbacks. Any of them may be nil. Callbacks
// run concurrently on worker goroutines; state they share must be
// synchronized by the caller.
type Visitor[T any] struct {
	// DirEnter runs before a directory is enumerated. The returned
	// Continuation is forwarded to DirExit, Error, and the direct
	// children's callbacks. Returning false skips the directory: its
	// entry data stays nil and DirExit never fires for it.
	DirEnter func(path string, st *unix.Stat_t, parent Continuation) (Continuation, bool)

	// DirExit runs after every child of the directory has completed.
	// entries holds one record per surviving child, in name order when
	// Config.Sort is set. The returned value becomes the directory's
	// result in its parent's entry array.
	DirExit func(path string, st *unix.Stat_t, cont Continuation, entries []Entry[T]) *T

	// File runs for every non-directory, and for the root itself when
	// the root is not a directory.
	File func(path string, st *unix.Stat_t, parent Continuation) *T

	// Error runs for every failed directory read, child lstat, or task
	// submission; a child whose lstat fails with ENOENT is dropped
	// without any callback. st and cont are nil when the failure
	// precedes them.
	// For a directory whose enumeration failed, the returned value
	// replaces the directory's result.
	Error func(path string, st *unix.Stat_t, cont Continuation, err error) *T
}

// Config controls a single Walk call.
type Config struct {
	// Threads is the worker count. Zero selects DefaultThreads.
	Threads int

	// QueueMax bounds the task queue; zero selects an unbounded queue.
	// A saturated queue never deadlocks the walk: tasks that cannot be
	// queued run inline on the submitting worker.
	QueueMax int

	// FileTasks dispatches each non-directory as its own pool task.
	// The default visits non-directories inline in the parent's task.
	FileTasks bool

	// Sort presents entries to DirExit in name order and breaks ties
	// between queued tasks of the same phase by path, later paths first.
	// Traversal order itself is still unspecified.
	Sort bool
}

// Walk traverses the tree rooted at root and blocks until every callback
// has completed. It returns the root's result: the root DirExit's return
// value, or the File callback's when root is not a directory.
//
// A non-nil error is returned only when the walk could not start: the
// root lstat failed or the worker pool could not be created. Every other
// failure is reported through the Error callback and the walk continues
// with the rest of the tree.
func Walk[T any](cfg Config, root string, v Visitor[T]) (*T, error) {
	if cfg.Threads <= 0 {
		cfg.Threads = DefaultThreads
	}

	var st unix.Stat_t
	if err := unix.Lstat(root, &st); err != nil {
		return nil, &os.PathError{Op: "lstat", Path: root, Err: err}
	}

	// A non-directory root is visited on the calling thread.
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		var data *T
		if v.File != nil {
			data = v.File(root, &st, nil)
		}
		return data, nil
	}

	w := &walker[T]{
		cfg:  cfg,
		v:    v,
		done: make(chan struct{}),
	}
	pool, err := workers.NewPool(cfg.Threads, cfg.QueueMax, w.priority)
	if err != nil {
		return nil, err
	}
	w.pool = pool

	rootTask := &dirTask[T]{
		w:     w,
		phase: phaseDirEnter,
		path:  root,
		st:    st,
	}
	if err := pool.Submit(w.runDirEnter, rootTask); err != nil {
		pool.Close()
		return nil, err
	}

	<-w.done
	pool.Close()
	return w.rootData, nil
}
